package chunking

import (
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/kbretrieval/core/internal/utils"
)

// PreNormalize runs before any chunker when a document's source metadata
// declares mime_type text/html (SPEC_FULL.md §4.2): it strips non-content
// elements with goquery, converts the remainder to Markdown with
// html-to-markdown, and runs the result through utils.CleanMarkdown to
// strip any script/event-handler fragments the conversion carried over
// verbatim (e.g. inside a <pre> block). It does not replace the chunkers —
// the normalized Markdown is handed to whichever chunker the KB has
// configured, most usefully markdown-aware.
func PreNormalize(mimeType, raw string) (string, error) {
	if mimeType != "text/html" {
		return raw, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, iframe, svg").Remove()
	cleanedHTML, err := doc.Html()
	if err != nil {
		return "", err
	}
	md, err := htmltomarkdown.ConvertString(cleanedHTML)
	if err != nil {
		return "", err
	}
	return utils.CleanMarkdown(md), nil
}
