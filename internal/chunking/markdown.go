package chunking

import (
	"fmt"
	"regexp"
	"strings"
)

// MarkdownOptions configures the markdown-aware chunker: split at heading
// boundaries down to a configured level, attaching a heading-path map
// (spec §4.2 table).
type MarkdownOptions struct {
	MaxLevel int `mapstructure:"max_level"` // split at H1..H{MaxLevel}
	MaxChars int `mapstructure:"max_chars"`
}

func (o *MarkdownOptions) withDefaults() MarkdownOptions {
	out := *o
	if out.MaxLevel <= 0 {
		out.MaxLevel = 3
	}
	if out.MaxChars <= 0 {
		out.MaxChars = 1500
	}
	return out
}

var headingRE = regexp.MustCompile(`(?m)^(#{1,6})\s+(.*)$`)

type markdownChunker struct {
	opts MarkdownOptions
}

func NewMarkdownChunker(opts MarkdownOptions) Chunker {
	return &markdownChunker{opts: opts.withDefaults()}
}

func (c *markdownChunker) Name() string { return "markdown-aware" }

type mdSection struct {
	headingPath []string
	body        string
}

func (c *markdownChunker) Chunk(text string, _ DocumentMeta) ([]Unit, error) {
	sections := splitMarkdownSections(text, c.opts.MaxLevel)
	var units []Unit
	for _, s := range sections {
		body := strings.TrimSpace(s.body)
		if body == "" {
			continue
		}
		for _, part := range splitToMaxChars(body, c.opts.MaxChars) {
			headings := map[string]any{}
			for i, h := range s.headingPath {
				headings[fmt.Sprintf("h%d", i+1)] = h
			}
			units = append(units, Unit{
				Text: part,
				Metadata: map[string]any{
					"headings": headings,
				},
			})
		}
	}
	return renumber(units), nil
}

// splitMarkdownSections walks heading lines up to maxLevel, tracking the
// current heading path (one entry per level) so each section's metadata
// can carry its full ancestry, not just its immediate heading.
func splitMarkdownSections(text string, maxLevel int) []mdSection {
	lines := strings.Split(text, "\n")
	var sections []mdSection
	path := make([]string, 0, maxLevel)
	var body strings.Builder
	flush := func() {
		if strings.TrimSpace(body.String()) == "" {
			return
		}
		cp := append([]string(nil), path...)
		sections = append(sections, mdSection{headingPath: cp, body: body.String()})
		body.Reset()
	}
	for _, line := range lines {
		if m := headingRE.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			if level <= maxLevel {
				flush()
				if level-1 < len(path) {
					path = path[:level-1]
				}
				for len(path) < level-1 {
					path = append(path, "")
				}
				path = append(path, strings.TrimSpace(m[2]))
				continue
			}
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	if len(sections) == 0 {
		sections = append(sections, mdSection{body: text})
	}
	return sections
}

func splitToMaxChars(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}
	var out []string
	for len(text) > maxChars {
		cut := strings.LastIndex(text[:maxChars], "\n")
		if cut <= 0 {
			cut = maxChars
		}
		out = append(out, strings.TrimSpace(text[:cut]))
		text = text[cut:]
	}
	if strings.TrimSpace(text) != "" {
		out = append(out, strings.TrimSpace(text))
	}
	return out
}
