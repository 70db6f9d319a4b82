package chunking

import (
	"path/filepath"
	"regexp"
	"strings"
)

// CodeOptions configures the code-aware chunker: split at syntactic
// boundaries (top-level declarations) for a declared or auto-detected
// language (spec §4.2 table).
type CodeOptions struct {
	Language string `mapstructure:"language"` // empty = auto-detect
	MaxChars int    `mapstructure:"max_chars"`
	Filename string `mapstructure:"filename"` // used for extension-based detection
}

func (o *CodeOptions) withDefaults() CodeOptions {
	out := *o
	if out.MaxChars <= 0 {
		out.MaxChars = 2000
	}
	return out
}

// extToLanguage drives filename-extension auto-detection: detectLanguage
// uses the declared language, then the filename extension, and otherwise
// returns "text". The content itself is not inspected, and no parser
// library is invoked.
var extToLanguage = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".ts": "typescript",
	".java": "java", ".rs": "rust", ".c": "c", ".cpp": "cpp", ".rb": "ruby",
}

// topLevelDeclRE matches a conservative set of top-level declaration
// keywords shared by several C-family and script languages; it is a
// line/brace heuristic, not a real parser (SPEC_FULL.md §4.2).
var topLevelDeclRE = regexp.MustCompile(`(?m)^(func |def |class |type |public |private |protected |fn |impl |struct |interface |package |module )`)

type codeChunker struct {
	opts CodeOptions
}

func NewCodeChunker(opts CodeOptions) Chunker {
	return &codeChunker{opts: opts.withDefaults()}
}

func (c *codeChunker) Name() string { return "code-aware" }

func (c *codeChunker) detectLanguage() string {
	if c.opts.Language != "" {
		return c.opts.Language
	}
	if c.opts.Filename != "" {
		if lang, ok := extToLanguage[strings.ToLower(filepath.Ext(c.opts.Filename))]; ok {
			return lang
		}
	}
	return "text"
}

func (c *codeChunker) Chunk(text string, _ DocumentMeta) ([]Unit, error) {
	lang := c.detectLanguage()
	blocks := splitCodeBlocks(text, c.opts.MaxChars)
	var units []Unit
	for _, b := range blocks {
		trimmed := strings.TrimSpace(b)
		if trimmed == "" {
			continue
		}
		kind := "block"
		if topLevelDeclRE.MatchString(b) {
			kind = "declaration"
		}
		units = append(units, Unit{
			Text: trimmed,
			Metadata: map[string]any{
				"language":   lang,
				"block_kind": kind,
			},
		})
	}
	return renumber(units), nil
}

// splitCodeBlocks groups lines into blocks that start at a detected
// top-level declaration boundary, splitting further only if a block
// exceeds maxChars.
func splitCodeBlocks(text string, maxChars int) []string {
	lines := strings.Split(text, "\n")
	var blocks []string
	var cur strings.Builder
	flushAt := func(nextLine string) bool {
		return topLevelDeclRE.MatchString(nextLine) && cur.Len() > 0
	}
	for _, line := range lines {
		if flushAt(line) || cur.Len() >= maxChars {
			blocks = append(blocks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if cur.Len() > 0 {
		blocks = append(blocks, cur.String())
	}
	// Further split any block still over maxChars on plain line boundaries.
	var out []string
	for _, b := range blocks {
		if len(b) <= maxChars {
			out = append(out, b)
			continue
		}
		out = append(out, splitToMaxChars(b, maxChars)...)
	}
	return out
}
