package chunking

import "strings"

// ParagraphOptions configures the paragraph chunker (spec §4.2 table).
type ParagraphOptions struct {
	Separator string `mapstructure:"separator"`
	MaxChars  int    `mapstructure:"max_chars"`
}

func (o *ParagraphOptions) withDefaults() ParagraphOptions {
	out := *o
	if out.Separator == "" {
		out.Separator = "\n\n"
	}
	if out.MaxChars <= 0 {
		out.MaxChars = 1000
	}
	return out
}

// paragraphChunker splits on a configurable separator and recombines
// adjacent paragraphs to stay under max_chars (spec §4.2).
type paragraphChunker struct {
	opts ParagraphOptions
}

func NewParagraphChunker(opts ParagraphOptions) Chunker {
	return &paragraphChunker{opts: opts.withDefaults()}
}

func (c *paragraphChunker) Name() string { return "paragraph" }

func (c *paragraphChunker) Chunk(text string, _ DocumentMeta) ([]Unit, error) {
	paras := strings.Split(text, c.opts.Separator)
	var units []Unit
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		units = append(units, Unit{Text: strings.TrimSpace(cur.String())})
		cur.Reset()
	}
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(c.opts.Separator)+len(p) > c.opts.MaxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(c.opts.Separator)
		}
		cur.WriteString(p)
		if cur.Len() >= c.opts.MaxChars {
			flush()
		}
	}
	flush()
	return renumber(units), nil
}
