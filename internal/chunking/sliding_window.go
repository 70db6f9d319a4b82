package chunking

// SlidingWindowOptions configures the sliding-window chunker: fixed-char
// windows with fixed overlap (spec §4.2 table).
type SlidingWindowOptions struct {
	WindowChars int `mapstructure:"window_chars"`
	OverlapChars int `mapstructure:"overlap_chars"`
}

func (o *SlidingWindowOptions) withDefaults() SlidingWindowOptions {
	out := *o
	if out.WindowChars <= 0 {
		out.WindowChars = 500
	}
	if out.OverlapChars < 0 || out.OverlapChars >= out.WindowChars {
		out.OverlapChars = out.WindowChars / 5
	}
	return out
}

type slidingWindowChunker struct {
	opts SlidingWindowOptions
}

func NewSlidingWindowChunker(opts SlidingWindowOptions) Chunker {
	return &slidingWindowChunker{opts: opts.withDefaults()}
}

func (c *slidingWindowChunker) Name() string { return "sliding-window" }

func (c *slidingWindowChunker) Chunk(text string, _ DocumentMeta) ([]Unit, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	step := c.opts.WindowChars - c.opts.OverlapChars
	if step <= 0 {
		step = c.opts.WindowChars
	}
	var units []Unit
	for start := 0; start < len(runes); start += step {
		end := start + c.opts.WindowChars
		if end > len(runes) {
			end = len(runes)
		}
		units = append(units, Unit{Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return renumber(units), nil
}
