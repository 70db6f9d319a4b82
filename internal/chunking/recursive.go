package chunking

import "strings"

// RecursiveOptions configures the recursive chunker: split by an ordered
// list of separators, falling back to finer ones until windows fit within
// chunk_size (spec §4.2 table).
type RecursiveOptions struct {
	ChunkSize  int      `mapstructure:"chunk_size"`
	Separators []string `mapstructure:"separators"`
}

func (o *RecursiveOptions) withDefaults() RecursiveOptions {
	out := *o
	if out.ChunkSize <= 0 {
		out.ChunkSize = 500
	}
	if len(out.Separators) == 0 {
		out.Separators = []string{"\n\n", "\n", ". ", " ", ""}
	}
	return out
}

type recursiveChunker struct {
	opts RecursiveOptions
}

func NewRecursiveChunker(opts RecursiveOptions) Chunker {
	return &recursiveChunker{opts: opts.withDefaults()}
}

func (c *recursiveChunker) Name() string { return "recursive" }

func (c *recursiveChunker) Chunk(text string, _ DocumentMeta) ([]Unit, error) {
	pieces := splitRecursive(text, c.opts.Separators, c.opts.ChunkSize)
	units := make([]Unit, 0, len(pieces))
	for _, p := range pieces {
		p.text = strings.TrimSpace(p.text)
		if p.text == "" {
			continue
		}
		units = append(units, Unit{
			Text:     p.text,
			Metadata: map[string]any{"separator": p.separator},
		})
	}
	return renumber(units), nil
}

type piece struct {
	text      string
	separator string
}

// splitRecursive splits text by seps[0]; any resulting segment still over
// size is recursively split by the remaining separators, preserving which
// separator ultimately produced each output piece (spec §4.2: "preserve
// the chosen separator in output").
func splitRecursive(text string, seps []string, size int) []piece {
	if len(text) <= size || len(seps) == 0 {
		return []piece{{text: text, separator: lastSep(seps)}}
	}
	sep := seps[0]
	rest := seps[1:]
	var segments []string
	if sep == "" {
		for _, r := range text {
			segments = append(segments, string(r))
		}
	} else {
		segments = strings.Split(text, sep)
	}
	var out []piece
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		seg := buf.String()
		if len(seg) > size {
			out = append(out, splitRecursive(seg, rest, size)...)
		} else {
			out = append(out, piece{text: seg, separator: sep})
		}
		buf.Reset()
	}
	for _, seg := range segments {
		addition := seg
		if buf.Len() > 0 {
			addition = sep + seg
		}
		if buf.Len()+len(addition) > size {
			flush()
		}
		buf.WriteString(addition)
	}
	flush()
	return out
}

func lastSep(seps []string) string {
	if len(seps) == 0 {
		return ""
	}
	return seps[len(seps)-1]
}
