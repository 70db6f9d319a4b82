package chunking

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ParentChildOptions configures the two-level parent-child chunker
// (spec §4.2 table, §3 invariant 6).
type ParentChildOptions struct {
	ParentChars int `mapstructure:"parent_chars"`
	ChildChars  int `mapstructure:"child_chars"`
}

func (o *ParentChildOptions) withDefaults() ParentChildOptions {
	out := *o
	if out.ParentChars <= 0 {
		out.ParentChars = 2000
	}
	if out.ChildChars <= 0 {
		out.ChildChars = 400
	}
	return out
}

type parentChildChunker struct {
	opts ParentChildOptions
}

func NewParentChildChunker(opts ParentChildOptions) Chunker {
	return &parentChildChunker{opts: opts.withDefaults()}
}

func (c *parentChildChunker) Name() string { return "parent-child" }

// Chunk produces parents (child=false) immediately followed by their
// children (child=true, parent_id set) so ordinals interleave per spec
// §4.2's ordering invariant: "each parent precedes its children".
func (c *parentChildChunker) Chunk(text string, _ DocumentMeta) ([]Unit, error) {
	paragraphChunks, err := NewParagraphChunker(ParagraphOptions{MaxChars: c.opts.ParentChars}).Chunk(text, DocumentMeta{})
	if err != nil {
		return nil, fmt.Errorf("parent-child: splitting parents: %w", err)
	}
	var units []Unit
	for _, parent := range paragraphChunks {
		parentID := uuid.NewString()
		units = append(units, Unit{
			Text: parent.Text,
			Metadata: map[string]any{
				"chunk_id": parentID,
				"child":    false,
			},
		})
		childPieces := splitToMaxChars(parent.Text, c.opts.ChildChars)
		for _, cp := range childPieces {
			cp = strings.TrimSpace(cp)
			if cp == "" {
				continue
			}
			units = append(units, Unit{
				Text: cp,
				Metadata: map[string]any{
					"parent_id": parentID,
					"child":     true,
				},
			})
		}
	}
	return renumber(units), nil
}
