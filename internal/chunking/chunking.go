// Package chunking implements the Chunking Layer (C2): turning a
// document's text into an ordered, finite, non-restartable sequence of
// chunk records with structural metadata (spec §4.2). Grounded on
// other_examples/8bdcde01_yuewanzhe-WeKnora__internal-application-service-chunk.go.go
// for the chunk-record/ordinal idiom and
// other_examples/c8cef008_kadirpekel-hector__v2-rag-chunk.go.go for the
// Chunk{Content,Index,...,Metadata} struct shape.
package chunking

import "github.com/kbretrieval/core/internal/registry"

// Unit is one chunk a Chunker yields, before it is assigned a document/
// tenant/KB id and persisted as a types.Chunk row.
type Unit struct {
	Ordinal  int
	Text     string
	Metadata map[string]any
}

// DocumentMeta is the subset of document fields a chunker may read (title,
// source metadata) without taking a dependency on the full types.Document
// (and its gorm tags) from a pure-function package.
type DocumentMeta struct {
	Title          string
	SourceMetadata map[string]any
}

// Chunker takes a document's text and yields an ordered sequence of chunk
// units (spec §4.2). Implementations are stateless; all behavior is
// determined by the options passed at construction.
type Chunker interface {
	Name() string
	Chunk(text string, doc DocumentMeta) ([]Unit, error)
}

// Registry is the process-wide chunker registry (C1 specialized to
// chunking.Chunker).
type Registry = registry.Registry[Chunker]

// NewRegistry builds a registry with every built-in chunker pre-registered
// (spec §4.2's table: paragraph, sliding-window, recursive,
// markdown-aware, code-aware, parent-child, sentence/token).
func NewRegistry() *Registry {
	r := registry.New[Chunker]()
	r.MustRegister("paragraph", registry.Requires{}, func() any { return &ParagraphOptions{} },
		func(o any) (Chunker, error) { return NewParagraphChunker(*o.(*ParagraphOptions)), nil })
	r.MustRegister("sliding-window", registry.Requires{}, func() any { return &SlidingWindowOptions{} },
		func(o any) (Chunker, error) { return NewSlidingWindowChunker(*o.(*SlidingWindowOptions)), nil })
	r.MustRegister("recursive", registry.Requires{}, func() any { return &RecursiveOptions{} },
		func(o any) (Chunker, error) { return NewRecursiveChunker(*o.(*RecursiveOptions)), nil })
	r.MustRegister("markdown-aware", registry.Requires{}, func() any { return &MarkdownOptions{} },
		func(o any) (Chunker, error) { return NewMarkdownChunker(*o.(*MarkdownOptions)), nil })
	r.MustRegister("code-aware", registry.Requires{}, func() any { return &CodeOptions{} },
		func(o any) (Chunker, error) { return NewCodeChunker(*o.(*CodeOptions)), nil })
	r.MustRegister("parent-child", registry.Requires{}, func() any { return &ParentChildOptions{} },
		func(o any) (Chunker, error) { return NewParentChildChunker(*o.(*ParentChildOptions)), nil })
	r.MustRegister("sentence", registry.Requires{}, func() any { return &SentenceOptions{} },
		func(o any) (Chunker, error) { return NewSentenceChunker(*o.(*SentenceOptions)), nil })
	return r
}

// renumber assigns dense 0-based ordinals and sets the required
// chunk_index metadata field (spec §4.2 ordering invariant).
func renumber(units []Unit) []Unit {
	for i := range units {
		units[i].Ordinal = i
		if units[i].Metadata == nil {
			units[i].Metadata = map[string]any{}
		}
		units[i].Metadata["chunk_index"] = i
	}
	return units
}
