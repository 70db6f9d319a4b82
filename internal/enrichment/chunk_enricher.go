package enrichment

import (
	"context"
	"strconv"
	"strings"

	"github.com/kbretrieval/core/internal/types/interfaces"
)

// ChunkEnricherOptions configures the Chunk Enricher (spec §4.3): for each
// chunk, assemble a prompt with (doc_title, doc_summary?, preceding N
// chunks, chunk, following N chunks) and ask an LLM for a contextualized
// version.
type ChunkEnricherOptions struct {
	Enabled        bool   `mapstructure:"enabled"`
	WindowBefore   int    `mapstructure:"window_before"`
	WindowAfter    int    `mapstructure:"window_after"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	PromptTemplate string `mapstructure:"prompt_template"`
}

const defaultChunkContextPrompt = "Document: {{title}}\nSummary: {{summary}}\n\n" +
	"Preceding context:\n{{before}}\n\nChunk to contextualize:\n{{chunk}}\n\n" +
	"Following context:\n{{after}}\n\n" +
	"Rewrite the chunk with any context needed to understand it standalone. Return only the rewritten text."

// ChunkEnricher is stateless; its Enrich method is grounded on spec §4.3's
// prompt-assembly contract.
type ChunkEnricher struct {
	opts ChunkEnricherOptions
	llm  interfaces.LLM
}

func NewChunkEnricher(opts ChunkEnricherOptions, llm interfaces.LLM) *ChunkEnricher {
	if opts.WindowBefore <= 0 && opts.WindowAfter <= 0 {
		opts.WindowBefore, opts.WindowAfter = 1, 1
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = defaultChunkContextPrompt
	}
	return &ChunkEnricher{opts: opts, llm: llm}
}

func (e *ChunkEnricher) Name() string { return "chunk-enricher" }

// Enrich returns the contextualized text for one chunk given its
// surrounding chunks (ordered by chunk_index, already windowed to
// WindowBefore/WindowAfter by the caller). Returns ("", nil) when disabled
// or no LLM is configured; the caller stores this as a skipped enrichment,
// never an ingestion failure (spec §4.3).
func (e *ChunkEnricher) Enrich(ctx context.Context, docTitle, docSummary string, before []string, chunkText string, after []string) (string, error) {
	if !e.opts.Enabled || e.llm == nil {
		return "", nil
	}
	prompt := e.buildPrompt(docTitle, docSummary, before, chunkText, after)
	return e.llm.Complete(ctx, prompt, e.opts.MaxTokens)
}

func (e *ChunkEnricher) buildPrompt(docTitle, docSummary string, before []string, chunkText string, after []string) string {
	r := strings.NewReplacer(
		"{{title}}", docTitle,
		"{{summary}}", docSummary,
		"{{before}}", strings.Join(before, "\n---\n"),
		"{{chunk}}", chunkText,
		"{{after}}", strings.Join(after, "\n---\n"),
		"{{max_tokens}}", strconv.Itoa(e.opts.MaxTokens),
	)
	return r.Replace(e.opts.PromptTemplate)
}

// Window returns the WindowBefore/WindowAfter counts so the indexing
// layer knows how many neighboring chunks to fetch before calling Enrich.
func (e *ChunkEnricher) Window() (before, after int) {
	return e.opts.WindowBefore, e.opts.WindowAfter
}
