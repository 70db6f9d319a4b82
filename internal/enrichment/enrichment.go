// Package enrichment implements the Enrichment Layer (C3): the two
// optional, disabled-by-default enrichers that call an LLM to augment
// documents/chunks before indexing (spec §4.3). Both tolerate LLM errors
// by skipping rather than aborting ingestion.
package enrichment

import (
	"context"
	"strconv"
	"strings"

	"github.com/kbretrieval/core/internal/types/interfaces"
)

// SizeHint is the document summarizer's requested summary length
// (spec §4.3).
type SizeHint string

const (
	SizeShort  SizeHint = "short"
	SizeMedium SizeHint = "medium"
	SizeLong   SizeHint = "long"
)

var sizeHintTokens = map[SizeHint]int{
	SizeShort: 80, SizeMedium: 200, SizeLong: 500,
}

// SummarizerOptions configures the Document Summarizer enricher
// (spec §4.3).
type SummarizerOptions struct {
	Enabled        bool     `mapstructure:"enabled"`
	PrependSummary bool     `mapstructure:"prepend_summary"`
	SizeHint       SizeHint `mapstructure:"size_hint"`
	PromptTemplate string   `mapstructure:"prompt_template"`
}

// defaultSummaryPrompt uses {{title}}/{{max_words}}/{{content}}
// placeholders rather than Printf verbs so a tenant-supplied override can
// never trigger a verb-mismatch panic (SPEC_FULL.md §4.3's prompt
// templates are externalized config strings, not compiled code).
const defaultSummaryPrompt = "Summarize the following document titled \"{{title}}\" in {{max_words}} words or fewer:\n\n{{content}}"

// Summarizer produces a document-level summary string from (title,
// content) (spec §4.3).
type Summarizer struct {
	opts SummarizerOptions
	llm  interfaces.LLM
}

func NewSummarizer(opts SummarizerOptions, llm interfaces.LLM) *Summarizer {
	if opts.SizeHint == "" {
		opts.SizeHint = SizeMedium
	}
	if opts.PromptTemplate == "" {
		opts.PromptTemplate = defaultSummaryPrompt
	}
	return &Summarizer{opts: opts, llm: llm}
}

func (s *Summarizer) Name() string { return "document-summarizer" }

// Summarize returns the summary text, or ("", nil) when the enricher is
// disabled or has no LLM available — the caller treats this as
// summary_status=skipped, never an ingestion failure (spec §4.3).
func (s *Summarizer) Summarize(ctx context.Context, title, content string) (string, error) {
	if !s.opts.Enabled || s.llm == nil {
		return "", nil
	}
	maxTokens := sizeHintTokens[s.opts.SizeHint]
	prompt := buildSummaryPrompt(s.opts.PromptTemplate, title, maxTokens, content)
	return s.llm.Complete(ctx, prompt, maxTokens)
}

func buildSummaryPrompt(template, title string, maxWords int, content string) string {
	r := strings.NewReplacer(
		"{{title}}", title,
		"{{max_words}}", strconv.Itoa(maxWords),
		"{{content}}", content,
	)
	return r.Replace(template)
}
