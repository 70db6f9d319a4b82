package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbretrieval/core/internal/types"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.response, f.err
}
func (f *fakeLLM) Name() string { return "fake-llm" }

type fakeBaseRetriever struct {
	results []*types.RetrieveResult
	err     error
}

func (f *fakeBaseRetriever) Name() string { return "fake-base" }
func (f *fakeBaseRetriever) Retrieve(ctx context.Context, params types.RetrieveParams) ([]*types.RetrieveResult, error) {
	return f.results, f.err
}

func TestSelfQueryRetriever_FiltersByMetadata(t *testing.T) {
	llm := &fakeLLM{response: `{"semantic_query": "refund policy", "filters": [{"field": "category", "op": "eq", "value": "billing"}]}`}
	base := &fakeBaseRetriever{results: []*types.RetrieveResult{
		{ChunkID: "a", Metadata: map[string]any{"category": "billing"}},
		{ChunkID: "b", Metadata: map[string]any{"category": "shipping"}},
	}}
	r := NewSelfQueryRetriever(base, llm)

	hits, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "billing refund policy", TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ChunkID)
	assert.Equal(t, "refund policy", hits[0].SemanticQuery)
}

func TestSelfQueryRetriever_DropsInjectionAttempt(t *testing.T) {
	llm := &fakeLLM{response: `{"semantic_query": "x", "filters": [{"field": "id", "op": "eq", "value": "1; DROP TABLE chunks;"}]}`}
	base := &fakeBaseRetriever{results: []*types.RetrieveResult{{ChunkID: "a", Metadata: map[string]any{"id": "1"}}}}
	r := NewSelfQueryRetriever(base, llm)

	hits, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "x", TopK: 10})
	require.NoError(t, err)
	// malicious filter dropped, falls back to unfiltered semantic result
	require.Len(t, hits, 1)
	assert.Empty(t, hits[0].ParsedFilters)
}

func TestSelfQueryRetriever_FallsBackOnMalformedJSON(t *testing.T) {
	llm := &fakeLLM{response: "not json at all"}
	base := &fakeBaseRetriever{results: []*types.RetrieveResult{{ChunkID: "a"}}}
	r := NewSelfQueryRetriever(base, llm)

	hits, err := r.Retrieve(context.Background(), types.RetrieveParams{Query: "original query", TopK: 10})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "original query", hits[0].SemanticQuery)
}

func TestMatchesOne_Numeric(t *testing.T) {
	assert.True(t, matchesOne(5.0, "gt", 3.0))
	assert.False(t, matchesOne(2.0, "gt", 3.0))
	assert.True(t, matchesOne("foo bar", "contains", "bar"))
	assert.True(t, matchesOne("x", "eq", "x"))
	assert.False(t, matchesOne("x", "eq", "y"))
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, isSafeIdentifier("category_id"))
	assert.False(t, isSafeIdentifier("category; DROP"))
	assert.False(t, isSafeIdentifier(""))
}
