package providers

import (
	"fmt"
	"sync"

	"github.com/kbretrieval/core/internal/config"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Resolver maps a KB's types.ModelConfig (provider+model+dimension, spec
// §3/§6) to a constructed, cached provider client. BuildCapabilities
// (factory.go) only ever builds one client per capability (the first configured
// entry); a KB names a specific provider+model pair that may not be that
// first entry, so the container (C8) uses Resolver instead wherever a
// component needs the client for one particular KBConfig.Embedding/LLM
// selection rather than "the" system-wide embedder.
type Resolver struct {
	factories ProviderFactories

	mu        sync.Mutex
	entries   map[string]config.ModelEntry // "capability/provider/model" -> entry
	byName    map[string]config.ModelEntry // ModelEntry.Name -> entry
	embedders map[string]interfaces.Embedder
	llms      map[string]interfaces.LLM
	rerankers map[string]interfaces.Reranker
}

// NewResolver indexes entries by capability/provider/model so repeated
// ModelConfig lookups are O(1) and each distinct client is built once.
func NewResolver(entries []config.ModelEntry, f ProviderFactories) *Resolver {
	r := &Resolver{
		factories: f,
		entries:   make(map[string]config.ModelEntry, len(entries)),
		byName:    make(map[string]config.ModelEntry, len(entries)),
		embedders: make(map[string]interfaces.Embedder),
		llms:      make(map[string]interfaces.LLM),
		rerankers: make(map[string]interfaces.Reranker),
	}
	for _, e := range entries {
		r.entries[entryKey(e.Capability, e.Provider, e.Model)] = e
		if e.Name != "" {
			r.byName[e.Name] = e
		}
	}
	return r
}

// LLMNamed resolves the completion client for the config.ModelEntry whose
// Name matches — used by enrichment operators, which name a model entry
// directly in their OperatorRef.Params rather than a ModelConfig.
func (r *Resolver) LLMNamed(name string) (interfaces.LLM, error) {
	r.mu.Lock()
	entry, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("providers: no model entry named %q", name)
	}
	return r.LLM(types.ModelConfig{Provider: entry.Provider, Model: entry.Model})
}

// RerankerNamed resolves the rerank client for the config.ModelEntry whose
// Name matches — the lookup ResolvedConfig.Rerank.Name uses (spec §4.6),
// since a KB's query config names a rerank entry directly rather than a
// provider+model pair.
func (r *Resolver) RerankerNamed(name string) (interfaces.Reranker, error) {
	r.mu.Lock()
	entry, ok := r.byName[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("providers: no model entry named %q", name)
	}
	return r.Reranker(types.ModelConfig{Provider: entry.Provider, Model: entry.Model})
}

func entryKey(capability, provider, model string) string {
	return capability + "/" + provider + "/" + model
}

// Embedder resolves and caches the embedder client for mc, building it on
// first use from the matching config.ModelEntry.
func (r *Resolver) Embedder(mc types.ModelConfig) (interfaces.Embedder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := entryKey("embedding", mc.Provider, mc.Model)
	if e, ok := r.embedders[k]; ok {
		return e, nil
	}
	entry, ok := r.entries[k]
	if !ok {
		return nil, fmt.Errorf("providers: no embedding entry configured for provider=%q model=%q", mc.Provider, mc.Model)
	}
	e, err := buildEmbedder(entry, r.factories)
	if err != nil {
		return nil, err
	}
	r.embedders[k] = e
	return e, nil
}

// LLM resolves and caches the completion client named by mc.
func (r *Resolver) LLM(mc types.ModelConfig) (interfaces.LLM, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := entryKey("llm", mc.Provider, mc.Model)
	if l, ok := r.llms[k]; ok {
		return l, nil
	}
	entry, ok := r.entries[k]
	if !ok {
		return nil, fmt.Errorf("providers: no llm entry configured for provider=%q model=%q", mc.Provider, mc.Model)
	}
	l, err := buildLLM(entry, r.factories)
	if err != nil {
		return nil, err
	}
	r.llms[k] = l
	return l, nil
}

// Reranker resolves and caches the rerank client named by mc.
func (r *Resolver) Reranker(mc types.ModelConfig) (interfaces.Reranker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := entryKey("rerank", mc.Provider, mc.Model)
	if rr, ok := r.rerankers[k]; ok {
		return rr, nil
	}
	entry, ok := r.entries[k]
	if !ok {
		return nil, fmt.Errorf("providers: no rerank entry configured for provider=%q model=%q", mc.Provider, mc.Model)
	}
	rr, err := buildReranker(entry, r.factories)
	if err != nil {
		return nil, err
	}
	r.rerankers[k] = rr
	return rr, nil
}

// APIKey extracts the credential an openai/ollama constructor needs from a
// config.ModelEntry's free-form Parameters map (config.ModelEntry carries
// no first-class APIKey field since ollama deployments commonly run
// keyless).
func APIKey(e config.ModelEntry) string {
	if e.Parameters == nil {
		return ""
	}
	if v, ok := e.Parameters["api_key"].(string); ok {
		return v
	}
	return ""
}
