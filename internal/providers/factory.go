package providers

import (
	"fmt"

	"github.com/kbretrieval/core/internal/config"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Built groups one Embedder/LLM/Reranker triple as the small interfaces of
// internal/types/interfaces. This package never imports the concrete
// openai/ollama packages (they import it); their constructors reach it
// through ProviderFactories below.
type Built struct {
	Embedder interfaces.Embedder
	LLM      interfaces.LLM
	Reranker interfaces.Reranker
}

// ProviderFactories holds the openai/ollama packages' constructors;
// the container wires the concrete funcs in so this package stays free of
// a dependency on either SDK.
type ProviderFactories struct {
	NewOpenAIEmbedder func(entry config.ModelEntry) (interfaces.Embedder, error)
	NewOpenAILLM      func(entry config.ModelEntry) (interfaces.LLM, error)
	NewOpenAIReranker func(entry config.ModelEntry) (interfaces.Reranker, error)
	NewOllamaEmbedder func(entry config.ModelEntry) (interfaces.Embedder, error)
	NewOllamaLLM      func(entry config.ModelEntry) (interfaces.LLM, error)
}

// BuildCapabilities turns the configured model entries into an
// interfaces.Capabilities value per capability, preferring the first
// matching entry for each of embedding/llm/rerank (spec §9's "capability
// record" design note).
func BuildCapabilities(entries []config.ModelEntry, f ProviderFactories) (interfaces.Capabilities, error) {
	var caps interfaces.Capabilities
	for _, e := range entries {
		switch e.Capability {
		case "embedding":
			if caps.Embedder != nil {
				continue
			}
			emb, err := buildEmbedder(e, f)
			if err != nil {
				return caps, err
			}
			caps.Embedder = emb
		case "llm":
			if caps.LLM != nil {
				continue
			}
			llm, err := buildLLM(e, f)
			if err != nil {
				return caps, err
			}
			caps.LLM = llm
		case "rerank":
			if caps.Reranker != nil {
				continue
			}
			rr, err := buildReranker(e, f)
			if err != nil {
				return caps, err
			}
			caps.Reranker = rr
		}
	}
	return caps, nil
}

func buildEmbedder(e config.ModelEntry, f ProviderFactories) (interfaces.Embedder, error) {
	switch e.Provider {
	case "openai":
		return f.NewOpenAIEmbedder(e)
	case "ollama":
		return f.NewOllamaEmbedder(e)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", e.Provider)
	}
}

func buildLLM(e config.ModelEntry, f ProviderFactories) (interfaces.LLM, error) {
	switch e.Provider {
	case "openai":
		return f.NewOpenAILLM(e)
	case "ollama":
		return f.NewOllamaLLM(e)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", e.Provider)
	}
}

func buildReranker(e config.ModelEntry, f ProviderFactories) (interfaces.Reranker, error) {
	switch e.Provider {
	case "openai":
		return f.NewOpenAIReranker(e)
	default:
		return nil, fmt.Errorf("unknown rerank provider %q", e.Provider)
	}
}
