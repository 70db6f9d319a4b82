package registry

import (
	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/types"
)

// Validators groups the three per-category registries Validate needs to
// cross-check a KB's chosen operators (spec §4.1: "validate(kb_config)
// cross-checks operator compatibility ... before any write").
type Validators struct {
	Chunkers   interface{ Has(string) bool }
	Indexers   interface{ Has(string) bool }
	Retrievers interface {
		Has(string) bool
		Requires(string) (Requires, bool)
	}
}

// ValidateKBConfig checks that the KB's chunker/indexer/retriever names are
// all registered and that the retriever's declared Requires are satisfied
// by the KB's chosen chunker/indexer, before any write. An unregistered
// name fails with OPERATOR_NOT_FOUND; an unsatisfied Requires fails with
// KB_CONFIG_ERROR (spec §4.1).
func ValidateKBConfig(v Validators, cfg types.KBConfig) error {
	if !v.Chunkers.Has(cfg.Chunker.Name) {
		return apierr.Newf(apierr.OperatorNotFound, "chunker %q not registered", cfg.Chunker.Name)
	}
	if !v.Indexers.Has(cfg.Indexer.Name) {
		return apierr.Newf(apierr.OperatorNotFound, "indexer %q not registered", cfg.Indexer.Name)
	}
	if !v.Retrievers.Has(cfg.Retriever.Name) {
		return apierr.Newf(apierr.OperatorNotFound, "retriever %q not registered", cfg.Retriever.Name)
	}
	req, _ := v.Retrievers.Requires(cfg.Retriever.Name)
	if req.Chunker != "" && req.Chunker != cfg.Chunker.Name {
		return apierr.Newf(apierr.KBConfigError,
			"retriever %q requires chunker %q, KB is configured with %q",
			cfg.Retriever.Name, req.Chunker, cfg.Chunker.Name)
	}
	if req.Indexer != "" && req.Indexer != cfg.Indexer.Name {
		return apierr.Newf(apierr.KBConfigError,
			"retriever %q requires indexer %q, KB is configured with %q",
			cfg.Retriever.Name, req.Indexer, cfg.Indexer.Name)
	}
	return nil
}

// ValidateEmbeddingChange enforces spec §3 invariant 5 / §8 invariant 7:
// a KB's embedding configuration is immutable once any chunk has reached
// `indexed`.
func ValidateEmbeddingChange(current, proposed types.ModelConfig, hasIndexedChunk bool) error {
	if hasIndexedChunk && !current.Equal(proposed) {
		return apierr.New(apierr.KBConfigError,
			"embedding provider/model/dimension cannot change once the KB has an indexed chunk")
	}
	return nil
}
