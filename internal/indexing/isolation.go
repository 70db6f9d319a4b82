package indexing

import (
	"context"
	"fmt"

	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// AutoIsolationThreshold is the indexed-chunk count at which "auto"
// isolation (spec §4.4) switches a tenant from the shared collection to
// its own per-tenant collection. Chosen as a conservative default rather
// than exposed as a tunable — spec.md leaves the exact threshold
// unspecified, only that the choice is "dynamic... based on data volume"
// (SPEC_FULL.md §9-style Open Question decision, recorded in DESIGN.md).
const AutoIsolationThreshold = 50000

// ResolveIsolation turns a tenant's configured isolation strategy into the
// concrete "shared"/"per-tenant" value dense.CollectionName expects,
// measuring the KB's current chunk volume when the strategy is "auto".
// The decision is naturally one-way for a fixed threshold: chunk counts
// only grow, so once a KB crosses the threshold every later call resolves
// to per-tenant too, and CollectionName is a pure function of
// (isolation, tenant_id, dim) — no migration of already-written records is
// attempted or implied (spec §4.4: "switching does not migrate existing
// data").
func ResolveIsolation(ctx context.Context, chunks interfaces.ChunkRepository, tenantID uint64, kbID string, strategy types.IsolationStrategy) (string, error) {
	switch strategy {
	case types.IsolationShared:
		return "shared", nil
	case types.IsolationPerTenant:
		return "per-tenant", nil
	case types.IsolationAuto, "":
		count, err := chunks.CountChunksByKBID(ctx, tenantID, kbID)
		if err != nil {
			return "", fmt.Errorf("indexing: counting chunks for auto isolation: %w", err)
		}
		if count >= AutoIsolationThreshold {
			return "per-tenant", nil
		}
		return "shared", nil
	default:
		return "", fmt.Errorf("indexing: unknown isolation strategy %q", strategy)
	}
}
