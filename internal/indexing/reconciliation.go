package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// staleIndexingThreshold is how long a chunk may sit in `indexing` before
// reconciliation treats it as orphaned by a crashed worker (a chunk that
// was marked running but whose batch never got to mark it indexed/failed)
// and resets it to `pending` for a fresh attempt.
const staleIndexingThreshold = 15 * time.Minute

// taskEnqueuer is the subset of *asynq.Client the reconciler needs,
// narrowed to a local interface so tests can fake it without a real
// Redis-backed broker connection.
type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Reconciler sweeps one document's chunks, each time a TypeReconcile task
// is handled, to recover from worker crashes and retry eligible failures —
// spec §4.4's observation that "a document may have some chunks indexed
// and others failed" is a valid resting state, not a terminal one; this is
// what nudges it back towards fully indexed. Grounded on spec.md §4.4's
// status machine directly; no pack repo implements an equivalent sweep.
type Reconciler struct {
	chunks interfaces.ChunkRepository
	client taskEnqueuer
	now    func() time.Time
}

func NewReconciler(chunks interfaces.ChunkRepository, client taskEnqueuer, now func() time.Time) *Reconciler {
	return &Reconciler{chunks: chunks, client: client, now: now}
}

// Sweep resets stale `indexing` chunks back to `pending`, and — if that
// reset produced any pending work or retry-eligible failures remain —
// re-enqueues work for the document: a standard indexing pass
// (TypeDocumentIndex) when chunks were reset, otherwise a retry pass
// (TypeRetryFailed).
func (r *Reconciler) Sweep(ctx context.Context, tenantID uint64, kbID, docID string) error {
	all, err := r.chunks.ListChunksByDocID(ctx, tenantID, docID)
	if err != nil {
		return fmt.Errorf("reconciliation: listing chunks for doc %s: %w", docID, err)
	}

	var reset []*types.Chunk
	needsRetry := false
	now := r.now()
	for _, c := range all {
		switch c.IndexingStatus {
		case types.IndexingRunning:
			if now.Sub(c.UpdatedAt) > staleIndexingThreshold {
				c.IndexingStatus = types.IndexingPending
				reset = append(reset, c)
			}
		case types.IndexingFailed:
			if c.CanRetryIndexing() {
				needsRetry = true
			}
		}
	}

	if len(reset) > 0 {
		if err := r.chunks.UpdateChunks(ctx, reset); err != nil {
			return fmt.Errorf("reconciliation: resetting stale chunks for doc %s: %w", docID, err)
		}
		logger.Infof(ctx, "[Indexing] reconciliation reset %d stale indexing chunks for doc=%s", len(reset), docID)
	}

	if len(reset) == 0 && !needsRetry {
		return nil
	}
	payload := DocumentIndexPayload{TenantID: tenantID, KBID: kbID, DocID: docID}
	taskType := TypeDocumentIndex
	if len(reset) == 0 && needsRetry {
		taskType = TypeRetryFailed
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("reconciliation: marshaling re-enqueue payload: %w", err)
	}
	if _, err := r.client.Enqueue(asynq.NewTask(taskType, body, asynq.MaxRetry(3))); err != nil {
		return fmt.Errorf("reconciliation: re-enqueuing doc %s: %w", docID, err)
	}
	return nil
}

// ReconcileHandler dispatches the TypeReconcile asynq task. Nothing in
// this module enqueues or schedules that task; the worker only registers
// this handler for it.
type ReconcileHandler struct {
	Reconciler *Reconciler
}

func (h *ReconcileHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var p ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.Errorf(ctx, "[Indexing] unmarshaling reconcile payload: %v", err)
		return err
	}
	return h.Reconciler.Sweep(ctx, p.TenantID, p.KBID, p.DocID)
}
