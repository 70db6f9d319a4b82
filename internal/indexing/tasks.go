package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/types"
)

// Task type names registered with the asynq mux (grounded on the
// teacher's types.TypeChunkExtract/TypeDocumentProcess constant-naming
// convention, _examples/scookiem-WeKnora/internal/router/task.go).
const (
	TypeDocumentIndex    = "indexing:document"
	TypeRetryFailed      = "indexing:retry_failed"
	TypeHierarchyRebuild = "indexing:hierarchy_rebuild"
	TypeReconcile        = "indexing:reconcile"
)

// buildLockTTL bounds how long a hierarchy rebuild/BM25 rebuild may hold
// the exclusive lock before another worker is allowed to consider it
// abandoned (spec §5).
const buildLockTTL = 10 * time.Minute

// DocumentIndexPayload is the asynq payload for TypeDocumentIndex/
// TypeRetryFailed — a DocumentJob flattened to a JSON-friendly shape so
// the ingestion orchestrator can return as soon as chunk rows are
// persisted `pending` (SPEC_FULL.md §4.4 expansion).
type DocumentIndexPayload struct {
	TenantID      uint64           `json:"tenant_id"`
	KBID          string           `json:"kb_id"`
	DocID         string           `json:"doc_id"`
	Isolation     string           `json:"isolation"`
	Embedding     types.ModelConfig `json:"embedding"`
	SparseEnabled bool             `json:"sparse_enabled"`
	ACL           types.ACL        `json:"acl"`
	Sensitivity   types.SensitivityLevel `json:"sensitivity_level"`
}

func (p DocumentIndexPayload) job() DocumentJob {
	return DocumentJob{
		TenantID: p.TenantID, KBID: p.KBID, DocID: p.DocID, Isolation: p.Isolation,
		Embedding: p.Embedding, SparseEnabled: p.SparseEnabled, ACL: p.ACL, Sensitivity: p.Sensitivity,
	}
}

// HierarchyRebuildPayload is the asynq payload for TypeHierarchyRebuild.
type HierarchyRebuildPayload struct {
	TenantID uint64 `json:"tenant_id"`
	KBID     string `json:"kb_id"`
}

// ReconcilePayload is the asynq payload for the TypeReconcile
// sweep (spec §4.4's "a document may have some chunks indexed and others
// failed" resting state is exactly what reconciliation looks for).
type ReconcilePayload struct {
	TenantID uint64 `json:"tenant_id"`
	KBID     string `json:"kb_id"`
	DocID    string `json:"doc_id"`
}

// EnqueueDocumentIndex queues standard indexing for one document so the
// ingestion orchestrator can return once chunk rows are persisted pending
// (grounded on the teacher's NewChunkExtractTask shape: marshal payload,
// asynq.NewTask with MaxRetry, Enqueue, log the returned task info).
func EnqueueDocumentIndex(ctx context.Context, client *asynq.Client, job DocumentJob) error {
	payload, err := json.Marshal(DocumentIndexPayload{
		TenantID: job.TenantID, KBID: job.KBID, DocID: job.DocID, Isolation: job.Isolation,
		Embedding: job.Embedding, SparseEnabled: job.SparseEnabled, ACL: job.ACL, Sensitivity: job.Sensitivity,
	})
	if err != nil {
		return fmt.Errorf("indexing: marshaling document index payload: %w", err)
	}
	task := asynq.NewTask(TypeDocumentIndex, payload, asynq.MaxRetry(3))
	info, err := client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("indexing: enqueuing document index task: %w", err)
	}
	logger.Infof(ctx, "[Indexing] enqueued document index task: id=%s queue=%s doc=%s", info.ID, info.Queue, job.DocID)
	return nil
}

// EnqueueHierarchyRebuild queues a whole-tree rebuild for a KB.
func EnqueueHierarchyRebuild(ctx context.Context, client *asynq.Client, tenantID uint64, kbID string) error {
	payload, err := json.Marshal(HierarchyRebuildPayload{TenantID: tenantID, KBID: kbID})
	if err != nil {
		return fmt.Errorf("indexing: marshaling hierarchy rebuild payload: %w", err)
	}
	task := asynq.NewTask(TypeHierarchyRebuild, payload, asynq.MaxRetry(1))
	info, err := client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("indexing: enqueuing hierarchy rebuild task: %w", err)
	}
	logger.Infof(ctx, "[Indexing] enqueued hierarchy rebuild task: id=%s queue=%s kb=%s", info.ID, info.Queue, kbID)
	return nil
}

// DocumentIndexHandler dispatches TypeDocumentIndex/TypeRetryFailed tasks
// to a RetryableIndexer (the standard indexer in practice).
type DocumentIndexHandler struct {
	Indexer RetryableIndexer
}

func (h *DocumentIndexHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var p DocumentIndexPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.Errorf(ctx, "[Indexing] unmarshaling document index payload: %v", err)
		return err
	}
	ctx = logger.WithFields(ctx, map[string]any{
		"request_id": uuid.NewString(), "tenant_id": p.TenantID, "kb_id": p.KBID, "doc_id": p.DocID,
	})
	job := p.job()
	switch t.Type() {
	case TypeRetryFailed:
		return h.Indexer.RetryFailedChunks(ctx, job)
	default:
		return h.Indexer.IndexDocument(ctx, job)
	}
}

// HierarchyRebuilder rebuilds one KB's hierarchical summary tree.
// *HierarchicalIndexer satisfies this directly when every KB shares one
// embedder/LLM pair; the orchestrator's per-job HierarchyJobHandler
// satisfies it too, resolving a fresh embedder/LLM per KB instead.
type HierarchyRebuilder interface {
	Rebuild(ctx context.Context, tenantID uint64, kbID string) error
}

// HierarchyRebuildHandler dispatches TypeHierarchyRebuild tasks, taking
// the Redis-backed exclusive build lock first so concurrently queued
// rebuild triggers for the same KB collapse into one winner (spec §5).
type HierarchyRebuildHandler struct {
	Indexer HierarchyRebuilder
	Locker  Locker
}

func (h *HierarchyRebuildHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var p HierarchyRebuildPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.Errorf(ctx, "[Indexing] unmarshaling hierarchy rebuild payload: %v", err)
		return err
	}
	ctx = logger.WithFields(ctx, map[string]any{"request_id": uuid.NewString(), "tenant_id": p.TenantID, "kb_id": p.KBID})
	lockName := "hierarchy_rebuild:" + p.KBID
	ran, err := WithLock(ctx, h.Locker, lockName, buildLockTTL, func(ctx context.Context) error {
		return h.Indexer.Rebuild(ctx, p.TenantID, p.KBID)
	})
	if err != nil {
		return err
	}
	if !ran {
		logger.Infof(ctx, "[Indexing] hierarchy rebuild for kb=%s already in progress elsewhere, skipping", p.KBID)
	}
	return nil
}
