package indexing

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kbretrieval/core/internal/apierr"
	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/store/sparse"
	"github.com/kbretrieval/core/internal/types"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// DefaultBatchSize is the number of chunks embedded in one BatchEmbed call
// and dispatched as one unit of ants-pool work (spec §4.4 step 2: "compute
// the embedding (batched)").
const DefaultBatchSize = 16

// tokenizer is the subset of *sparse.Tokenizer's method set the standard
// indexer needs, kept as a local interface so tests can fake it without
// constructing a real gojieba-backed tokenizer.
type tokenizer interface {
	Tokenize(content string) []string
}

// StandardIndexer implements spec §4.4's standard indexer contract:
// per-chunk pending -> indexing -> {indexed | failed}, vector + optional
// sparse records, dispatched in batches onto a bounded goroutine pool
// (grounded on the teacher's initAntsPool/ants.NewPool(..., WithPreAlloc)
// shape in _examples/scookiem-WeKnora/internal/container/container.go).
type StandardIndexer struct {
	chunks    interfaces.ChunkRepository
	dense     dense.Store
	sparse    sparse.Store // nil when the KB has sparse indexing disabled
	embedder  interfaces.Embedder
	tokenizer tokenizer // nil when sparse is disabled
	pool      *ants.Pool
	batchSize int
}

// NewStandardIndexer constructs a StandardIndexer. pool is shared across
// KBs/documents (one process-wide bounded pool, per SPEC_FULL.md §4.4);
// sparseStore/tok may both be nil for KBs with sparse indexing disabled.
func NewStandardIndexer(
	chunks interfaces.ChunkRepository,
	denseStore dense.Store,
	sparseStore sparse.Store,
	embedder interfaces.Embedder,
	tok tokenizer,
	pool *ants.Pool,
) *StandardIndexer {
	return &StandardIndexer{
		chunks: chunks, dense: denseStore, sparse: sparseStore,
		embedder: embedder, tokenizer: tok, pool: pool, batchSize: DefaultBatchSize,
	}
}

func (s *StandardIndexer) Name() string { return "standard" }

// IndexDocument processes every pending chunk of job.DocID (spec §4.4
// steps 1-4). Per-chunk failures are persisted as failed status with the
// error string and an incremented retry_count; they do not fail the
// document-level call, since "partial success is a valid resting state"
// (spec §4.4 step 4).
func (s *StandardIndexer) IndexDocument(ctx context.Context, job DocumentJob) error {
	all, err := s.chunks.ListChunksByDocID(ctx, job.TenantID, job.DocID)
	if err != nil {
		return fmt.Errorf("indexing: listing chunks for doc %s: %w", job.DocID, err)
	}
	pending := make([]*types.Chunk, 0, len(all))
	for _, c := range all {
		if c.IndexingStatus == types.IndexingPending {
			pending = append(pending, c)
		}
	}
	return s.processBatches(ctx, job, pending)
}

// RetryFailedChunks reprocesses chunks eligible for retry under the
// retry_count cap (spec §4.4's "failed -> indexing only via an explicit
// retry operation ... idempotent and cap retry_count").
func (s *StandardIndexer) RetryFailedChunks(ctx context.Context, job DocumentJob) error {
	failed, err := s.chunks.ListFailedChunks(ctx, job.TenantID, job.DocID)
	if err != nil {
		return fmt.Errorf("indexing: listing failed chunks for doc %s: %w", job.DocID, err)
	}
	retryable := make([]*types.Chunk, 0, len(failed))
	for _, c := range failed {
		if c.CanRetryIndexing() {
			retryable = append(retryable, c)
		}
	}
	return s.processBatches(ctx, job, retryable)
}

func (s *StandardIndexer) processBatches(ctx context.Context, job DocumentJob, chunks []*types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dim := job.Embedding.Dimension
	collection := dense.CollectionName(job.Isolation, job.TenantID, dim)
	if err := s.dense.EnsureCollection(ctx, collection, dim); err != nil {
		return fmt.Errorf("indexing: ensuring collection %s: %w", collection, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			s.processBatch(ctx, job, collection, batch)
		}
		if s.pool != nil {
			if err := s.pool.Submit(task); err != nil {
				wg.Done()
				recordErr(fmt.Errorf("indexing: submitting batch to pool: %w", err))
			}
		} else {
			task()
		}
	}
	wg.Wait()
	return firstErr
}

// processBatch embeds and writes one batch of chunks. Batch-level errors
// (embedding failure, store write failure) mark every chunk in the batch
// failed rather than aborting the whole document.
func (s *StandardIndexer) processBatch(ctx context.Context, job DocumentJob, collection string, batch []*types.Chunk) {
	for _, c := range batch {
		c.IndexingStatus = types.IndexingRunning
	}
	if err := s.chunks.UpdateChunks(ctx, batch); err != nil {
		logger.Errorf(ctx, "[Indexing] marking batch running for doc %s: %v", job.DocID, err)
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.EmbeddingInput()
	}
	vectors, err := s.embedder.BatchEmbed(ctx, texts)
	if err != nil {
		s.failBatch(ctx, batch, fmt.Errorf("embedding: %w", err))
		return
	}

	points := make([]dense.Point, len(batch))
	for i, c := range batch {
		points[i] = dense.Point{
			ID:     c.ID,
			Vector: vectors[i],
			Record: types.VectorRecord{
				ChunkID: c.ID, TenantID: job.TenantID, KBID: job.KBID, DocID: job.DocID,
				Vector: vectors[i], Metadata: c.Metadata,
				ACL: job.ACL, Sensitivity: job.Sensitivity,
			},
		}
	}
	if err := s.dense.Upsert(ctx, collection, points); err != nil {
		s.failBatch(ctx, batch, fmt.Errorf("dense upsert: %w", err))
		return
	}

	if job.SparseEnabled && s.sparse != nil && s.tokenizer != nil {
		for i, c := range batch {
			rec := types.SparseRecord{
				ChunkID: c.ID, TenantID: job.TenantID, KBID: job.KBID, DocID: job.DocID,
				Terms: s.tokenizer.Tokenize(texts[i]), ACL: job.ACL, Sensitivity: job.Sensitivity,
			}
			if err := s.sparse.Index(ctx, rec); err != nil {
				s.failOne(ctx, batch[i], fmt.Errorf("sparse index: %w", err))
				batch[i] = nil
			}
		}
	}

	indexed := make([]*types.Chunk, 0, len(batch))
	for _, c := range batch {
		if c == nil {
			continue
		}
		c.IndexingStatus = types.IndexingIndexed
		c.IndexingError = nil
		indexed = append(indexed, c)
	}
	if len(indexed) == 0 {
		return
	}
	if err := s.chunks.UpdateChunks(ctx, indexed); err != nil {
		logger.Errorf(ctx, "[Indexing] marking batch indexed for doc %s: %v", job.DocID, err)
	}
}

func (s *StandardIndexer) failBatch(ctx context.Context, batch []*types.Chunk, err error) {
	for _, c := range batch {
		s.markFailed(c, err)
	}
	if updateErr := s.chunks.UpdateChunks(ctx, batch); updateErr != nil {
		logger.Errorf(ctx, "[Indexing] persisting batch failure: %v", updateErr)
	}
	logger.Warnf(ctx, "[Indexing] batch of %d chunks failed: %v", len(batch), err)
}

func (s *StandardIndexer) failOne(ctx context.Context, c *types.Chunk, err error) {
	s.markFailed(c, err)
	if updateErr := s.chunks.UpdateChunk(ctx, c); updateErr != nil {
		logger.Errorf(ctx, "[Indexing] persisting chunk %s failure: %v", c.ID, updateErr)
	}
}

func (s *StandardIndexer) markFailed(c *types.Chunk, err error) {
	msg := apierr.Newf(apierr.IndexingFailed, "%v", err).Error()
	c.IndexingStatus = types.IndexingFailed
	c.IndexingError = &msg
	c.RetryCount++
}
