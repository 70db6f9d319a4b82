// Memory implements Store as an in-process Okapi BM25 inverted index.
// Grounded on other_examples/Aman-CERP-amanmcp's internal/store/bm25.go
// (sync.RWMutex-guarded index struct, Index/Search/Delete/Stats/Close
// shape operating on a tenant-agnostic document store) — generalized
// here to score candidates with the classic BM25 formula directly
// (rather than delegating to a full-text engine like Bleve) so the raw
// score is ours to normalize per spec §4.5, and to carry this core's
// tenant/KB scoping through every operation.
package sparse

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/kbretrieval/core/internal/types"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type docEntry struct {
	record   types.SparseRecord
	termFreq map[string]int
	length   int
}

// Memory is a single-writer/multi-reader BM25 index scoped to one
// deployment (tenant isolation is enforced at query time via Filter, not
// by partitioning the index — spec §4.4 allows "shared" sparse indexes).
type Memory struct {
	mu        sync.RWMutex
	docs      map[string]*docEntry // chunk_id -> entry
	postings  map[string]map[string]struct{} // term -> set of chunk_ids
	totalLen  int
}

func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string]*docEntry),
		postings: make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Name() string { return "bm25-memory" }

func (m *Memory) Index(ctx context.Context, record types.SparseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.docs[record.ChunkID]; ok {
		m.totalLen -= existing.length
		m.removePostingsLocked(record.ChunkID, existing.termFreq)
	}

	tf := make(map[string]int, len(record.Terms))
	for _, term := range record.Terms {
		tf[term]++
	}
	entry := &docEntry{record: record, termFreq: tf, length: len(record.Terms)}
	m.docs[record.ChunkID] = entry
	m.totalLen += entry.length

	for term := range tf {
		set, ok := m.postings[term]
		if !ok {
			set = make(map[string]struct{})
			m.postings[term] = set
		}
		set[record.ChunkID] = struct{}{}
	}
	return nil
}

func (m *Memory) removePostingsLocked(chunkID string, tf map[string]int) {
	for term := range tf {
		if set, ok := m.postings[term]; ok {
			delete(set, chunkID)
			if len(set) == 0 {
				delete(m.postings, term)
			}
		}
	}
}

func (m *Memory) Delete(ctx context.Context, chunkIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range chunkIDs {
		entry, ok := m.docs[id]
		if !ok {
			continue
		}
		m.totalLen -= entry.length
		m.removePostingsLocked(id, entry.termFreq)
		delete(m.docs, id)
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, queryTerms []string, filter Filter, topK int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.docs) == 0 || len(queryTerms) == 0 {
		return nil, nil
	}
	avgLen := float64(m.totalLen) / float64(len(m.docs))

	candidates := make(map[string]struct{})
	for _, term := range queryTerms {
		for id := range m.postings[term] {
			candidates[id] = struct{}{}
		}
	}

	scores := make([]Hit, 0, len(candidates))
	for id := range candidates {
		entry := m.docs[id]
		if !m.passesFilter(entry.record, filter) {
			continue
		}
		score := m.bm25Score(queryTerms, entry, avgLen)
		if score <= 0 {
			continue
		}
		scores = append(scores, Hit{ChunkID: id, RawScore: score, Record: entry.record})
	}

	sortHitsByScoreDesc(scores)
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}
	return scores, nil
}

func (m *Memory) passesFilter(rec types.SparseRecord, filter Filter) bool {
	if rec.TenantID != filter.TenantID {
		return false
	}
	if len(filter.KBIDs) == 0 {
		return true
	}
	for _, kb := range filter.KBIDs {
		if kb == rec.KBID {
			return true
		}
	}
	return false
}

// bm25Score computes the classic Okapi BM25 score for one document
// against the query terms (idf computed over the live corpus each call —
// acceptable at this index's expected single-KB scale; a larger corpus
// would cache idf and invalidate it on writes).
func (m *Memory) bm25Score(queryTerms []string, entry *docEntry, avgLen float64) float64 {
	n := float64(len(m.docs))
	var score float64
	seen := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		df := float64(len(m.postings[term]))
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		tf := float64(entry.termFreq[term])
		if tf == 0 {
			continue
		}
		denom := tf + bm25K1*(1-bm25B+bm25B*float64(entry.length)/avgLen)
		score += idf * (tf * (bm25K1 + 1) / denom)
	}
	return score
}

func sortHitsByScoreDesc(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return hits[i].RawScore > hits[j].RawScore })
}
