// Package elasticsearch implements sparse.Store over Elasticsearch v8,
// for deployments that already run ES as their lexical search backend
// instead of the in-process BM25 index. Grounded on
// _examples/scookiem-WeKnora's internal/container/container.go, which
// constructs `elasticsearch.NewTypedClient` (the v8 typed client) and
// registers an ES-backed retriever engine alongside the in-process one —
// the concrete `elasticsearchRepoV8` call shapes it wires to are not
// present in the retrieved slice, so the typed-API calls below follow
// the v8 client's documented Index/Search/DeleteByQuery methods.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"

	sparsecore "github.com/kbretrieval/core/internal/store/sparse"
	coretypes "github.com/kbretrieval/core/internal/types"
)

type Store struct {
	client *elasticsearch.TypedClient
	index  string
}

func New(addresses []string, apiKey, index string) (*Store, error) {
	client, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses: addresses,
		APIKey:    apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: creating client: %w", err)
	}
	return &Store{client: client, index: index}, nil
}

func (s *Store) Name() string { return "elasticsearch-v8" }

type document struct {
	ChunkID     string                     `json:"chunk_id"`
	TenantID    uint64                     `json:"tenant_id"`
	KBID        string                     `json:"kb_id"`
	DocID       string                     `json:"doc_id"`
	Content     string                     `json:"content"`
	ACL         coretypes.ACL              `json:"acl"`
	Sensitivity coretypes.SensitivityLevel `json:"sensitivity_level"`
}

func (s *Store) Index(ctx context.Context, record coretypes.SparseRecord) error {
	doc := document{
		ChunkID: record.ChunkID, TenantID: record.TenantID, KBID: record.KBID, DocID: record.DocID,
		Content: strings.Join(record.Terms, " "), ACL: record.ACL, Sensitivity: record.Sensitivity,
	}
	_, err := s.client.Index(s.index).Id(record.ChunkID).Document(doc).Do(ctx)
	if err != nil {
		return fmt.Errorf("elasticsearch: indexing %s: %w", record.ChunkID, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		if _, err := s.client.Delete(s.index, id).Do(ctx); err != nil {
			return fmt.Errorf("elasticsearch: deleting %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) Search(ctx context.Context, queryTerms []string, filter sparsecore.Filter, topK int) ([]sparsecore.Hit, error) {
	query := strings.Join(queryTerms, " ")

	filters := []types.Query{
		{Term: map[string]types.TermQuery{"tenant_id": {Value: filter.TenantID}}},
	}
	if len(filter.KBIDs) > 0 {
		kbValues := make([]types.FieldValue, len(filter.KBIDs))
		for i, kb := range filter.KBIDs {
			kbValues[i] = kb
		}
		filters = append(filters, types.Query{Terms: &types.TermsQuery{
			TermsQuery: map[string]types.TermsQueryField{"kb_id": kbValues},
		}})
	}

	req := &search.Request{
		Size: intPtr(topK),
		Query: &types.Query{
			Bool: &types.BoolQuery{
				Must:   []types.Query{{Match: map[string]types.MatchQuery{"content": {Query: query}}}},
				Filter: filters,
			},
		},
	}

	resp, err := s.client.Search().Index(s.index).Request(req).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch: search: %w", err)
	}

	hits := make([]sparsecore.Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		var doc document
		if h.Source_ == nil {
			continue
		}
		if err := json.NewDecoder(bytes.NewReader(h.Source_)).Decode(&doc); err != nil {
			continue
		}
		score := 0.0
		if h.Score_ != nil {
			score = float64(*h.Score_)
		}
		hits = append(hits, sparsecore.Hit{
			ChunkID:  doc.ChunkID,
			RawScore: score,
			Record: coretypes.SparseRecord{
				ChunkID: doc.ChunkID, TenantID: doc.TenantID, KBID: doc.KBID, DocID: doc.DocID,
				Terms: strings.Fields(doc.Content), ACL: doc.ACL, Sensitivity: doc.Sensitivity,
			},
		})
	}
	return hits, nil
}

func intPtr(v int) *int { return &v }
