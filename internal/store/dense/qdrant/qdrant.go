// Package qdrant implements the dense.Store contract over Qdrant.
// Grounded on other_examples/knoguchi-rag's server/internal/vectorstore/qdrant.go
// (qdrant.Client construction, CreateCollection/Upsert/Query/Delete call
// shapes), adapted to carry this core's full VectorRecord payload
// (tenant/kb/doc/chunk ids, ACL copy, sensitivity, metadata) rather than a
// flat document_id/content pair.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"

	qdrantsdk "github.com/qdrant/go-client/qdrant"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
)

type Store struct {
	client *qdrantsdk.Client
}

func New(host string, port int, apiKey string, useTLS bool) (*Store, error) {
	client, err := qdrantsdk.NewClient(&qdrantsdk.Config{
		Host: host, Port: port, APIKey: apiKey, UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: creating client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Name() string { return "qdrant" }

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrantsdk.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrantsdk.NewVectorsConfig(&qdrantsdk.VectorParams{
			Size:     uint64(dim),
			Distance: qdrantsdk.Distance_Cosine,
		}),
	})
}

func (s *Store) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	if len(points) == 0 {
		return nil
	}
	out := make([]*qdrantsdk.PointStruct, len(points))
	for i, p := range points {
		payload, err := recordPayload(p.Record)
		if err != nil {
			return fmt.Errorf("qdrant: encoding payload for %s: %w", p.ID, err)
		}
		out[i] = &qdrantsdk.PointStruct{
			Id:      qdrantsdk.NewIDUUID(p.ID),
			Vectors: qdrantsdk.NewVectors(p.Vector...),
			Payload: payload,
		}
	}
	_, err := s.client.Upsert(ctx, &qdrantsdk.UpsertPoints{CollectionName: collection, Points: out})
	return err
}

func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	resp, err := s.client.Query(ctx, &qdrantsdk.QueryPoints{
		CollectionName: collection,
		Query:          qdrantsdk.NewQuery(queryVector...),
		Limit:          qdrantsdk.PtrOf(uint64(topK)),
		WithPayload:    qdrantsdk.NewWithPayload(true),
		Filter:         buildFilter(filter),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}
	hits := make([]dense.Hit, 0, len(resp))
	for _, pt := range resp {
		rec, err := payloadToRecord(pt.Payload)
		if err != nil {
			continue
		}
		hits = append(hits, dense.Hit{ID: rec.ChunkID, Score: float64(pt.Score), Record: rec})
	}
	return hits, nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	_, err := s.client.Delete(ctx, &qdrantsdk.DeletePoints{
		CollectionName: collection,
		Points: &qdrantsdk.PointsSelector{
			PointsSelectorOneOf: &qdrantsdk.PointsSelector_Filter{Filter: buildFilter(filter)},
		},
	})
	return err
}

func buildFilter(f dense.Filter) *qdrantsdk.Filter {
	must := []*qdrantsdk.Condition{
		qdrantsdk.NewMatch("tenant_id_str", fmt.Sprintf("%d", f.TenantID)),
	}
	if len(f.KBIDs) == 1 {
		must = append(must, qdrantsdk.NewMatch("kb_id", f.KBIDs[0]))
	} else if len(f.KBIDs) > 1 {
		should := make([]*qdrantsdk.Condition, len(f.KBIDs))
		for i, kb := range f.KBIDs {
			should[i] = qdrantsdk.NewMatch("kb_id", kb)
		}
		must = append(must, &qdrantsdk.Condition{
			ConditionOneOf: &qdrantsdk.Condition_Filter{Filter: &qdrantsdk.Filter{Should: should}},
		})
	}
	if len(f.DocIDs) == 1 {
		must = append(must, qdrantsdk.NewMatch("doc_id", f.DocIDs[0]))
	} else if len(f.DocIDs) > 1 {
		should := make([]*qdrantsdk.Condition, len(f.DocIDs))
		for i, d := range f.DocIDs {
			should[i] = qdrantsdk.NewMatch("doc_id", d)
		}
		must = append(must, &qdrantsdk.Condition{
			ConditionOneOf: &qdrantsdk.Condition_Filter{Filter: &qdrantsdk.Filter{Should: should}},
		})
	}
	return &qdrantsdk.Filter{Must: must}
}

// recordPayload serializes the full VectorRecord as a single JSON blob
// plus promoted tenant_id/kb_id/doc_id fields for Qdrant's native filter
// conditions — payload filtering needs the scalar fields as their own
// indexed keys, while everything else round-trips through the blob.
func recordPayload(rec types.VectorRecord) (map[string]*qdrantsdk.Value, error) {
	blob, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return map[string]*qdrantsdk.Value{
		"tenant_id_str": qdrantsdk.NewValueString(fmt.Sprintf("%d", rec.TenantID)),
		"kb_id":         qdrantsdk.NewValueString(rec.KBID),
		"doc_id":        qdrantsdk.NewValueString(rec.DocID),
		"record":        qdrantsdk.NewValueString(string(blob)),
	}, nil
}

func payloadToRecord(payload map[string]*qdrantsdk.Value) (types.VectorRecord, error) {
	var rec types.VectorRecord
	v, ok := payload["record"]
	if !ok {
		return rec, fmt.Errorf("qdrant: payload missing record blob")
	}
	err := json.Unmarshal([]byte(v.GetStringValue()), &rec)
	return rec, err
}
