// Package milvus implements the dense.Store contract over Milvus, using
// the official milvus-io/milvus/client/v2 SDK. Ungrounded in the example
// pack (no repo in _examples exercises the v2 client's call shapes beyond
// naming Milvus as a backend option — see DESIGN.md); written from the
// SDK's documented collection/index/search API, generalized from the
// same dense.Store contract the qdrant and pgvector drivers satisfy.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
)

const (
	fieldID       = "id"
	fieldVector   = "vector"
	fieldTenantID = "tenant_id"
	fieldKBID     = "kb_id"
	fieldDocID    = "doc_id"
	fieldRecord   = "record"
)

type Store struct {
	client *milvusclient.Client
}

func New(ctx context.Context, address string) (*Store, error) {
	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{Address: address})
	if err != nil {
		return nil, fmt.Errorf("milvus: connecting to %s: %w", address, err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Name() string { return "milvus" }

func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("milvus: checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	schema := entity.NewSchema().WithName(name).WithDynamicFieldEnabled(true).
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dim))).
		WithField(entity.NewField().WithName(fieldTenantID).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(fieldKBID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
		WithField(entity.NewField().WithName(fieldDocID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128)).
		WithField(entity.NewField().WithName(fieldRecord).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535))

	if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("milvus: creating collection %s: %w", name, err)
	}

	idx := index.NewHNSWIndex(entity.COSINE, 16, 200)
	_, err = s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldVector, idx))
	if err != nil {
		return fmt.Errorf("milvus: creating index on %s: %w", name, err)
	}
	_, err = s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	return err
}

func (s *Store) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	if len(points) == 0 {
		return nil
	}
	ids := make([]string, len(points))
	vectors := make([][]float32, len(points))
	tenantIDs := make([]int64, len(points))
	kbIDs := make([]string, len(points))
	docIDs := make([]string, len(points))
	records := make([]string, len(points))
	for i, p := range points {
		blob, err := json.Marshal(p.Record)
		if err != nil {
			return err
		}
		ids[i] = p.ID
		vectors[i] = p.Vector
		tenantIDs[i] = int64(p.Record.TenantID)
		kbIDs[i] = p.Record.KBID
		docIDs[i] = p.Record.DocID
		records[i] = string(blob)
	}
	_, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(collection).
		WithVarcharColumn(fieldID, ids).
		WithFloatVectorColumn(fieldVector, int(len(vectors[0])), vectors).
		WithInt64Column(fieldTenantID, tenantIDs).
		WithVarcharColumn(fieldKBID, kbIDs).
		WithVarcharColumn(fieldDocID, docIDs).
		WithVarcharColumn(fieldRecord, records))
	return err
}

func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	expr := filterExpr(filter)
	resp, err := s.client.Search(ctx, milvusclient.NewSearchOption(collection, topK, []entity.Vector{entity.FloatVector(queryVector)}).
		WithANNSField(fieldVector).
		WithFilter(expr).
		WithOutputFields(fieldRecord))
	if err != nil {
		return nil, fmt.Errorf("milvus: search: %w", err)
	}
	var hits []dense.Hit
	for _, res := range resp {
		col := res.Fields.GetColumn(fieldRecord)
		if col == nil {
			continue
		}
		recCol, ok := col.(*column.ColumnVarChar)
		if !ok {
			continue
		}
		for i, blob := range recCol.Data() {
			var rec types.VectorRecord
			if err := json.Unmarshal([]byte(blob), &rec); err != nil {
				continue
			}
			score := float64(res.Scores[i])
			hits = append(hits, dense.Hit{ID: rec.ChunkID, Score: score, Record: rec})
		}
	}
	return hits, nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	expr := filterExpr(filter)
	_, err := s.client.Delete(ctx, milvusclient.NewDeleteOption(collection).WithExpr(expr))
	return err
}

func filterExpr(f dense.Filter) string {
	expr := fmt.Sprintf("%s == %d", fieldTenantID, f.TenantID)
	if len(f.KBIDs) > 0 {
		expr += fmt.Sprintf(" && %s in %s", fieldKBID, quoteList(f.KBIDs))
	}
	if len(f.DocIDs) > 0 {
		expr += fmt.Sprintf(" && %s in %s", fieldDocID, quoteList(f.DocIDs))
	}
	return expr
}

func quoteList(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}
