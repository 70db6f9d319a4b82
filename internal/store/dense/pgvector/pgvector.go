// Package pgvector implements the dense.Store contract over Postgres +
// pgvector, reusing the core's gorm relational connection. Grounded on
// other_examples/xiaotianhu999-IAGraphRAG's
// internal/application/repository/retriever/postgres/repository.go
// (pgvector.NewHalfVector query construction, raw SQL WHERE-clause
// building for tenant/KB filters, cosine `<=>` distance ordering).
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	pgvectorsdk "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
)

// Row is the gorm model backing one collection's table. Each distinct
// `collection` name used by EnsureCollection gets its own table created
// with a pgvector column sized to that collection's dimension — pgvector
// columns are fixed-width, so collections (which already partition by
// dimension, see dense.CollectionName) map naturally to tables.
type Row struct {
	ID       string             `gorm:"primaryKey;column:id"`
	TenantID uint64             `gorm:"column:tenant_id;index"`
	KBID     string             `gorm:"column:kb_id;index"`
	DocID    string             `gorm:"column:doc_id;index"`
	ChunkID  string             `gorm:"column:chunk_id"`
	Vector   pgvectorsdk.Vector `gorm:"column:embedding"`
	Record   string             `gorm:"column:record"` // JSON-serialized types.VectorRecord
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Name() string { return "pgvector" }

func (s *Store) tableFor(collection string) string { return "pgv_" + sanitizeTable(collection) }

func sanitizeTable(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

func (s *Store) EnsureCollection(ctx context.Context, collection string, dim int) error {
	table := s.tableFor(collection)
	if s.db.Migrator().HasTable(table) {
		return nil
	}
	if err := s.db.WithContext(ctx).Table(table).AutoMigrate(&Row{}); err != nil {
		return fmt.Errorf("pgvector: creating table %s: %w", table, err)
	}
	sql := fmt.Sprintf("ALTER TABLE %s ALTER COLUMN embedding TYPE vector(%d)", table, dim)
	return s.db.WithContext(ctx).Exec(sql).Error
}

func (s *Store) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	if len(points) == 0 {
		return nil
	}
	table := s.tableFor(collection)
	rows := make([]Row, 0, len(points))
	for _, p := range points {
		blob, err := json.Marshal(p.Record)
		if err != nil {
			return err
		}
		rows = append(rows, Row{
			ID: p.ID, TenantID: p.Record.TenantID, KBID: p.Record.KBID, DocID: p.Record.DocID,
			ChunkID: p.Record.ChunkID, Vector: pgvectorsdk.NewVector(p.Vector), Record: string(blob),
		})
	}
	return s.db.WithContext(ctx).Table(table).Save(&rows).Error
}

func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	table := s.tableFor(collection)
	query := s.db.WithContext(ctx).Table(table).Where("tenant_id = ?", filter.TenantID)
	if len(filter.KBIDs) > 0 {
		query = query.Where("kb_id IN ?", filter.KBIDs)
	}
	if len(filter.DocIDs) > 0 {
		query = query.Where("doc_id IN ?", filter.DocIDs)
	}
	qv := pgvectorsdk.NewVector(queryVector)
	var rows []struct {
		Row
		Distance float64 `gorm:"column:distance"`
	}
	err := query.
		Select("*, embedding <=> ? AS distance", qv).
		Order("distance ASC").
		Limit(topK).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	hits := make([]dense.Hit, 0, len(rows))
	for _, r := range rows {
		var rec types.VectorRecord
		if err := json.Unmarshal([]byte(r.Record), &rec); err != nil {
			continue
		}
		// cosine distance -> cosine similarity, matching the [0,1] contract
		// every primitive retriever's score must satisfy (spec §4.5).
		hits = append(hits, dense.Hit{ID: rec.ChunkID, Score: 1 - r.Distance, Record: rec})
	}
	return hits, nil
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	table := s.tableFor(collection)
	query := s.db.WithContext(ctx).Table(table).Where("tenant_id = ?", filter.TenantID)
	if len(filter.KBIDs) > 0 {
		query = query.Where("kb_id IN ?", filter.KBIDs)
	}
	if len(filter.DocIDs) > 0 {
		query = query.Where("doc_id IN ?", filter.DocIDs)
	}
	return query.Delete(&Row{}).Error
}
