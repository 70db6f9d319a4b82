// Package sqlitevec implements the dense.Store contract over SQLite +
// the sqlite-vec extension, for single-binary / embedded deployments
// that don't want a separate vector database process. Grounded on
// other_examples/4632601a_bbiangul-go-reason's store-schema.go (the
// `CREATE VIRTUAL TABLE ... USING vec0(... embedding float[%d])` DDL
// pattern); the Go binding calls (sqlite_vec.Auto registration,
// sqlite_vec.SerializeFloat32) follow asg017/sqlite-vec-go-bindings'
// documented usage.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sqlitevecbind "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/types"
)

func init() {
	sqlitevecbind.Auto()
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Name() string { return "sqlite-vec" }

func vecTable(collection string) string { return "vec_" + sanitize(collection) }
func metaTable(collection string) string { return "vecmeta_" + sanitize(collection) }

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

func (s *Store) EnsureCollection(ctx context.Context, collection string, dim int) error {
	vt, mt := vecTable(collection), metaTable(collection)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(rowid INTEGER PRIMARY KEY, embedding float[%d])`, vt, dim))
	if err != nil {
		return fmt.Errorf("sqlitevec: creating vec table %s: %w", vt, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			rowid INTEGER PRIMARY KEY,
			point_id TEXT NOT NULL UNIQUE,
			tenant_id INTEGER NOT NULL,
			kb_id TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			record TEXT NOT NULL
		)`, mt))
	if err != nil {
		return fmt.Errorf("sqlitevec: creating meta table %s: %w", mt, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(tenant_id, kb_id, doc_id)`, mt, mt))
	return err
}

func (s *Store) Upsert(ctx context.Context, collection string, points []dense.Point) error {
	if len(points) == 0 {
		return nil
	}
	vt, mt := vecTable(collection), metaTable(collection)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range points {
		blob, err := json.Marshal(p.Record)
		if err != nil {
			return err
		}
		var rowid int64
		row := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT rowid FROM %s WHERE point_id = ?`, mt), p.ID)
		switch scanErr := row.Scan(&rowid); scanErr {
		case nil:
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vt), rowid); err != nil {
				return fmt.Errorf("sqlitevec: clearing stale vector: %w", err)
			}
		case sql.ErrNoRows:
			res, err := tx.ExecContext(ctx, fmt.Sprintf(
				`INSERT INTO %s (point_id, tenant_id, kb_id, doc_id, record) VALUES (?, ?, ?, ?, ?)`, mt),
				p.ID, p.Record.TenantID, p.Record.KBID, p.Record.DocID, string(blob))
			if err != nil {
				return fmt.Errorf("sqlitevec: inserting meta row: %w", err)
			}
			rowid, err = res.LastInsertId()
			if err != nil {
				return err
			}
		default:
			return scanErr
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET tenant_id = ?, kb_id = ?, doc_id = ?, record = ? WHERE rowid = ?`, mt),
			p.Record.TenantID, p.Record.KBID, p.Record.DocID, string(blob), rowid); err != nil {
			return fmt.Errorf("sqlitevec: refreshing meta row: %w", err)
		}

		serialized, err := sqlitevecbind.SerializeFloat32(p.Vector)
		if err != nil {
			return fmt.Errorf("sqlitevec: serializing vector: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(rowid, embedding) VALUES (?, ?)`, vt), rowid, serialized); err != nil {
			return fmt.Errorf("sqlitevec: inserting vector: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter dense.Filter) ([]dense.Hit, error) {
	vt, mt := vecTable(collection), metaTable(collection)
	serialized, err := sqlitevecbind.SerializeFloat32(queryVector)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: serializing query vector: %w", err)
	}

	where := []string{"m.tenant_id = ?"}
	args := []any{filter.TenantID}
	if len(filter.KBIDs) > 0 {
		where = append(where, fmt.Sprintf("m.kb_id IN (%s)", placeholders(len(filter.KBIDs))))
		for _, kb := range filter.KBIDs {
			args = append(args, kb)
		}
	}
	if len(filter.DocIDs) > 0 {
		where = append(where, fmt.Sprintf("m.doc_id IN (%s)", placeholders(len(filter.DocIDs))))
		for _, d := range filter.DocIDs {
			args = append(args, d)
		}
	}

	query := fmt.Sprintf(`
		SELECT m.record, v.distance
		FROM %s v
		JOIN %s m ON m.rowid = v.rowid
		WHERE v.embedding MATCH ? AND k = ? AND %s
		ORDER BY v.distance ASC`,
		vt, mt, strings.Join(where, " AND "))

	fullArgs := append([]any{serialized, topK}, args...)
	rows, err := s.db.QueryContext(ctx, query, fullArgs...)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: search: %w", err)
	}
	defer rows.Close()

	var hits []dense.Hit
	for rows.Next() {
		var blob string
		var distance float64
		if err := rows.Scan(&blob, &distance); err != nil {
			return nil, err
		}
		var rec types.VectorRecord
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			continue
		}
		hits = append(hits, dense.Hit{ID: rec.ChunkID, Score: 1 / (1 + distance), Record: rec})
	}
	return hits, rows.Err()
}

func (s *Store) DeleteByFilter(ctx context.Context, collection string, filter dense.Filter) error {
	vt, mt := vecTable(collection), metaTable(collection)
	where := []string{"tenant_id = ?"}
	args := []any{filter.TenantID}
	if len(filter.KBIDs) > 0 {
		where = append(where, fmt.Sprintf("kb_id IN (%s)", placeholders(len(filter.KBIDs))))
		for _, kb := range filter.KBIDs {
			args = append(args, kb)
		}
	}
	if len(filter.DocIDs) > 0 {
		where = append(where, fmt.Sprintf("doc_id IN (%s)", placeholders(len(filter.DocIDs))))
		for _, d := range filter.DocIDs {
			args = append(args, d)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	selectQuery := fmt.Sprintf(`SELECT rowid FROM %s WHERE %s`, mt, strings.Join(where, " AND "))
	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return err
	}
	var rowids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		rowids = append(rowids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range rowids {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vt), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, mt), id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
