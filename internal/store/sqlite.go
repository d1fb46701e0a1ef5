package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/chatscoop/internal/core"
)

// DBFileName is the database file created under the store directory.
const DBFileName = "comments.db"

const schema = `CREATE TABLE IF NOT EXISTS comments (
  id TEXT PRIMARY KEY,
  video_id TEXT NOT NULL DEFAULT '',
  timestamp_ms INTEGER NOT NULL,
  timestamp TEXT NOT NULL,
  author TEXT NOT NULL,
  icon TEXT NOT NULL DEFAULT '',
  text TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount_micros INTEGER,
  amount_text TEXT NOT NULL DEFAULT '',
  parts_json TEXT NOT NULL DEFAULT '[]',
  colors_json TEXT NOT NULL DEFAULT 'null',
  raw_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_comments_timestamp_ms ON comments(timestamp_ms DESC);`

// Store is the deduplicating chat record store. One writer (the engine) and
// any number of readers (the viewer, the HTTP API) may use it concurrently;
// WAL mode provides the single-writer/multi-reader discipline.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens comments.db under dir (default: current directory).
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir")
	}

	path := filepath.Join(dir, DBFileName)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	ApplyPragmas(context.Background(), db)
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping() error { return s.db.Ping() }

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) String() string { return fmt.Sprintf("Store{%s}", s.path) }

// Insert persists one record. A duplicate id is absorbed silently and
// reported as inserted=false; it is the expected steady-state outcome of
// re-fetched overlapping batches, not an error.
func (s *Store) Insert(ctx context.Context, rec core.ChatRecord) (bool, error) {
	const q = `INSERT INTO comments
  (id, video_id, timestamp_ms, timestamp, author, icon, text, kind, amount_micros, amount_text, parts_json, colors_json, raw_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`

	parts, err := json.Marshal(partsOrEmpty(rec.Parts))
	if err != nil {
		return false, errors.Wrap(err, "encode parts")
	}
	colors, err := json.Marshal(rec.Colors)
	if err != nil {
		return false, errors.Wrap(err, "encode colors")
	}

	var amount any
	if rec.AmountMicros != nil {
		amount = *rec.AmountMicros
	}

	res, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.VideoID, rec.TimestampMs, rec.Timestamp, rec.Author, rec.AuthorPhoto,
		rec.Text, string(rec.Kind), amount, rec.AmountText,
		string(parts), string(colors), string(rec.Raw))
	if err != nil {
		return false, errors.Wrap(err, "insert record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// Count returns the number of records matching the filters.
func (s *Store) Count(ctx context.Context, filters Filters) (int64, error) {
	query, args := buildQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count records")
	}
	return n, nil
}

// List returns matching records ordered by timestamp_ms, newest first by
// default.
func (s *Store) List(ctx context.Context, filters Filters) ([]core.ChatRecord, error) {
	query, args := buildQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list records")
	}
	defer rows.Close()

	var out []core.ChatRecord
	for rows.Next() {
		var (
			rec    core.ChatRecord
			kind   string
			amount sql.NullInt64
			parts  string
			colors string
			raw    string
		)
		if err := rows.Scan(&rec.ID, &rec.VideoID, &rec.TimestampMs, &rec.Timestamp,
			&rec.Author, &rec.AuthorPhoto, &rec.Text, &kind, &amount, &rec.AmountText,
			&parts, &colors, &raw); err != nil {
			return nil, errors.Wrap(err, "scan record")
		}
		rec.Kind = core.Kind(kind)
		if amount.Valid {
			v := amount.Int64
			rec.AmountMicros = &v
		}
		if parts != "" {
			_ = json.Unmarshal([]byte(parts), &rec.Parts)
		}
		if colors != "" && colors != "null" {
			_ = json.Unmarshal([]byte(colors), &rec.Colors)
		}
		if raw != "" {
			rec.Raw = json.RawMessage(raw)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate records")
	}
	return out, nil
}

func buildQuery(filters Filters, count bool) (string, []any) {
	var b strings.Builder
	if count {
		b.WriteString("SELECT COUNT(*) FROM comments")
	} else {
		b.WriteString("SELECT id, video_id, timestamp_ms, timestamp, author, icon, text, kind, amount_micros, amount_text, parts_json, colors_json, raw_json FROM comments")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Kinds) > 0 {
		placeholders := make([]string, 0, len(filters.Kinds))
		for _, k := range filters.Kinds {
			placeholders = append(placeholders, "?")
			args = append(args, k)
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Authors) > 0 {
		ors := make([]string, 0, len(filters.Authors))
		for _, a := range filters.Authors {
			ors = append(ors, "LOWER(author) LIKE '%' || ? || '%'")
			args = append(args, strings.ToLower(a))
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "timestamp_ms >= ?")
		args = append(args, filters.Since.UTC().UnixMilli())
	}

	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == OrderAsc {
			order = "ASC"
		}
		b.WriteString(" ORDER BY timestamp_ms ")
		b.WriteString(order)
		b.WriteString(", rowid ")
		b.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	b.WriteString(";")
	return b.String(), args
}

func partsOrEmpty(parts []core.Part) []core.Part {
	if parts == nil {
		return []core.Part{}
	}
	return parts
}
