package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// migrate brings databases created by older versions up to the current column
// set. Early stores predate colors_json and raw_json.
func migrate(ctx context.Context, db *sql.DB) error {
	columns, err := tableColumns(ctx, db, "comments")
	if err != nil {
		return fmt.Errorf("describe comments: %w", err)
	}
	if len(columns) == 0 {
		return nil
	}

	ensure := []struct {
		name string
		stmt string
	}{
		{"colors_json", `ALTER TABLE comments ADD COLUMN colors_json TEXT NOT NULL DEFAULT 'null';`},
		{"raw_json", `ALTER TABLE comments ADD COLUMN raw_json TEXT NOT NULL DEFAULT '';`},
	}
	for _, col := range ensure {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, col.stmt); err != nil {
			return fmt.Errorf("ensure %s column: %w", col.name, err)
		}
		log.Printf("store: added %s column to comments", col.name)
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]struct{})
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns[name] = struct{}{}
	}
	return columns, rows.Err()
}
