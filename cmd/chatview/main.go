package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"

	"github.com/you/chatscoop/internal/core"
	"github.com/you/chatscoop/internal/store"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	var (
		storeDir string
		limit    int
		asJSON   bool
		follow   bool
		kinds    string
		author   string
	)

	flag.StringVar(&storeDir, "store-dir", "", "Directory holding comments.db")
	flag.IntVar(&limit, "limit", store.DefaultLimit, "Number of records to show")
	flag.BoolVar(&asJSON, "json", false, "Emit records as JSON lines")
	flag.BoolVar(&follow, "follow", false, "Keep printing records as they arrive")
	flag.StringVar(&kinds, "kind", "", "Comma-separated kinds to include (text, superchat, ...)")
	flag.StringVar(&author, "author", "", "Case-insensitive author substring filter")
	flag.Parse()

	if storeDir == "" {
		storeDir = strings.TrimSpace(os.Getenv("SCOOP_STORE_DIR"))
		if storeDir == "" {
			storeDir = "."
		}
	}

	db, err := store.Open(storeDir)
	if err != nil {
		log.Fatalf("chatview: open store: %v", err)
	}
	defer db.Close()

	filters := store.Filters{Limit: limit}
	for _, kind := range strings.Split(kinds, ",") {
		if kind = strings.TrimSpace(kind); kind != "" {
			filters.Kinds = append(filters.Kinds, kind)
		}
	}
	if author = strings.TrimSpace(author); author != "" {
		filters.Authors = []string{author}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows, err := db.List(ctx, filters)
	if err != nil {
		log.Fatalf("chatview: list: %v", err)
	}
	// The query returns newest first; show the window in reading order.
	reverse(rows)
	seen := make(map[string]struct{}, len(rows))
	var lastMs int64
	for _, rec := range rows {
		printRecord(rec, asJSON)
		seen[rec.ID] = struct{}{}
		if rec.TimestampMs > lastMs {
			lastMs = rec.TimestampMs
		}
	}

	if !follow {
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := followStore(ctx, db, storeDir, filters, seen, lastMs, asJSON); err != nil {
		log.Fatalf("chatview: %v", err)
	}
}

// followStore watches the database file and prints records that appear after
// the initial listing. Events are debounced because a single insert touches
// both the database and its WAL.
func followStore(ctx context.Context, db *store.Store, dir string, filters store.Filters, seen map[string]struct{}, lastMs int64, asJSON bool) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: the -wal and -shm companions appear and vanish.
	if err := w.Add(dir); err != nil {
		return err
	}

	dbName := store.DBFileName
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			base := filepath.Base(ev.Name)
			if base != dbName && base != dbName+"-wal" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(250 * time.Millisecond)
		case <-debounce.C:
			var err error
			lastMs, err = printNew(ctx, db, filters, seen, lastMs, asJSON)
			if err != nil {
				log.Printf("chatview: refresh: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Printf("chatview: watch error: %v", err)
		}
	}
}

func printNew(ctx context.Context, db *store.Store, filters store.Filters, seen map[string]struct{}, lastMs int64, asJSON bool) (int64, error) {
	query := filters
	query.Order = store.OrderAsc
	query.Limit = store.MaxLimit
	if lastMs > 0 {
		// Re-read the boundary millisecond too; ties are resolved via seen ids.
		since := time.UnixMilli(lastMs).UTC()
		query.Since = &since
	}

	rows, err := db.List(ctx, query)
	if err != nil {
		return lastMs, err
	}
	for _, rec := range rows {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		printRecord(rec, asJSON)
		seen[rec.ID] = struct{}{}
		if rec.TimestampMs > lastMs {
			lastMs = rec.TimestampMs
		}
	}
	return lastMs, nil
}

func printRecord(rec core.ChatRecord, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(rec)
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}
	line := fmt.Sprintf("%s %s: %s (%s)", rec.Timestamp, rec.Author, rec.Text, rec.Kind)
	if rec.AmountText != "" {
		line += " " + rec.AmountText
	}
	fmt.Println(line)
}

func reverse(rows []core.ChatRecord) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
