package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "restock/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) HasNotified(ctx context.Context, rec Record) (bool, error) {
	if rec.Key == "" {
		return false, unavailable("has_notified", errEmptyKey)
	}
	// Insert-if-absent is atomic; the read that follows sees either our row
	// or whatever a concurrent writer committed first.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(product_id, product_name, url, is_sent, created_at)
		 VALUES(?,?,?,0,?)
		 ON CONFLICT(product_id) DO NOTHING`,
		rec.Key, rec.ProductName, rec.URL, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, unavailable("has_notified", err)
	}
	var sent bool
	if err := s.db.QueryRowContext(ctx, `SELECT is_sent FROM notifications WHERE product_id = ?`, rec.Key).Scan(&sent); err != nil {
		return false, unavailable("has_notified", err)
	}
	return sent, nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, key string) error {
	if key == "" {
		return unavailable("mark_sent", errEmptyKey)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(product_id, is_sent, created_at, sent_at)
		 VALUES(?,1,?,?)
		 ON CONFLICT(product_id) DO UPDATE SET
		   sent_at = CASE WHEN notifications.is_sent = 1 THEN notifications.sent_at ELSE excluded.sent_at END,
		   is_sent = 1`,
		key, now, now,
	)
	return unavailable("mark_sent", err)
}

func (s *sqliteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		r       Record
		created string
		sentAt  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT product_id, product_name, url, is_sent, created_at, sent_at FROM notifications WHERE product_id = ?`, key,
	).Scan(&r.Key, &r.ProductName, &r.URL, &r.IsSent, &created, &sentAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable("get", err)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if sentAt.Valid {
		r.SentAt, _ = time.Parse(time.RFC3339Nano, sentAt.String)
	}
	return r, true, nil
}
