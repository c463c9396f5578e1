package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "restock/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS notifications (
	product_id   TEXT PRIMARY KEY,
	product_name TEXT NOT NULL DEFAULT '',
	url          TEXT NOT NULL DEFAULT '',
	is_sent      BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at      TIMESTAMPTZ
)`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	pcfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, unavailable("migrate", err)
	}
	log.Debug("postgres store opened", logx.Int("max_conns", maxConns))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) HasNotified(ctx context.Context, rec Record) (bool, error) {
	if rec.Key == "" {
		return false, unavailable("has_notified", errEmptyKey)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO notifications(product_id, product_name, url, is_sent)
		 VALUES($1,$2,$3,false)
		 ON CONFLICT (product_id) DO NOTHING`,
		rec.Key, rec.ProductName, rec.URL,
	); err != nil {
		return false, unavailable("has_notified", err)
	}
	var sent bool
	if err := s.pool.QueryRow(ctx, `SELECT is_sent FROM notifications WHERE product_id = $1`, rec.Key).Scan(&sent); err != nil {
		return false, unavailable("has_notified", err)
	}
	return sent, nil
}

func (s *postgresStore) MarkSent(ctx context.Context, key string) error {
	if key == "" {
		return unavailable("mark_sent", errEmptyKey)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications(product_id, is_sent, sent_at)
		 VALUES($1,true,now())
		 ON CONFLICT (product_id) DO UPDATE SET
		   sent_at = CASE WHEN notifications.is_sent THEN notifications.sent_at ELSE excluded.sent_at END,
		   is_sent = true`,
		key,
	)
	return unavailable("mark_sent", err)
}

func (s *postgresStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		r      Record
		sentAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT product_id, product_name, url, is_sent, created_at, sent_at FROM notifications WHERE product_id = $1`, key,
	).Scan(&r.Key, &r.ProductName, &r.URL, &r.IsSent, &r.CreatedAt, &sentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable("get", err)
	}
	if sentAt != nil {
		r.SentAt = *sentAt
	}
	return r, true, nil
}
