package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps every backend failure.
var ErrUnavailable = errors.New("dedup store unavailable")

// Store is the dedup persistence API used by the checker.
type Store interface {
	// HasNotified returns the current IsSent for rec.Key, creating the record
	// with IsSent=false when it does not exist yet. Atomic per key.
	HasNotified(ctx context.Context, rec Record) (bool, error)
	// MarkSent sets IsSent=true. Setting it twice is a no-op.
	MarkSent(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (Record, bool, error)
	Close() error
}

// Record is one row of the notifications table.
// ProductName and URL are diagnostic only.
type Record struct {
	Key         string    `json:"product_id"`
	ProductName string    `json:"product_name"`
	URL         string    `json:"url"`
	IsSent      bool      `json:"is_sent"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      time.Time `json:"sent_at,omitzero"`
}

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "postgres".
// Path is used by file/sqlite, DSN by postgres.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
	MaxConns    int           // postgres only; 0 means 4
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

var errEmptyKey = errors.New("empty key")
