package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "restock/pkg/logx"
)

// fileStore is a dependency-free persistence backend for a single process.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	records      map[string]Record

	writes       int
	compactEvery int
}

type journalEntry struct {
	Op     string `json:"op"` // "create" | "sent"
	Record Record `json:"record"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	records := map[string]Record{}
	if err := loadSnapshot(snapPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", prefix), logx.Int("records", len(records)))

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		records:      records,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) HasNotified(ctx context.Context, rec Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable("has_notified", err)
	}
	if rec.Key == "" {
		return false, unavailable("has_notified", errEmptyKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.records[rec.Key]; ok {
		return cur.IsSent, nil
	}
	rec.IsSent = false
	rec.CreatedAt = time.Now().UTC()
	rec.SentAt = time.Time{}
	if err := s.appendLocked(journalEntry{Op: "create", Record: rec}); err != nil {
		return false, unavailable("has_notified", err)
	}
	s.records[rec.Key] = rec
	return false, nil
}

func (s *fileStore) MarkSent(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("mark_sent", err)
	}
	if key == "" {
		return unavailable("mark_sent", errEmptyKey)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	if ok && cur.IsSent {
		return nil
	}
	now := time.Now().UTC()
	if !ok {
		cur = Record{Key: key, CreatedAt: now}
	}
	cur.IsSent = true
	cur.SentAt = now
	if err := s.appendLocked(journalEntry{Op: "sent", Record: cur}); err != nil {
		return unavailable("mark_sent", err)
	}
	s.records[key] = cur
	return nil
}

func (s *fileStore) Get(ctx context.Context, key string) (Record, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(e journalEntry) error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(e); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact; the journal stays authoritative on failure.
		if err := s.compactLocked(e.Record); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes a snapshot including pending (not yet in the map).
func (s *fileStore) compactLocked(pending Record) error {
	snap := make(map[string]Record, len(s.records)+1)
	for k, v := range s.records {
		snap[k] = v
	}
	snap[pending.Key] = pending

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	// The snapshot must be on disk before the journal is truncated.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := syncDir(filepath.Dir(s.snapshotPath)); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func loadSnapshot(path string, out map[string]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Record
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]Record) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e journalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			// A torn final line from a crash is skipped.
			continue
		}
		if e.Record.Key == "" {
			continue
		}
		cur, ok := out[e.Record.Key]
		switch e.Op {
		case "create":
			if !ok {
				out[e.Record.Key] = e.Record
			}
		case "sent":
			if !ok || !cur.IsSent {
				out[e.Record.Key] = e.Record
			}
		}
	}
	return sc.Err()
}
