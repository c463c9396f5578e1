package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "restock/pkg/logx"
)

const reloadDebounce = 250 * time.Millisecond

// Manager owns the current Config. Runs read it with Get; Watch swaps it
// when the file changes and the new content validates.
type Manager struct {
	path   string
	lookup LookupFunc
	log    logx.Logger

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	// subsMu also guards against sending on a channel being closed.
	subsMu sync.Mutex
	subs   []chan *Config
}

// NewManager returns a manager for path. An empty path means defaults plus
// the environment.
func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: strings.TrimSpace(path), lookup: os.LookupEnv, log: log.With(logx.String("comp", "config"))}
}

// SetLookup replaces the environment source.
func (m *Manager) SetLookup(fn LookupFunc) {
	if fn != nil {
		m.lookup = fn
	}
}

func (m *Manager) Path() string { return m.path }

// Parse reads the file over Default() and applies the environment. It does
// not validate.
func (m *Manager) Parse() (*Config, error) {
	cfg := Default()
	if m.path != "" {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		jb, err := toJSON(m.path, b)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", m.path, err)
		}
		if len(bytes.TrimSpace(jb)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(jb))
			dec.DisallowUnknownFields()
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("config %s: %w", m.path, err)
			}
			if err := dec.Decode(&struct{}{}); err != io.EOF {
				return nil, fmt.Errorf("config %s: trailing data after document", m.path)
			}
		}
	}
	applyEnv(cfg, m.lookup)
	return cfg, nil
}

// Load parses, validates and commits the config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	if cfg.Dev {
		_, _ = h.Write([]byte{1})
	}
	return h.Sum64()
}

// Subscribe returns a channel that receives each committed reload.
// A slow subscriber only ever misses intermediate configs, never the latest.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full: drop the oldest, then deliver the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
		}
	}
}

// ErrUnchanged is returned by Reload when the content did not change.
var ErrUnchanged = errors.New("config unchanged")

// Reload re-reads the file. A config that fails to parse or validate is
// rejected and the current one stays in effect.
func (m *Manager) Reload() error {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload failed; keeping previous", logx.Err(err))
		return err
	}
	if err := cfg.Validate(); err != nil {
		m.log.Warn("config rejected; keeping previous", logx.Err(err))
		return fmt.Errorf("config: %w", err)
	}
	h := hashConfig(cfg)
	m.mu.RLock()
	old := m.cfg
	unchanged := h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config unchanged; skipping publish")
		return ErrUnchanged
	}
	m.commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.Any("changed", Changed(old, cfg)))
	return nil
}

// Watch reloads on file changes until ctx is done. It returns an error when
// the watcher breaks so a supervisor can restart it.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()
	// Watch the directory: editors replace files by rename.
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("config watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("path", m.path))

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: events channel closed")
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: errors channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload")
				timer.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		case <-timer.C:
			_ = m.Reload()
		}
	}
}
