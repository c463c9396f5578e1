package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"restock/internal/checker"
	"restock/internal/config"
	"restock/internal/fetch"
	"restock/internal/notifier"
	"restock/internal/product"
	"restock/internal/storage"
	logx "restock/pkg/logx"
)

// session is the process-wide state shared by every run: the config
// manager, the log service and the dedup store.
type session struct {
	cfg   *config.Manager
	logs  *logx.Service
	log   logx.Logger
	store storage.Store

	mu       sync.Mutex
	fetcher  *fetch.Fetcher
	fetchCfg fetch.Config
}

// openSession loads and validates the config, starts logging and opens the
// dedup store. Any failure here is fatal: no product has been touched yet.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	mgr := config.NewManager(config.ConfigPath(opts.ConfigPath, nil), logx.NewConsole(levelOr(opts.LogLevel, "info")))
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logOptions(cfg, opts))
	s := &session{cfg: mgr, logs: logs, log: log}

	stCfg, err := cfg.StorageOptions()
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	st, err := storage.Open(ctx, stCfg, log)
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	s.store = st
	log.Info("session ready",
		logx.String("config", mgr.Path()),
		logx.String("storage", stCfg.Driver),
		logx.Bool("dev", cfg.Dev),
	)
	return s, nil
}

func (s *session) Close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	s.mu.Lock()
	if s.fetcher != nil {
		s.fetcher.CloseIdle()
	}
	s.mu.Unlock()
	if s.logs != nil {
		_ = s.logs.Close()
	}
	return err
}

// fetcherFor reuses the pooled fetcher until the fetch section changes.
func (s *session) fetcherFor(fc fetch.Config) *fetch.Fetcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetcher == nil || s.fetchCfg != fc {
		if s.fetcher != nil {
			s.fetcher.CloseIdle()
		}
		s.fetcher = fetch.New(fc)
		s.fetchCfg = fc
	}
	return s.fetcher
}

// runOnce performs a single check cycle against the current config.
// Errors are configuration or product-load failures only.
func (s *session) runOnce(ctx context.Context) (checker.Summary, error) {
	cfg := s.cfg.Get()

	products, err := product.LoadFile(cfg.Products.File)
	if err != nil {
		return checker.Summary{}, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return checker.Summary{}, err
	}
	fc, err := cfg.FetchOptions()
	if err != nil {
		return checker.Summary{}, err
	}
	nc, err := cfg.NotifierOptions()
	if err != nil {
		return checker.Summary{}, err
	}
	email, err := notifier.NewEmail(nc, s.log)
	if err != nil {
		return checker.Summary{}, err
	}
	timeout, err := cfg.RunTimeout()
	if err != nil {
		return checker.Summary{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c := &checker.Checker{
		Registry:       reg,
		Fetcher:        s.fetcherFor(fc),
		Store:          s.store,
		Notifier:       email,
		Log:            s.log,
		MaxConcurrency: cfg.Checker.MaxConcurrency,
	}
	return c.Run(ctx, products), nil
}

func logOptions(cfg *config.Config, opts *RootOptions) logx.Config {
	lc := cfg.LogOptions()
	lc.Level = levelOr(opts.LogLevel, lc.Level)
	return lc
}

func levelOr(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
