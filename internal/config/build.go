package config

import (
	"fmt"
	"strings"
	"time"

	"restock/internal/fetch"
	"restock/internal/notifier"
	"restock/internal/scheduler"
	"restock/internal/storage"
	"restock/internal/stores"
	logx "restock/pkg/logx"
)

func (c *Config) dryRun() bool { return c.Dev || c.Notifier.DryRun }

func (c *Config) LogOptions() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) FetchOptions() (fetch.Config, error) {
	timeout, err := ParseDurationField("fetch.timeout", c.Fetch.Timeout)
	if err != nil {
		return fetch.Config{}, err
	}
	if c.Fetch.RatePerHost < 0 || c.Fetch.BurstPerHost < 0 || c.Fetch.MaxBodyBytes < 0 {
		return fetch.Config{}, fmt.Errorf("fetch: limits must be >= 0")
	}
	return fetch.Config{
		Timeout:             timeout,
		UserAgent:           strings.TrimSpace(c.Fetch.UserAgent),
		MaxIdleConnsPerHost: c.Fetch.MaxIdleConnsPerHost,
		MaxBodyBytes:        c.Fetch.MaxBodyBytes,
		RatePerHost:         c.Fetch.RatePerHost,
		BurstPerHost:        c.Fetch.BurstPerHost,
	}, nil
}

// StorageOptions returns dev_storage when DEV is set and it is configured.
func (c *Config) StorageOptions() (storage.Config, error) {
	s := c.Storage
	field := "storage"
	if c.Dev && c.DevStorage != nil {
		s = *c.DevStorage
		field = "dev_storage"
	}
	busy, err := ParseDurationField(field+".busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.TrimSpace(s.Driver),
		Path:        strings.TrimSpace(s.Path),
		DSN:         strings.TrimSpace(s.DSN),
		BusyTimeout: busy,
		MaxConns:    s.MaxConns,
	}, nil
}

func (c *Config) NotifierOptions() (notifier.Config, error) {
	dial, err := ParseDurationField("notifier.dial_timeout", c.Notifier.DialTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	if c.Notifier.SMTPPort < 0 || c.Notifier.SMTPPort > 65535 {
		return notifier.Config{}, fmt.Errorf("notifier.smtp_port: out of range")
	}
	return notifier.Config{
		From:        strings.TrimSpace(c.Notifier.From),
		To:          splitList(strings.Join(c.Notifier.To, ",")),
		DryRun:      c.dryRun(),
		SMTPHost:    strings.TrimSpace(c.Notifier.SMTPHost),
		SMTPPort:    c.Notifier.SMTPPort,
		Username:    c.Notifier.Username,
		Password:    c.Notifier.Password,
		TLSMode:     c.Notifier.TLS,
		HeloName:    c.Notifier.HeloName,
		Subject:     c.Notifier.Subject,
		Body:        c.Notifier.Body,
		RatePerSec:  c.Notifier.RatePerSec,
		DialTimeout: dial,
	}, nil
}

// Registry builds the built-in classifiers plus one selector classifier per
// stores entry.
func (c *Config) Registry() (*stores.Registry, error) {
	extra := make([]stores.Classifier, 0, len(c.Stores))
	for i, rule := range c.Stores {
		sc, err := stores.NewSelectorClassifier(stores.SelectorRule{
			Domain:     rule.Domain,
			InStock:    rule.InStock,
			OutOfStock: rule.OutOfStock,
		})
		if err != nil {
			return nil, fmt.Errorf("stores[%d]: %w", i, err)
		}
		extra = append(extra, sc)
	}
	r, err := stores.NewDefaultRegistry(extra...)
	if err != nil {
		return nil, fmt.Errorf("stores: %w", err)
	}
	return r, nil
}

func (c *Config) SchedulerOptions() scheduler.Config {
	return scheduler.Config{
		Schedule:     c.Scheduler.Schedule,
		Timezone:     c.Scheduler.Timezone,
		RunOnStart:   c.Scheduler.RunOnStart,
		AllowOverlap: c.Scheduler.AllowOverlap,
	}
}

func (c *Config) RunTimeout() (time.Duration, error) {
	return ParseDurationField("checker.run_timeout", c.Checker.RunTimeout)
}
