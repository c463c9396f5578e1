package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"restock/internal/scheduler"
	"restock/internal/storage"
)

// Validate reports every problem in cfg, joined. A config that validates
// builds every runtime component without error.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(c.Notifier.From) == "" {
		add(missing(EnvEmailFrom))
	}
	if len(splitList(strings.Join(c.Notifier.To, ","))) == 0 {
		add(missing(EnvEmailTo))
	}
	if strings.TrimSpace(c.Products.File) == "" {
		add(missing("products.file"))
	}

	add(validateStorage("storage", c.Storage))
	if c.DevStorage != nil {
		add(validateStorage("dev_storage", *c.DevStorage))
	}

	if _, err := c.NotifierOptions(); err != nil {
		add(err)
	} else if !c.dryRun() && strings.TrimSpace(c.Notifier.SMTPHost) == "" {
		add(missing("notifier.smtp_host"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Notifier.TLS)) {
	case "", "starttls", "implicit", "none":
	default:
		add(fmt.Errorf("notifier.tls: unknown mode %q", c.Notifier.TLS))
	}

	_, err := c.FetchOptions()
	add(err)
	_, err = c.Registry()
	add(err)
	_, err = c.RunTimeout()
	add(err)
	if c.Checker.MaxConcurrency < 0 {
		add(fmt.Errorf("checker.max_concurrency: must be >= 0"))
	}

	if _, err := scheduler.ParseSchedule(c.Scheduler.Schedule); err != nil {
		add(fmt.Errorf("scheduler.schedule: %w", err))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	return errors.Join(errs...)
}

func validateStorage(field string, s StorageConfig) error {
	if !storage.ValidDriver(s.Driver) {
		return fmt.Errorf("%s.driver: unknown driver %q", field, s.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			return missing(field + ".path")
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(s.DSN) == "" {
			return missing(field + ".dsn")
		}
	}
	if _, err := ParseDurationField(field+".busy_timeout", s.BusyTimeout); err != nil {
		return err
	}
	if s.MaxConns < 0 {
		return fmt.Errorf("%s.max_conns: must be >= 0", field)
	}
	return nil
}
