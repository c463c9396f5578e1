package config

// Config is the on-disk configuration plus the environment overlay.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig   `json:"logging"`
	Products   ProductsConfig  `json:"products"`
	Fetch      FetchConfig     `json:"fetch"`
	Storage    StorageConfig   `json:"storage"`
	DevStorage *StorageConfig  `json:"dev_storage,omitempty"`
	Notifier   NotifierConfig  `json:"notifier"`
	Scheduler  SchedulerConfig `json:"scheduler"`
	Stores     []StoreRule     `json:"stores,omitempty"`
	Checker    CheckerConfig   `json:"checker"`

	// Dev is set from the DEV environment variable only.
	Dev bool `json:"-"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled"`
		Path    string `json:"path"`
	} `json:"file"`
}

type ProductsConfig struct {
	// File is the product CSV (header: product_name,url).
	File string `json:"file"`
}

// FetchConfig defaults:
//   - timeout: "30s"
//   - max_body_bytes: 8 MiB
//   - rate_per_host: 0 (unthrottled)
type FetchConfig struct {
	Timeout             string  `json:"timeout,omitempty"`
	UserAgent           string  `json:"user_agent,omitempty"`
	MaxIdleConnsPerHost int     `json:"max_idle_conns_per_host,omitempty"`
	MaxBodyBytes        int64   `json:"max_body_bytes,omitempty"`
	RatePerHost         float64 `json:"rate_per_host,omitempty"`
	BurstPerHost        int     `json:"burst_per_host,omitempty"`
}

// StorageConfig selects the dedup store driver: memory, file, sqlite or postgres.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	MaxConns    int    `json:"max_conns,omitempty"`
}

// NotifierConfig controls the email notifier. From/To normally come from
// EMAIL_FROM/EMAIL_TO and the password from SMTP_PASSWORD.
type NotifierConfig struct {
	From        string   `json:"from,omitempty"`
	To          []string `json:"to,omitempty"`
	DryRun      bool     `json:"dry_run,omitempty"`
	SMTPHost    string   `json:"smtp_host,omitempty"`
	SMTPPort    int      `json:"smtp_port,omitempty"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
	TLS         string   `json:"tls,omitempty"` // starttls | implicit | none
	HeloName    string   `json:"helo_name,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Body        string   `json:"body,omitempty"`
	RatePerSec  float64  `json:"rate_per_sec,omitempty"`
	DialTimeout string   `json:"dial_timeout,omitempty"`
}

// SchedulerConfig is used by daemon mode only.
//
// schedule accepts cron ("*/30 * * * *", "@hourly"), a Go duration ("30m")
// or HH:MM ("00:30").
type SchedulerConfig struct {
	Schedule     string `json:"schedule"`
	Timezone     string `json:"timezone,omitempty"`
	RunOnStart   bool   `json:"run_on_start,omitempty"`
	AllowOverlap bool   `json:"allow_overlap,omitempty"`
}

// StoreRule registers a selector-driven classifier for one domain.
type StoreRule struct {
	Domain     string `json:"domain"`
	InStock    string `json:"in_stock"`
	OutOfStock string `json:"out_of_stock,omitempty"`
}

type CheckerConfig struct {
	// MaxConcurrency bounds in-flight product checks; 0 is unbounded.
	MaxConcurrency int `json:"max_concurrency,omitempty"`
	// RunTimeout bounds one whole run; "0s" or empty disables it.
	RunTimeout string `json:"run_timeout,omitempty"`
}

const (
	DefaultProductsFile = "products.csv"
	DefaultSchedule     = "30m"
	DefaultStorePath    = "./data/restock.db"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Logging.Level = "info"
	cfg.Logging.Console = true
	cfg.Products.File = DefaultProductsFile
	cfg.Storage = StorageConfig{Driver: "sqlite", Path: DefaultStorePath}
	cfg.Scheduler.Schedule = DefaultSchedule
	return cfg
}
