package config

import (
	"os"
	"strings"
)

const (
	EnvEmailFrom    = "EMAIL_FROM"
	EnvEmailTo      = "EMAIL_TO"
	EnvDev          = "DEV"
	EnvSMTPPassword = "SMTP_PASSWORD"
	EnvConfigPath   = "RESTOCK_CONFIG"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func getenv(lookup LookupFunc, key string) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(key)
	return strings.TrimSpace(v)
}

// applyEnv overlays the environment on cfg. Set variables win over the file.
func applyEnv(cfg *Config, lookup LookupFunc) {
	if v := getenv(lookup, EnvEmailFrom); v != "" {
		cfg.Notifier.From = v
	}
	if v := getenv(lookup, EnvEmailTo); v != "" {
		cfg.Notifier.To = splitList(v)
	}
	if v := getenv(lookup, EnvSMTPPassword); v != "" {
		cfg.Notifier.Password = v
	}
	cfg.Dev = truthy(getenv(lookup, EnvDev))
}

// ConfigPath returns flag when set, else RESTOCK_CONFIG.
func ConfigPath(flag string, lookup LookupFunc) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	return getenv(lookup, EnvConfigPath)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
