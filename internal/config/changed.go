package config

import "reflect"

// Changed lists the top-level sections that differ between prev and next.
// Values are never included so secrets stay out of logs.
func Changed(prev, next *Config) []string {
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	var out []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, name)
		}
	}
	check("logging", prev.Logging, next.Logging)
	check("products", prev.Products, next.Products)
	check("fetch", prev.Fetch, next.Fetch)
	check("storage", prev.Storage, next.Storage)
	check("dev_storage", prev.DevStorage, next.DevStorage)
	check("notifier", prev.Notifier, next.Notifier)
	check("scheduler", prev.Scheduler, next.Scheduler)
	check("stores", prev.Stores, next.Stores)
	check("checker", prev.Checker, next.Checker)
	check("dev", prev.Dev, next.Dev)
	return out
}
