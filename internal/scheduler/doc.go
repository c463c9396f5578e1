// Package scheduler fires the check cycle on a cron or interval schedule.
//
// It is the only place that decides when runs happen. By default a tick that
// lands while the previous run is still in flight is skipped.
package scheduler
