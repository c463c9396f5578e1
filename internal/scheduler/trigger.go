package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "restock/pkg/logx"
)

// Config configures a Trigger.
type Config struct {
	Schedule     string
	Timezone     string // IANA name; empty means local time
	RunOnStart   bool
	AllowOverlap bool
}

// Job is one scheduled unit of work. ctx is cancelled when the trigger stops.
type Job func(ctx context.Context)

// Trigger runs a Job on a schedule.
type Trigger struct {
	spec Spec
	loc  *time.Location
	cfg  Config
	log  logx.Logger

	mu       sync.Mutex
	ctx      context.Context
	c        *cron.Cron
	job      cron.Job
	runs     func(ctx context.Context)
	inflight sync.WaitGroup
}

func New(cfg Config, job Job, log logx.Logger) (*Trigger, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler: nil job")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	spec, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	t := &Trigger{spec: spec, loc: loc, cfg: cfg, log: log.With(logx.String("comp", "scheduler")), runs: job}

	clog := cronLogger{log: t.log}
	wrappers := []cron.JobWrapper{cron.Recover(clog)}
	if !cfg.AllowOverlap {
		wrappers = append(wrappers, cron.SkipIfStillRunning(clog))
	}
	// Ticks and Fire share one wrapped job so the overlap guard covers both.
	t.job = cron.NewChain(wrappers...).Then(cron.FuncJob(t.fire))
	return t, nil
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (t *Trigger) Spec() Spec { return t.spec }

func (t *Trigger) fire() {
	t.mu.Lock()
	ctx := t.ctx
	if ctx == nil || ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.inflight.Add(1)
	t.mu.Unlock()
	defer t.inflight.Done()
	t.runs(ctx)
}

// Fire runs the job now, honouring the overlap policy. It blocks until the
// job returns or is skipped. It is a no-op unless Run is active.
func (t *Trigger) Fire() { t.job.Run() }

// Next returns the next scheduled tick, or the zero time when not running.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	entries := t.c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Run starts the schedule and blocks until ctx is done, then waits for an
// in-flight job to return.
func (t *Trigger) Run(ctx context.Context) error {
	sched, err := t.spec.Schedule()
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	t.mu.Lock()
	if t.c != nil {
		t.mu.Unlock()
		return fmt.Errorf("scheduler: already running")
	}
	t.ctx = ctx
	t.c = cron.New(cron.WithLocation(t.loc), cron.WithLogger(cronLogger{log: t.log}))
	t.c.Schedule(sched, t.job)
	t.c.Start()
	t.mu.Unlock()

	t.log.Info("scheduler started",
		logx.String("schedule", t.spec.String()),
		logx.String("tz", t.loc.String()),
		logx.Bool("allow_overlap", t.cfg.AllowOverlap),
		logx.Time("next", t.Next()),
	)

	if t.cfg.RunOnStart {
		go t.Fire()
	}

	<-ctx.Done()

	t.mu.Lock()
	c := t.c
	t.ctx = nil
	t.mu.Unlock()
	<-c.Stop().Done()
	t.inflight.Wait()

	t.mu.Lock()
	t.c = nil
	t.mu.Unlock()
	t.log.Info("scheduler stopped")
	return nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	// cron logs every schedule/wake cycle at Info; keep those at debug.
	if msg == "skip" {
		l.log.Warn("previous run still in flight; tick skipped", kv(keysAndValues)...)
		return
	}
	l.log.Debug("cron "+msg, kv(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron "+msg, append(kv(keysAndValues), logx.Err(err))...)
}

func kv(keysAndValues []any) []logx.Field {
	out := make([]logx.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			k = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, logx.Any(k, keysAndValues[i+1]))
	}
	return out
}
