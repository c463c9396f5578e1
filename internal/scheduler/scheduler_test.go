package scheduler

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "restock/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  Kind
		every time.Duration
	}{
		{name: "cron", raw: "*/15 * * * *", kind: KindCron},
		{name: "cron with seconds", raw: "0 */5 * * * *", kind: KindCron},
		{name: "descriptor", raw: "@hourly", kind: KindCron},
		{name: "every descriptor", raw: "@every 30m", kind: KindCron},
		{name: "prefixed cron", raw: "cron:0 9 * * *", kind: KindCron},
		{name: "duration", raw: "30m", kind: KindInterval, every: 30 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, every: 45 * time.Second},
		{name: "every prefix", raw: "every: 2h", kind: KindInterval, every: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: KindInterval, every: 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			if tt.kind == KindInterval {
				assert.Equal(t, tt.every, got.Every)
			}
			_, err = got.Schedule()
			assert.NoError(t, err)
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "cron:", "* * *", "00:75", "00:00", "500ms", "-5m", "interval:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Schedule: "30m", Timezone: "Mars/Olympus"}, func(context.Context) {}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Schedule: "whenever"}, func(context.Context) {}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{Schedule: "30m"}, nil, logx.Nop())
	assert.Error(t, err)
}

func startTrigger(t *testing.T, tr *Trigger) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	require.Eventually(t, func() bool { return !tr.Next().IsZero() }, 2*time.Second, 5*time.Millisecond)
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("trigger did not stop")
		}
	}
}

func TestRunOnStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	tr, err := New(Config{Schedule: "1h", RunOnStart: true}, func(ctx context.Context) { ran <- struct{}{} }, logx.Nop())
	require.NoError(t, err)
	stop := startTrigger(t, tr)
	defer stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run on start")
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	var runs atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	var buf bytes.Buffer

	tr, err := New(Config{Schedule: "1h"}, func(ctx context.Context) {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
	}, logx.NewWriter(&buf, "debug"))
	require.NoError(t, err)
	stop := startTrigger(t, tr)

	go tr.Fire()
	<-started
	tr.Fire() // returns at once: previous run still in flight
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	stop()
	assert.Contains(t, buf.String(), "tick skipped")
}

func TestAllowOverlap(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	tr, err := New(Config{Schedule: "1h", AllowOverlap: true}, func(ctx context.Context) {
		runs.Add(1)
		<-release
	}, logx.Nop())
	require.NoError(t, err)
	stop := startTrigger(t, tr)

	go tr.Fire()
	go tr.Fire()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	stop()
}

func TestStopCancelsJobContext(t *testing.T) {
	entered := make(chan struct{})
	tr, err := New(Config{Schedule: "1h", RunOnStart: true}, func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
	}, logx.Nop())
	require.NoError(t, err)
	stop := startTrigger(t, tr)
	<-entered
	stop() // must not hang: the job sees ctx cancelled
	assert.True(t, tr.Next().IsZero())
}

func TestFireWithoutRunIsNoop(t *testing.T) {
	var runs atomic.Int32
	tr, err := New(Config{Schedule: "1h"}, func(ctx context.Context) { runs.Add(1) }, logx.Nop())
	require.NoError(t, err)
	tr.Fire()
	assert.Zero(t, runs.Load())
}
