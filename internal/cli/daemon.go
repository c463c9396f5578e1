package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"restock/internal/checker"
	"restock/internal/config"
	"restock/internal/runtime/supervisor"
	"restock/internal/scheduler"
	logx "restock/pkg/logx"
)

const shutdownTimeout = 30 * time.Second

// NewDaemonCommand runs check cycles on the configured schedule until
// interrupted.
func NewDaemonCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run check cycles on the configured schedule",
		Long: `Run check cycles on scheduler.schedule until SIGINT/SIGTERM.

The config file is watched and reloaded when it changes (SIGHUP forces a
reload); an invalid file is rejected and the running config kept. A tick that
fires while the previous cycle is still running is skipped unless
scheduler.allow_overlap is set. Readiness is reported to systemd when
NOTIFY_SOCKET is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), rootOpts)
		},
	}
}

func runDaemon(ctx context.Context, opts *RootOptions) error {
	s, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	log := s.log.With(logx.String("comp", "daemon"))

	sup := supervisor.New(ctx, supervisor.WithLogger(log))
	sup.GoRestart("config.watch", s.cfg.Watch, time.Second, 30*time.Second)

	updates := s.cfg.Subscribe(1)
	defer s.cfg.Unsubscribe(updates)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	// Cycles run on the supervisor context, not the trigger's: swapping the
	// schedule lets an in-flight cycle finish.
	job := func(context.Context) {
		sum, err := s.runOnce(sup.Context())
		if err != nil {
			log.Error("cycle aborted", logx.Err(err))
			return
		}
		if n := sum.Count(checker.Unsupported) + sum.Count(checker.FetchFailed); n > 0 && n == len(sum.Results) {
			log.Warn("no product could be checked", logx.String("run_id", sum.RunID))
		}
	}

	cfg := s.cfg.Get()
	ready := false
	for {
		trig, err := scheduler.New(cfg.SchedulerOptions(), job, s.log)
		if err != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
			return err
		}
		tctx, stopTrigger := context.WithCancel(sup.Context())
		done := make(chan struct{})
		sup.Go("scheduler", func(context.Context) error {
			defer close(done)
			return trig.Run(tctx)
		})
		if !ready {
			ready = true
			notifySystemd(log, daemon.SdNotifyReady)
			log.Info("daemon started", logx.String("schedule", trig.Spec().String()))
		}

		next, err := waitRestart(ctx, s, opts, log, cfg, updates, hup)
		stopTrigger()
		<-done
		if err != nil {
			return shutdown(log, sup)
		}
		cfg = next
	}
}

// waitRestart applies config updates until the schedule changes, returning
// the config to rebuild the trigger from, or until ctx is done.
func waitRestart(ctx context.Context, s *session, opts *RootOptions, log logx.Logger, cfg *config.Config, updates <-chan *config.Config, hup <-chan os.Signal) (*config.Config, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-hup:
			if err := s.cfg.Reload(); err != nil && !errors.Is(err, config.ErrUnchanged) {
				log.Warn("reload on SIGHUP rejected", logx.Err(err))
			}
		case next := <-updates:
			changed := config.Changed(cfg, next)
			cfg = next
			s.logs.Apply(logOptions(next, opts))
			if slices.Contains(changed, "storage") || slices.Contains(changed, "dev_storage") || slices.Contains(changed, "dev") {
				log.Warn("storage settings changed; restart to apply", logx.Any("changed", changed))
			}
			if slices.Contains(changed, "scheduler") {
				log.Info("schedule changed; restarting trigger", logx.String("schedule", next.Scheduler.Schedule))
				return cfg, nil
			}
		}
	}
}

func shutdown(log logx.Logger, sup *supervisor.Supervisor) error {
	notifySystemd(log, daemon.SdNotifyStopping)
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := sup.Stop(ctx)
	log.Info("daemon stopped", logx.Any("goroutines", sup.Counters()))
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
