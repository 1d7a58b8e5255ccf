package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bld-ci/bld/internal/bldlog"
	"github.com/bld-ci/bld/internal/config"
	"github.com/bld-ci/bld/internal/metrics"
	"github.com/bld-ci/bld/internal/queue"
	"github.com/bld-ci/bld/internal/runstore"
	"github.com/bld-ci/bld/internal/scheduler"
	"github.com/bld-ci/bld/internal/supervisor"
)

func newServerCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the supervisor, control-channel listener, and cron scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfgPath)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to bld config file")

	return cmd
}

func runServer(ctx context.Context, cfgPath string) error {
	log := bldlog.New(bldlog.FromEnv())

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return Fail(ExitUsage, fmt.Errorf("loading config: %w", err))
	}

	store, err := openStore(cfg)
	if err != nil {
		return Fail(ExitRunFailed, fmt.Errorf("opening run store: %w", err))
	}

	selfExe, err := os.Executable()
	if err != nil {
		return Fail(ExitRunFailed, fmt.Errorf("resolving self executable: %w", err))
	}

	os.Remove(cfg.IPCSocket)

	q := queue.New(cfg.QueueCapacity)
	sup := supervisor.New(cfg.Workers, selfExe, cfg.IPCSocket, q, store, log)
	sup.ReapInterval = cfg.ReapInterval

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go reportMetrics(runCtx, q, sup)

	if cfg.Backend == config.BackendSQLite {
		if sqliteStore, ok := store.(*runstore.SQLite); ok {
			sched := scheduler.New(sqliteStore, sup, log)
			if err := sched.Start(runCtx); err != nil {
				log.Error("cron scheduler failed to start", "error", err)
			} else {
				defer sched.Stop()
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(runCtx) }()

	log.Info("bld server started", "workers", cfg.Workers, "socket", cfg.IPCSocket, "backend", cfg.Backend)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	case err := <-errCh:
		if err != nil {
			return Fail(ExitRunFailed, fmt.Errorf("supervisor stopped: %w", err))
		}
	}
	return nil
}

// reportMetrics samples queue depth and active worker count on a
// short tick. The registry itself is exposed to a scraper only by a
// process that embeds this module's metrics package directly; bld
// server binds no HTTP port of its own.
func reportMetrics(ctx context.Context, q *queue.Queue, sup *supervisor.Supervisor) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.QueueDepth.Set(float64(q.Len()))
			metrics.ActiveWorkers.Set(float64(sup.Len()))
		}
	}
}
