package main

import (
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/preforkdev/prefork/internal/config"
	"github.com/preforkdev/prefork/internal/logging"
	"github.com/preforkdev/prefork/internal/metrics"
	"github.com/preforkdev/prefork/internal/pool"
	"github.com/preforkdev/prefork/internal/version"
	"github.com/preforkdev/prefork/internal/work"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the prefork supervisor",
	Long:  "Run the master process. The same invocation re-executed with the worker marker enters the worker runtime instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, warnings, err := config.Load(runConfigPath)
		if err != nil {
			return err
		}

		logger := logging.New(logging.LogConfig{
			Level:  cfg.Supervisor.LogLevel,
			Format: cfg.Supervisor.LogFormat,
		})
		for _, w := range warnings {
			logger.Warn("config warning", "warning", w)
		}

		src := buildSource(cfg)

		// Spawned workers re-execute this binary with the same argv;
		// the marker switches them into the worker runtime.
		if pool.IsWorker() {
			return pool.RunWorker(src, logger)
		}

		var collector *metrics.Collector
		if cfg.Metrics.Enabled {
			collector = metrics.New()
			collector.SetBuildInfo(version.Version, runtime.Version())
			srv := metrics.NewServer(metrics.ServerConfig{
				Listen:   cfg.Metrics.Listen,
				Username: cfg.Metrics.Username,
				Password: cfg.Metrics.Password,
			}, collector, logger)
			srv.Start()
			defer srv.Stop()
		}

		sup := pool.New(pool.SupervisorConfig{
			Workers: cfg.Supervisor.Workers,
			PIDFile: cfg.Supervisor.PIDFile,
			Logger:  logger,
			Metrics: collector,
		})
		return sup.Run()
	},
}

// buildSource resolves the configured work into a concrete source. This
// is the caller-side resolution step: the pool itself only ever sees an
// already-built work.Source.
func buildSource(cfg *config.Config) work.Source {
	src := work.NewCommandSource(cfg.Worker.Command, cfg.Worker.Args...)
	src.Pause = time.Duration(cfg.Worker.PauseMS) * time.Millisecond
	return work.Limit(src, cfg.Worker.Steps)
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "prefork.toml", "path to config file")
	rootCmd.AddCommand(runCmd)
}
