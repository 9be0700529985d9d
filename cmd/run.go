package cmd

import (
	"context"
	"time"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/internal/metrics/prometheus"
	"github.com/eigenwatch/oprisk/internal/shutdown"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run migrations, then detect+rebuild cycles and daily snapshots on a cron schedule",
	Run: func(cmd *cobra.Command, args []string) {
		initCmdConfig(cmd)
		cfg := config.NewConfig()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		l, p, err := bootstrap(cfg, true)
		if err != nil {
			panic(err)
		}

		cycleSchedule := viper.GetString(config.KebabToSnakeCase("run.cycle-schedule"))
		snapshotSchedule := viper.GetString(config.KebabToSnakeCase("run.snapshot-schedule"))

		// A schedule firing while its previous invocation is still running
		// is skipped; each job has at most one active run.
		scheduler := cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(l))),
		))
		_, err = scheduler.AddFunc(cycleSchedule, func() {
			if _, err := p.RunReconstruction(ctx); err != nil {
				l.Sugar().Errorw("Reconstruction cycle failed", zap.Error(err))
			}
		})
		if err != nil {
			l.Sugar().Fatalw("Invalid cycle schedule", zap.String("schedule", cycleSchedule), zap.Error(err))
		}

		_, err = scheduler.AddFunc(snapshotSchedule, func() {
			today := time.Now().UTC()
			if _, err := p.RunSnapshots(ctx, today); err != nil {
				l.Sugar().Errorw("Snapshot run failed", zap.Error(err))
				return
			}
			if _, err := p.RunAnalytics(ctx, today); err != nil {
				l.Sugar().Errorw("Analytics run failed", zap.Error(err))
			}
		})
		if err != nil {
			l.Sugar().Fatalw("Invalid snapshot schedule", zap.String("schedule", snapshotSchedule), zap.Error(err))
		}

		promChan := make(chan bool)
		if cfg.PrometheusConfig.Enabled {
			pServer := prometheus.NewPrometheusServer(&prometheus.PrometheusServerConfig{
				Port: cfg.PrometheusConfig.Port,
			}, l)
			if err := pServer.Start(promChan); err != nil {
				l.Sugar().Fatalw("Failed to start prometheus server", zap.Error(err))
			}
		}

		scheduler.Start()
		l.Sugar().Infow("Pipeline scheduler started",
			zap.String("cycleSchedule", cycleSchedule),
			zap.String("snapshotSchedule", snapshotSchedule),
		)

		gracefulShutdown := shutdown.CreateGracefulShutdownChannel()
		done := make(chan bool)
		go shutdown.ListenForShutdown(gracefulShutdown, done, func() {
			l.Sugar().Info("Shutting down scheduler")
			shutdownCtx := scheduler.Stop()
			<-shutdownCtx.Done()
			if cfg.PrometheusConfig.Enabled {
				promChan <- true
			}
			cancel()
		}, time.Second*5, l)
		<-done
	},
}
