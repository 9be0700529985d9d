package cmd

import (
	"context"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Write daily snapshots for a date or an inclusive date range",
	Run: func(cmd *cobra.Command, args []string) {
		initCmdConfig(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l, p, err := bootstrap(cfg, true)
		if err != nil {
			panic(err)
		}

		from := viper.GetString("from")
		to := viper.GetString("to")
		if from != "" || to != "" {
			fromDate, err := parseDateFlag(from, false)
			if err != nil {
				l.Sugar().Fatalw("Invalid --from", zap.Error(err))
			}
			toDate, err := parseDateFlag(to, false)
			if err != nil {
				l.Sugar().Fatalw("Invalid --to", zap.Error(err))
			}
			results, err := p.Snapshotter.Backfill(ctx, fromDate, toDate)
			if err != nil {
				l.Sugar().Fatalw("Snapshot backfill failed", zap.Error(err))
			}
			var rows int64
			for _, r := range results {
				rows += r.TotalRows()
			}
			l.Sugar().Infow("Snapshot backfill finished",
				zap.Int("days", len(results)),
				zap.Int64("rows", rows),
			)
			return
		}

		date, err := parseDateFlag(viper.GetString("date"), true)
		if err != nil {
			l.Sugar().Fatalw("Invalid --date", zap.Error(err))
		}
		result, err := p.RunSnapshots(ctx, date)
		if err != nil {
			l.Sugar().Fatalw("Snapshot run failed", zap.Error(err))
		}
		l.Sugar().Infow("Snapshot run finished",
			zap.Int64("rows", result.RowsWritten),
			zap.Duration("duration", result.Duration),
		)
	},
}
