package cmd

import (
	"context"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-run snapshots and analytics for an inclusive date range",
	Run: func(cmd *cobra.Command, args []string) {
		initCmdConfig(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l, p, err := bootstrap(cfg, true)
		if err != nil {
			panic(err)
		}

		fromDate, err := parseDateFlag(viper.GetString("from"), false)
		if err != nil {
			l.Sugar().Fatalw("Invalid --from", zap.Error(err))
		}
		toDate, err := parseDateFlag(viper.GetString("to"), false)
		if err != nil {
			l.Sugar().Fatalw("Invalid --to", zap.Error(err))
		}

		result, err := p.RunBackfill(ctx, fromDate, toDate)
		if err != nil {
			l.Sugar().Fatalw("Backfill failed", zap.Error(err))
		}
		l.Sugar().Infow("Backfill finished",
			zap.Int64("rows", result.RowsWritten),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration),
		)
	},
}
