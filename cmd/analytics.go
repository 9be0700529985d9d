package cmd

import (
	"context"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Compute risk analytics for a date or an inclusive date range",
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
			results, err := p.Analytics.ComputeRange(ctx, fromDate, toDate)
			if err != nil {
				l.Sugar().Fatalw("Analytics range failed", zap.Error(err))
			}
			records := 0
			for _, r := range results {
				records += r.RecordsWritten
			}
			l.Sugar().Infow("Analytics range finished",
				zap.Int("days", len(results)),
				zap.Int("records", records),
			)
			return
		}

		date, err := parseDateFlag(viper.GetString("date"), true)
		if err != nil {
			l.Sugar().Fatalw("Invalid --date", zap.Error(err))
		}
		result, err := p.RunAnalytics(ctx, date)
		if err != nil {
			l.Sugar().Fatalw("Analytics run failed", zap.Error(err))
		}
		l.Sugar().Infow("Analytics run finished",
			zap.Int64("records", result.RowsWritten),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration),
		)
	},
}
