package cmd

import (
	"context"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Run one detect+rebuild cycle and exit",
	Run: func(cmd *cobra.Command, args []string) {
		initCmdConfig(cmd)
		cfg := config.NewConfig()
		ctx := context.Background()

		l, p, err := bootstrap(cfg, true)
		if err != nil {
			panic(err)
		}

		result, err := p.RunReconstruction(ctx)
		if err != nil {
			l.Sugar().Fatalw("Reconstruction cycle failed", zap.Error(err))
		}
		l.Sugar().Infow("Reconstruction cycle finished",
			zap.Int64("operatorsRebuilt", result.RowsWritten),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration),
		)
	},
}
