package cmd

import (
	"os"
	"strings"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "oprisk",
	Short: "Reconstructs operator risk profiles from on-chain event history and derives daily risk analytics",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)

	rootCmd.PersistentFlags().String(config.DatabaseHost, "localhost", `PostgreSQL host`)
	rootCmd.PersistentFlags().Int(config.DatabasePort, 5432, `PostgreSQL port`)
	rootCmd.PersistentFlags().String(config.DatabaseUser, "oprisk", `PostgreSQL username`)
	rootCmd.PersistentFlags().String(config.DatabasePassword, "", `PostgreSQL password`)
	rootCmd.PersistentFlags().String(config.DatabaseDbName, "oprisk", `PostgreSQL database name`)
	rootCmd.PersistentFlags().String(config.DatabaseSchemaName, "", `PostgreSQL schema name (default "public")`)
	rootCmd.PersistentFlags().String(config.DatabaseSSLMode, "disable", `PostgreSQL ssl mode`)

	rootCmd.PersistentFlags().Int(config.PipelineSafetyBufferSeconds, 300, `How far behind the checkpoint cursor change detection rewinds, in seconds`)
	rootCmd.PersistentFlags().Uint64(config.PipelineSafetyBufferBlocks, 50, `How many blocks behind the block cursor change detection rewinds`)
	rootCmd.PersistentFlags().Int(config.PipelineMaxOperatorsPerRun, 100, `Maximum operators rebuilt per batch`)
	rootCmd.PersistentFlags().Int(config.PipelineCommitBatchSize, 25, `Concurrent operator rebuilds within a batch`)
	rootCmd.PersistentFlags().Int(config.PipelineMaxRetries, 3, `Retries for transient stage failures`)
	rootCmd.PersistentFlags().Int(config.PipelineRetryDelaySeconds, 5, `Delay between retries, in seconds`)

	rootCmd.PersistentFlags().Int(config.SnapshotHourUtc, 1, `Earliest UTC hour at which today's snapshot may be taken`)

	rootCmd.PersistentFlags().String(config.AnalyticsVolatilityWindows, "7,30,90", `Comma-separated volatility windows in days (supported: 7, 30, 90)`)
	rootCmd.PersistentFlags().Int(config.AnalyticsMinDataPoints, 7, `Snapshot days required before analytics are computed`)

	rootCmd.PersistentFlags().Float64(config.RiskWeightSlashing, 0.4, `Relative weight of the slashing score`)
	rootCmd.PersistentFlags().Float64(config.RiskWeightConcentration, 0.25, `Relative weight of the concentration score`)
	rootCmd.PersistentFlags().Float64(config.RiskWeightVolatility, 0.2, `Relative weight of the stability score`)
	rootCmd.PersistentFlags().Float64(config.RiskWeightDelegators, 0.15, `Relative weight of the delegator health score`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `The sample rate to use for statsd metrics`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(runVersionCmd)

	// bind any subcommand flags
	runCmd.PersistentFlags().String("run.cycle-schedule", "*/5 * * * *", `Cron schedule for detect+rebuild cycles`)
	runCmd.PersistentFlags().String("run.snapshot-schedule", "15 1 * * *", `Cron schedule for daily snapshots and analytics`)

	snapshotCmd.PersistentFlags().String("date", "", `Snapshot date (YYYY-MM-DD, default today UTC)`)
	snapshotCmd.PersistentFlags().String("from", "", `Range start date (YYYY-MM-DD)`)
	snapshotCmd.PersistentFlags().String("to", "", `Range end date (YYYY-MM-DD)`)

	analyticsCmd.PersistentFlags().String("date", "", `Analytics date (YYYY-MM-DD, default today UTC)`)
	analyticsCmd.PersistentFlags().String("from", "", `Range start date (YYYY-MM-DD)`)
	analyticsCmd.PersistentFlags().String("to", "", `Range end date (YYYY-MM-DD)`)

	backfillCmd.PersistentFlags().String("from", "", `Range start date (YYYY-MM-DD, required)`)
	backfillCmd.PersistentFlags().String("to", "", `Range end date (YYYY-MM-DD, required)`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}
