package cmd

import (
	"fmt"
	"time"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/internal/logger"
	"github.com/eigenwatch/oprisk/internal/metrics"
	"github.com/eigenwatch/oprisk/pkg/pipeline"
	"github.com/eigenwatch/oprisk/pkg/postgres"
	"github.com/eigenwatch/oprisk/pkg/postgres/migrations"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func initCmdConfig(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := viper.BindPFlag(config.KebabToSnakeCase(f.Name), f); err != nil {
			fmt.Printf("Failed to bind flag '%s' - %+v\n", f.Name, err)
		}
		if err := viper.BindEnv(f.Name); err != nil {
			fmt.Printf("Failed to bind env '%s' - %+v\n", f.Name, err)
		}
	})
}

// bootstrap wires the shared stack every subcommand needs: logger, metrics
// sink, postgres, migrations, pipeline.
func bootstrap(cfg *config.Config, migrate bool) (*zap.Logger, *pipeline.Pipeline, error) {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create logger")
	}

	sink, err := metrics.NewMetricsSinkFromConfig(cfg, l)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create metrics sink")
	}

	pgConfig := postgres.PostgresConfigFromDbConfig(&cfg.DatabaseConfig)
	pgConfig.CreateDbIfNotExists = true

	pg, err := postgres.NewPostgres(pgConfig)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to setup postgres connection")
	}

	grm, err := postgres.NewGormFromPostgresConnection(pg.Db)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create gorm instance")
	}

	if migrate {
		migrator := migrations.NewMigrator(pg.Db, grm, l)
		if err = migrator.MigrateAll(); err != nil {
			return nil, nil, errors.Wrap(err, "failed to migrate")
		}
	}

	return l, pipeline.NewPipeline(grm, l, cfg, sink), nil
}

// parseDateFlag reads a YYYY-MM-DD flag, defaulting to today UTC when the
// flag is empty and allowEmpty is set.
func parseDateFlag(value string, allowEmpty bool) (time.Time, error) {
	if value == "" {
		if allowEmpty {
			return time.Now().UTC().Truncate(24 * time.Hour), nil
		}
		return time.Time{}, errors.New("date is required")
	}
	date, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s', expected YYYY-MM-DD: %w", value, err)
	}
	return date.UTC(), nil
}
