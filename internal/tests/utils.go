package tests

import (
	"fmt"
	"os"
	"strings"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/pkg/postgres"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DatabaseTestsEnabled gates tests that need a live postgres instance.
// Set TEST_DATABASE=true and the OPRISK_DATABASE_* variables to run them.
func DatabaseTestsEnabled() bool {
	return os.Getenv("TEST_DATABASE") == "true"
}

func GetConfig() *config.Config {
	return config.NewConfig()
}

func GenerateTestDbName() string {
	return fmt.Sprintf("oprisk_test_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
}

func GetDatabaseConnection(cfg *config.Config) (*postgres.Postgres, *gorm.DB, error) {
	db, err := postgres.NewPostgres(postgresConfigFromConfig(cfg))
	if err != nil {
		panic(err)
	}

	grm, err := postgres.NewGormFromPostgresConnection(db.Db)
	if err != nil {
		panic(err)
	}
	return db, grm, nil
}

// GetTestDatabaseConnection creates a uniquely named database for one test
// and connects to it. Pair with TeardownTestDatabase in t.Cleanup.
func GetTestDatabaseConnection(cfg *config.Config) (string, *postgres.Postgres, *gorm.DB, error) {
	dbName := GenerateTestDbName()
	cfg.DatabaseConfig.DbName = dbName

	db, grm, err := GetDatabaseConnection(cfg)
	return dbName, db, grm, err
}

func TeardownTestDatabase(dbName string, cfg *config.Config, grm *gorm.DB, l *zap.Logger) {
	rawDb, _ := grm.DB()
	_ = rawDb.Close()

	if err := postgres.DeleteDatabase(postgresConfigFromConfig(cfg), dbName); err != nil {
		l.Sugar().Errorw("Failed to delete test database", "error", err)
	}
}

func postgresConfigFromConfig(cfg *config.Config) *postgres.PostgresConfig {
	return &postgres.PostgresConfig{
		Host:                cfg.DatabaseConfig.Host,
		Port:                cfg.DatabaseConfig.Port,
		Username:            cfg.DatabaseConfig.User,
		Password:            cfg.DatabaseConfig.Password,
		DbName:              cfg.DatabaseConfig.DbName,
		SchemaName:          cfg.DatabaseConfig.SchemaName,
		SSLMode:             cfg.DatabaseConfig.SSLMode,
		CreateDbIfNotExists: true,
	}
}
