package migrations

import (
	"database/sql"
	"fmt"
	"time"

	_202502101200_bootstrapDb "github.com/eigenwatch/oprisk/pkg/postgres/migrations/202502101200_bootstrapDb"
	_202502101315_operatorStateTables "github.com/eigenwatch/oprisk/pkg/postgres/migrations/202502101315_operatorStateTables"
	_202502101430_snapshotTables "github.com/eigenwatch/oprisk/pkg/postgres/migrations/202502101430_snapshotTables"
	_202502101545_analyticsTables "github.com/eigenwatch/oprisk/pkg/postgres/migrations/202502101545_analyticsTables"
	_202502111012_eventIngestIndexes "github.com/eigenwatch/oprisk/pkg/postgres/migrations/202502111012_eventIngestIndexes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Migration interface {
	Up(db *sql.DB, grm *gorm.DB) error
	GetName() string
}

type Migrator struct {
	Db     *sql.DB
	GDb    *gorm.DB
	Logger *zap.Logger
}

func NewMigrator(db *sql.DB, gDb *gorm.DB, l *zap.Logger) *Migrator {
	_ = gDb.AutoMigrate(&Migrations{})
	return &Migrator{
		Db:     db,
		GDb:    gDb,
		Logger: l,
	}
}

func (m *Migrator) MigrateAll() error {
	migrations := []Migration{
		&_202502101200_bootstrapDb.Migration{},
		&_202502101315_operatorStateTables.Migration{},
		&_202502101430_snapshotTables.Migration{},
		&_202502101545_analyticsTables.Migration{},
		&_202502111012_eventIngestIndexes.Migration{},
	}

	for _, migration := range migrations {
		err := m.Migrate(migration)
		if err != nil {
			panic(err)
		}
	}
	return nil
}

func (m *Migrator) Migrate(migration Migration) error {
	name := migration.GetName()

	// find migration by name
	var migrationRecord Migrations
	result := m.GDb.Find(&migrationRecord, "name = ?", name).Limit(1)

	if result.Error == nil && result.RowsAffected == 0 {
		m.Logger.Sugar().Infof("Running migration '%s'", name)
		// run migration
		err := migration.Up(m.Db, m.GDb)
		if err != nil {
			m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to run migration '%s'", name), zap.Error(err))
			return err
		}

		// record migration
		migrationRecord = Migrations{
			Name: name,
		}
		result = m.GDb.Create(&migrationRecord)
		if result.Error != nil {
			m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to record migration '%s'", name), zap.Error(result.Error))
			return result.Error
		}
	} else if result.Error != nil {
		m.Logger.Sugar().Errorw(fmt.Sprintf("Failed to find migration '%s'", name), zap.Error(result.Error))
		return result.Error
	} else if result.RowsAffected > 0 {
		m.Logger.Sugar().Infof("Migration %s already run", name)
		return nil
	}
	return nil
}

type Migrations struct {
	Name      string    `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"default:current_timestamp;type:timestamp with time zone"`
	UpdatedAt time.Time `gorm:"default:null;type:timestamp with time zone"`
}
