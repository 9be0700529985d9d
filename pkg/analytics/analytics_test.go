package analytics

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/eigenwatch/oprisk/internal/logger"
	"github.com/eigenwatch/oprisk/internal/metrics"
	"github.com/eigenwatch/oprisk/internal/tests"
	"github.com/eigenwatch/oprisk/pkg/postgres/migrations"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func setupAnalyticsTest(t *testing.T) (*AnalyticsEngine, *gorm.DB, string) {
	if !tests.DatabaseTestsEnabled() {
		t.Skip("database tests disabled, set TEST_DATABASE=true to run")
	}

	cfg := tests.GetConfig()
	cfg.AnalyticsConfig.MinDataPoints = 7
	cfg.AnalyticsConfig.VolatilityWindows = []int{7, 30, 90}
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: cfg.Debug})

	dbName, db, grm, err := tests.GetTestDatabaseConnection(cfg)
	assert.Nil(t, err)

	migrator := migrations.NewMigrator(db.Db, grm, l)
	if err := migrator.MigrateAll(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	sink, err := metrics.NewMetricsSink(&metrics.MetricsSinkConfig{}, nil)
	assert.Nil(t, err)

	operatorId := fmt.Sprintf("0xtest_%s", uuid.New().String())
	t.Cleanup(func() {
		tests.TeardownTestDatabase(dbName, cfg, grm, l)
	})

	return NewAnalyticsEngine(grm, l, cfg, sink), grm, operatorId
}

// seedSnapshotHistory writes one daily snapshot per day ending on
// analyticsDate, plus delegator share snapshots for the final day.
func seedSnapshotHistory(t *testing.T, grm *gorm.DB, operatorId string, analyticsDate time.Time, days int) {
	for i := days - 1; i >= 0; i-- {
		date := analyticsDate.AddDate(0, 0, -i)
		res := grm.Create(&storage.OperatorDailySnapshot{
			OperatorId:            operatorId,
			SnapshotDate:          date,
			CurrentDelegatorCount: 3,
			OperationalDays:       uint64(40 + days - i),
			TotalDelegatedShares:  decimal.NewFromInt(int64(1000 + 10*i)),
			IsActive:              true,
			CreatedAt:             time.Now().UTC(),
		})
		assert.Nil(t, res.Error)
	}

	for i, staker := range []string{"0xstaker1", "0xstaker2", "0xstaker3"} {
		res := grm.Create(&storage.OperatorDelegatorSharesSnapshot{
			OperatorId:   operatorId,
			StakerId:     staker,
			StrategyId:   "0xstrat1",
			SnapshotDate: analyticsDate,
			Shares:       decimal.NewFromInt(int64(100 * (i + 1))),
			IsDelegated:  true,
			CreatedAt:    time.Now().UTC(),
		})
		assert.Nil(t, res.Error)
	}
}

func Test_AnalyticsEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("Full history produces a complete analytics row", func(t *testing.T) {
		ae, grm, operatorId := setupAnalyticsTest(t)

		analyticsDate := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
		seedSnapshotHistory(t, grm, operatorId, analyticsDate, 35)

		lastActivity := analyticsDate.Add(-2 * 24 * time.Hour)
		res := grm.Create(&storage.OperatorState{
			OperatorId:            operatorId,
			CurrentDelegatorCount: 3,
			OperationalDays:       75,
			LastActivityAt:        &lastActivity,
			IsActive:              true,
			RebuiltAt:             time.Now().UTC(),
		})
		assert.Nil(t, res.Error)

		result, err := ae.ComputeForDate(ctx, analyticsDate)
		assert.Nil(t, err)
		assert.GreaterOrEqual(t, result.RecordsWritten, 1)
		assert.Empty(t, result.FailedOperators)

		var record storage.OperatorAnalytics
		q := grm.First(&record, "operator_id = ? and analytics_date = ?", operatorId, analyticsDate.Format(time.DateOnly))
		assert.Nil(t, q.Error)

		assert.True(t, record.HasSufficientData)
		assert.Equal(t, uint64(35), record.SnapshotDaysAvailable)
		assert.NotNil(t, record.Volatility7d)
		assert.NotNil(t, record.Volatility30d)
		assert.NotNil(t, record.Volatility90d)

		// last seven daily values run 1060 down to 1000 in steps of 10
		assert.InDelta(t, math.Sqrt(2800.0/6.0)/1030.0, *record.Volatility7d, 1e-9)

		// shares 100/200/300: hhi = 10000*(1+4+9)/36
		assert.NotNil(t, record.HhiBips)
		assert.InDelta(t, 10000.0*14.0/36.0, *record.HhiBips, 1e-6)
		assert.InDelta(t, 0.5, *record.Top1Share, 1e-9)
		assert.InDelta(t, 1.0, *record.Top5Share, 1e-9)

		assert.NotNil(t, record.RiskScore)
		assert.GreaterOrEqual(t, *record.RiskScore, 0.0)
		assert.LessOrEqual(t, *record.RiskScore, 100.0)
		assert.Equal(t, RiskLevelForScore(*record.RiskScore), record.RiskLevel)
		// no slashing seeded
		assert.Equal(t, 100.0, *record.SlashingScore)
	})

	t.Run("Sparse history still writes a row flagged insufficient", func(t *testing.T) {
		ae, grm, operatorId := setupAnalyticsTest(t)

		analyticsDate := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
		seedSnapshotHistory(t, grm, operatorId, analyticsDate, 2)

		result, err := ae.ComputeForDate(ctx, analyticsDate)
		assert.Nil(t, err)
		assert.GreaterOrEqual(t, result.InsufficientData, 1)

		var record storage.OperatorAnalytics
		q := grm.First(&record, "operator_id = ? and analytics_date = ?", operatorId, analyticsDate.Format(time.DateOnly))
		assert.Nil(t, q.Error)

		assert.False(t, record.HasSufficientData)
		assert.Equal(t, uint64(2), record.SnapshotDaysAvailable)
		assert.Nil(t, record.Volatility7d)
		assert.Nil(t, record.RiskScore)
	})

	t.Run("Analytics turn numeric once the minimum snapshot days accrue", func(t *testing.T) {
		ae, grm, operatorId := setupAnalyticsTest(t)

		finalDate := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
		seedSnapshotHistory(t, grm, operatorId, finalDate, 10)

		for day := 1; day <= 10; day++ {
			date := finalDate.AddDate(0, 0, day-10)
			_, err := ae.ComputeForDate(ctx, date)
			assert.Nil(t, err)

			var record storage.OperatorAnalytics
			q := grm.First(&record, "operator_id = ? and analytics_date = ?", operatorId, date.Format(time.DateOnly))
			assert.Nil(t, q.Error)
			assert.Equal(t, uint64(day), record.SnapshotDaysAvailable, "day %d", day)

			if day < 7 {
				assert.False(t, record.HasSufficientData, "day %d", day)
				assert.Nil(t, record.Volatility7d, "day %d", day)
				assert.Nil(t, record.RiskScore, "day %d", day)
			} else {
				assert.True(t, record.HasSufficientData, "day %d", day)
				assert.NotNil(t, record.Volatility7d, "day %d", day)
				assert.NotNil(t, record.RiskScore, "day %d", day)
			}
		}
	})

	t.Run("Re-running a date upserts rather than duplicating", func(t *testing.T) {
		ae, grm, operatorId := setupAnalyticsTest(t)

		analyticsDate := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
		seedSnapshotHistory(t, grm, operatorId, analyticsDate, 10)

		_, err := ae.ComputeForDate(ctx, analyticsDate)
		assert.Nil(t, err)
		_, err = ae.ComputeForDate(ctx, analyticsDate)
		assert.Nil(t, err)

		var count int64
		grm.Model(&storage.OperatorAnalytics{}).
			Where("operator_id = ?", operatorId).
			Count(&count)
		assert.Equal(t, int64(1), count)
	})
}
