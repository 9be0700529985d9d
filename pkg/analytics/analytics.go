package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/internal/metrics"
	"github.com/eigenwatch/oprisk/internal/metrics/metricsTypes"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AnalyticsEngine struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
	MetricsSink  *metrics.MetricsSink
}

func NewAnalyticsEngine(db *gorm.DB, l *zap.Logger, cfg *config.Config, sink *metrics.MetricsSink) *AnalyticsEngine {
	return &AnalyticsEngine{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
		MetricsSink:  sink,
	}
}

type ComputeResult struct {
	AnalyticsDate    time.Time
	RecordsWritten   int
	InsufficientData int
	FailedOperators  []string
}

// ComputeForDate derives analytics rows for every operator that has a daily
// snapshot on the given date. Operators with fewer snapshot days than
// min-data-points still get a row, flagged has_sufficient_data=false with
// no metrics, so downstream consumers see the gap explicitly instead of a
// silent hole. Rows upsert on (operator_id, analytics_date).
func (ae *AnalyticsEngine) ComputeForDate(ctx context.Context, analyticsDate time.Time) (*ComputeResult, error) {
	analyticsDate = analyticsDate.UTC().Truncate(24 * time.Hour)
	result := &ComputeResult{AnalyticsDate: analyticsDate}

	var snapshots []*storage.OperatorDailySnapshot
	res := ae.Db.WithContext(ctx).
		Where("snapshot_date = ?", analyticsDate.Format(time.DateOnly)).
		Find(&snapshots)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list snapshots for '%s': %w", analyticsDate.Format(time.DateOnly), res.Error)
	}

	for _, snapshot := range snapshots {
		record, err := ae.computeOperator(ctx, snapshot, analyticsDate)
		if err != nil {
			ae.Logger.Sugar().Errorw("Failed to compute analytics for operator",
				zap.String("operatorId", snapshot.OperatorId),
				zap.Time("analyticsDate", analyticsDate),
				zap.Error(err),
			)
			result.FailedOperators = append(result.FailedOperators, snapshot.OperatorId)
			continue
		}

		upsert := ae.Db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(record)
		if upsert.Error != nil {
			ae.Logger.Sugar().Errorw("Failed to write analytics record",
				zap.String("operatorId", snapshot.OperatorId),
				zap.Error(upsert.Error),
			)
			result.FailedOperators = append(result.FailedOperators, snapshot.OperatorId)
			continue
		}
		result.RecordsWritten++
		if !record.HasSufficientData {
			result.InsufficientData++
		}
	}

	ae.MetricsSink.Incr(metricsTypes.Metric_Incr_AnalyticsRecords, nil, float64(result.RecordsWritten))
	ae.Logger.Sugar().Infow("Computed analytics",
		zap.Time("analyticsDate", analyticsDate),
		zap.Int("records", result.RecordsWritten),
		zap.Int("insufficientData", result.InsufficientData),
		zap.Int("failed", len(result.FailedOperators)),
	)
	return result, nil
}

func (ae *AnalyticsEngine) computeOperator(ctx context.Context, snapshot *storage.OperatorDailySnapshot, analyticsDate time.Time) (*storage.OperatorAnalytics, error) {
	start := time.Now()

	record := &storage.OperatorAnalytics{
		OperatorId:           snapshot.OperatorId,
		AnalyticsDate:        analyticsDate,
		DelegatorCount:       snapshot.CurrentDelegatorCount,
		TotalDelegatedShares: snapshot.TotalDelegatedShares,
		CalculatedAt:         time.Now().UTC(),
	}

	series, err := ae.loadShareSeries(ctx, snapshot.OperatorId, analyticsDate)
	if err != nil {
		return nil, err
	}
	record.SnapshotDaysAvailable = uint64(len(series))

	if len(series) < ae.GlobalConfig.AnalyticsConfig.MinDataPoints {
		ae.Logger.Sugar().Debugw("Insufficient snapshot history for analytics",
			zap.String("operatorId", snapshot.OperatorId),
			zap.Int("snapshotDays", len(series)),
			zap.Int("minDataPoints", ae.GlobalConfig.AnalyticsConfig.MinDataPoints),
		)
		record.HasSufficientData = false
		record.CalculationDurationMs = time.Since(start).Milliseconds()
		return record, nil
	}

	for _, windowDays := range ae.GlobalConfig.AnalyticsConfig.VolatilityWindows {
		volatility := WindowedVolatility(series, windowDays)
		switch windowDays {
		case 7:
			record.Volatility7d = &volatility
		case 30:
			record.Volatility30d = &volatility
		case 90:
			record.Volatility90d = &volatility
		default:
			ae.Logger.Sugar().Debugw("No analytics column for volatility window",
				zap.Int("windowDays", windowDays),
			)
		}
	}

	delegatorShares, err := ae.loadDelegatorShares(ctx, snapshot.OperatorId, analyticsDate)
	if err != nil {
		return nil, err
	}
	hhi := HhiBips(delegatorShares)
	gini := Gini(delegatorShares)
	top1 := TopNShare(delegatorShares, 1)
	top5 := TopNShare(delegatorShares, 5)
	effective := EffectiveHolderCount(delegatorShares)
	record.HhiBips = &hhi
	record.GiniCoefficient = &gini
	record.Top1Share = &top1
	record.Top5Share = &top5
	record.EffectiveHolderCount = &effective

	state, err := ae.loadOperatorState(ctx, snapshot.OperatorId)
	if err != nil {
		return nil, err
	}

	endOfDay := analyticsDate.Add(24 * time.Hour)
	daysSinceLastSlash := -1.0
	if state != nil && state.LastSlashedAt != nil {
		daysSinceLastSlash = endOfDay.Sub(*state.LastSlashedAt).Hours() / 24
	}
	daysSinceLastActivity := 9999.0
	if state != nil && state.LastActivityAt != nil {
		daysSinceLastActivity = endOfDay.Sub(*state.LastActivityAt).Hours() / 24
	}

	scores := ComponentScores{
		Slashing:        SlashingScore(snapshot.SlashEventCountToDate, daysSinceLastSlash),
		Concentration:   ConcentrationScore(hhi),
		Stability:       StabilityScore(ae.stabilityVolatility(record)),
		DelegatorHealth: DelegatorHealthScore(snapshot.CurrentDelegatorCount),
	}
	composite := CompositeRiskScore(scores, ae.GlobalConfig.RiskWeights)
	confidence := ConfidenceScore(snapshot.OperationalDays, snapshot.CurrentDelegatorCount, daysSinceLastActivity)

	record.SlashingScore = &scores.Slashing
	record.ConcentrationScore = &scores.Concentration
	record.StabilityScore = &scores.Stability
	record.DelegatorHealthScore = &scores.DelegatorHealth
	record.RiskScore = &composite
	record.RiskLevel = RiskLevelForScore(composite)
	record.ConfidenceScore = &confidence
	record.HasSufficientData = HasSufficientData(snapshot.OperationalDays, snapshot.CurrentDelegatorCount)
	record.CalculationDurationMs = time.Since(start).Milliseconds()
	return record, nil
}

// stabilityVolatility picks the volatility feeding the stability score: the
// configured window closest to 30 days.
func (ae *AnalyticsEngine) stabilityVolatility(record *storage.OperatorAnalytics) float64 {
	candidates := []struct {
		days  int
		value *float64
	}{
		{7, record.Volatility7d},
		{30, record.Volatility30d},
		{90, record.Volatility90d},
	}

	best := 0.0
	bestDistance := -1
	for _, c := range candidates {
		if c.value == nil {
			continue
		}
		distance := c.days - 30
		if distance < 0 {
			distance = -distance
		}
		if bestDistance == -1 || distance < bestDistance {
			best = *c.value
			bestDistance = distance
		}
	}
	return best
}

// loadShareSeries returns total delegated shares per snapshot day up to and
// including the analytics date, oldest first.
func (ae *AnalyticsEngine) loadShareSeries(ctx context.Context, operatorId string, analyticsDate time.Time) ([]float64, error) {
	var snapshots []*storage.OperatorDailySnapshot
	res := ae.Db.WithContext(ctx).
		Where("operator_id = ? and snapshot_date <= ?", operatorId, analyticsDate.Format(time.DateOnly)).
		Order("snapshot_date asc").
		Find(&snapshots)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to load snapshot series for '%s': %w", operatorId, res.Error)
	}

	series := make([]float64, 0, len(snapshots))
	for _, snap := range snapshots {
		series = append(series, snap.TotalDelegatedShares.InexactFloat64())
	}
	return series, nil
}

// loadDelegatorShares returns one aggregate share value per delegated
// staker on the analytics date.
func (ae *AnalyticsEngine) loadDelegatorShares(ctx context.Context, operatorId string, analyticsDate time.Time) ([]float64, error) {
	type stakerShares struct {
		StakerId    string
		TotalShares float64
	}
	var rows []stakerShares
	res := ae.Db.WithContext(ctx).Raw(`
		select staker_id, sum(shares) as total_shares
		from operator_delegator_shares_snapshots
		where operator_id = ?
			and snapshot_date = ?
			and is_delegated
		group by staker_id
	`, operatorId, analyticsDate.Format(time.DateOnly)).Scan(&rows)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to load delegator shares for '%s': %w", operatorId, res.Error)
	}

	shares := make([]float64, 0, len(rows))
	for _, row := range rows {
		shares = append(shares, row.TotalShares)
	}
	return shares, nil
}

func (ae *AnalyticsEngine) loadOperatorState(ctx context.Context, operatorId string) (*storage.OperatorState, error) {
	var state storage.OperatorState
	res := ae.Db.WithContext(ctx).First(&state, "operator_id = ?", operatorId)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load operator state for '%s': %w", operatorId, res.Error)
	}
	return &state, nil
}

// ComputeRange runs analytics for an inclusive date range, oldest first.
func (ae *AnalyticsEngine) ComputeRange(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*ComputeResult, error) {
	fromDate = fromDate.UTC().Truncate(24 * time.Hour)
	toDate = toDate.UTC().Truncate(24 * time.Hour)
	if toDate.Before(fromDate) {
		return nil, fmt.Errorf("analytics range is inverted: %s > %s", fromDate.Format(time.DateOnly), toDate.Format(time.DateOnly))
	}

	results := make([]*ComputeResult, 0)
	for date := fromDate; !date.After(toDate); date = date.AddDate(0, 0, 1) {
		result, err := ae.ComputeForDate(ctx, date)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}
