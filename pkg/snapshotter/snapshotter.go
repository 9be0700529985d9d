package snapshotter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/internal/metrics"
	"github.com/eigenwatch/oprisk/internal/metrics/metricsTypes"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Snapshotter struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
	MetricsSink  *metrics.MetricsSink
}

func NewSnapshotter(db *gorm.DB, l *zap.Logger, cfg *config.Config, sink *metrics.MetricsSink) *Snapshotter {
	return &Snapshotter{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
		MetricsSink:  sink,
	}
}

type SnapshotResult struct {
	SnapshotDate       time.Time
	OperatorRows       int64
	StrategyRows       int64
	DelegatorShareRows int64
	Skipped            bool
}

func (r *SnapshotResult) TotalRows() int64 {
	return r.OperatorRows + r.StrategyRows + r.DelegatorShareRows
}

const operatorSnapshotQuery = `
	insert into operator_daily_snapshots (
		operator_id, snapshot_date, current_delegator_count, active_avs_count,
		active_strategy_count, current_pi_split_bips, slash_event_count_to_date,
		force_undelegation_count, total_delegated_shares, operational_days,
		is_active, created_at
	)
	select
		os.operator_id,
		@snapshotDate::date,
		os.current_delegator_count,
		os.active_avs_count,
		os.active_strategy_count,
		os.current_pi_split_bips,
		os.total_slash_events,
		os.force_undelegation_count,
		coalesce(delegated.total_shares, 0),
		os.operational_days,
		os.is_active,
		now()
	from operator_state os
	left join (
		select ods.operator_id, sum(ods.shares) as total_shares
		from operator_delegator_shares ods
		join operator_delegators od
			on od.operator_id = ods.operator_id
			and od.staker_id = ods.staker_id
		where od.is_delegated
		group by ods.operator_id
	) delegated on delegated.operator_id = os.operator_id
	on conflict (operator_id, snapshot_date) do update set
		current_delegator_count = excluded.current_delegator_count,
		active_avs_count = excluded.active_avs_count,
		active_strategy_count = excluded.active_strategy_count,
		current_pi_split_bips = excluded.current_pi_split_bips,
		slash_event_count_to_date = excluded.slash_event_count_to_date,
		force_undelegation_count = excluded.force_undelegation_count,
		total_delegated_shares = excluded.total_delegated_shares,
		operational_days = excluded.operational_days,
		is_active = excluded.is_active,
		created_at = excluded.created_at
`

const strategySnapshotQuery = `
	insert into operator_strategy_daily_snapshots (
		operator_id, strategy_id, snapshot_date, max_magnitude,
		encumbered_magnitude, utilization_rate, created_at
	)
	select
		oss.operator_id,
		oss.strategy_id,
		@snapshotDate::date,
		oss.max_magnitude,
		oss.encumbered_magnitude,
		oss.utilization_rate,
		now()
	from operator_strategy_state oss
	on conflict (operator_id, strategy_id, snapshot_date) do update set
		max_magnitude = excluded.max_magnitude,
		encumbered_magnitude = excluded.encumbered_magnitude,
		utilization_rate = excluded.utilization_rate,
		created_at = excluded.created_at
`

const delegatorSharesSnapshotQuery = `
	insert into operator_delegator_shares_snapshots (
		operator_id, staker_id, strategy_id, snapshot_date, shares,
		is_delegated, created_at
	)
	select
		ods.operator_id,
		ods.staker_id,
		ods.strategy_id,
		@snapshotDate::date,
		ods.shares,
		coalesce(od.is_delegated, false),
		now()
	from operator_delegator_shares ods
	left join operator_delegators od
		on od.operator_id = ods.operator_id
		and od.staker_id = ods.staker_id
	on conflict (operator_id, staker_id, strategy_id, snapshot_date) do update set
		shares = excluded.shares,
		is_delegated = excluded.is_delegated,
		created_at = excluded.created_at
`

// SnapshotForDate writes the three snapshot tables for the given UTC date
// from the current derived state. When the date is today and the current
// UTC hour is earlier than the configured snapshot hour, the run is skipped
// rather than failed, since the day's state is not settled yet. Re-running
// for the same date replaces the rows in full.
func (s *Snapshotter) SnapshotForDate(ctx context.Context, snapshotDate time.Time) (*SnapshotResult, error) {
	snapshotDate = snapshotDate.UTC().Truncate(24 * time.Hour)
	result := &SnapshotResult{SnapshotDate: snapshotDate}

	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	if snapshotDate.Equal(today) && now.Hour() < s.GlobalConfig.SnapshotConfig.SnapshotHourUtc {
		s.Logger.Sugar().Infow("Skipping snapshot, before configured snapshot hour",
			zap.Time("snapshotDate", snapshotDate),
			zap.Int("currentHourUtc", now.Hour()),
			zap.Int("snapshotHourUtc", s.GlobalConfig.SnapshotConfig.SnapshotHourUtc),
		)
		result.Skipped = true
		return result, nil
	}
	if snapshotDate.After(today) {
		return nil, fmt.Errorf("refusing to snapshot future date '%s'", snapshotDate.Format(time.DateOnly))
	}

	dateArg := sql.Named("snapshotDate", snapshotDate.Format(time.DateOnly))

	res := s.Db.WithContext(ctx).Exec(operatorSnapshotQuery, dateArg)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to write operator snapshots: %w", res.Error)
	}
	result.OperatorRows = res.RowsAffected

	res = s.Db.WithContext(ctx).Exec(strategySnapshotQuery, dateArg)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to write strategy snapshots: %w", res.Error)
	}
	result.StrategyRows = res.RowsAffected

	res = s.Db.WithContext(ctx).Exec(delegatorSharesSnapshotQuery, dateArg)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to write delegator share snapshots: %w", res.Error)
	}
	result.DelegatorShareRows = res.RowsAffected

	s.MetricsSink.Incr(metricsTypes.Metric_Incr_SnapshotRows, nil, float64(result.TotalRows()))
	s.Logger.Sugar().Infow("Wrote daily snapshots",
		zap.Time("snapshotDate", snapshotDate),
		zap.Int64("operatorRows", result.OperatorRows),
		zap.Int64("strategyRows", result.StrategyRows),
		zap.Int64("delegatorShareRows", result.DelegatorShareRows),
	)
	return result, nil
}

// Backfill snapshots an inclusive date range in order. Past dates never hit
// the snapshot-hour guard; only a range ending today can end with a skip.
func (s *Snapshotter) Backfill(ctx context.Context, fromDate time.Time, toDate time.Time) ([]*SnapshotResult, error) {
	fromDate = fromDate.UTC().Truncate(24 * time.Hour)
	toDate = toDate.UTC().Truncate(24 * time.Hour)
	if toDate.Before(fromDate) {
		return nil, fmt.Errorf("backfill range is inverted: %s > %s", fromDate.Format(time.DateOnly), toDate.Format(time.DateOnly))
	}

	results := make([]*SnapshotResult, 0)
	for date := fromDate; !date.After(toDate); date = date.AddDate(0, 0, 1) {
		result, err := s.SnapshotForDate(ctx, date)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// ListSnapshotDates returns the distinct snapshot dates present for an
// operator, ascending. Used by analytics to size its windows.
func (s *Snapshotter) ListSnapshotDates(ctx context.Context, operatorId string) ([]time.Time, error) {
	var snapshots []*storage.OperatorDailySnapshot
	res := s.Db.WithContext(ctx).
		Select("snapshot_date").
		Where("operator_id = ?", operatorId).
		Order("snapshot_date asc").
		Find(&snapshots)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to list snapshot dates for '%s': %w", operatorId, res.Error)
	}
	dates := make([]time.Time, 0, len(snapshots))
	for _, snap := range snapshots {
		dates = append(dates, snap.SnapshotDate)
	}
	return dates, nil
}
