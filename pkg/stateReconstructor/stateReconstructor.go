package stateReconstructor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/internal/metrics"
	"github.com/eigenwatch/oprisk/internal/metrics/metricsTypes"
	"github.com/eigenwatch/oprisk/pkg/postgres/helpers"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type StateReconstructor struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
	MetricsSink  *metrics.MetricsSink
}

func NewStateReconstructor(db *gorm.DB, l *zap.Logger, cfg *config.Config, sink *metrics.MetricsSink) *StateReconstructor {
	return &StateReconstructor{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
		MetricsSink:  sink,
	}
}

// RebuildResult reports one operator's rebuild.
type RebuildResult struct {
	OperatorId      string
	EventsProcessed uint64
	Duration        time.Duration
}

// BatchResult reports one batch. FailedOperators are isolated failures;
// their events remain in place, so a later cycle repairs them.
type BatchResult struct {
	Rebuilt         []string
	FailedOperators []string
	EventsProcessed uint64
}

// RebuildOperator recomputes every derived row for one operator from its
// full event history and replaces the stored profile in a single
// transaction. Running it twice with no new events yields identical rows.
func (sr *StateReconstructor) RebuildOperator(ctx context.Context, operatorId string) (*RebuildResult, error) {
	start := time.Now()

	history, err := LoadOperatorHistory(ctx, sr.Db, operatorId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	strategyStates := buildStrategyStates(history, now)
	relationships := buildAvsRelationships(history, now)
	delegators := buildDelegators(history, now)
	delegatorShares := buildDelegatorShares(history, now)
	commissionRates := buildCommissionRates(history, now)
	incidents := buildSlashingIncidents(history, now, sr.Logger)
	state := buildOperatorState(history, relationships, delegators, now)

	if len(history.Registrations) == 0 && history.EventCount() > 0 {
		sr.Logger.Sugar().Warnw("Operator has activity but no registration event",
			zap.String("operatorId", operatorId),
			zap.Uint64("eventCount", history.EventCount()),
		)
	}

	_, err = helpers.WrapTxAndCommit(func(tx *gorm.DB) (interface{}, error) {
		if err := replaceRows(tx, operatorId, &storage.OperatorStrategyState{}, toAnySlice(strategyStates)); err != nil {
			return nil, fmt.Errorf("failed to replace strategy state: %w", err)
		}
		if err := replaceRows(tx, operatorId, &storage.OperatorAvsRelationship{}, toAnySlice(relationships)); err != nil {
			return nil, fmt.Errorf("failed to replace avs relationships: %w", err)
		}
		if err := replaceRows(tx, operatorId, &storage.OperatorDelegator{}, toAnySlice(delegators)); err != nil {
			return nil, fmt.Errorf("failed to replace delegators: %w", err)
		}
		if err := replaceRows(tx, operatorId, &storage.OperatorDelegatorShares{}, toAnySlice(delegatorShares)); err != nil {
			return nil, fmt.Errorf("failed to replace delegator shares: %w", err)
		}
		if err := replaceRows(tx, operatorId, &storage.OperatorCommissionRate{}, toAnySlice(commissionRates)); err != nil {
			return nil, fmt.Errorf("failed to replace commission rates: %w", err)
		}
		if err := replaceRows(tx, operatorId, &storage.OperatorSlashingIncident{}, toAnySlice(incidents)); err != nil {
			return nil, fmt.Errorf("failed to replace slashing incidents: %w", err)
		}

		res := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(state)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to upsert operator state: %w", res.Error)
		}
		return nil, nil
	}, sr.Db.WithContext(ctx), nil)
	if err != nil {
		return nil, err
	}

	return &RebuildResult{
		OperatorId:      operatorId,
		EventsProcessed: history.EventCount(),
		Duration:        time.Since(start),
	}, nil
}

// replaceRows deletes the operator's existing rows and inserts the rebuilt
// set, so keys absent from the new state disappear instead of lingering.
func replaceRows(tx *gorm.DB, operatorId string, model interface{}, rows []interface{}) error {
	if res := tx.Where("operator_id = ?", operatorId).Delete(model); res.Error != nil {
		return res.Error
	}
	for _, row := range rows {
		if res := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(row); res.Error != nil {
			return res.Error
		}
	}
	return nil
}

func toAnySlice[T any](items []*T) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// RebuildOperators rebuilds a set of operators with bounded concurrency.
// Failures are isolated per operator; the batch always runs to completion.
// Each rebuild commits in its own transaction, so CommitBatchSize bounds the
// number of rebuild transactions open at once. The size of the incoming set
// is bounded by the caller with MaxOperatorsPerBatch.
func (sr *StateReconstructor) RebuildOperators(ctx context.Context, operatorIds []string) (*BatchResult, error) {
	workers := sr.GlobalConfig.PipelineConfig.CommitBatchSize
	if workers < 1 {
		workers = 1
	}

	var eventsProcessed atomic.Uint64
	var mu sync.Mutex
	rebuilt := make([]string, 0, len(operatorIds))
	failed := make([]string, 0)

	pool := pond.NewPool(workers)
	group := pool.NewGroupContext(ctx)

	for _, operatorId := range operatorIds {
		id := operatorId
		group.Submit(func() {
			result, err := sr.RebuildOperator(ctx, id)
			if err != nil {
				sr.Logger.Sugar().Errorw("Failed to rebuild operator",
					zap.String("operatorId", id),
					zap.Error(err),
				)
				sr.MetricsSink.Incr(metricsTypes.Metric_Incr_OperatorFailed, nil, 1)
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
				return
			}
			eventsProcessed.Add(result.EventsProcessed)
			sr.MetricsSink.Incr(metricsTypes.Metric_Incr_OperatorRebuilt, nil, 1)
			mu.Lock()
			rebuilt = append(rebuilt, id)
			mu.Unlock()
		})
	}

	if err := group.Wait(); err != nil {
		sr.Logger.Sugar().Errorw("Rebuild batch group returned error", zap.Error(err))
	}
	pool.StopAndWait()

	sort.Strings(rebuilt)
	sort.Strings(failed)
	return &BatchResult{
		Rebuilt:         rebuilt,
		FailedOperators: failed,
		EventsProcessed: eventsProcessed.Load(),
	}, nil
}
