package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/internal/metrics"
	"github.com/eigenwatch/oprisk/internal/metrics/metricsTypes"
	"github.com/eigenwatch/oprisk/pkg/analytics"
	"github.com/eigenwatch/oprisk/pkg/changeDetector"
	"github.com/eigenwatch/oprisk/pkg/checkpoint"
	"github.com/eigenwatch/oprisk/pkg/snapshotter"
	"github.com/eigenwatch/oprisk/pkg/stateReconstructor"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PipelineName_Reconstruction keys the checkpoint row for the detect +
// rebuild cycle. Snapshot and analytics stages are date-addressed and keep
// no cursor.
const PipelineName_Reconstruction = "operator_reconstruction"

type Stage string

const (
	Stage_Idle        Stage = "IDLE"
	Stage_Detecting   Stage = "DETECTING"
	Stage_Rebuilding  Stage = "REBUILDING"
	Stage_Snapshots   Stage = "SNAPSHOTS"
	Stage_Analytics   Stage = "ANALYTICS"
	Stage_Backfilling Stage = "BACKFILLING"
)

type StageResult struct {
	Stage       Stage
	RowsWritten int64
	Failed      int
	Duration    time.Duration
}

type Pipeline struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
	MetricsSink  *metrics.MetricsSink

	CheckpointStore *checkpoint.CheckpointStore
	ChangeDetector  *changeDetector.ChangeDetector
	Reconstructor   *stateReconstructor.StateReconstructor
	Snapshotter     *snapshotter.Snapshotter
	Analytics       *analytics.AnalyticsEngine

	stageMu sync.RWMutex
	stage   Stage
}

func NewPipeline(db *gorm.DB, l *zap.Logger, cfg *config.Config, sink *metrics.MetricsSink) *Pipeline {
	return &Pipeline{
		Db:              db,
		Logger:          l,
		GlobalConfig:    cfg,
		MetricsSink:     sink,
		CheckpointStore: checkpoint.NewCheckpointStore(db, l),
		ChangeDetector:  changeDetector.NewChangeDetector(db, l, cfg),
		Reconstructor:   stateReconstructor.NewStateReconstructor(db, l, cfg, sink),
		Snapshotter:     snapshotter.NewSnapshotter(db, l, cfg, sink),
		Analytics:       analytics.NewAnalyticsEngine(db, l, cfg, sink),
		stage:           Stage_Idle,
	}
}

// setStage is safe for concurrent use; stage transitions from different
// scheduler goroutines may interleave.
func (p *Pipeline) setStage(stage Stage) {
	p.stageMu.Lock()
	previous := p.stage
	p.stage = stage
	p.stageMu.Unlock()

	p.Logger.Sugar().Debugw("Pipeline stage transition",
		zap.String("from", string(previous)),
		zap.String("to", string(stage)),
	)
}

func (p *Pipeline) Stage() Stage {
	p.stageMu.RLock()
	defer p.stageMu.RUnlock()
	return p.stage
}

// retryTransient retries fn with a constant delay up to the configured
// attempt cap. Checkpoint regressions and context cancellation are
// permanent and fail immediately.
func (p *Pipeline) retryTransient(ctx context.Context, fn func() error) error {
	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, checkpoint.ErrRegression) || errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(p.GlobalConfig.PipelineConfig.RetryDelay()),
		uint64(p.GlobalConfig.PipelineConfig.MaxRetries),
	)
	return backoff.Retry(wrapped, backoff.WithContext(policy, ctx))
}

// RunReconstruction executes one detect-and-rebuild cycle: read the
// checkpoint, find changed operators, rebuild them in bounded batches, then
// advance the cursor. The cursor advances even when some operators failed;
// their events are still in place, so the next cycle's detection re-finds
// and repairs them.
func (p *Pipeline) RunReconstruction(ctx context.Context) (*StageResult, error) {
	start := time.Now()
	runId := uuid.New().String()
	p.MetricsSink.Incr(metricsTypes.Metric_Incr_StageRun, stageLabels(Stage_Rebuilding), 1)

	p.setStage(Stage_Detecting)
	defer p.setStage(Stage_Idle)

	cp, err := p.CheckpointStore.Get(ctx, PipelineName_Reconstruction)
	if err != nil {
		return p.fail(Stage_Detecting, start, err)
	}
	if !cp.LastProcessedAt.IsZero() {
		p.MetricsSink.Gauge(metricsTypes.Metric_Gauge_CheckpointAge, time.Since(cp.LastProcessedAt).Seconds(), []metricsTypes.MetricsLabel{
			{Name: "pipeline", Value: PipelineName_Reconstruction},
		})
	}

	var changes *changeDetector.ChangeSet
	err = p.retryTransient(ctx, func() error {
		var detectErr error
		changes, detectErr = p.ChangeDetector.DetectChanges(ctx, cp)
		return detectErr
	})
	if err != nil {
		return p.fail(Stage_Detecting, start, fmt.Errorf("change detection failed: %w", err))
	}
	p.MetricsSink.Gauge(metricsTypes.Metric_Gauge_ChangedOperators, float64(len(changes.OperatorIds)), nil)

	p.setStage(Stage_Rebuilding)

	rebuilt := 0
	failedOperators := make([]string, 0)
	var eventsProcessed uint64

	batchSize := p.GlobalConfig.PipelineConfig.MaxOperatorsPerBatch
	if batchSize < 1 {
		batchSize = 1
	}
	for offset := 0; offset < len(changes.OperatorIds); offset += batchSize {
		end := offset + batchSize
		if end > len(changes.OperatorIds) {
			end = len(changes.OperatorIds)
		}
		batch, err := p.Reconstructor.RebuildOperators(ctx, changes.OperatorIds[offset:end])
		if err != nil {
			return p.fail(Stage_Rebuilding, start, err)
		}
		rebuilt += len(batch.Rebuilt)
		failedOperators = append(failedOperators, batch.FailedOperators...)
		eventsProcessed += batch.EventsProcessed
	}

	_, err = p.CheckpointStore.Advance(ctx, PipelineName_Reconstruction, checkpoint.Advance{
		To:                 changes.CandidateCursor,
		ToBlock:            changes.CandidateBlock,
		OperatorsProcessed: uint64(rebuilt),
		EventsProcessed:    eventsProcessed,
		RunDuration:        time.Since(start),
		Metadata: &checkpoint.RunMetadata{
			RunId:            runId,
			ChangedOperators: len(changes.OperatorIds),
			FailedOperators:  failedOperators,
		},
	})
	if err != nil {
		return p.fail(Stage_Rebuilding, start, err)
	}

	result := &StageResult{
		Stage:       Stage_Rebuilding,
		RowsWritten: int64(rebuilt),
		Failed:      len(failedOperators),
		Duration:    time.Since(start),
	}
	p.MetricsSink.Timing(metricsTypes.Metric_Timing_StageDuration, result.Duration, stageLabels(Stage_Rebuilding))
	p.Logger.Sugar().Infow("Reconstruction cycle complete",
		zap.String("runId", runId),
		zap.Int("changedOperators", len(changes.OperatorIds)),
		zap.Int("rebuilt", rebuilt),
		zap.Int("failed", len(failedOperators)),
		zap.Uint64("eventsProcessed", eventsProcessed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// RunSnapshots writes the daily snapshots for one date.
func (p *Pipeline) RunSnapshots(ctx context.Context, snapshotDate time.Time) (*StageResult, error) {
	start := time.Now()
	p.MetricsSink.Incr(metricsTypes.Metric_Incr_StageRun, stageLabels(Stage_Snapshots), 1)
	p.setStage(Stage_Snapshots)
	defer p.setStage(Stage_Idle)

	var snapResult *snapshotter.SnapshotResult
	err := p.retryTransient(ctx, func() error {
		var snapErr error
		snapResult, snapErr = p.Snapshotter.SnapshotForDate(ctx, snapshotDate)
		return snapErr
	})
	if err != nil {
		return p.fail(Stage_Snapshots, start, err)
	}

	result := &StageResult{
		Stage:       Stage_Snapshots,
		RowsWritten: snapResult.TotalRows(),
		Duration:    time.Since(start),
	}
	p.MetricsSink.Timing(metricsTypes.Metric_Timing_StageDuration, result.Duration, stageLabels(Stage_Snapshots))
	return result, nil
}

// RunAnalytics computes analytics for one date.
func (p *Pipeline) RunAnalytics(ctx context.Context, analyticsDate time.Time) (*StageResult, error) {
	start := time.Now()
	p.MetricsSink.Incr(metricsTypes.Metric_Incr_StageRun, stageLabels(Stage_Analytics), 1)
	p.setStage(Stage_Analytics)
	defer p.setStage(Stage_Idle)

	var computeResult *analytics.ComputeResult
	err := p.retryTransient(ctx, func() error {
		var computeErr error
		computeResult, computeErr = p.Analytics.ComputeForDate(ctx, analyticsDate)
		return computeErr
	})
	if err != nil {
		return p.fail(Stage_Analytics, start, err)
	}

	result := &StageResult{
		Stage:       Stage_Analytics,
		RowsWritten: int64(computeResult.RecordsWritten),
		Failed:      len(computeResult.FailedOperators),
		Duration:    time.Since(start),
	}
	p.MetricsSink.Timing(metricsTypes.Metric_Timing_StageDuration, result.Duration, stageLabels(Stage_Analytics))
	return result, nil
}

// RunBackfill re-runs snapshots and analytics for every date in the
// inclusive range in order, snapshots first so each analytics day sees its
// full history. Safe to re-run; both stages replace their rows.
func (p *Pipeline) RunBackfill(ctx context.Context, fromDate time.Time, toDate time.Time) (*StageResult, error) {
	start := time.Now()
	p.MetricsSink.Incr(metricsTypes.Metric_Incr_StageRun, stageLabels(Stage_Backfilling), 1)
	p.setStage(Stage_Backfilling)
	defer p.setStage(Stage_Idle)

	snapResults, err := p.Snapshotter.Backfill(ctx, fromDate, toDate)
	if err != nil {
		return p.fail(Stage_Backfilling, start, err)
	}
	var rows int64
	for _, r := range snapResults {
		rows += r.TotalRows()
	}

	computeResults, err := p.Analytics.ComputeRange(ctx, fromDate, toDate)
	if err != nil {
		return p.fail(Stage_Backfilling, start, err)
	}
	failed := 0
	for _, r := range computeResults {
		rows += int64(r.RecordsWritten)
		failed += len(r.FailedOperators)
	}

	result := &StageResult{
		Stage:       Stage_Backfilling,
		RowsWritten: rows,
		Failed:      failed,
		Duration:    time.Since(start),
	}
	p.MetricsSink.Timing(metricsTypes.Metric_Timing_StageDuration, result.Duration, stageLabels(Stage_Backfilling))
	return result, nil
}

func (p *Pipeline) fail(stage Stage, start time.Time, err error) (*StageResult, error) {
	p.MetricsSink.Incr(metricsTypes.Metric_Incr_StageFailure, stageLabels(stage), 1)
	p.Logger.Sugar().Errorw("Pipeline stage failed",
		zap.String("stage", string(stage)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err),
	)
	return nil, err
}

func stageLabels(stage Stage) []metricsTypes.MetricsLabel {
	return []metricsTypes.MetricsLabel{
		{Name: "stage", Value: string(stage)},
	}
}
