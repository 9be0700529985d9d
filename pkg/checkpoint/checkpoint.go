package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eigenwatch/oprisk/pkg/postgres"
	"github.com/eigenwatch/oprisk/pkg/postgres/helpers"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrRegression is returned when an advance would move a checkpoint
// backwards. A backwards cursor silently re-hides events from change
// detection, so callers must treat it as fatal rather than retry.
var ErrRegression = errors.New("checkpoint regression")

// RunMetadata is stored as jsonb alongside each checkpoint advance.
type RunMetadata struct {
	RunId            string   `json:"run_id"`
	ChangedOperators int      `json:"changed_operators"`
	FailedOperators  []string `json:"failed_operators,omitempty"`
	TriggeredBy      string   `json:"triggered_by,omitempty"`
}

type Advance struct {
	To                 time.Time
	ToBlock            uint64
	OperatorsProcessed uint64
	EventsProcessed    uint64
	RunDuration        time.Duration
	Metadata           *RunMetadata
}

type CheckpointStore struct {
	Db     *gorm.DB
	Logger *zap.Logger
}

func NewCheckpointStore(db *gorm.DB, l *zap.Logger) *CheckpointStore {
	return &CheckpointStore{
		Db:     db,
		Logger: l,
	}
}

// Get returns the checkpoint for the named pipeline, creating a zero-valued
// one on first use so a fresh database processes the full event history.
func (cs *CheckpointStore) Get(ctx context.Context, pipelineName string) (*storage.PipelineCheckpoint, error) {
	var cp storage.PipelineCheckpoint
	res := cs.Db.WithContext(ctx).First(&cp, "pipeline_name = ?", pipelineName)
	if res.Error == nil {
		return &cp, nil
	}
	if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load checkpoint '%s': %w", pipelineName, res.Error)
	}

	cp = storage.PipelineCheckpoint{
		PipelineName:    pipelineName,
		LastProcessedAt: time.Time{},
		RunMetadata:     "{}",
	}
	if res := cs.Db.WithContext(ctx).Create(&cp); res.Error != nil {
		if postgres.IsDuplicateKeyError(res.Error) {
			// concurrent first use, re-read
			return cs.Get(ctx, pipelineName)
		}
		return nil, fmt.Errorf("failed to create checkpoint '%s': %w", pipelineName, res.Error)
	}
	cs.Logger.Sugar().Infow("Created new pipeline checkpoint", zap.String("pipelineName", pipelineName))
	return &cp, nil
}

// Advance moves the cursor forward. The cursor is monotonic non-decreasing;
// an advance to an earlier timestamp or block returns ErrRegression and
// leaves the row untouched.
func (cs *CheckpointStore) Advance(ctx context.Context, pipelineName string, adv Advance) (*storage.PipelineCheckpoint, error) {
	metadataJson := "{}"
	if adv.Metadata != nil {
		raw, err := json.Marshal(adv.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run metadata: %w", err)
		}
		metadataJson = string(raw)
	}

	return helpers.WrapTxAndCommit(func(tx *gorm.DB) (*storage.PipelineCheckpoint, error) {
		var cp storage.PipelineCheckpoint
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cp, "pipeline_name = ?", pipelineName)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to load checkpoint '%s' for advance: %w", pipelineName, res.Error)
		}

		if adv.To.Before(cp.LastProcessedAt) || adv.ToBlock < cp.LastProcessedBlock {
			cs.Logger.Sugar().Errorw("Refusing to move checkpoint backwards",
				zap.String("pipelineName", pipelineName),
				zap.Time("currentCursor", cp.LastProcessedAt),
				zap.Time("requestedCursor", adv.To),
				zap.Uint64("currentBlock", cp.LastProcessedBlock),
				zap.Uint64("requestedBlock", adv.ToBlock),
			)
			return nil, fmt.Errorf("%w: pipeline '%s' cursor %s -> %s", ErrRegression, pipelineName, cp.LastProcessedAt, adv.To)
		}

		cp.LastProcessedAt = adv.To
		cp.LastProcessedBlock = adv.ToBlock
		cp.OperatorsProcessedCount += adv.OperatorsProcessed
		cp.TotalEventsProcessed += adv.EventsProcessed
		cp.RunDurationSeconds = adv.RunDuration.Seconds()
		cp.RunMetadata = metadataJson
		cp.UpdatedAt = time.Now().UTC()

		if res := tx.Save(&cp); res.Error != nil {
			return nil, fmt.Errorf("failed to advance checkpoint '%s': %w", pipelineName, res.Error)
		}
		return &cp, nil
	}, cs.Db, nil)
}
