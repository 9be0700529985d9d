package changeDetector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/eigenwatch/oprisk/internal/config"
	"github.com/eigenwatch/oprisk/pkg/postgres/helpers"
	"github.com/eigenwatch/oprisk/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChangeSet is the outcome of one detection pass. CandidateCursor is the
// maximum ingest timestamp observed across all event tables, or the prior
// cursor when nothing changed; it only becomes the stored checkpoint after
// the rebuild that consumes this set has committed.
type ChangeSet struct {
	OperatorIds     []string
	CandidateCursor time.Time
	CandidateBlock  uint64
	EventCount      uint64
	TableCounts     map[string]uint64
}

type ChangeDetector struct {
	Db           *gorm.DB
	Logger       *zap.Logger
	GlobalConfig *config.Config
}

func NewChangeDetector(db *gorm.DB, l *zap.Logger, cfg *config.Config) *ChangeDetector {
	return &ChangeDetector{
		Db:           db,
		Logger:       l,
		GlobalConfig: cfg,
	}
}

const scanQuery = `
	select
		operator_id,
		count(*) as event_count,
		max(created_at) as max_created_at,
		max(block_number) as max_block_number
	from {{.tableName}}
	where created_at > @cursor
	group by operator_id
`

// scanQueryWithBlockCutoff additionally re-detects operators whose latest
// rows sit within the block safety buffer of the stored block cursor. Those
// head blocks can be replaced by a reorg after ingest, so operators touched
// there are rebuilt again.
const scanQueryWithBlockCutoff = `
	select
		operator_id,
		count(*) as event_count,
		max(created_at) as max_created_at,
		max(block_number) as max_block_number
	from {{.tableName}}
	where created_at > @cursor or block_number > @blockCursor
	group by operator_id
`

type scanRow struct {
	OperatorId     string
	EventCount     uint64
	MaxCreatedAt   time.Time
	MaxBlockNumber uint64
}

// DetectChanges scans every source event table for rows ingested after the
// checkpoint cursor, rewound by the safety buffer so late-arriving events
// whose created_at landed just before the previous cursor are still picked
// up. Re-detecting an already-processed operator is harmless; rebuilds are
// idempotent. Any query error aborts the whole pass.
func (cd *ChangeDetector) DetectChanges(ctx context.Context, cp *storage.PipelineCheckpoint) (*ChangeSet, error) {
	cursor := cp.LastProcessedAt
	if !cursor.IsZero() {
		cursor = cursor.Add(-cd.GlobalConfig.PipelineConfig.SafetyBuffer())
	}

	var blockCursor uint64
	useBlockCutoff := cp.LastProcessedBlock > 0
	if bufferBlocks := cd.GlobalConfig.PipelineConfig.SafetyBufferBlocks; cp.LastProcessedBlock > bufferBlocks {
		blockCursor = cp.LastProcessedBlock - bufferBlocks
	}

	changed := make(map[string]bool)
	changeSet := &ChangeSet{
		CandidateCursor: cp.LastProcessedAt,
		CandidateBlock:  cp.LastProcessedBlock,
		TableCounts:     make(map[string]uint64),
	}

	for _, tableName := range storage.EventTableNames {
		template := scanQuery
		params := []interface{}{sql.Named("cursor", cursor)}
		if useBlockCutoff {
			template = scanQueryWithBlockCutoff
			params = append(params, sql.Named("blockCursor", blockCursor))
		}
		query, err := helpers.RenderQueryTemplate(template, map[string]string{
			"tableName": tableName,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render scan query for '%s': %w", tableName, err)
		}

		var rows []scanRow
		res := cd.Db.WithContext(ctx).Raw(query, params...).Scan(&rows)
		if res.Error != nil {
			cd.Logger.Sugar().Errorw("Failed to scan event table for changes",
				zap.String("tableName", tableName),
				zap.Error(res.Error),
			)
			return nil, fmt.Errorf("failed to scan '%s': %w", tableName, res.Error)
		}

		for _, row := range rows {
			changed[row.OperatorId] = true
			changeSet.EventCount += row.EventCount
			changeSet.TableCounts[tableName] += row.EventCount
			if row.MaxCreatedAt.After(changeSet.CandidateCursor) {
				changeSet.CandidateCursor = row.MaxCreatedAt
			}
			if row.MaxBlockNumber > changeSet.CandidateBlock {
				changeSet.CandidateBlock = row.MaxBlockNumber
			}
		}
	}

	changeSet.OperatorIds = make([]string, 0, len(changed))
	for operatorId := range changed {
		changeSet.OperatorIds = append(changeSet.OperatorIds, operatorId)
	}
	sort.Strings(changeSet.OperatorIds)

	cd.Logger.Sugar().Infow("Detected changed operators",
		zap.Int("operatorCount", len(changeSet.OperatorIds)),
		zap.Uint64("eventCount", changeSet.EventCount),
		zap.Time("cursor", cursor),
		zap.Time("candidateCursor", changeSet.CandidateCursor),
	)
	return changeSet, nil
}
