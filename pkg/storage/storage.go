package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventRef carries the ordering and provenance columns shared by every
// source event table. Ordering within an operator history is always
// (block_time, block_number, log_index); created_at is the ingest time
// used only for change detection.
type EventRef struct {
	BlockNumber     uint64
	BlockTime       time.Time
	TransactionHash string
	LogIndex        uint64
	CreatedAt       time.Time
}

// Compare orders two events chronologically. Block time wins, block number
// breaks ties across same-second blocks, log index breaks ties within a
// block. Returns -1, 0 or 1.
func (e *EventRef) Compare(other *EventRef) int {
	if e.BlockTime.Before(other.BlockTime) {
		return -1
	}
	if e.BlockTime.After(other.BlockTime) {
		return 1
	}
	if e.BlockNumber != other.BlockNumber {
		if e.BlockNumber < other.BlockNumber {
			return -1
		}
		return 1
	}
	if e.LogIndex != other.LogIndex {
		if e.LogIndex < other.LogIndex {
			return -1
		}
		return 1
	}
	return 0
}

func (e *EventRef) After(other *EventRef) bool {
	return e.Compare(other) > 0
}

func (e *EventRef) Before(other *EventRef) bool {
	return e.Compare(other) < 0
}

// Source event tables. Populated by the extraction service; read-only here.

type Operator struct {
	Id        string
	Address   string
	CreatedAt time.Time
}

type OperatorRegisteredEvent struct {
	OperatorId         string
	DelegationApprover string
	MetadataUri        string
	EventRef
}

type DelegationApproverUpdateEvent struct {
	OperatorId            string
	NewDelegationApprover string
	EventRef
}

type OperatorMetadataUpdateEvent struct {
	OperatorId  string
	MetadataUri string
	EventRef
}

type SplitType string

const (
	SplitTypePI          SplitType = "PI"
	SplitTypeAVS         SplitType = "AVS"
	SplitTypeOperatorSet SplitType = "OPERATOR_SET"
)

type OperatorSplitEvent struct {
	OperatorId    string
	SplitType     SplitType
	AvsId         string
	OperatorSetId string
	OldBips       *int64
	NewBips       int64
	ActivatedAt   *time.Time
	EventRef
}

type DelegationType string

const (
	DelegationTypeDelegated   DelegationType = "DELEGATED"
	DelegationTypeUndelegated DelegationType = "UNDELEGATED"
)

type StakerDelegationEvent struct {
	OperatorId     string
	StakerId       string
	DelegationType DelegationType
	EventRef
}

type StakerForceUndelegationEvent struct {
	OperatorId string
	StakerId   string
	EventRef
}

type StakerShareEvent struct {
	OperatorId string
	StakerId   string
	StrategyId string
	Shares     decimal.Decimal
	EventRef
}

type AllocationEvent struct {
	OperatorId    string
	OperatorSetId string
	StrategyId    string
	Magnitude     decimal.Decimal
	EffectBlock   *uint64
	EventRef
}

type AvsRegistrationStatus string

const (
	AvsRegistrationStatusRegistered   AvsRegistrationStatus = "REGISTERED"
	AvsRegistrationStatusUnregistered AvsRegistrationStatus = "UNREGISTERED"
)

type OperatorAvsRegistrationStatusEvent struct {
	OperatorId string
	AvsId      string
	Status     AvsRegistrationStatus
	EventRef
}

// Strategies and WadSlashed are parallel jsonb arrays as emitted on chain.
type OperatorSlashedEvent struct {
	OperatorId    string
	OperatorSetId string
	Description   string
	Strategies    string `gorm:"type:jsonb"`
	WadSlashed    string `gorm:"type:jsonb"`
	EventRef
}

type MaxMagnitudeUpdatedEvent struct {
	OperatorId   string
	StrategyId   string
	MaxMagnitude decimal.Decimal
	EventRef
}

type EncumberedMagnitudeUpdatedEvent struct {
	OperatorId          string
	StrategyId          string
	EncumberedMagnitude decimal.Decimal
	EventRef
}

// EventTableNames lists every source event table the change detector scans.
var EventTableNames = []string{
	"operator_registered_events",
	"delegation_approver_update_events",
	"operator_metadata_update_events",
	"operator_split_events",
	"staker_delegation_events",
	"staker_force_undelegation_events",
	"staker_share_events",
	"allocation_events",
	"operator_avs_registration_status_events",
	"operator_slashed_events",
	"max_magnitude_updated_events",
	"encumbered_magnitude_updated_events",
}

// Derived state tables. Owned by the reconstructor; every row is fully
// replaced on rebuild, never patched incrementally.

type PipelineCheckpoint struct {
	PipelineName            string `gorm:"primaryKey"`
	LastProcessedAt         time.Time
	LastProcessedBlock      uint64
	OperatorsProcessedCount uint64
	TotalEventsProcessed    uint64
	RunDurationSeconds      float64
	RunMetadata             string `gorm:"type:jsonb"`
	UpdatedAt               time.Time
}

type OperatorState struct {
	OperatorId                string `gorm:"primaryKey"`
	OperatorAddress           string
	RegisteredAt              *time.Time
	RegistrationBlock         *uint64
	FirstActivityAt           *time.Time
	FirstActivityBlock        *uint64
	FirstActivityType         string
	LastActivityAt            *time.Time
	CurrentDelegationApprover string
	IsPermissioned            bool
	CurrentPiSplitBips        *int64
	PiSplitActivatedAt        *time.Time
	CurrentDelegatorCount     uint64
	TotalDelegationEvents     uint64
	ActiveAvsCount            uint64
	TotalAvsRegistrations     uint64
	ActiveStrategyCount       uint64
	TotalSlashEvents          uint64
	LastSlashedAt             *time.Time
	ForceUndelegationCount    uint64
	LastMetadataUpdateAt      *time.Time
	LastDelegationChangeAt    *time.Time
	LastAllocationChangeAt    *time.Time
	LastAvsChangeAt           *time.Time
	LastCommissionChangeAt    *time.Time
	OperationalDays           uint64
	IsActive                  bool
	RebuiltAt                 time.Time
}

func (OperatorState) TableName() string {
	return "operator_state"
}

type OperatorStrategyState struct {
	OperatorId                   string `gorm:"primaryKey"`
	StrategyId                   string `gorm:"primaryKey"`
	MaxMagnitude                 *decimal.Decimal
	MaxMagnitudeUpdatedAt        *time.Time
	EncumberedMagnitude          *decimal.Decimal
	EncumberedMagnitudeUpdatedAt *time.Time
	UtilizationRate              *float64
	RebuiltAt                    time.Time
}

func (OperatorStrategyState) TableName() string {
	return "operator_strategy_state"
}

type OperatorAvsRelationship struct {
	OperatorId         string `gorm:"primaryKey"`
	AvsId              string `gorm:"primaryKey"`
	CurrentStatus      AvsRegistrationStatus
	StatusSince        *time.Time
	FirstRegisteredAt  *time.Time
	LastRegisteredAt   *time.Time
	LastUnregisteredAt *time.Time
	RegistrationCycles uint64
	RebuiltAt          time.Time
}

type OperatorDelegator struct {
	OperatorId          string `gorm:"primaryKey"`
	StakerId            string `gorm:"primaryKey"`
	IsDelegated         bool
	DelegatedAt         *time.Time
	UndelegatedAt       *time.Time
	WasForceUndelegated bool
	RebuiltAt           time.Time
}

type OperatorDelegatorShares struct {
	OperatorId      string `gorm:"primaryKey"`
	StakerId        string `gorm:"primaryKey"`
	StrategyId      string `gorm:"primaryKey"`
	Shares          decimal.Decimal
	SharesUpdatedAt *time.Time
	RebuiltAt       time.Time
}

func (OperatorDelegatorShares) TableName() string {
	return "operator_delegator_shares"
}

type OperatorCommissionRate struct {
	OperatorId   string    `gorm:"primaryKey"`
	SplitType    SplitType `gorm:"primaryKey"`
	TargetId     string    `gorm:"primaryKey"`
	CurrentBips  int64
	PreviousBips *int64
	ActivatedAt  *time.Time
	TotalChanges uint64
	RebuiltAt    time.Time
}

type OperatorSlashingIncident struct {
	OperatorId      string `gorm:"primaryKey"`
	TransactionHash string `gorm:"primaryKey"`
	LogIndex        uint64 `gorm:"primaryKey"`
	StrategyId      string `gorm:"primaryKey"`
	OperatorSetId   string
	WadSlashed      decimal.Decimal
	Description     string
	SlashedAt       time.Time
	BlockNumber     uint64
	RebuiltAt       time.Time
}

// Snapshot tables. One row per key per day, replaced in full when a day is
// re-snapshotted.

type OperatorDailySnapshot struct {
	OperatorId             string    `gorm:"primaryKey"`
	SnapshotDate           time.Time `gorm:"primaryKey;type:date"`
	CurrentDelegatorCount  uint64
	ActiveAvsCount         uint64
	ActiveStrategyCount    uint64
	CurrentPiSplitBips     *int64
	SlashEventCountToDate  uint64
	ForceUndelegationCount uint64
	TotalDelegatedShares   decimal.Decimal
	OperationalDays        uint64
	IsActive               bool
	CreatedAt              time.Time
}

type OperatorStrategyDailySnapshot struct {
	OperatorId          string    `gorm:"primaryKey"`
	StrategyId          string    `gorm:"primaryKey"`
	SnapshotDate        time.Time `gorm:"primaryKey;type:date"`
	MaxMagnitude        *decimal.Decimal
	EncumberedMagnitude *decimal.Decimal
	UtilizationRate     *float64
	CreatedAt           time.Time
}

type OperatorDelegatorSharesSnapshot struct {
	OperatorId   string    `gorm:"primaryKey"`
	StakerId     string    `gorm:"primaryKey"`
	StrategyId   string    `gorm:"primaryKey"`
	SnapshotDate time.Time `gorm:"primaryKey;type:date"`
	Shares       decimal.Decimal
	IsDelegated  bool
	CreatedAt    time.Time
}

func (OperatorDelegatorSharesSnapshot) TableName() string {
	return "operator_delegator_shares_snapshots"
}

// Analytics output table.

type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

type OperatorAnalytics struct {
	OperatorId            string    `gorm:"primaryKey"`
	AnalyticsDate         time.Time `gorm:"primaryKey;type:date"`
	Volatility7d          *float64 `gorm:"column:volatility_7d"`
	Volatility30d         *float64 `gorm:"column:volatility_30d"`
	Volatility90d         *float64 `gorm:"column:volatility_90d"`
	HhiBips               *float64
	GiniCoefficient       *float64
	Top1Share             *float64
	Top5Share             *float64
	EffectiveHolderCount  *float64
	DelegatorCount        uint64
	TotalDelegatedShares  decimal.Decimal
	SlashingScore         *float64
	ConcentrationScore    *float64
	StabilityScore        *float64
	DelegatorHealthScore  *float64
	RiskScore             *float64
	RiskLevel             RiskLevel
	ConfidenceScore       *float64
	HasSufficientData     bool
	SnapshotDaysAvailable uint64
	CalculatedAt          time.Time
	CalculationDurationMs int64
}

func (OperatorAnalytics) TableName() string {
	return "operator_analytics"
}
