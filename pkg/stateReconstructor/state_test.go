package stateReconstructor

import (
	"testing"
	"time"

	"github.com/eigenwatch/oprisk/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var baseTime = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func refOnDay(day int, blockNumber uint64, logIndex uint64) storage.EventRef {
	return storage.EventRef{
		BlockNumber:     blockNumber,
		BlockTime:       baseTime.AddDate(0, 0, day-1),
		TransactionHash: "0xtx",
		LogIndex:        logIndex,
	}
}

func reverseHistory(h *OperatorHistory) *OperatorHistory {
	out := &OperatorHistory{OperatorId: h.OperatorId, Operator: h.Operator}
	out.Registrations = reversed(h.Registrations)
	out.ApproverUpdates = reversed(h.ApproverUpdates)
	out.MetadataUpdates = reversed(h.MetadataUpdates)
	out.Splits = reversed(h.Splits)
	out.Delegations = reversed(h.Delegations)
	out.ForceUndelegations = reversed(h.ForceUndelegations)
	out.ShareUpdates = reversed(h.ShareUpdates)
	out.Allocations = reversed(h.Allocations)
	out.AvsRegistrations = reversed(h.AvsRegistrations)
	out.Slashings = reversed(h.Slashings)
	out.MaxMagnitudes = reversed(h.MaxMagnitudes)
	out.EncumberedMagnitudes = reversed(h.EncumberedMagnitudes)
	return out
}

func reversed[T any](items []*T) []*T {
	out := make([]*T, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return out
}

func Test_BuildDelegators(t *testing.T) {
	now := baseTime.AddDate(0, 0, 30)

	t.Run("Latest event per staker wins", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Delegations: []*storage.StakerDelegationEvent{
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeUndelegated, EventRef: refOnDay(3, 300, 0)},
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(5, 500, 0)},
				{OperatorId: "op1", StakerId: "staker2", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(2, 200, 0)},
			},
		}
		delegators := buildDelegators(history, now)

		assert.Len(t, delegators, 2)
		assert.Equal(t, "staker1", delegators[0].StakerId)
		assert.True(t, delegators[0].IsDelegated)
		assert.Equal(t, refOnDay(5, 500, 0).BlockTime, *delegators[0].DelegatedAt)
		assert.Equal(t, refOnDay(3, 300, 0).BlockTime, *delegators[0].UndelegatedAt)
		assert.True(t, delegators[1].IsDelegated)
	})

	t.Run("Force undelegation ends the delegation and leaves a sticky marker", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Delegations: []*storage.StakerDelegationEvent{
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(10, 1000, 0)},
			},
			ForceUndelegations: []*storage.StakerForceUndelegationEvent{
				{OperatorId: "op1", StakerId: "staker1", EventRef: refOnDay(5, 500, 0)},
			},
		}
		delegators := buildDelegators(history, now)

		assert.Len(t, delegators, 1)
		assert.True(t, delegators[0].IsDelegated)
		assert.True(t, delegators[0].WasForceUndelegated)
	})

	t.Run("Output is insensitive to input order", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Delegations: []*storage.StakerDelegationEvent{
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeUndelegated, EventRef: refOnDay(4, 400, 0)},
				{OperatorId: "op1", StakerId: "staker2", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(2, 200, 0)},
			},
		}
		assert.Equal(t, buildDelegators(history, now), buildDelegators(reverseHistory(history), now))
	})
}

func Test_BuildDelegatorShares(t *testing.T) {
	now := baseTime.AddDate(0, 0, 30)
	history := &OperatorHistory{
		OperatorId: "op1",
		ShareUpdates: []*storage.StakerShareEvent{
			{OperatorId: "op1", StakerId: "staker1", StrategyId: "strat1", Shares: decimal.NewFromInt(100), EventRef: refOnDay(1, 100, 0)},
			{OperatorId: "op1", StakerId: "staker1", StrategyId: "strat1", Shares: decimal.NewFromInt(250), EventRef: refOnDay(3, 300, 0)},
			{OperatorId: "op1", StakerId: "staker1", StrategyId: "strat2", Shares: decimal.NewFromInt(40), EventRef: refOnDay(2, 200, 0)},
			{OperatorId: "op1", StakerId: "staker2", StrategyId: "strat1", Shares: decimal.NewFromInt(7), EventRef: refOnDay(2, 200, 1)},
		},
	}

	shares := buildDelegatorShares(history, now)
	assert.Len(t, shares, 3)
	assert.True(t, shares[0].Shares.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, "strat1", shares[0].StrategyId)
	assert.True(t, shares[1].Shares.Equal(decimal.NewFromInt(40)))
	assert.True(t, shares[2].Shares.Equal(decimal.NewFromInt(7)))

	assert.Equal(t, shares, buildDelegatorShares(reverseHistory(history), now))
}

func Test_BuildCommissionRates(t *testing.T) {
	now := baseTime.AddDate(0, 0, 30)
	oldBips := int64(500)

	t.Run("Previous bips tracked across changes", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Splits: []*storage.OperatorSplitEvent{
				{OperatorId: "op1", SplitType: storage.SplitTypeAVS, AvsId: "avs1", NewBips: 1000, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", SplitType: storage.SplitTypeAVS, AvsId: "avs1", NewBips: 1500, EventRef: refOnDay(5, 500, 0)},
			},
		}
		rates := buildCommissionRates(history, now)

		assert.Len(t, rates, 1)
		assert.Equal(t, int64(1500), rates[0].CurrentBips)
		assert.Equal(t, int64(1000), *rates[0].PreviousBips)
		assert.Equal(t, uint64(2), rates[0].TotalChanges)
		assert.Equal(t, "avs1", rates[0].TargetId)
	})

	t.Run("Explicit old bips wins over inferred previous", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Splits: []*storage.OperatorSplitEvent{
				{OperatorId: "op1", SplitType: storage.SplitTypePI, OldBips: &oldBips, NewBips: 900, EventRef: refOnDay(1, 100, 0)},
			},
		}
		rates := buildCommissionRates(history, now)

		assert.Len(t, rates, 1)
		assert.Equal(t, int64(900), rates[0].CurrentBips)
		assert.Equal(t, int64(500), *rates[0].PreviousBips)
		assert.Equal(t, "", rates[0].TargetId)
	})

	t.Run("Split types keep separate rows per target", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Splits: []*storage.OperatorSplitEvent{
				{OperatorId: "op1", SplitType: storage.SplitTypePI, NewBips: 100, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", SplitType: storage.SplitTypeAVS, AvsId: "avs1", NewBips: 200, EventRef: refOnDay(1, 100, 1)},
				{OperatorId: "op1", SplitType: storage.SplitTypeOperatorSet, OperatorSetId: "set1", NewBips: 300, EventRef: refOnDay(1, 100, 2)},
			},
		}
		rates := buildCommissionRates(history, now)
		assert.Len(t, rates, 3)
	})

	t.Run("Activation falls back to block time", func(t *testing.T) {
		explicit := baseTime.AddDate(0, 0, 14)
		history := &OperatorHistory{
			OperatorId: "op1",
			Splits: []*storage.OperatorSplitEvent{
				{OperatorId: "op1", SplitType: storage.SplitTypePI, NewBips: 100, ActivatedAt: &explicit, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", SplitType: storage.SplitTypeAVS, AvsId: "avs1", NewBips: 200, EventRef: refOnDay(2, 200, 0)},
			},
		}
		rates := buildCommissionRates(history, now)

		assert.Equal(t, refOnDay(2, 200, 0).BlockTime, *rates[0].ActivatedAt)
		assert.Equal(t, explicit, *rates[1].ActivatedAt)
	})
}

func Test_BuildStrategyStates(t *testing.T) {
	now := baseTime.AddDate(0, 0, 30)
	history := &OperatorHistory{
		OperatorId: "op1",
		MaxMagnitudes: []*storage.MaxMagnitudeUpdatedEvent{
			{OperatorId: "op1", StrategyId: "strat1", MaxMagnitude: decimal.NewFromInt(1000), EventRef: refOnDay(1, 100, 0)},
			{OperatorId: "op1", StrategyId: "strat1", MaxMagnitude: decimal.NewFromInt(2000), EventRef: refOnDay(3, 300, 0)},
		},
		EncumberedMagnitudes: []*storage.EncumberedMagnitudeUpdatedEvent{
			{OperatorId: "op1", StrategyId: "strat1", EncumberedMagnitude: decimal.NewFromInt(500), EventRef: refOnDay(2, 200, 0)},
			{OperatorId: "op1", StrategyId: "strat2", EncumberedMagnitude: decimal.NewFromInt(9), EventRef: refOnDay(2, 200, 1)},
		},
	}

	states := buildStrategyStates(history, now)
	assert.Len(t, states, 2)

	assert.Equal(t, "strat1", states[0].StrategyId)
	assert.True(t, states[0].MaxMagnitude.Equal(decimal.NewFromInt(2000)))
	assert.True(t, states[0].EncumberedMagnitude.Equal(decimal.NewFromInt(500)))
	assert.InDelta(t, 0.25, *states[0].UtilizationRate, 1e-9)

	// strat2 has no max magnitude, so no utilization.
	assert.Nil(t, states[1].MaxMagnitude)
	assert.Nil(t, states[1].UtilizationRate)

	assert.Equal(t, states, buildStrategyStates(reverseHistory(history), now))
}

func Test_BuildAvsRelationships(t *testing.T) {
	now := baseTime.AddDate(0, 0, 30)
	history := &OperatorHistory{
		OperatorId: "op1",
		AvsRegistrations: []*storage.OperatorAvsRegistrationStatusEvent{
			{OperatorId: "op1", AvsId: "avs1", Status: storage.AvsRegistrationStatusRegistered, EventRef: refOnDay(1, 100, 0)},
			{OperatorId: "op1", AvsId: "avs1", Status: storage.AvsRegistrationStatusUnregistered, EventRef: refOnDay(5, 500, 0)},
			{OperatorId: "op1", AvsId: "avs1", Status: storage.AvsRegistrationStatusRegistered, EventRef: refOnDay(9, 900, 0)},
			{OperatorId: "op1", AvsId: "avs2", Status: storage.AvsRegistrationStatusRegistered, EventRef: refOnDay(2, 200, 0)},
		},
	}

	relationships := buildAvsRelationships(history, now)
	assert.Len(t, relationships, 2)

	avs1 := relationships[0]
	assert.Equal(t, storage.AvsRegistrationStatusRegistered, avs1.CurrentStatus)
	assert.Equal(t, uint64(2), avs1.RegistrationCycles)
	assert.Equal(t, refOnDay(1, 100, 0).BlockTime, *avs1.FirstRegisteredAt)
	assert.Equal(t, refOnDay(9, 900, 0).BlockTime, *avs1.LastRegisteredAt)
	assert.Equal(t, refOnDay(5, 500, 0).BlockTime, *avs1.LastUnregisteredAt)
	assert.Equal(t, refOnDay(9, 900, 0).BlockTime, *avs1.StatusSince)

	assert.Equal(t, relationships, buildAvsRelationships(reverseHistory(history), now))
}

func Test_BuildSlashingIncidents(t *testing.T) {
	now := baseTime.AddDate(0, 0, 30)
	l := zap.NewNop()

	t.Run("Parallel arrays flatten to one row per strategy", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Slashings: []*storage.OperatorSlashedEvent{
				{
					OperatorId:    "op1",
					OperatorSetId: "set1",
					Description:   "double signing",
					Strategies:    `["strat1","strat2"]`,
					WadSlashed:    `["1000000000000000000","250000000000000000"]`,
					EventRef:      refOnDay(5, 500, 3),
				},
			},
		}
		incidents := buildSlashingIncidents(history, now, l)

		assert.Len(t, incidents, 2)
		assert.Equal(t, "strat1", incidents[0].StrategyId)
		assert.True(t, incidents[0].WadSlashed.Equal(decimal.RequireFromString("1000000000000000000")))
		assert.Equal(t, "strat2", incidents[1].StrategyId)
		assert.Equal(t, uint64(3), incidents[0].LogIndex)
		assert.Equal(t, "double signing", incidents[0].Description)
	})

	t.Run("Malformed payloads are skipped, not fatal", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Slashings: []*storage.OperatorSlashedEvent{
				{OperatorId: "op1", Strategies: `not-json`, WadSlashed: `["1"]`, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", Strategies: `["strat1"]`, WadSlashed: `["1"]`, EventRef: refOnDay(2, 200, 0)},
			},
		}
		incidents := buildSlashingIncidents(history, now, l)

		assert.Len(t, incidents, 1)
		assert.Equal(t, "strat1", incidents[0].StrategyId)
	})

	t.Run("Length mismatch pairs the shorter prefix", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Slashings: []*storage.OperatorSlashedEvent{
				{OperatorId: "op1", Strategies: `["strat1","strat2","strat3"]`, WadSlashed: `["10","20"]`, EventRef: refOnDay(1, 100, 0)},
			},
		}
		incidents := buildSlashingIncidents(history, now, l)
		assert.Len(t, incidents, 2)
	})
}

func Test_BuildOperatorState(t *testing.T) {
	now := baseTime.AddDate(0, 0, 60)

	t.Run("Unregistered operator with early allocations and a slash", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Allocations: []*storage.AllocationEvent{
				{OperatorId: "op1", OperatorSetId: "set1", StrategyId: "strat1", Magnitude: decimal.NewFromInt(100), EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", OperatorSetId: "set1", StrategyId: "strat2", Magnitude: decimal.NewFromInt(50), EventRef: refOnDay(4, 400, 0)},
				{OperatorId: "op1", OperatorSetId: "set1", StrategyId: "strat2", Magnitude: decimal.Zero, EventRef: refOnDay(8, 800, 0)},
			},
			Slashings: []*storage.OperatorSlashedEvent{
				{OperatorId: "op1", Strategies: `["strat1"]`, WadSlashed: `["10"]`, EventRef: refOnDay(10, 1000, 0)},
			},
		}

		state := buildOperatorState(history, nil, nil, now)

		assert.Nil(t, state.RegisteredAt)
		assert.Equal(t, ActivityAllocation, state.FirstActivityType)
		assert.Equal(t, refOnDay(1, 100, 0).BlockTime, *state.FirstActivityAt)
		assert.Equal(t, uint64(100), *state.FirstActivityBlock)
		assert.Equal(t, uint64(1), state.TotalSlashEvents)
		assert.Equal(t, refOnDay(10, 1000, 0).BlockTime, *state.LastSlashedAt)
		// strat2's latest allocation is zero, so only strat1 is active.
		assert.Equal(t, uint64(1), state.ActiveStrategyCount)
		assert.Equal(t, uint64(60), state.OperationalDays)
		assert.False(t, state.IsActive)
	})

	t.Run("Approver is the latest of registration and update events", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Registrations: []*storage.OperatorRegisteredEvent{
				{OperatorId: "op1", DelegationApprover: "0x1111111111111111111111111111111111111111", EventRef: refOnDay(1, 100, 0)},
			},
			ApproverUpdates: []*storage.DelegationApproverUpdateEvent{
				{OperatorId: "op1", NewDelegationApprover: "0x2222222222222222222222222222222222222222", EventRef: refOnDay(5, 500, 0)},
			},
		}

		state := buildOperatorState(history, nil, nil, now)

		assert.Equal(t, "0x2222222222222222222222222222222222222222", state.CurrentDelegationApprover)
		assert.True(t, state.IsPermissioned)
		assert.Equal(t, refOnDay(1, 100, 0).BlockTime, *state.RegisteredAt)
		assert.Equal(t, uint64(100), *state.RegistrationBlock)
		assert.Equal(t, ActivityRegistration, state.FirstActivityType)
	})

	t.Run("Zero address approver means permissionless", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Registrations: []*storage.OperatorRegisteredEvent{
				{OperatorId: "op1", DelegationApprover: "0x0000000000000000000000000000000000000000", EventRef: refOnDay(1, 100, 0)},
			},
		}
		state := buildOperatorState(history, nil, nil, now)
		assert.False(t, state.IsPermissioned)
	})

	t.Run("Latest PI split wins", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Splits: []*storage.OperatorSplitEvent{
				{OperatorId: "op1", SplitType: storage.SplitTypePI, NewBips: 1000, EventRef: refOnDay(1, 100, 0)},
				{OperatorId: "op1", SplitType: storage.SplitTypePI, NewBips: 1200, EventRef: refOnDay(6, 600, 0)},
				{OperatorId: "op1", SplitType: storage.SplitTypeAVS, AvsId: "avs1", NewBips: 9999, EventRef: refOnDay(7, 700, 0)},
			},
		}
		state := buildOperatorState(history, nil, nil, now)
		assert.Equal(t, int64(1200), *state.CurrentPiSplitBips)
	})

	t.Run("Counts come from the built sub-states", func(t *testing.T) {
		relationships := []*storage.OperatorAvsRelationship{
			{OperatorId: "op1", AvsId: "avs1", CurrentStatus: storage.AvsRegistrationStatusRegistered, RegistrationCycles: 2},
			{OperatorId: "op1", AvsId: "avs2", CurrentStatus: storage.AvsRegistrationStatusUnregistered, RegistrationCycles: 1},
		}
		delegators := []*storage.OperatorDelegator{
			{OperatorId: "op1", StakerId: "staker1", IsDelegated: true},
			{OperatorId: "op1", StakerId: "staker2", IsDelegated: false},
			{OperatorId: "op1", StakerId: "staker3", IsDelegated: true},
		}
		history := &OperatorHistory{OperatorId: "op1"}

		state := buildOperatorState(history, relationships, delegators, now)

		assert.Equal(t, uint64(1), state.ActiveAvsCount)
		assert.Equal(t, uint64(3), state.TotalAvsRegistrations)
		assert.Equal(t, uint64(2), state.CurrentDelegatorCount)
	})

	t.Run("Empty history defaults last activity to now and stays active", func(t *testing.T) {
		state := buildOperatorState(&OperatorHistory{OperatorId: "op1"}, nil, nil, now)

		assert.Nil(t, state.FirstActivityAt)
		assert.Equal(t, now, *state.LastActivityAt)
		assert.True(t, state.IsActive)
		assert.Equal(t, uint64(0), state.OperationalDays)
	})

	t.Run("Rebuild is idempotent", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			Registrations: []*storage.OperatorRegisteredEvent{
				{OperatorId: "op1", EventRef: refOnDay(1, 100, 0)},
			},
			Delegations: []*storage.StakerDelegationEvent{
				{OperatorId: "op1", StakerId: "staker1", DelegationType: storage.DelegationTypeDelegated, EventRef: refOnDay(2, 200, 0)},
			},
		}
		first := buildOperatorState(history, nil, nil, now)
		second := buildOperatorState(history, nil, nil, now)
		assert.Equal(t, first, second)
	})
}

func Test_FirstActivity(t *testing.T) {
	t.Run("Earliest event wins regardless of category", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			MetadataUpdates: []*storage.OperatorMetadataUpdateEvent{
				{OperatorId: "op1", EventRef: refOnDay(1, 100, 0)},
			},
			Registrations: []*storage.OperatorRegisteredEvent{
				{OperatorId: "op1", EventRef: refOnDay(2, 200, 0)},
			},
		}
		first := firstActivity(collectActivity(history))
		assert.Equal(t, ActivityMetadata, first.Category)
	})

	t.Run("Exact ties break by category precedence", func(t *testing.T) {
		history := &OperatorHistory{
			OperatorId: "op1",
			MetadataUpdates: []*storage.OperatorMetadataUpdateEvent{
				{OperatorId: "op1", EventRef: refOnDay(1, 100, 0)},
			},
			Registrations: []*storage.OperatorRegisteredEvent{
				{OperatorId: "op1", EventRef: refOnDay(1, 100, 0)},
			},
		}
		first := firstActivity(collectActivity(history))
		assert.Equal(t, ActivityRegistration, first.Category)
	})

	t.Run("Empty history yields nil", func(t *testing.T) {
		assert.Nil(t, firstActivity(nil))
	})
}

func Test_IsZeroAddress(t *testing.T) {
	assert.True(t, isZeroAddress(""))
	assert.True(t, isZeroAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, isZeroAddress("0x1111111111111111111111111111111111111111"))
	assert.False(t, isZeroAddress("not-an-address"))
}
