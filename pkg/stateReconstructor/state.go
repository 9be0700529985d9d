package stateReconstructor

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/eigenwatch/oprisk/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// activeWindowDays bounds how stale an operator's last activity may be
// before it stops counting as active.
const activeWindowDays = 30

// ordered returns a chronologically sorted copy so the builders stay
// insensitive to the order rows happened to arrive in.
func ordered[T any](items []*T, ref func(*T) *storage.EventRef) []*T {
	out := make([]*T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return ref(out[i]).Before(ref(out[j]))
	})
	return out
}

func isZeroAddress(address string) bool {
	if address == "" {
		return true
	}
	if !common.IsHexAddress(address) {
		return false
	}
	return common.HexToAddress(address) == (common.Address{})
}

func buildStrategyStates(history *OperatorHistory, now time.Time) []*storage.OperatorStrategyState {
	states := make(map[string]*storage.OperatorStrategyState)
	get := func(strategyId string) *storage.OperatorStrategyState {
		if s, ok := states[strategyId]; ok {
			return s
		}
		s := &storage.OperatorStrategyState{
			OperatorId: history.OperatorId,
			StrategyId: strategyId,
			RebuiltAt:  now,
		}
		states[strategyId] = s
		return s
	}

	for _, e := range ordered(history.MaxMagnitudes, func(e *storage.MaxMagnitudeUpdatedEvent) *storage.EventRef { return &e.EventRef }) {
		s := get(e.StrategyId)
		magnitude := e.MaxMagnitude
		blockTime := e.BlockTime
		s.MaxMagnitude = &magnitude
		s.MaxMagnitudeUpdatedAt = &blockTime
	}
	for _, e := range ordered(history.EncumberedMagnitudes, func(e *storage.EncumberedMagnitudeUpdatedEvent) *storage.EventRef { return &e.EventRef }) {
		s := get(e.StrategyId)
		magnitude := e.EncumberedMagnitude
		blockTime := e.BlockTime
		s.EncumberedMagnitude = &magnitude
		s.EncumberedMagnitudeUpdatedAt = &blockTime
	}

	out := make([]*storage.OperatorStrategyState, 0, len(states))
	for _, s := range states {
		if s.MaxMagnitude != nil && s.EncumberedMagnitude != nil && s.MaxMagnitude.IsPositive() {
			rate, _ := s.EncumberedMagnitude.Div(*s.MaxMagnitude).Float64()
			s.UtilizationRate = &rate
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyId < out[j].StrategyId })
	return out
}

func buildAvsRelationships(history *OperatorHistory, now time.Time) []*storage.OperatorAvsRelationship {
	relationships := make(map[string]*storage.OperatorAvsRelationship)

	for _, e := range ordered(history.AvsRegistrations, func(e *storage.OperatorAvsRegistrationStatusEvent) *storage.EventRef { return &e.EventRef }) {
		rel, ok := relationships[e.AvsId]
		if !ok {
			rel = &storage.OperatorAvsRelationship{
				OperatorId: history.OperatorId,
				AvsId:      e.AvsId,
				RebuiltAt:  now,
			}
			relationships[e.AvsId] = rel
		}

		blockTime := e.BlockTime
		if e.Status != rel.CurrentStatus {
			rel.StatusSince = &blockTime
		}
		rel.CurrentStatus = e.Status

		if e.Status == storage.AvsRegistrationStatusRegistered {
			if rel.FirstRegisteredAt == nil {
				rel.FirstRegisteredAt = &blockTime
			}
			rel.LastRegisteredAt = &blockTime
			rel.RegistrationCycles++
		} else {
			rel.LastUnregisteredAt = &blockTime
		}
	}

	out := make([]*storage.OperatorAvsRelationship, 0, len(relationships))
	for _, rel := range relationships {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AvsId < out[j].AvsId })
	return out
}

// buildDelegators folds delegation and force-undelegation events into one
// latest-wins row per staker. A force undelegation counts as an
// undelegation and leaves a sticky marker.
func buildDelegators(history *OperatorHistory, now time.Time) []*storage.OperatorDelegator {
	type delegationMark struct {
		staker    string
		delegated bool
		forced    bool
		ref       storage.EventRef
	}

	marks := make([]delegationMark, 0, len(history.Delegations)+len(history.ForceUndelegations))
	for _, e := range history.Delegations {
		marks = append(marks, delegationMark{
			staker:    e.StakerId,
			delegated: e.DelegationType == storage.DelegationTypeDelegated,
			ref:       e.EventRef,
		})
	}
	for _, e := range history.ForceUndelegations {
		marks = append(marks, delegationMark{
			staker: e.StakerId,
			forced: true,
			ref:    e.EventRef,
		})
	}
	sort.SliceStable(marks, func(i, j int) bool { return marks[i].ref.Before(&marks[j].ref) })

	delegators := make(map[string]*storage.OperatorDelegator)
	for i := range marks {
		mark := &marks[i]
		d, ok := delegators[mark.staker]
		if !ok {
			d = &storage.OperatorDelegator{
				OperatorId: history.OperatorId,
				StakerId:   mark.staker,
				RebuiltAt:  now,
			}
			delegators[mark.staker] = d
		}

		blockTime := mark.ref.BlockTime
		if mark.delegated {
			d.IsDelegated = true
			d.DelegatedAt = &blockTime
		} else {
			d.IsDelegated = false
			d.UndelegatedAt = &blockTime
			if mark.forced {
				d.WasForceUndelegated = true
			}
		}
	}

	out := make([]*storage.OperatorDelegator, 0, len(delegators))
	for _, d := range delegators {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StakerId < out[j].StakerId })
	return out
}

func buildDelegatorShares(history *OperatorHistory, now time.Time) []*storage.OperatorDelegatorShares {
	type key struct {
		staker   string
		strategy string
	}
	shares := make(map[key]*storage.OperatorDelegatorShares)

	for _, e := range ordered(history.ShareUpdates, func(e *storage.StakerShareEvent) *storage.EventRef { return &e.EventRef }) {
		k := key{staker: e.StakerId, strategy: e.StrategyId}
		blockTime := e.BlockTime
		shares[k] = &storage.OperatorDelegatorShares{
			OperatorId:      history.OperatorId,
			StakerId:        e.StakerId,
			StrategyId:      e.StrategyId,
			Shares:          e.Shares,
			SharesUpdatedAt: &blockTime,
			RebuiltAt:       now,
		}
	}

	out := make([]*storage.OperatorDelegatorShares, 0, len(shares))
	for _, s := range shares {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StakerId != out[j].StakerId {
			return out[i].StakerId < out[j].StakerId
		}
		return out[i].StrategyId < out[j].StrategyId
	})
	return out
}

func commissionTargetId(e *storage.OperatorSplitEvent) string {
	switch e.SplitType {
	case storage.SplitTypeAVS:
		return e.AvsId
	case storage.SplitTypeOperatorSet:
		return e.OperatorSetId
	default:
		return ""
	}
}

func buildCommissionRates(history *OperatorHistory, now time.Time) []*storage.OperatorCommissionRate {
	type key struct {
		splitType storage.SplitType
		target    string
	}
	rates := make(map[key]*storage.OperatorCommissionRate)

	for _, e := range ordered(history.Splits, func(e *storage.OperatorSplitEvent) *storage.EventRef { return &e.EventRef }) {
		k := key{splitType: e.SplitType, target: commissionTargetId(e)}
		rate, ok := rates[k]
		if !ok {
			rate = &storage.OperatorCommissionRate{
				OperatorId: history.OperatorId,
				SplitType:  e.SplitType,
				TargetId:   k.target,
				RebuiltAt:  now,
			}
			rates[k] = rate
		}

		if e.OldBips != nil {
			oldBips := *e.OldBips
			rate.PreviousBips = &oldBips
		} else if rate.TotalChanges > 0 {
			previous := rate.CurrentBips
			rate.PreviousBips = &previous
		}
		rate.CurrentBips = e.NewBips
		if e.ActivatedAt != nil {
			rate.ActivatedAt = e.ActivatedAt
		} else {
			blockTime := e.BlockTime
			rate.ActivatedAt = &blockTime
		}
		rate.TotalChanges++
	}

	out := make([]*storage.OperatorCommissionRate, 0, len(rates))
	for _, rate := range rates {
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SplitType != out[j].SplitType {
			return out[i].SplitType < out[j].SplitType
		}
		return out[i].TargetId < out[j].TargetId
	})
	return out
}

// buildSlashingIncidents flattens each slashing event's parallel
// strategies/wad arrays into one row per (incident, strategy). Rows with
// malformed payloads are skipped rather than failing the whole rebuild.
func buildSlashingIncidents(history *OperatorHistory, now time.Time, l *zap.Logger) []*storage.OperatorSlashingIncident {
	incidents := make([]*storage.OperatorSlashingIncident, 0)

	for _, e := range history.Slashings {
		var strategies []string
		var wads []string
		if err := json.Unmarshal([]byte(e.Strategies), &strategies); err != nil {
			l.Sugar().Warnw("Skipping slashing event with malformed strategies payload",
				zap.String("operatorId", e.OperatorId),
				zap.String("transactionHash", e.TransactionHash),
				zap.Error(err),
			)
			continue
		}
		if err := json.Unmarshal([]byte(e.WadSlashed), &wads); err != nil {
			l.Sugar().Warnw("Skipping slashing event with malformed wad payload",
				zap.String("operatorId", e.OperatorId),
				zap.String("transactionHash", e.TransactionHash),
				zap.Error(err),
			)
			continue
		}
		if len(strategies) != len(wads) {
			l.Sugar().Warnw("Slashing event strategies and wads differ in length, pairing the shorter prefix",
				zap.String("operatorId", e.OperatorId),
				zap.String("transactionHash", e.TransactionHash),
				zap.Int("strategies", len(strategies)),
				zap.Int("wads", len(wads)),
			)
		}

		n := len(strategies)
		if len(wads) < n {
			n = len(wads)
		}
		for i := 0; i < n; i++ {
			wad, err := decimal.NewFromString(wads[i])
			if err != nil {
				l.Sugar().Warnw("Skipping unparseable wad amount in slashing event",
					zap.String("operatorId", e.OperatorId),
					zap.String("transactionHash", e.TransactionHash),
					zap.String("wad", wads[i]),
					zap.Error(err),
				)
				continue
			}
			incidents = append(incidents, &storage.OperatorSlashingIncident{
				OperatorId:      e.OperatorId,
				TransactionHash: e.TransactionHash,
				LogIndex:        e.LogIndex,
				StrategyId:      strategies[i],
				OperatorSetId:   e.OperatorSetId,
				WadSlashed:      wad,
				Description:     e.Description,
				SlashedAt:       e.BlockTime,
				BlockNumber:     e.BlockNumber,
				RebuiltAt:       now,
			})
		}
	}
	return incidents
}

// buildOperatorState aggregates the full profile row from the history and
// the already-built sub-states. Registration may legitimately be missing
// for an operator whose other events arrived first; those fields stay null.
func buildOperatorState(
	history *OperatorHistory,
	relationships []*storage.OperatorAvsRelationship,
	delegators []*storage.OperatorDelegator,
	now time.Time,
) *storage.OperatorState {
	state := &storage.OperatorState{
		OperatorId: history.OperatorId,
		RebuiltAt:  now,
	}
	if history.Operator != nil {
		state.OperatorAddress = history.Operator.Address
	}

	registrations := ordered(history.Registrations, func(e *storage.OperatorRegisteredEvent) *storage.EventRef { return &e.EventRef })
	if len(registrations) > 0 {
		first := registrations[0]
		registeredAt := first.BlockTime
		registrationBlock := first.BlockNumber
		state.RegisteredAt = &registeredAt
		state.RegistrationBlock = &registrationBlock
	}

	// Approver is the latest of the registration approver and any explicit
	// approver updates.
	var approverRef *storage.EventRef
	approver := ""
	for _, e := range registrations {
		if approverRef == nil || e.EventRef.After(approverRef) {
			ref := e.EventRef
			approverRef = &ref
			approver = e.DelegationApprover
		}
	}
	for _, e := range history.ApproverUpdates {
		if approverRef == nil || e.EventRef.After(approverRef) {
			ref := e.EventRef
			approverRef = &ref
			approver = e.NewDelegationApprover
		}
	}
	state.CurrentDelegationApprover = approver
	state.IsPermissioned = !isZeroAddress(approver)

	var piRef *storage.EventRef
	for _, e := range history.Splits {
		if e.SplitType != storage.SplitTypePI {
			continue
		}
		if piRef == nil || e.EventRef.After(piRef) {
			ref := e.EventRef
			piRef = &ref
			bips := e.NewBips
			state.CurrentPiSplitBips = &bips
			if e.ActivatedAt != nil {
				state.PiSplitActivatedAt = e.ActivatedAt
			} else {
				blockTime := e.BlockTime
				state.PiSplitActivatedAt = &blockTime
			}
		}
	}

	for _, d := range delegators {
		if d.IsDelegated {
			state.CurrentDelegatorCount++
		}
	}
	state.TotalDelegationEvents = uint64(len(history.Delegations))
	state.ForceUndelegationCount = uint64(len(history.ForceUndelegations))

	for _, rel := range relationships {
		if rel.CurrentStatus == storage.AvsRegistrationStatusRegistered {
			state.ActiveAvsCount++
		}
		state.TotalAvsRegistrations += rel.RegistrationCycles
	}

	// Active strategies are those whose latest allocation magnitude is
	// still positive.
	latestAllocations := make(map[string]*storage.AllocationEvent)
	for _, e := range ordered(history.Allocations, func(e *storage.AllocationEvent) *storage.EventRef { return &e.EventRef }) {
		latestAllocations[e.StrategyId] = e
	}
	for _, e := range latestAllocations {
		if e.Magnitude.IsPositive() {
			state.ActiveStrategyCount++
		}
	}

	state.TotalSlashEvents = uint64(len(history.Slashings))
	for _, e := range history.Slashings {
		blockTime := e.BlockTime
		if state.LastSlashedAt == nil || blockTime.After(*state.LastSlashedAt) {
			state.LastSlashedAt = &blockTime
		}
	}

	state.LastMetadataUpdateAt = maxBlockTime(state.LastMetadataUpdateAt, history.MetadataUpdates, func(e *storage.OperatorMetadataUpdateEvent) time.Time { return e.BlockTime })
	state.LastDelegationChangeAt = maxBlockTime(state.LastDelegationChangeAt, history.Delegations, func(e *storage.StakerDelegationEvent) time.Time { return e.BlockTime })
	state.LastDelegationChangeAt = maxBlockTime(state.LastDelegationChangeAt, history.ForceUndelegations, func(e *storage.StakerForceUndelegationEvent) time.Time { return e.BlockTime })
	state.LastAllocationChangeAt = maxBlockTime(state.LastAllocationChangeAt, history.Allocations, func(e *storage.AllocationEvent) time.Time { return e.BlockTime })
	state.LastAvsChangeAt = maxBlockTime(state.LastAvsChangeAt, history.AvsRegistrations, func(e *storage.OperatorAvsRegistrationStatusEvent) time.Time { return e.BlockTime })
	state.LastCommissionChangeAt = maxBlockTime(state.LastCommissionChangeAt, history.Splits, func(e *storage.OperatorSplitEvent) time.Time { return e.BlockTime })

	marks := collectActivity(history)
	if first := firstActivity(marks); first != nil {
		firstAt := first.Ref.BlockTime
		firstBlock := first.Ref.BlockNumber
		state.FirstActivityAt = &firstAt
		state.FirstActivityBlock = &firstBlock
		state.FirstActivityType = first.Category
		if now.After(firstAt) {
			state.OperationalDays = uint64(now.Sub(firstAt).Hours() / 24)
		}
	}
	last := lastActivityAt(marks, now)
	state.LastActivityAt = &last
	state.IsActive = now.Sub(last) <= activeWindowDays*24*time.Hour

	return state
}

func maxBlockTime[T any](current *time.Time, events []*T, at func(*T) time.Time) *time.Time {
	latest := current
	for _, e := range events {
		t := at(e)
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest
}
