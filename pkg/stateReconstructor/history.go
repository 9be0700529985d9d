package stateReconstructor

import (
	"context"
	"errors"
	"fmt"

	"github.com/eigenwatch/oprisk/pkg/storage"
	"gorm.io/gorm"
)

// OperatorHistory is the complete event history of one operator, each slice
// ordered by (block_time, block_number, log_index). Every derived row is a
// pure function of this struct, which is what makes rebuilds idempotent and
// insensitive to ingestion order.
type OperatorHistory struct {
	OperatorId string
	Operator   *storage.Operator

	Registrations        []*storage.OperatorRegisteredEvent
	ApproverUpdates      []*storage.DelegationApproverUpdateEvent
	MetadataUpdates      []*storage.OperatorMetadataUpdateEvent
	Splits               []*storage.OperatorSplitEvent
	Delegations          []*storage.StakerDelegationEvent
	ForceUndelegations   []*storage.StakerForceUndelegationEvent
	ShareUpdates         []*storage.StakerShareEvent
	Allocations          []*storage.AllocationEvent
	AvsRegistrations     []*storage.OperatorAvsRegistrationStatusEvent
	Slashings            []*storage.OperatorSlashedEvent
	MaxMagnitudes        []*storage.MaxMagnitudeUpdatedEvent
	EncumberedMagnitudes []*storage.EncumberedMagnitudeUpdatedEvent
}

func (h *OperatorHistory) EventCount() uint64 {
	return uint64(len(h.Registrations) +
		len(h.ApproverUpdates) +
		len(h.MetadataUpdates) +
		len(h.Splits) +
		len(h.Delegations) +
		len(h.ForceUndelegations) +
		len(h.ShareUpdates) +
		len(h.Allocations) +
		len(h.AvsRegistrations) +
		len(h.Slashings) +
		len(h.MaxMagnitudes) +
		len(h.EncumberedMagnitudes))
}

const historyOrder = "block_time asc, block_number asc, log_index asc"

func fetchOrdered[T any](ctx context.Context, db *gorm.DB, operatorId string, dest *[]*T) error {
	res := db.WithContext(ctx).
		Where("operator_id = ?", operatorId).
		Order(historyOrder).
		Find(dest)
	return res.Error
}

// LoadOperatorHistory fetches the full event history for one operator. The
// registry row may legitimately be missing when events reference an operator
// the registry has not caught up with; that degrades to an empty address.
func LoadOperatorHistory(ctx context.Context, db *gorm.DB, operatorId string) (*OperatorHistory, error) {
	history := &OperatorHistory{
		OperatorId: operatorId,
	}

	var operator storage.Operator
	res := db.WithContext(ctx).First(&operator, "id = ?", operatorId)
	if res.Error == nil {
		history.Operator = &operator
	} else if !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load operator '%s': %w", operatorId, res.Error)
	}

	if err := fetchOrdered(ctx, db, operatorId, &history.Registrations); err != nil {
		return nil, fmt.Errorf("failed to load registration events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.ApproverUpdates); err != nil {
		return nil, fmt.Errorf("failed to load approver update events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.MetadataUpdates); err != nil {
		return nil, fmt.Errorf("failed to load metadata events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.Splits); err != nil {
		return nil, fmt.Errorf("failed to load split events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.Delegations); err != nil {
		return nil, fmt.Errorf("failed to load delegation events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.ForceUndelegations); err != nil {
		return nil, fmt.Errorf("failed to load force undelegation events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.ShareUpdates); err != nil {
		return nil, fmt.Errorf("failed to load share events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.Allocations); err != nil {
		return nil, fmt.Errorf("failed to load allocation events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.AvsRegistrations); err != nil {
		return nil, fmt.Errorf("failed to load avs registration events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.Slashings); err != nil {
		return nil, fmt.Errorf("failed to load slashing events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.MaxMagnitudes); err != nil {
		return nil, fmt.Errorf("failed to load max magnitude events for '%s': %w", operatorId, err)
	}
	if err := fetchOrdered(ctx, db, operatorId, &history.EncumberedMagnitudes); err != nil {
		return nil, fmt.Errorf("failed to load encumbered magnitude events for '%s': %w", operatorId, err)
	}

	return history, nil
}
