package stateReconstructor

import (
	"time"

	"github.com/eigenwatch/oprisk/pkg/storage"
)

// Activity categories, in tie-break precedence order. When two categories
// produce an event at the exact same (block_time, block_number), the one
// listed first here names the operator's first activity.
const (
	ActivityRegistration      = "REGISTRATION"
	ActivityDelegation        = "DELEGATION"
	ActivityForceUndelegation = "FORCE_UNDELEGATION"
	ActivityShares            = "SHARES"
	ActivityAllocation        = "ALLOCATION"
	ActivityAvsRegistration   = "AVS_REGISTRATION"
	ActivityCommission        = "COMMISSION"
	ActivitySlashing          = "SLASHING"
	ActivityMetadata          = "METADATA"
	ActivityApproverUpdate    = "APPROVER_UPDATE"
	ActivityMagnitude         = "MAGNITUDE"
)

var activityPrecedence = map[string]int{
	ActivityRegistration:      0,
	ActivityDelegation:        1,
	ActivityForceUndelegation: 2,
	ActivityShares:            3,
	ActivityAllocation:        4,
	ActivityAvsRegistration:   5,
	ActivityCommission:        6,
	ActivitySlashing:          7,
	ActivityMetadata:          8,
	ActivityApproverUpdate:    9,
	ActivityMagnitude:         10,
}

type activityMark struct {
	Category string
	Ref      storage.EventRef
}

func collectActivity(history *OperatorHistory) []activityMark {
	marks := make([]activityMark, 0, history.EventCount())
	for _, e := range history.Registrations {
		marks = append(marks, activityMark{ActivityRegistration, e.EventRef})
	}
	for _, e := range history.Delegations {
		marks = append(marks, activityMark{ActivityDelegation, e.EventRef})
	}
	for _, e := range history.ForceUndelegations {
		marks = append(marks, activityMark{ActivityForceUndelegation, e.EventRef})
	}
	for _, e := range history.ShareUpdates {
		marks = append(marks, activityMark{ActivityShares, e.EventRef})
	}
	for _, e := range history.Allocations {
		marks = append(marks, activityMark{ActivityAllocation, e.EventRef})
	}
	for _, e := range history.AvsRegistrations {
		marks = append(marks, activityMark{ActivityAvsRegistration, e.EventRef})
	}
	for _, e := range history.Splits {
		marks = append(marks, activityMark{ActivityCommission, e.EventRef})
	}
	for _, e := range history.Slashings {
		marks = append(marks, activityMark{ActivitySlashing, e.EventRef})
	}
	for _, e := range history.MetadataUpdates {
		marks = append(marks, activityMark{ActivityMetadata, e.EventRef})
	}
	for _, e := range history.ApproverUpdates {
		marks = append(marks, activityMark{ActivityApproverUpdate, e.EventRef})
	}
	for _, e := range history.MaxMagnitudes {
		marks = append(marks, activityMark{ActivityMagnitude, e.EventRef})
	}
	for _, e := range history.EncumberedMagnitudes {
		marks = append(marks, activityMark{ActivityMagnitude, e.EventRef})
	}
	return marks
}

// firstActivity returns the earliest event across all categories, breaking
// exact ties by category precedence. Nil when the history is empty.
func firstActivity(marks []activityMark) *activityMark {
	var first *activityMark
	for i := range marks {
		mark := &marks[i]
		if first == nil {
			first = mark
			continue
		}
		cmp := mark.Ref.Compare(&first.Ref)
		if cmp < 0 || (cmp == 0 && activityPrecedence[mark.Category] < activityPrecedence[first.Category]) {
			first = mark
		}
	}
	return first
}

// lastActivityAt returns the latest block_time across all categories, or
// the supplied now for an operator with no events so a never-active operator
// still reports a sane last-seen time.
func lastActivityAt(marks []activityMark, now time.Time) time.Time {
	last := time.Time{}
	for i := range marks {
		if marks[i].Ref.BlockTime.After(last) {
			last = marks[i].Ref.BlockTime
		}
	}
	if last.IsZero() {
		return now
	}
	return last
}
