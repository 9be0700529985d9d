package _202502111012_eventIngestIndexes

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

// Change detection scans every event table by created_at; reconstruction
// fetches full per-operator histories. Both need indexes once the tables
// grow past toy sizes.
func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	tables := []string{
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

	for _, table := range tables {
		queries := []string{
			fmt.Sprintf("create index if not exists %s_created_at_idx on %s (created_at)", table, table),
			fmt.Sprintf("create index if not exists %s_operator_id_idx on %s (operator_id)", table, table),
		}
		for _, query := range queries {
			if res := grm.Exec(query); res.Error != nil {
				return res.Error
			}
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202502111012_eventIngestIndexes"
}
