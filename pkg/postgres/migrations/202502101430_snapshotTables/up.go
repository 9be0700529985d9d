package _202502101430_snapshotTables

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create table if not exists operator_daily_snapshots (
			operator_id varchar not null,
			snapshot_date date not null,
			current_delegator_count bigint not null default 0,
			active_avs_count bigint not null default 0,
			active_strategy_count bigint not null default 0,
			current_pi_split_bips bigint,
			slash_event_count_to_date bigint not null default 0,
			force_undelegation_count bigint not null default 0,
			total_delegated_shares numeric not null default 0,
			operational_days bigint not null default 0,
			is_active boolean not null default false,
			created_at timestamp with time zone default current_timestamp,
			primary key(operator_id, snapshot_date)
		)`,
		`create table if not exists operator_strategy_daily_snapshots (
			operator_id varchar not null,
			strategy_id varchar not null,
			snapshot_date date not null,
			max_magnitude numeric,
			encumbered_magnitude numeric,
			utilization_rate double precision,
			created_at timestamp with time zone default current_timestamp,
			primary key(operator_id, strategy_id, snapshot_date)
		)`,
		`create table if not exists operator_delegator_shares_snapshots (
			operator_id varchar not null,
			staker_id varchar not null,
			strategy_id varchar not null,
			snapshot_date date not null,
			shares numeric not null default 0,
			is_delegated boolean not null default false,
			created_at timestamp with time zone default current_timestamp,
			primary key(operator_id, staker_id, strategy_id, snapshot_date)
		)`,
	}

	for _, query := range queries {
		if res := grm.Exec(query); res.Error != nil {
			fmt.Printf("Failed to execute query: %s\n", query)
			return res.Error
		}
	}
	return nil
}

func (m *Migration) GetName() string {
	return "202502101430_snapshotTables"
}
