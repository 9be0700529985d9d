package _202502101315_operatorStateTables

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create table if not exists pipeline_checkpoints (
			pipeline_name varchar not null,
			last_processed_at timestamp with time zone not null,
			last_processed_block bigint not null default 0,
			operators_processed_count bigint not null default 0,
			total_events_processed bigint not null default 0,
			run_duration_seconds double precision,
			run_metadata jsonb,
			updated_at timestamp with time zone default current_timestamp,
			primary key(pipeline_name)
		)`,
		`create table if not exists operator_state (
			operator_id varchar not null,
			operator_address varchar,
			registered_at timestamp with time zone,
			registration_block bigint,
			first_activity_at timestamp with time zone,
			first_activity_block bigint,
			first_activity_type varchar,
			last_activity_at timestamp with time zone,
			current_delegation_approver varchar,
			is_permissioned boolean not null default false,
			current_pi_split_bips bigint,
			pi_split_activated_at timestamp with time zone,
			current_delegator_count bigint not null default 0,
			total_delegation_events bigint not null default 0,
			active_avs_count bigint not null default 0,
			total_avs_registrations bigint not null default 0,
			active_strategy_count bigint not null default 0,
			total_slash_events bigint not null default 0,
			last_slashed_at timestamp with time zone,
			force_undelegation_count bigint not null default 0,
			last_metadata_update_at timestamp with time zone,
			last_delegation_change_at timestamp with time zone,
			last_allocation_change_at timestamp with time zone,
			last_avs_change_at timestamp with time zone,
			last_commission_change_at timestamp with time zone,
			operational_days bigint not null default 0,
			is_active boolean not null default false,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id)
		)`,
		`create table if not exists operator_strategy_state (
			operator_id varchar not null,
			strategy_id varchar not null,
			max_magnitude numeric,
			max_magnitude_updated_at timestamp with time zone,
			encumbered_magnitude numeric,
			encumbered_magnitude_updated_at timestamp with time zone,
			utilization_rate double precision,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id, strategy_id)
		)`,
		`create table if not exists operator_avs_relationships (
			operator_id varchar not null,
			avs_id varchar not null,
			current_status varchar not null,
			status_since timestamp with time zone,
			first_registered_at timestamp with time zone,
			last_registered_at timestamp with time zone,
			last_unregistered_at timestamp with time zone,
			registration_cycles bigint not null default 0,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id, avs_id)
		)`,
		`create table if not exists operator_delegators (
			operator_id varchar not null,
			staker_id varchar not null,
			is_delegated boolean not null default false,
			delegated_at timestamp with time zone,
			undelegated_at timestamp with time zone,
			was_force_undelegated boolean not null default false,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id, staker_id)
		)`,
		`create table if not exists operator_delegator_shares (
			operator_id varchar not null,
			staker_id varchar not null,
			strategy_id varchar not null,
			shares numeric not null default 0,
			shares_updated_at timestamp with time zone,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id, staker_id, strategy_id)
		)`,
		`create table if not exists operator_commission_rates (
			operator_id varchar not null,
			split_type varchar not null,
			target_id varchar not null default '',
			current_bips bigint not null,
			previous_bips bigint,
			activated_at timestamp with time zone,
			total_changes bigint not null default 0,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id, split_type, target_id)
		)`,
		`create table if not exists operator_slashing_incidents (
			operator_id varchar not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			operator_set_id varchar,
			strategy_id varchar not null,
			wad_slashed numeric not null,
			description varchar,
			slashed_at timestamp with time zone not null,
			block_number bigint not null,
			rebuilt_at timestamp with time zone default current_timestamp,
			primary key(operator_id, transaction_hash, log_index, strategy_id)
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
	return "202502101315_operatorStateTables"
}
