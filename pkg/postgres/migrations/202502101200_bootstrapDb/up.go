package _202502101200_bootstrapDb

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

// Creates the operators registry and the source event tables. The event
// tables are append-only and populated by the external extraction service;
// every table carries the (block_time, block_number, log_index) ordering
// columns plus created_at for ingest-time change detection.
func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create table if not exists operators (
			id varchar not null,
			address varchar not null,
			created_at timestamp with time zone default current_timestamp,
			primary key(id),
			unique(address)
		)`,
		`create table if not exists operator_registered_events (
			operator_id varchar not null,
			delegation_approver varchar,
			metadata_uri varchar,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists delegation_approver_update_events (
			operator_id varchar not null,
			new_delegation_approver varchar,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists operator_metadata_update_events (
			operator_id varchar not null,
			metadata_uri varchar,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists operator_split_events (
			operator_id varchar not null,
			split_type varchar not null,
			avs_id varchar,
			operator_set_id varchar,
			old_bips bigint,
			new_bips bigint not null,
			activated_at timestamp with time zone,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists staker_delegation_events (
			operator_id varchar not null,
			staker_id varchar not null,
			delegation_type varchar not null,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists staker_force_undelegation_events (
			operator_id varchar not null,
			staker_id varchar not null,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists staker_share_events (
			operator_id varchar not null,
			staker_id varchar not null,
			strategy_id varchar not null,
			shares numeric not null,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists allocation_events (
			operator_id varchar not null,
			operator_set_id varchar not null,
			strategy_id varchar not null,
			magnitude numeric not null,
			effect_block bigint,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists operator_avs_registration_status_events (
			operator_id varchar not null,
			avs_id varchar not null,
			status varchar not null,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists operator_slashed_events (
			operator_id varchar not null,
			operator_set_id varchar,
			description varchar,
			strategies jsonb not null default '[]',
			wad_slashed jsonb not null default '[]',
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists max_magnitude_updated_events (
			operator_id varchar not null,
			strategy_id varchar not null,
			max_magnitude numeric not null,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
		)`,
		`create table if not exists encumbered_magnitude_updated_events (
			operator_id varchar not null,
			strategy_id varchar not null,
			encumbered_magnitude numeric not null,
			block_number bigint not null,
			block_time timestamp with time zone not null,
			transaction_hash varchar not null,
			log_index bigint not null,
			created_at timestamp with time zone default current_timestamp,
			unique(transaction_hash, log_index)
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
	return "202502101200_bootstrapDb"
}
