package _202502101545_analyticsTables

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type Migration struct {
}

func (m *Migration) Up(db *sql.DB, grm *gorm.DB) error {
	queries := []string{
		`create table if not exists operator_analytics (
			operator_id varchar not null,
			analytics_date date not null,
			volatility_7d double precision,
			volatility_30d double precision,
			volatility_90d double precision,
			hhi_bips double precision,
			gini_coefficient double precision,
			top1_share double precision,
			top5_share double precision,
			effective_holder_count double precision,
			delegator_count bigint not null default 0,
			total_delegated_shares numeric not null default 0,
			slashing_score double precision,
			concentration_score double precision,
			stability_score double precision,
			delegator_health_score double precision,
			risk_score double precision,
			risk_level varchar,
			confidence_score double precision,
			has_sufficient_data boolean not null default false,
			snapshot_days_available bigint not null default 0,
			calculated_at timestamp with time zone default current_timestamp,
			calculation_duration_ms bigint,
			primary key(operator_id, analytics_date)
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
	return "202502101545_analyticsTables"
}
