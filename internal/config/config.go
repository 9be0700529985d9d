package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ENV_PREFIX scopes environment bindings, e.g. OPRISK_DATABASE_HOST.
const ENV_PREFIX = "OPRISK"

// Flag names, shared between cmd and config so that viper bindings and
// lookups never drift apart.
const (
	Debug = "debug"

	DatabaseHost       = "database.host"
	DatabasePort       = "database.port"
	DatabaseUser       = "database.user"
	DatabasePassword   = "database.password"
	DatabaseDbName     = "database.db_name"
	DatabaseSchemaName = "database.schema_name"
	DatabaseSSLMode    = "database.ssl_mode"

	PipelineSafetyBufferSeconds = "pipeline.safety-buffer-seconds"
	PipelineSafetyBufferBlocks  = "pipeline.safety-buffer-blocks"
	PipelineMaxOperatorsPerRun  = "pipeline.max-operators-per-batch"
	PipelineCommitBatchSize     = "pipeline.commit-batch-size"
	PipelineMaxRetries          = "pipeline.max-retries"
	PipelineRetryDelaySeconds   = "pipeline.retry-delay-seconds"

	SnapshotHourUtc = "snapshots.hour-utc"

	AnalyticsVolatilityWindows = "analytics.volatility-windows"
	AnalyticsMinDataPoints     = "analytics.min-data-points"

	RiskWeightSlashing      = "risk.weights.slashing"
	RiskWeightConcentration = "risk.weights.concentration"
	RiskWeightVolatility    = "risk.weights.volatility"
	RiskWeightDelegators    = "risk.weights.delegators"

	DataDogStatsdEnabled    = "datadog.statsd.enabled"
	DataDogStatsdUrl        = "datadog.statsd.url"
	DataDogStatsdSampleRate = "datadog.statsd.sample-rate"

	PrometheusEnabled = "prometheus.enabled"
	PrometheusPort    = "prometheus.port"
)

type Config struct {
	Debug bool

	DatabaseConfig   DatabaseConfig
	PipelineConfig   PipelineConfig
	SnapshotConfig   SnapshotConfig
	AnalyticsConfig  AnalyticsConfig
	RiskWeights      RiskWeights
	StatsdConfig     StatsdConfig
	PrometheusConfig PrometheusConfig
}

type DatabaseConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	DbName     string
	SchemaName string
	SSLMode    string
}

type PipelineConfig struct {
	SafetyBufferSeconds  int
	SafetyBufferBlocks   uint64
	MaxOperatorsPerBatch int
	CommitBatchSize      int
	MaxRetries           int
	RetryDelaySeconds    int
}

func (pc *PipelineConfig) SafetyBuffer() time.Duration {
	return time.Duration(pc.SafetyBufferSeconds) * time.Second
}

func (pc *PipelineConfig) RetryDelay() time.Duration {
	return time.Duration(pc.RetryDelaySeconds) * time.Second
}

type SnapshotConfig struct {
	SnapshotHourUtc int
}

type AnalyticsConfig struct {
	// VolatilityWindows is an ordered list of day counts, e.g. [7, 30, 90].
	VolatilityWindows []int
	MinDataPoints     int
}

// RiskWeights is the composite-score policy. Weights are relative; the
// scorer normalizes them, so they need not sum to 1.
type RiskWeights struct {
	Slashing      float64
	Concentration float64
	Volatility    float64
	Delegators    float64
}

type StatsdConfig struct {
	Enabled    bool
	Url        string
	SampleRate float64
}

type PrometheusConfig struct {
	Enabled bool
	Port    int
}

// KebabToSnakeCase converts a dotted kebab-case flag name into the form
// viper uses for env binding, e.g. "pipeline.max-retries" -> "pipeline.max_retries".
func KebabToSnakeCase(str string) string {
	return strings.ReplaceAll(str, "-", "_")
}

// supportedVolatilityWindows are the day counts the analytics table has
// columns for. Other values are rejected here rather than computed and
// dropped downstream.
var supportedVolatilityWindows = map[int]bool{7: true, 30: true, 90: true}

func parseVolatilityWindows(raw string) []int {
	windows := make([]int, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if days, err := strconv.Atoi(part); err == nil && supportedVolatilityWindows[days] {
			windows = append(windows, days)
		}
	}
	if len(windows) == 0 {
		windows = []int{7, 30, 90}
	}
	return windows
}

func NewConfig() *Config {
	return &Config{
		Debug: viper.GetBool(normalizeFlagName(Debug)),

		DatabaseConfig: DatabaseConfig{
			Host:       viper.GetString(normalizeFlagName(DatabaseHost)),
			Port:       viper.GetInt(normalizeFlagName(DatabasePort)),
			User:       viper.GetString(normalizeFlagName(DatabaseUser)),
			Password:   viper.GetString(normalizeFlagName(DatabasePassword)),
			DbName:     viper.GetString(normalizeFlagName(DatabaseDbName)),
			SchemaName: viper.GetString(normalizeFlagName(DatabaseSchemaName)),
			SSLMode:    viper.GetString(normalizeFlagName(DatabaseSSLMode)),
		},

		PipelineConfig: PipelineConfig{
			SafetyBufferSeconds:  viper.GetInt(normalizeFlagName(PipelineSafetyBufferSeconds)),
			SafetyBufferBlocks:   viper.GetUint64(normalizeFlagName(PipelineSafetyBufferBlocks)),
			MaxOperatorsPerBatch: viper.GetInt(normalizeFlagName(PipelineMaxOperatorsPerRun)),
			CommitBatchSize:      viper.GetInt(normalizeFlagName(PipelineCommitBatchSize)),
			MaxRetries:           viper.GetInt(normalizeFlagName(PipelineMaxRetries)),
			RetryDelaySeconds:    viper.GetInt(normalizeFlagName(PipelineRetryDelaySeconds)),
		},

		SnapshotConfig: SnapshotConfig{
			SnapshotHourUtc: viper.GetInt(normalizeFlagName(SnapshotHourUtc)),
		},

		AnalyticsConfig: AnalyticsConfig{
			VolatilityWindows: parseVolatilityWindows(viper.GetString(normalizeFlagName(AnalyticsVolatilityWindows))),
			MinDataPoints:     viper.GetInt(normalizeFlagName(AnalyticsMinDataPoints)),
		},

		RiskWeights: RiskWeights{
			Slashing:      viper.GetFloat64(normalizeFlagName(RiskWeightSlashing)),
			Concentration: viper.GetFloat64(normalizeFlagName(RiskWeightConcentration)),
			Volatility:    viper.GetFloat64(normalizeFlagName(RiskWeightVolatility)),
			Delegators:    viper.GetFloat64(normalizeFlagName(RiskWeightDelegators)),
		},

		StatsdConfig: StatsdConfig{
			Enabled:    viper.GetBool(normalizeFlagName(DataDogStatsdEnabled)),
			Url:        viper.GetString(normalizeFlagName(DataDogStatsdUrl)),
			SampleRate: viper.GetFloat64(normalizeFlagName(DataDogStatsdSampleRate)),
		},

		PrometheusConfig: PrometheusConfig{
			Enabled: viper.GetBool(normalizeFlagName(PrometheusEnabled)),
			Port:    viper.GetInt(normalizeFlagName(PrometheusPort)),
		},
	}
}

func normalizeFlagName(name string) string {
	return KebabToSnakeCase(name)
}
