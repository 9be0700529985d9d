package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_StageRun         = "pipeline.stage.run"
	Metric_Incr_StageFailure     = "pipeline.stage.failure"
	Metric_Incr_OperatorRebuilt  = "reconstructor.operator.rebuilt"
	Metric_Incr_OperatorFailed   = "reconstructor.operator.failed"
	Metric_Incr_SnapshotRows     = "snapshots.rows"
	Metric_Incr_AnalyticsRecords = "analytics.records"

	Metric_Gauge_ChangedOperators = "detector.changedOperators"
	Metric_Gauge_CheckpointAge    = "checkpoint.ageSeconds"

	Metric_Timing_StageDuration = "pipeline.stage.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_StageRun,
			Labels: []string{"stage"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_StageFailure,
			Labels: []string{"stage"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_OperatorRebuilt,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_OperatorFailed,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_SnapshotRows,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_AnalyticsRecords,
			Labels: []string{},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_ChangedOperators,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_CheckpointAge,
			Labels: []string{"pipeline"},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_StageDuration,
			Labels: []string{"stage"},
		},
	},
}
