package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	MStepLatencyMs = stats.Float64("agentflow/step_latency", "step execution latency", stats.UnitMilliseconds)
	MStepCount     = stats.Int64("agentflow/step_count", "step attempts", stats.UnitDimensionless)
	MExecutionEnd  = stats.Int64("agentflow/execution_end", "finalized executions", stats.UnitDimensionless)

	KeyStepType, _ = tag.NewKey("step_type")
	KeyStatus, _   = tag.NewKey("status")
)

var views = []*view.View{
	{
		Name:        "agentflow/step_latency",
		Measure:     MStepLatencyMs,
		Description: "distribution of step latency",
		TagKeys:     []tag.Key{KeyStepType, KeyStatus},
		Aggregation: view.Distribution(10, 50, 100, 500, 1000, 5000, 30000),
	},
	{
		Name:        "agentflow/step_count",
		Measure:     MStepCount,
		Description: "step attempts by type and status",
		TagKeys:     []tag.Key{KeyStepType, KeyStatus},
		Aggregation: view.Count(),
	},
	{
		Name:        "agentflow/execution_end",
		Measure:     MExecutionEnd,
		Description: "finalized executions by status",
		TagKeys:     []tag.Key{KeyStatus},
		Aggregation: view.Count(),
	},
}

// RegisterViews installs the engine views on the default registry.
func RegisterViews() error {
	return view.Register(views...)
}

func RecordStep(ctx context.Context, stepType string, status string, latencyMs float64) {
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyStepType, stepType), tag.Upsert(KeyStatus, status)},
		MStepLatencyMs.M(latencyMs),
		MStepCount.M(1),
	)
}

func RecordExecutionEnd(ctx context.Context, status string) {
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyStatus, status)},
		MExecutionEnd.M(1),
	)
}
