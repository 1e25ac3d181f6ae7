package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence/inmem"
	"github.com/stretchr/testify/require"
)

func seedExecution(t *testing.T, storage *inmem.Storage, id, agentId string, status model.ExecutionStatus,
	startedAt time.Time, durationMs int64, tokens int64, cost float64) {
	t.Helper()
	ctx := context.Background()
	execution := &model.Execution{
		Id:        id,
		AgentId:   agentId,
		FlowId:    "flow-1",
		Status:    model.EXECUTION_PENDING,
		Data:      map[string]any{},
		StartedAt: startedAt,
	}
	stored, _, err := storage.Executions().CreateIfAbsent(ctx, execution)
	require.NoError(t, err)
	stored.Status = status
	stored.DurationMs = durationMs
	stored.Usage = model.ResourceUsage{Tokens: tokens, CostEstimate: cost}
	require.NoError(t, storage.Executions().Save(ctx, stored))
}

func TestCollect(t *testing.T) {
	storage := inmem.NewStorage()
	now := time.Now()

	seedExecution(t, storage, "e1", "agent-a", model.EXECUTION_COMPLETED, now.Add(-time.Hour), 100, 50, 0.2)
	seedExecution(t, storage, "e2", "agent-a", model.EXECUTION_COMPLETED, now.Add(-2*time.Hour), 300, 80, 0.3)
	seedExecution(t, storage, "e3", "agent-b", model.EXECUTION_FAILED, now.Add(-3*time.Hour), 200, 0, 0)
	seedExecution(t, storage, "e4", "agent-b", model.EXECUTION_CANCELLED, now.Add(-time.Hour), 0, 0, 0)
	seedExecution(t, storage, "e5", "agent-a", model.EXECUTION_RUNNING, now.Add(-time.Minute), 0, 0, 0)
	// outside the window, must not count
	seedExecution(t, storage, "e6", "agent-a", model.EXECUTION_FAILED, now.AddDate(0, 0, -30), 500, 999, 9.9)

	collector := NewCollector(storage.Executions())
	m, err := collector.Collect(context.Background(), "", 7)
	require.NoError(t, err)

	require.Equal(t, 7, m.WindowDays)
	require.Equal(t, int64(5), m.TotalExecutions)
	require.Equal(t, int64(2), m.Completed)
	require.Equal(t, int64(1), m.Failed)
	require.Equal(t, int64(1), m.Cancelled)
	// success rate is over terminal executions only
	require.InDelta(t, 0.5, m.SuccessRate, 0.001)
	// executions with missing durations are excluded from the average
	require.InDelta(t, 200.0, m.AvgDurationMs, 0.001)
	require.Equal(t, int64(130), m.TotalTokens)
	require.InDelta(t, 0.5, m.TotalCostEstimate, 0.001)

	require.Len(t, m.TopAgents, 2)
	require.Equal(t, "agent-a", m.TopAgents[0].AgentId)
	require.Equal(t, int64(3), m.TopAgents[0].Executions)
	require.Equal(t, int64(1), m.TopAgents[1].Failures)
}

func TestCollectPerAgent(t *testing.T) {
	storage := inmem.NewStorage()
	now := time.Now()
	seedExecution(t, storage, "e1", "agent-a", model.EXECUTION_COMPLETED, now.Add(-time.Hour), 100, 10, 0.1)
	seedExecution(t, storage, "e2", "agent-b", model.EXECUTION_FAILED, now.Add(-time.Hour), 100, 10, 0.1)

	collector := NewCollector(storage.Executions())
	m, err := collector.Collect(context.Background(), "agent-a", 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), m.TotalExecutions)
	require.Equal(t, int64(1), m.Completed)
	require.Zero(t, m.Failed)
	require.Empty(t, m.TopAgents, "per agent queries skip the breakdown")
}

func TestCollectEmptyWindow(t *testing.T) {
	collector := NewCollector(inmem.NewStorage().Executions())
	m, err := collector.Collect(context.Background(), "", 0)
	require.NoError(t, err)
	require.Equal(t, 7, m.WindowDays, "non positive window falls back to the default")
	require.Zero(t, m.TotalExecutions)
	require.Zero(t, m.SuccessRate)
	require.Zero(t, m.AvgDurationMs)
}

func TestTopAgentsOrderingAndLimit(t *testing.T) {
	storage := inmem.NewStorage()
	now := time.Now()
	for i := 0; i < 12; i++ {
		agentId := fmt.Sprintf("agent-%02d", i)
		for j := 0; j <= i%3; j++ {
			seedExecution(t, storage, fmt.Sprintf("e-%d-%d", i, j), agentId,
				model.EXECUTION_COMPLETED, now.Add(-time.Hour), 10, 1, 0.01)
		}
	}
	collector := NewCollector(storage.Executions())
	m, err := collector.Collect(context.Background(), "", 7)
	require.NoError(t, err)
	require.Len(t, m.TopAgents, 10)
	for i := 1; i < len(m.TopAgents); i++ {
		require.GreaterOrEqual(t, m.TopAgents[i-1].Executions, m.TopAgents[i].Executions)
	}
}
