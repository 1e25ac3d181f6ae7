package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
)

// Collector aggregates execution history into rolling statistics. It is a
// read only consumer; older records missing usage fields count as zero
// instead of failing the aggregation.
type Collector struct {
	executions persistence.ExecutionStorage
}

func NewCollector(executions persistence.ExecutionStorage) *Collector {
	return &Collector{executions: executions}
}

// Collect computes statistics over the window. An empty agentId aggregates
// across all agents and includes the top agent breakdown.
func (c *Collector) Collect(ctx context.Context, agentId string, windowDays int) (*model.Metrics, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	since := time.Now().AddDate(0, 0, -windowDays)
	executions, err := c.executions.ListStartedSince(ctx, since, agentId)
	if err != nil {
		return nil, err
	}
	m := &model.Metrics{WindowDays: windowDays}
	byAgent := make(map[string]*model.AgentStat)
	var durationTotal float64
	var durationCount int64
	for _, execution := range executions {
		m.TotalExecutions++
		stat, ok := byAgent[execution.AgentId]
		if !ok {
			stat = &model.AgentStat{AgentId: execution.AgentId}
			byAgent[execution.AgentId] = stat
		}
		stat.Executions++
		switch execution.Status {
		case model.EXECUTION_COMPLETED:
			m.Completed++
		case model.EXECUTION_FAILED:
			m.Failed++
			stat.Failures++
		case model.EXECUTION_CANCELLED:
			m.Cancelled++
		}
		if execution.DurationMs > 0 {
			durationTotal += float64(execution.DurationMs)
			durationCount++
		}
		m.TotalTokens += execution.Usage.Tokens
		m.TotalCostEstimate += execution.Usage.CostEstimate
		stat.Cost += execution.Usage.CostEstimate
	}
	terminal := m.Completed + m.Failed + m.Cancelled
	if terminal > 0 {
		m.SuccessRate = float64(m.Completed) / float64(terminal)
	}
	if durationCount > 0 {
		m.AvgDurationMs = durationTotal / float64(durationCount)
	}
	if len(agentId) == 0 {
		m.TopAgents = topAgents(byAgent, 10)
	}
	return m, nil
}

func topAgents(byAgent map[string]*model.AgentStat, limit int) []model.AgentStat {
	out := make([]model.AgentStat, 0, len(byAgent))
	for _, stat := range byAgent {
		out = append(out, *stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Executions != out[j].Executions {
			return out[i].Executions > out[j].Executions
		}
		return out[i].AgentId < out[j].AgentId
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
