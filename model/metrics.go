package model

// AgentStat is one row of the top-agents breakdown.
type AgentStat struct {
	AgentId    string  `json:"agentId"`
	Executions int64   `json:"executions"`
	Failures   int64   `json:"failures"`
	Cost       float64 `json:"cost"`
}

// Metrics is the rolling aggregation over execution history. Older records
// may lack usage fields; those are treated as zero.
type Metrics struct {
	WindowDays        int         `json:"windowDays"`
	TotalExecutions   int64       `json:"totalExecutions"`
	Completed         int64       `json:"completed"`
	Failed            int64       `json:"failed"`
	Cancelled         int64       `json:"cancelled"`
	SuccessRate       float64     `json:"successRate"`
	AvgDurationMs     float64     `json:"avgDurationMs"`
	TotalTokens       int64       `json:"totalTokens"`
	TotalCostEstimate float64     `json:"totalCostEstimate"`
	TopAgents         []AgentStat `json:"topAgents,omitempty"`
}
