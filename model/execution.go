package model

import "time"

// ExecutionStatus is the state machine driven by the flow executor. All
// transitions are compare-and-set on status so racing workers cannot both
// proceed.
type ExecutionStatus string

const EXECUTION_PENDING ExecutionStatus = "pending"
const EXECUTION_RUNNING ExecutionStatus = "running"
const EXECUTION_PAUSED_FOR_APPROVAL ExecutionStatus = "paused_for_approval"
const EXECUTION_COMPLETED ExecutionStatus = "completed"
const EXECUTION_FAILED ExecutionStatus = "failed"
const EXECUTION_CANCELLED ExecutionStatus = "cancelled"

func (s ExecutionStatus) IsTerminal() bool {
	return s == EXECUTION_COMPLETED || s == EXECUTION_FAILED || s == EXECUTION_CANCELLED
}

// ResourceUsage aggregates spend over an execution.
type ResourceUsage struct {
	Tokens       int64   `json:"tokens"`
	CostEstimate float64 `json:"costEstimate"`
}

// Execution is one run instance of a flow. Data accumulates step outputs
// keyed by order index, with the trigger input under "input", and is the
// source for jsonpath parameter resolution of later steps.
type Execution struct {
	Id              string          `json:"id"`
	TenantId        string          `json:"tenantId"`
	FlowId          string          `json:"flowId"`
	AgentId         string          `json:"agentId"`
	TriggerType     TriggerType     `json:"triggerType"`
	DedupKey        string          `json:"dedupKey"`
	Status          ExecutionStatus `json:"status"`
	NextStep        int             `json:"nextStep"`
	ApprovedStep    int             `json:"approvedStep"`
	CancelRequested bool            `json:"cancelRequested"`
	Queued          bool            `json:"queued"`
	Data            map[string]any  `json:"data"`
	Result          map[string]any  `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	Usage           ResourceUsage   `json:"usage"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedAt     time.Time       `json:"completedAt,omitempty"`
	DurationMs      int64           `json:"durationMs"`
	Version         int64           `json:"version"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	AgentId  string
	FlowId   string
	Status   ExecutionStatus
	DedupKey string
}

// Page is offset pagination for list queries.
type Page struct {
	Offset int
	Limit  int
}
