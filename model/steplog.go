package model

// StepStatus is the terminal status of one step attempt.
type StepStatus string

const STEP_SUCCESS StepStatus = "success"
const STEP_FAILED StepStatus = "failed"
const STEP_SKIPPED StepStatus = "skipped"

// ErrorKind classifies a step failure for the audit trail.
type ErrorKind string

const ERROR_KIND_NONE ErrorKind = ""
const ERROR_KIND_GUARDRAIL ErrorKind = "guardrail_violation"
const ERROR_KIND_TRANSIENT ErrorKind = "transient"
const ERROR_KIND_TIMEOUT ErrorKind = "timeout"
const ERROR_KIND_INTERNAL ErrorKind = "internal"

// StepLog is one immutable record per step attempt within an execution.
// Records for an execution are strictly ordered by Order and never mutated
// or deleted after creation.
type StepLog struct {
	ExecutionId string         `json:"executionId"`
	StepName    string         `json:"stepName"`
	StepType    string         `json:"stepType"`
	Order       int            `json:"order"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Status      StepStatus     `json:"status"`
	ErrorKind   ErrorKind      `json:"errorKind,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"durationMs"`
	Tokens      int64          `json:"tokens"`
	Cost        float64        `json:"cost"`
}
