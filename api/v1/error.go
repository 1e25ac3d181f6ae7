package api_v1

import "fmt"

// ConfigurationError signals a bad agent or flow definition. It is surfaced to
// the editor that saved the definition and is never retried.
type ConfigurationError struct {
	Message string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Message)
}

// NotActiveError is returned when a trigger resolves a flow or agent that is
// not in active status. No execution is created.
type NotActiveError struct {
	Name   string
	Status string
}

func (e NotActiveError) Error() string {
	return fmt.Sprintf("%s is not active, status is %s", e.Name, e.Status)
}

// GuardrailViolationError is a terminal deny from the guardrail evaluator.
type GuardrailViolationError struct {
	Rule    string
	Message string
}

func (e GuardrailViolationError) Error() string {
	return fmt.Sprintf("guardrail violation [%s]: %s", e.Rule, e.Message)
}

// TransientStepError wraps a step failure that is eligible for retry, such as
// a network error or an invoker timeout.
type TransientStepError struct {
	StepName string
	Cause    error
}

func (e TransientStepError) Error() string {
	return fmt.Sprintf("transient error in step %s: %v", e.StepName, e.Cause)
}

func (e TransientStepError) Unwrap() error {
	return e.Cause
}

// ApprovalRejectedError carries the reviewer decision that cancelled an execution.
type ApprovalRejectedError struct {
	ApprovalId string
	Notes      string
}

func (e ApprovalRejectedError) Error() string {
	if len(e.Notes) > 0 {
		return fmt.Sprintf("approval %s rejected: %s", e.ApprovalId, e.Notes)
	}
	return fmt.Sprintf("approval %s rejected", e.ApprovalId)
}

// ApprovalExpiredError signals that an approval passed its expiration before
// any reviewer acted on it.
type ApprovalExpiredError struct {
	ApprovalId string
}

func (e ApprovalExpiredError) Error() string {
	return fmt.Sprintf("approval %s expired", e.ApprovalId)
}

// ConcurrencyLimitError is returned when a trigger exceeds the per agent
// concurrency ceiling and the policy is reject.
type ConcurrencyLimitError struct {
	AgentId string
	Limit   int
}

func (e ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("agent %s already has %d running executions", e.AgentId, e.Limit)
}

// ConflictError signals a stale compare-and-set on a status transition. The
// caller lost the race and must not proceed.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Message)
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

// StorageLayerError wraps failures from the underlying storage.
type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("error in storage layer: %s", e.Message)
}
