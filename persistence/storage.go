package persistence

import (
	"context"
	"time"

	"github.com/jarabaimpact/agentflow/model"
)

// ExecutionStorage persists execution records. Save is optimistic: it fails
// with ConflictError when the stored version differs from the version the
// caller loaded, so two workers racing to drive the same execution cannot
// both proceed.
type ExecutionStorage interface {
	// CreateIfAbsent stores the execution unless one already exists for its
	// dedup key. It returns the stored execution and whether it was created
	// by this call.
	CreateIfAbsent(ctx context.Context, execution *model.Execution) (*model.Execution, bool, error)
	Get(ctx context.Context, id string) (*model.Execution, error)
	GetByDedupKey(ctx context.Context, dedupKey string) (*model.Execution, error)
	Save(ctx context.Context, execution *model.Execution) error
	List(ctx context.Context, filter model.ExecutionFilter, page model.Page) ([]model.Execution, error)
	ListStartedSince(ctx context.Context, since time.Time, agentId string) ([]model.Execution, error)
	ListQueued(ctx context.Context, limit int) ([]model.Execution, error)
	// TryClaimSlot atomically claims one of the agent's limit concurrency
	// slots for the execution, reporting false without claiming when all
	// slots are held. A claim is taken at admission, before the execution
	// is handed to a worker, and held across suspension for approval, so
	// the count an admission races against already includes executions
	// that are dispatched but not yet picked up. Claiming a slot the
	// execution already holds reports true.
	TryClaimSlot(ctx context.Context, agentId string, executionId string, limit int) (bool, error)
	// ReleaseSlot returns the execution's slot on a terminal transition.
	// Releasing an unclaimed slot is a no-op.
	ReleaseSlot(ctx context.Context, agentId string, executionId string) error
	CountActive(ctx context.Context, agentId string) (int, error)
}

// StepLogStorage is the append only audit trail. Records are never mutated
// or deleted; Append rejects any order index that is not the next contiguous
// one.
type StepLogStorage interface {
	Append(ctx context.Context, log model.StepLog) error
	List(ctx context.Context, executionId string) ([]model.StepLog, error)
	Count(ctx context.Context, executionId string) (int, error)
}

// ApprovalStorage persists human approval gates. Create enforces at most one
// pending approval per execution; Resolve and Expire only transition records
// that are still pending.
type ApprovalStorage interface {
	Create(ctx context.Context, approval *model.Approval) error
	Get(ctx context.Context, id string) (*model.Approval, error)
	GetOpenByExecution(ctx context.Context, executionId string) (*model.Approval, error)
	// ResolvePending applies the terminal transition if and only if the
	// stored status is still pending.
	ResolvePending(ctx context.Context, approval *model.Approval) error
	ListByStatus(ctx context.Context, status model.ApprovalStatus, page model.Page) ([]model.Approval, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Approval, error)
}

// MetadataStorage persists agent and flow definitions.
type MetadataStorage interface {
	SaveAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	SaveFlow(ctx context.Context, flow *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	DeleteFlow(ctx context.Context, id string) error
}

// Storage aggregates every store the engine needs.
type Storage interface {
	Executions() ExecutionStorage
	StepLogs() StepLogStorage
	Approvals() ApprovalStorage
	Metadata() MetadataStorage
}
