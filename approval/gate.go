package approval

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
	"go.uber.org/zap"
)

// ExecutionController is the slice of the flow executor the gate needs to
// cascade its resolutions: resume on approval, cancel on rejection or
// expiry.
type ExecutionController interface {
	Resume(executionId string)
	CancelForApproval(ctx context.Context, executionId string, reason string) error
	MarkStepApproved(ctx context.Context, executionId string, stepOrder int) error
}

// Gate manages the lifecycle of human approval requests. At most one
// pending approval exists per execution; opening a second one while the
// first is pending is an internal error surfaced as a conflict.
type Gate struct {
	executions persistence.ExecutionStorage
	approvals  persistence.ApprovalStorage
	controller ExecutionController
	ttl        time.Duration
}

func NewGate(storage persistence.Storage, ttl time.Duration) *Gate {
	return &Gate{
		executions: storage.Executions(),
		approvals:  storage.Approvals(),
		ttl:        ttl,
	}
}

// SetController breaks the construction cycle between the gate and the flow
// executor. It must be called before the first Resolve or sweep.
func (g *Gate) SetController(controller ExecutionController) {
	g.controller = controller
}

// Open creates a pending approval for the step about to run. The expiration
// is the policy TTL from now.
func (g *Gate) Open(ctx context.Context, execution *model.Execution, step model.StepDef, stepOrder int, reason string) (*model.Approval, error) {
	now := time.Now()
	risk := "normal"
	if step.HighRisk {
		risk = "high"
	}
	approval := &model.Approval{
		Id:             uuid.New().String(),
		TenantId:       execution.TenantId,
		ExecutionId:    execution.Id,
		StepOrder:      stepOrder,
		Action:         step.Name,
		Reasoning:      reason,
		RiskAssessment: risk,
		Status:         model.APPROVAL_PENDING,
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.ttl),
	}
	if err := g.approvals.Create(ctx, approval); err != nil {
		return nil, err
	}
	logger.Info("approval opened",
		zap.String("approvalId", approval.Id),
		zap.String("executionId", execution.Id),
		zap.String("step", step.Name),
		zap.Time("expiresAt", approval.ExpiresAt))
	return approval, nil
}

func (g *Gate) Get(ctx context.Context, id string) (*model.Approval, error) {
	return g.approvals.Get(ctx, id)
}

func (g *Gate) List(ctx context.Context, status model.ApprovalStatus, page model.Page) ([]model.Approval, error) {
	return g.approvals.ListByStatus(ctx, status, page)
}

// Resolve applies a reviewer decision to a pending approval. Approval
// resumes the suspended execution; rejection cancels it with the reviewer
// notes recorded.
func (g *Gate) Resolve(ctx context.Context, approvalId string, decision model.ApprovalDecision, reviewerId string, notes string) (*model.Approval, error) {
	approval, err := g.approvals.Get(ctx, approvalId)
	if err != nil {
		return nil, err
	}
	if approval.Status != model.APPROVAL_PENDING {
		return nil, api.ConflictError{Message: "approval is already " + string(approval.Status)}
	}
	execution, err := g.executions.Get(ctx, approval.ExecutionId)
	if err != nil {
		return nil, err
	}
	if execution.Status.IsTerminal() {
		return nil, api.ConflictError{Message: "execution " + execution.Id + " is already " + string(execution.Status)}
	}
	switch decision {
	case model.DECISION_APPROVE:
		approval.Status = model.APPROVAL_APPROVED
	case model.DECISION_REJECT:
		approval.Status = model.APPROVAL_REJECTED
	default:
		return nil, api.ConfigurationError{Message: "unknown decision " + string(decision)}
	}
	approval.ReviewerId = reviewerId
	approval.ReviewNotes = notes
	approval.ReviewedAt = time.Now()
	if err := g.approvals.ResolvePending(ctx, approval); err != nil {
		return nil, err
	}
	logger.Info("approval resolved",
		zap.String("approvalId", approval.Id),
		zap.String("executionId", approval.ExecutionId),
		zap.String("status", string(approval.Status)),
		zap.String("reviewer", reviewerId))
	if approval.Status == model.APPROVAL_APPROVED {
		if err := g.controller.MarkStepApproved(ctx, approval.ExecutionId, approval.StepOrder); err != nil {
			return nil, err
		}
		g.controller.Resume(approval.ExecutionId)
	} else {
		reason := api.ApprovalRejectedError{ApprovalId: approval.Id, Notes: notes}.Error()
		if err := g.controller.CancelForApproval(ctx, approval.ExecutionId, reason); err != nil {
			return nil, err
		}
	}
	return approval, nil
}

// CancelOpen closes the execution's pending approval after the execution
// itself was cancelled, so a later reviewer decision lands on a resolved
// record instead of mutating a terminal execution. No open approval, or one
// a reviewer raced to resolve, is not an error.
func (g *Gate) CancelOpen(ctx context.Context, executionId string, reason string) error {
	approval, err := g.approvals.GetOpenByExecution(ctx, executionId)
	if err != nil {
		var notFound api.NotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	approval.Status = model.APPROVAL_CANCELLED
	approval.ReviewNotes = reason
	approval.ReviewedAt = time.Now()
	if err := g.approvals.ResolvePending(ctx, approval); err != nil {
		var conflict api.ConflictError
		if errors.As(err, &conflict) {
			return nil
		}
		return err
	}
	logger.Info("approval cancelled with its execution",
		zap.String("approvalId", approval.Id),
		zap.String("executionId", executionId))
	return nil
}

// SweepExpired transitions every pending approval past its expiration to
// expired and cancels the owning execution. It returns the number of
// approvals swept.
func (g *Gate) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := g.approvals.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, approval := range expired {
		approval.Status = model.APPROVAL_EXPIRED
		approval.ReviewedAt = now
		if err := g.approvals.ResolvePending(ctx, &approval); err != nil {
			// a reviewer raced the sweep, leave the record as they resolved it
			logger.Debug("skipping approval during sweep", zap.String("approvalId", approval.Id), zap.Error(err))
			continue
		}
		reason := api.ApprovalExpiredError{ApprovalId: approval.Id}.Error()
		if err := g.controller.CancelForApproval(ctx, approval.ExecutionId, reason); err != nil {
			logger.Error("error cancelling execution for expired approval",
				zap.String("approvalId", approval.Id),
				zap.String("executionId", approval.ExecutionId),
				zap.Error(err))
			continue
		}
		logger.Info("approval expired",
			zap.String("approvalId", approval.Id),
			zap.String("executionId", approval.ExecutionId))
		swept++
	}
	return swept, nil
}
