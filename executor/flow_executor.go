package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/config"
	"github.com/jarabaimpact/agentflow/guardrail"
	"github.com/jarabaimpact/agentflow/handler"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/metrics"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
	"github.com/jarabaimpact/agentflow/steplog"
	"github.com/jarabaimpact/agentflow/util"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// ApprovalGate is the slice of the approval manager the executor needs:
// opening a gate for a step that demands a human decision, and closing the
// open gate when its execution is cancelled out from under it.
type ApprovalGate interface {
	Open(ctx context.Context, execution *model.Execution, step model.StepDef, stepOrder int, reason string) (*model.Approval, error)
	CancelOpen(ctx context.Context, executionId string, reason string) error
}

// FlowExecutor drives executions through their steps. Each execution is
// processed by one logical worker; status transitions are version checked
// saves, so a worker that loses a race observes the conflict and exits.
// Suspension for approval releases the worker, and any worker may later
// resume the execution from its last committed step log.
type FlowExecutor struct {
	executions persistence.ExecutionStorage
	metadata   persistence.MetadataStorage
	recorder   *steplog.Recorder
	registry   *handler.Registry
	gate       ApprovalGate
	conf       config.Config
	workers    []*util.Worker
	wg         *sync.WaitGroup
}

func NewFlowExecutor(storage persistence.Storage, metadataStorage persistence.MetadataStorage,
	recorder *steplog.Recorder, registry *handler.Registry, conf config.Config, wg *sync.WaitGroup) *FlowExecutor {
	fe := &FlowExecutor{
		executions: storage.Executions(),
		metadata:   metadataStorage,
		recorder:   recorder,
		registry:   registry,
		conf:       conf,
		wg:         wg,
	}
	poolSize := conf.ExecutorPoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	for i := 0; i < poolSize; i++ {
		name := fmt.Sprintf("flow-executor-%d", i)
		fe.workers = append(fe.workers, util.NewWorker(name, wg, fe.handle, conf.ExecutorCapacity))
	}
	return fe
}

// SetApprovalGate breaks the construction cycle with the approval package.
// It must be called before Start.
func (fe *FlowExecutor) SetApprovalGate(gate ApprovalGate) {
	fe.gate = gate
}

func (fe *FlowExecutor) Start() {
	for _, w := range fe.workers {
		w.Start()
	}
}

func (fe *FlowExecutor) Stop() {
	for _, w := range fe.workers {
		w.Stop()
	}
}

// Submit hands an execution to its worker. Executions hash to a fixed
// worker so one execution is never driven by two pool goroutines at once;
// correctness still rests on the versioned saves, not on this affinity.
func (fe *FlowExecutor) Submit(executionId string) {
	idx := int(murmur3.Sum32([]byte(executionId))) % len(fe.workers)
	if idx < 0 {
		idx = -idx
	}
	fe.workers[idx].Sender() <- executionId
}

// Resume re-enters a suspended execution. State, not worker affinity, is
// the source of truth, so this is just a submit.
func (fe *FlowExecutor) Resume(executionId string) {
	fe.Submit(executionId)
}

func (fe *FlowExecutor) handle(task util.Task) error {
	executionId, ok := task.(string)
	if !ok {
		return fmt.Errorf("unexpected task type %T", task)
	}
	return fe.run(context.Background(), executionId)
}

func (fe *FlowExecutor) run(ctx context.Context, executionId string) error {
	execution, err := fe.executions.Get(ctx, executionId)
	if err != nil {
		return err
	}
	if execution.Status.IsTerminal() {
		return nil
	}
	if execution.CancelRequested {
		return fe.finalize(ctx, execution, model.EXECUTION_CANCELLED, "cancelled by operator")
	}
	switch execution.Status {
	case model.EXECUTION_PENDING, model.EXECUTION_PAUSED_FOR_APPROVAL:
		execution.Status = model.EXECUTION_RUNNING
		if err := fe.executions.Save(ctx, execution); err != nil {
			return ignoreConflict(err)
		}
	case model.EXECUTION_RUNNING:
		// re-entry after a crash, continue from the last committed step log
	}
	flow, err := fe.metadata.GetFlow(ctx, execution.FlowId)
	if err != nil {
		return fe.finalize(ctx, execution, model.EXECUTION_FAILED, "flow definition not found")
	}
	agent, err := fe.metadata.GetAgent(ctx, execution.AgentId)
	if err != nil {
		return fe.finalize(ctx, execution, model.EXECUTION_FAILED, "agent definition not found")
	}
	logs, err := fe.recorder.List(ctx, executionId)
	if err != nil {
		return err
	}
	successCount := 0
	for _, log := range logs {
		if log.Status == model.STEP_SUCCESS {
			successCount++
		}
	}
	for stepIdx := len(logs); stepIdx < len(flow.Steps); stepIdx++ {
		// safe checkpoint: observe cancellation and concurrent transitions
		// before starting the next step
		execution, err = fe.executions.Get(ctx, executionId)
		if err != nil {
			return err
		}
		if execution.Status != model.EXECUTION_RUNNING {
			return nil
		}
		if execution.CancelRequested {
			return fe.finalize(ctx, execution, model.EXECUTION_CANCELLED, "cancelled by operator")
		}
		step := flow.Steps[stepIdx]
		if len(step.Condition) > 0 {
			match, condErr := handler.EvalCondition(ctx, step.Condition, execution.Data)
			if condErr != nil {
				log := model.StepLog{
					ExecutionId: executionId,
					StepName:    step.Name,
					StepType:    step.Type,
					Order:       stepIdx,
					Status:      model.STEP_FAILED,
					ErrorKind:   model.ERROR_KIND_INTERNAL,
					Error:       condErr.Error(),
				}
				if err := fe.recorder.Record(ctx, log); err != nil {
					return ignoreConflict(err)
				}
				metrics.RecordStep(ctx, step.Type, string(model.STEP_FAILED), 0)
				if step.Skippable {
					execution.NextStep = stepIdx + 1
					if err := fe.executions.Save(ctx, execution); err != nil {
						return ignoreConflict(err)
					}
					continue
				}
				return fe.finalize(ctx, execution, model.EXECUTION_FAILED,
					fmt.Sprintf("step %s condition failed: %s", step.Name, condErr))
			}
			if !match {
				log := model.StepLog{
					ExecutionId: executionId,
					StepName:    step.Name,
					StepType:    step.Type,
					Order:       stepIdx,
					Status:      model.STEP_SKIPPED,
				}
				if err := fe.recorder.Record(ctx, log); err != nil {
					return ignoreConflict(err)
				}
				metrics.RecordStep(ctx, step.Type, string(model.STEP_SKIPPED), 0)
				logger.Debug("step condition not met, step skipped",
					zap.String("executionId", executionId),
					zap.String("step", step.Name))
				execution.NextStep = stepIdx + 1
				if err := fe.executions.Save(ctx, execution); err != nil {
					return ignoreConflict(err)
				}
				continue
			}
		}
		authz := guardrail.Authorize(agent, guardrail.ProposedAction{
			StepName:   step.Name,
			StepType:   step.Type,
			Capability: step.Capability,
			HighRisk:   step.HighRisk,
		}, successCount)
		switch authz.Decision {
		case guardrail.DECISION_DENY:
			violation := api.GuardrailViolationError{Rule: authz.Rule, Message: authz.Reason}
			log := model.StepLog{
				ExecutionId: executionId,
				StepName:    step.Name,
				StepType:    step.Type,
				Order:       stepIdx,
				Status:      model.STEP_FAILED,
				ErrorKind:   model.ERROR_KIND_GUARDRAIL,
				Error:       violation.Error(),
			}
			if err := fe.recorder.Record(ctx, log); err != nil {
				return ignoreConflict(err)
			}
			metrics.RecordStep(ctx, step.Type, string(model.STEP_FAILED), 0)
			logger.Warn("guardrail denied step",
				zap.String("executionId", executionId),
				zap.String("step", step.Name),
				zap.String("rule", authz.Rule))
			return fe.finalize(ctx, execution, model.EXECUTION_FAILED, violation.Error())
		case guardrail.DECISION_REQUIRE_APPROVAL:
			if execution.ApprovedStep != stepIdx {
				return fe.pauseForApproval(ctx, execution, step, stepIdx, authz.Reason)
			}
			// the gate granted exactly this step, run it
		}

		input := util.ResolveInputParams(execution.Data, step.Params)
		start := time.Now()
		result, errKind, err := fe.runStep(ctx, step, input)
		durationMs := time.Since(start).Milliseconds()
		log := model.StepLog{
			ExecutionId: executionId,
			StepName:    step.Name,
			StepType:    step.Type,
			Order:       stepIdx,
			Input:       input,
			DurationMs:  durationMs,
		}
		if err != nil {
			log.Status = model.STEP_FAILED
			log.ErrorKind = errKind
			log.Error = err.Error()
			if recordErr := fe.recorder.Record(ctx, log); recordErr != nil {
				return ignoreConflict(recordErr)
			}
			metrics.RecordStep(ctx, step.Type, string(model.STEP_FAILED), float64(durationMs))
			if step.Skippable {
				logger.Warn("step failed, flow continues because step is skippable",
					zap.String("executionId", executionId),
					zap.String("step", step.Name),
					zap.Error(err))
				execution.NextStep = stepIdx + 1
				if err := fe.executions.Save(ctx, execution); err != nil {
					return ignoreConflict(err)
				}
				continue
			}
			return fe.finalize(ctx, execution, model.EXECUTION_FAILED,
				fmt.Sprintf("step %s failed: %s", step.Name, log.Error))
		}
		log.Status = model.STEP_SUCCESS
		log.Output = result.Output
		log.Tokens = result.Tokens
		log.Cost = result.Cost
		if err := fe.recorder.Record(ctx, log); err != nil {
			return ignoreConflict(err)
		}
		metrics.RecordStep(ctx, step.Type, string(model.STEP_SUCCESS), float64(durationMs))
		successCount++
		execution.Data[strconv.Itoa(stepIdx)] = map[string]any{"output": result.Output}
		execution.Usage.Tokens += result.Tokens
		execution.Usage.CostEstimate += result.Cost
		execution.Result = result.Output
		execution.NextStep = stepIdx + 1
		if err := fe.executions.Save(ctx, execution); err != nil {
			return ignoreConflict(err)
		}
	}
	return fe.finalize(ctx, execution, model.EXECUTION_COMPLETED, "")
}

func (fe *FlowExecutor) pauseForApproval(ctx context.Context, execution *model.Execution, step model.StepDef, stepIdx int, reason string) error {
	if _, err := fe.gate.Open(ctx, execution, step, stepIdx, reason); err != nil {
		var conflict api.ConflictError
		if !errors.As(err, &conflict) {
			return fe.finalize(ctx, execution, model.EXECUTION_FAILED, "could not open approval")
		}
		// a gate is already open for this execution, stay suspended on it
	}
	execution.Status = model.EXECUTION_PAUSED_FOR_APPROVAL
	if err := fe.executions.Save(ctx, execution); err != nil {
		return ignoreConflict(err)
	}
	logger.Info("execution paused for approval",
		zap.String("executionId", execution.Id),
		zap.String("step", step.Name),
		zap.Int("stepOrder", stepIdx))
	return nil
}

// finalize commits a terminal status. A conflict means another worker
// already finalized or took over; the loser exits quietly.
func (fe *FlowExecutor) finalize(ctx context.Context, execution *model.Execution, status model.ExecutionStatus, errMsg string) error {
	now := time.Now()
	execution.Status = status
	execution.Error = errMsg
	execution.CompletedAt = now
	if !execution.StartedAt.IsZero() {
		execution.DurationMs = now.Sub(execution.StartedAt).Milliseconds()
	}
	if err := fe.executions.Save(ctx, execution); err != nil {
		return ignoreConflict(err)
	}
	fe.releaseSlot(ctx, execution)
	metrics.RecordExecutionEnd(ctx, string(status))
	logger.Info("execution finalized",
		zap.String("executionId", execution.Id),
		zap.String("status", string(status)),
		zap.Int64("durationMs", execution.DurationMs),
		zap.String("error", errMsg))
	return nil
}

func (fe *FlowExecutor) releaseSlot(ctx context.Context, execution *model.Execution) {
	if err := fe.executions.ReleaseSlot(ctx, execution.AgentId, execution.Id); err != nil {
		logger.Error("error releasing agent slot",
			zap.String("executionId", execution.Id),
			zap.String("agentId", execution.AgentId),
			zap.Error(err))
	}
}

// Recover re-submits executions left in flight by a previous process:
// running ones re-enter from their last committed step log, and admitted
// pending ones get the pickup they never received. Queued executions stay
// with the dispatcher and suspended ones with their approval. It returns
// the number of executions re-submitted.
func (fe *FlowExecutor) Recover(ctx context.Context) (int, error) {
	running, err := fe.executions.List(ctx, model.ExecutionFilter{Status: model.EXECUTION_RUNNING}, model.Page{})
	if err != nil {
		return 0, err
	}
	pending, err := fe.executions.List(ctx, model.ExecutionFilter{Status: model.EXECUTION_PENDING}, model.Page{})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, execution := range append(running, pending...) {
		if execution.Status == model.EXECUTION_PENDING && execution.Queued {
			continue
		}
		logger.Info("recovering in flight execution",
			zap.String("executionId", execution.Id),
			zap.String("status", string(execution.Status)))
		fe.Submit(execution.Id)
		count++
	}
	return count, nil
}

// Cancel requests cancellation of a non terminal execution. Pending and
// suspended executions cancel immediately; a running one stops at its next
// checkpoint, never mid step. Cancelling a suspended execution also closes
// its open approval so a later reviewer decision surfaces a conflict.
func (fe *FlowExecutor) Cancel(ctx context.Context, executionId string) error {
	for attempt := 0; attempt < 3; attempt++ {
		execution, err := fe.executions.Get(ctx, executionId)
		if err != nil {
			return err
		}
		if execution.Status.IsTerminal() {
			return nil
		}
		wasPaused := execution.Status == model.EXECUTION_PAUSED_FOR_APPROVAL
		execution.CancelRequested = true
		if execution.Status == model.EXECUTION_PENDING || wasPaused {
			execution.Status = model.EXECUTION_CANCELLED
			execution.Error = "cancelled by operator"
			execution.CompletedAt = time.Now()
		}
		err = fe.executions.Save(ctx, execution)
		if err == nil {
			if execution.Status == model.EXECUTION_CANCELLED {
				fe.releaseSlot(ctx, execution)
				if wasPaused {
					if gateErr := fe.gate.CancelOpen(ctx, executionId, "execution cancelled by operator"); gateErr != nil {
						logger.Error("error closing approval for cancelled execution",
							zap.String("executionId", executionId), zap.Error(gateErr))
					}
				}
				metrics.RecordExecutionEnd(ctx, string(model.EXECUTION_CANCELLED))
			}
			return nil
		}
		var conflict api.ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
	}
	return api.ConflictError{Message: "could not cancel execution " + executionId}
}

// CancelForApproval cancels the owning execution after a rejection or
// expiry, recording the resolution reason.
func (fe *FlowExecutor) CancelForApproval(ctx context.Context, executionId string, reason string) error {
	for attempt := 0; attempt < 3; attempt++ {
		execution, err := fe.executions.Get(ctx, executionId)
		if err != nil {
			return err
		}
		if execution.Status.IsTerminal() {
			return nil
		}
		execution.Status = model.EXECUTION_CANCELLED
		execution.Error = reason
		execution.CompletedAt = time.Now()
		err = fe.executions.Save(ctx, execution)
		if err == nil {
			fe.releaseSlot(ctx, execution)
			metrics.RecordExecutionEnd(ctx, string(model.EXECUTION_CANCELLED))
			return nil
		}
		var conflict api.ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
	}
	return api.ConflictError{Message: "could not cancel execution " + executionId}
}

// MarkStepApproved records which step the reviewer authorized so the resume
// pass lets exactly that step through the guardrail decision. A terminal
// execution refuses the mark; the approval arrived too late.
func (fe *FlowExecutor) MarkStepApproved(ctx context.Context, executionId string, stepOrder int) error {
	for attempt := 0; attempt < 3; attempt++ {
		execution, err := fe.executions.Get(ctx, executionId)
		if err != nil {
			return err
		}
		if execution.Status.IsTerminal() {
			return api.ConflictError{Message: "execution " + executionId + " is already " + string(execution.Status)}
		}
		execution.ApprovedStep = stepOrder
		err = fe.executions.Save(ctx, execution)
		if err == nil {
			return nil
		}
		var conflict api.ConflictError
		if !errors.As(err, &conflict) {
			return err
		}
	}
	return api.ConflictError{Message: "could not mark step approved on execution " + executionId}
}

func ignoreConflict(err error) error {
	var conflict api.ConflictError
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}
