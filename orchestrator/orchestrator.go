package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/config"
	"github.com/jarabaimpact/agentflow/executor"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// Orchestrator is the trigger entry point. It resolves the flow and agent,
// enforces trigger idempotency through a dedup key and bounds concurrent
// executions per agent before handing off to the flow executor.
type Orchestrator struct {
	executions persistence.ExecutionStorage
	metadata   persistence.MetadataStorage
	executor   *executor.FlowExecutor
	conf       config.Config
}

func New(storage persistence.Storage, metadataStorage persistence.MetadataStorage,
	flowExecutor *executor.FlowExecutor, conf config.Config) *Orchestrator {
	return &Orchestrator{
		executions: storage.Executions(),
		metadata:   metadataStorage,
		executor:   flowExecutor,
		conf:       conf,
	}
}

// Trigger creates at most one execution per dedup key. Firing the same
// trigger twice returns the execution created by the first firing.
func (o *Orchestrator) Trigger(ctx context.Context, req model.TriggerRequest) (*model.Execution, error) {
	flow, err := o.metadata.GetFlow(ctx, req.FlowId)
	if err != nil {
		return nil, err
	}
	if flow.Status != model.FLOW_STATUS_ACTIVE {
		return nil, api.NotActiveError{Name: "flow " + flow.Id, Status: string(flow.Status)}
	}
	agent, err := o.metadata.GetAgent(ctx, flow.AgentId)
	if err != nil {
		return nil, err
	}
	if !agent.Active {
		return nil, api.NotActiveError{Name: "agent " + agent.Id, Status: "inactive"}
	}
	dedupKey := DedupKey(flow.Id, req)
	// a duplicate firing returns the existing execution before any
	// concurrency accounting; CreateIfAbsent below closes the race window
	if existing, err := o.executions.GetByDedupKey(ctx, dedupKey); err == nil {
		return existing, nil
	}

	// admission claims the agent slot atomically, so triggers racing each
	// other cannot both slip under the ceiling
	executionId := uuid.New().String()
	claimed, err := o.executions.TryClaimSlot(ctx, agent.Id, executionId, o.conf.MaxConcurrentPerAgent)
	if err != nil {
		return nil, err
	}
	queued := false
	if !claimed {
		if o.conf.QueuePolicy == config.QUEUE_POLICY_REJECT {
			return nil, api.ConcurrencyLimitError{AgentId: agent.Id, Limit: o.conf.MaxConcurrentPerAgent}
		}
		queued = true
	}

	data := make(map[string]any)
	data["input"] = req.Input
	execution := &model.Execution{
		Id:           executionId,
		TenantId:     agent.TenantId,
		FlowId:       flow.Id,
		AgentId:      agent.Id,
		TriggerType:  req.TriggerType,
		DedupKey:     dedupKey,
		Status:       model.EXECUTION_PENDING,
		ApprovedStep: -1,
		Queued:       queued,
		Data:         data,
		StartedAt:    time.Now(),
	}
	stored, created, err := o.executions.CreateIfAbsent(ctx, execution)
	if err != nil {
		if claimed {
			_ = o.executions.ReleaseSlot(ctx, agent.Id, executionId)
		}
		return nil, err
	}
	if !created {
		if claimed {
			_ = o.executions.ReleaseSlot(ctx, agent.Id, executionId)
		}
		logger.Debug("trigger deduplicated",
			zap.String("flowId", flow.Id),
			zap.String("dedupKey", dedupKey),
			zap.String("executionId", stored.Id))
		return stored, nil
	}
	logger.Info("execution created",
		zap.String("executionId", stored.Id),
		zap.String("flowId", flow.Id),
		zap.String("agentId", agent.Id),
		zap.String("trigger", string(req.TriggerType)),
		zap.Bool("queued", queued))
	if !queued {
		o.executor.Submit(stored.Id)
	}
	return stored, nil
}

func (o *Orchestrator) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	return o.executions.Get(ctx, id)
}

func (o *Orchestrator) ListExecutions(ctx context.Context, filter model.ExecutionFilter, page model.Page) ([]model.Execution, error) {
	return o.executions.List(ctx, filter, page)
}

func (o *Orchestrator) CancelExecution(ctx context.Context, id string) error {
	return o.executor.Cancel(ctx, id)
}

// DedupKey derives the idempotency key for a trigger firing. Cron triggers
// key on the schedule slot, webhook and event triggers on the caller
// supplied token. A manual trigger without a token gets a unique key and is
// never deduplicated.
func DedupKey(flowId string, req model.TriggerRequest) string {
	var token string
	switch req.TriggerType {
	case model.TRIGGER_TYPE_CRON:
		token = req.ScheduleSlot
	case model.TRIGGER_TYPE_WEBHOOK, model.TRIGGER_TYPE_EVENT:
		token = req.IdempotencyToken
	default:
		token = req.IdempotencyToken
	}
	if len(token) == 0 {
		token = uuid.New().String()
	}
	raw := strings.Join([]string{flowId, string(req.TriggerType), token}, "|")
	return fmt.Sprintf("%x", murmur3.Sum64([]byte(raw)))
}
