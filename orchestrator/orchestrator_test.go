package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/config"
	"github.com/jarabaimpact/agentflow/executor"
	"github.com/jarabaimpact/agentflow/handler"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence/inmem"
	"github.com/jarabaimpact/agentflow/steplog"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	storage      *inmem.Storage
	orchestrator *Orchestrator
}

func newFixture(t *testing.T, conf config.Config) *fixture {
	t.Helper()
	storage := inmem.NewStorage()
	recorder := steplog.NewRecorder(storage.StepLogs(), steplog.NoopCollector{})
	registry := handler.NewRegistry(handler.NewNoopHandler())
	var wg sync.WaitGroup
	fe := executor.NewFlowExecutor(storage, storage.Metadata(), recorder, registry, conf, &wg)
	return &fixture{
		storage:      storage,
		orchestrator: New(storage, storage.Metadata(), fe, conf),
	}
}

func testConfig() config.Config {
	return config.Config{
		ExecutorPoolSize:      1,
		ExecutorCapacity:      16,
		MaxConcurrentPerAgent: 1,
		QueuePolicy:           config.QUEUE_POLICY_QUEUE,
		StepTimeout:           time.Second,
		MaxStepRetries:        1,
	}
}

func (f *fixture) seedMetadata(t *testing.T, flowStatus model.FlowStatus, agentActive bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.storage.Metadata().SaveAgent(ctx, &model.Agent{
		Id:            "agent-1",
		TenantId:      "t1",
		Capabilities:  []string{"search"},
		Guardrails:    model.GuardrailPolicy{MaxActionsPerRun: 5},
		AutonomyLevel: model.AUTONOMY_AUTONOMOUS,
		Active:        agentActive,
	}))
	require.NoError(t, f.storage.Metadata().SaveFlow(ctx, &model.Flow{
		Id:          "flow-1",
		AgentId:     "agent-1",
		Status:      flowStatus,
		Steps:       []model.StepDef{{Name: "act", Type: "noop", Capability: "search"}},
		TriggerType: model.TRIGGER_TYPE_WEBHOOK,
	}))
}

func (f *fixture) markRunning(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	execution, err := f.storage.Executions().Get(ctx, id)
	require.NoError(t, err)
	execution.Status = model.EXECUTION_RUNNING
	require.NoError(t, f.storage.Executions().Save(ctx, execution))
}

// markCompleted finalizes the execution the way the flow executor does:
// terminal save, then the agent slot is released.
func (f *fixture) markCompleted(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	execution, err := f.storage.Executions().Get(ctx, id)
	require.NoError(t, err)
	execution.Status = model.EXECUTION_COMPLETED
	require.NoError(t, f.storage.Executions().Save(ctx, execution))
	require.NoError(t, f.storage.Executions().ReleaseSlot(ctx, execution.AgentId, execution.Id))
}

func TestTriggerIsIdempotent(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	req := model.TriggerRequest{
		FlowId:           "flow-1",
		TriggerType:      model.TRIGGER_TYPE_WEBHOOK,
		IdempotencyToken: "delivery-77",
		Input:            map[string]any{"q": "x"},
	}
	first, err := f.orchestrator.Trigger(ctx, req)
	require.NoError(t, err)

	second, err := f.orchestrator.Trigger(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.Id, second.Id)

	all, err := f.orchestrator.ListExecutions(ctx, model.ExecutionFilter{FlowId: "flow-1"}, model.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestTriggerManualWithoutTokenNeverDedups(t *testing.T) {
	conf := testConfig()
	conf.MaxConcurrentPerAgent = 10
	f := newFixture(t, conf)
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	req := model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL}
	first, err := f.orchestrator.Trigger(ctx, req)
	require.NoError(t, err)
	second, err := f.orchestrator.Trigger(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, first.Id, second.Id)
}

func TestTriggerCronDedupsPerSlot(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	slot := model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_CRON, ScheduleSlot: "2026-09-01T10:00"}
	first, err := f.orchestrator.Trigger(ctx, slot)
	require.NoError(t, err)
	again, err := f.orchestrator.Trigger(ctx, slot)
	require.NoError(t, err)
	require.Equal(t, first.Id, again.Id)
}

func TestTriggerRejectsInactiveDefinitions(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seedMetadata(t, model.FLOW_STATUS_PAUSED, true)
	ctx := context.Background()

	_, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	var notActive api.NotActiveError
	require.ErrorAs(t, err, &notActive)

	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, false)
	_, err = f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.ErrorAs(t, err, &notActive)
}

func TestTriggerQueuesOverCeiling(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	first, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.NoError(t, err)
	f.markRunning(t, first.Id)

	second, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.NoError(t, err)
	require.True(t, second.Queued)
	require.Equal(t, model.EXECUTION_PENDING, second.Status)
}

func TestTriggerRejectsOverCeiling(t *testing.T) {
	conf := testConfig()
	conf.QueuePolicy = config.QUEUE_POLICY_REJECT
	f := newFixture(t, conf)
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	first, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.NoError(t, err)
	f.markRunning(t, first.Id)

	_, err = f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	var limit api.ConcurrencyLimitError
	require.ErrorAs(t, err, &limit)
}

func TestDuplicateTriggerWinsOverCeiling(t *testing.T) {
	conf := testConfig()
	conf.QueuePolicy = config.QUEUE_POLICY_REJECT
	f := newFixture(t, conf)
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	req := model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_WEBHOOK, IdempotencyToken: "delivery-1"}
	first, err := f.orchestrator.Trigger(ctx, req)
	require.NoError(t, err)
	f.markRunning(t, first.Id)

	// redelivery of the same token returns the running execution instead
	// of bouncing off the concurrency ceiling
	again, err := f.orchestrator.Trigger(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.Id, again.Id)
}

func TestDispatcherDrainsQueueWhenCapacityFrees(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	first, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.NoError(t, err)
	f.markRunning(t, first.Id)

	queued, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.NoError(t, err)
	require.True(t, queued.Queued)

	var wg sync.WaitGroup
	dispatcher := NewDispatcher(f.orchestrator, time.Minute, &wg)

	// still at the ceiling, the queued execution stays put
	dispatcher.dispatch()
	still, err := f.storage.Executions().Get(ctx, queued.Id)
	require.NoError(t, err)
	require.True(t, still.Queued)

	// finish the running one, the next pass releases the queued execution
	f.markCompleted(t, first.Id)

	dispatcher.dispatch()
	released, err := f.storage.Executions().Get(ctx, queued.Id)
	require.NoError(t, err)
	require.False(t, released.Queued)
}

func TestDispatchHoldsCeilingAcrossOnePass(t *testing.T) {
	f := newFixture(t, testConfig())
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	first, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		queued, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
		require.NoError(t, err)
		require.True(t, queued.Queued)
	}
	f.markCompleted(t, first.Id)

	// one slot free, two queued: a single pass must admit exactly one
	var wg sync.WaitGroup
	dispatcher := NewDispatcher(f.orchestrator, time.Minute, &wg)
	dispatcher.dispatch()

	active, err := f.storage.Executions().CountActive(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 1, active)

	stillQueued, err := f.storage.Executions().ListQueued(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stillQueued, 1)
}

func TestConcurrentTriggersRespectCeiling(t *testing.T) {
	conf := testConfig()
	conf.QueuePolicy = config.QUEUE_POLICY_REJECT
	f := newFixture(t, conf)
	f.seedMetadata(t, model.FLOW_STATUS_ACTIVE, true)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orchestrator.Trigger(ctx, model.TriggerRequest{FlowId: "flow-1", TriggerType: model.TRIGGER_TYPE_MANUAL})
			mu.Lock()
			defer mu.Unlock()
			var limit api.ConcurrencyLimitError
			switch {
			case err == nil:
				admitted++
			case errors.As(err, &limit):
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, admitted)
	require.Equal(t, 7, rejected)
	active, err := f.storage.Executions().CountActive(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 1, active)
}

func TestDedupKeyShape(t *testing.T) {
	a := DedupKey("flow-1", model.TriggerRequest{TriggerType: model.TRIGGER_TYPE_WEBHOOK, IdempotencyToken: "tok"})
	b := DedupKey("flow-1", model.TriggerRequest{TriggerType: model.TRIGGER_TYPE_WEBHOOK, IdempotencyToken: "tok"})
	c := DedupKey("flow-2", model.TriggerRequest{TriggerType: model.TRIGGER_TYPE_WEBHOOK, IdempotencyToken: "tok"})
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	// same token on different trigger types must not collide
	d := DedupKey("flow-1", model.TriggerRequest{TriggerType: model.TRIGGER_TYPE_EVENT, IdempotencyToken: "tok"})
	require.NotEqual(t, a, d)
}
