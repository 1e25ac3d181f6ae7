package metadata

import (
	"context"
	"testing"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/handler"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence/inmem"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) Service {
	t.Helper()
	registry := handler.NewRegistry(
		handler.NewNoopHandler(),
		handler.NewScriptHandler(),
		handler.NewTransformHandler(),
	)
	return NewService(inmem.NewStorage().Metadata(), registry)
}

func validAgent() *model.Agent {
	return &model.Agent{
		Id:            "agent-1",
		TenantId:      "t1",
		Name:          "triage-bot",
		Capabilities:  []string{"search"},
		Guardrails:    model.GuardrailPolicy{MaxActionsPerRun: 5},
		AutonomyLevel: model.AUTONOMY_AUTONOMOUS,
		Active:        true,
	}
}

func validFlow() *model.Flow {
	return &model.Flow{
		Id:          "flow-1",
		AgentId:     "agent-1",
		Name:        "triage",
		Status:      model.FLOW_STATUS_ACTIVE,
		Steps:       []model.StepDef{{Name: "act", Type: "noop", Capability: "search"}},
		TriggerType: model.TRIGGER_TYPE_MANUAL,
	}
}

func TestSaveAgent(t *testing.T) {
	service := newService(t)
	ctx := context.Background()

	require.NoError(t, service.SaveAgent(ctx, validAgent()))

	loaded, err := service.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, "triage-bot", loaded.Name)
}

func TestSaveAgentRejectsInvalidPolicy(t *testing.T) {
	service := newService(t)
	agent := validAgent()
	agent.Guardrails.MaxActionsPerRun = 0
	err := service.SaveAgent(context.Background(), agent)
	var confErr api.ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestSaveFlow(t *testing.T) {
	service := newService(t)
	ctx := context.Background()
	require.NoError(t, service.SaveAgent(ctx, validAgent()))
	require.NoError(t, service.SaveFlow(ctx, validFlow()))

	loaded, err := service.GetFlow(ctx, "flow-1")
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 1)
}

func TestSaveFlowValidation(t *testing.T) {
	for scenario, mutate := range map[string]func(flow *model.Flow){
		"no steps":             func(f *model.Flow) { f.Steps = nil },
		"unknown trigger type": func(f *model.Flow) { f.TriggerType = "telepathy" },
		"cron without schedule": func(f *model.Flow) {
			f.TriggerType = model.TRIGGER_TYPE_CRON
			f.TriggerConfig.Schedule = ""
		},
		"unnamed step": func(f *model.Flow) { f.Steps[0].Name = "" },
		"duplicate step names": func(f *model.Flow) {
			f.Steps = append(f.Steps, f.Steps[0])
		},
		"unknown step type": func(f *model.Flow) { f.Steps[0].Type = "teleport" },
		"script step without expression": func(f *model.Flow) {
			f.Steps[0].Type = "script"
			f.Steps[0].Expression = ""
		},
		"unknown agent": func(f *model.Flow) { f.AgentId = "ghost" },
		"capability agent does not have": func(f *model.Flow) {
			f.Steps[0].Capability = "send_email"
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			service := newService(t)
			ctx := context.Background()
			require.NoError(t, service.SaveAgent(ctx, validAgent()))

			flow := validFlow()
			mutate(flow)
			err := service.SaveFlow(ctx, flow)
			var confErr api.ConfigurationError
			require.ErrorAs(t, err, &confErr)
		})
	}
}

func TestCachedStorageInvalidation(t *testing.T) {
	backing := inmem.NewStorage().Metadata()
	cached := NewCachedStorage(backing)
	ctx := context.Background()

	agent := validAgent()
	require.NoError(t, cached.SaveAgent(ctx, agent))

	first, err := cached.GetAgent(ctx, agent.Id)
	require.NoError(t, err)
	require.Equal(t, "triage-bot", first.Name)

	agent.Name = "renamed"
	require.NoError(t, cached.SaveAgent(ctx, agent))

	second, err := cached.GetAgent(ctx, agent.Id)
	require.NoError(t, err)
	require.Equal(t, "renamed", second.Name, "saving must invalidate the cached entry")

	require.NoError(t, cached.DeleteAgent(ctx, agent.Id))
	_, err = cached.GetAgent(ctx, agent.Id)
	var notFound api.NotFoundError
	require.ErrorAs(t, err, &notFound)
}
