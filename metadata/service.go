package metadata

import (
	"context"
	"fmt"
	"strings"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/guardrail"
	"github.com/jarabaimpact/agentflow/handler"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
)

// Service validates and stores agent and flow definitions. Validation runs
// once at save time so the executor always operates on well formed
// definitions.
type Service interface {
	SaveAgent(ctx context.Context, agent *model.Agent) error
	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
	SaveFlow(ctx context.Context, flow *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	DeleteFlow(ctx context.Context, id string) error
	ValidateAgent(agent *model.Agent) []guardrail.Violation
}

type serviceImpl struct {
	storage  persistence.MetadataStorage
	registry *handler.Registry
}

func NewService(storage persistence.MetadataStorage, registry *handler.Registry) Service {
	return &serviceImpl{
		storage:  storage,
		registry: registry,
	}
}

func (s *serviceImpl) SaveAgent(ctx context.Context, agent *model.Agent) error {
	violations := guardrail.Validate(agent)
	if len(violations) > 0 {
		messages := make([]string, 0, len(violations))
		for _, v := range violations {
			messages = append(messages, fmt.Sprintf("%s: %s", v.Field, v.Message))
		}
		return api.ConfigurationError{Message: strings.Join(messages, "; ")}
	}
	return s.storage.SaveAgent(ctx, agent)
}

func (s *serviceImpl) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return s.storage.GetAgent(ctx, id)
}

func (s *serviceImpl) DeleteAgent(ctx context.Context, id string) error {
	return s.storage.DeleteAgent(ctx, id)
}

func (s *serviceImpl) ValidateAgent(agent *model.Agent) []guardrail.Violation {
	return guardrail.Validate(agent)
}

func (s *serviceImpl) SaveFlow(ctx context.Context, flow *model.Flow) error {
	if err := s.validateFlow(ctx, flow); err != nil {
		return err
	}
	return s.storage.SaveFlow(ctx, flow)
}

func (s *serviceImpl) validateFlow(ctx context.Context, flow *model.Flow) error {
	if len(flow.Id) == 0 {
		return api.ConfigurationError{Message: "flow id is required"}
	}
	if len(flow.Steps) == 0 {
		return api.ConfigurationError{Message: fmt.Sprintf("flow %s has no steps", flow.Id)}
	}
	switch flow.TriggerType {
	case model.TRIGGER_TYPE_MANUAL, model.TRIGGER_TYPE_CRON, model.TRIGGER_TYPE_WEBHOOK, model.TRIGGER_TYPE_EVENT:
	default:
		return api.ConfigurationError{Message: fmt.Sprintf("flow %s has unknown trigger type %q", flow.Id, flow.TriggerType)}
	}
	if flow.TriggerType == model.TRIGGER_TYPE_CRON && len(flow.TriggerConfig.Schedule) == 0 {
		return api.ConfigurationError{Message: fmt.Sprintf("cron flow %s has no schedule", flow.Id)}
	}
	names := make(map[string]bool)
	for i, step := range flow.Steps {
		if len(step.Name) == 0 {
			return api.ConfigurationError{Message: fmt.Sprintf("step %d of flow %s has no name", i, flow.Id)}
		}
		if names[step.Name] {
			return api.ConfigurationError{Message: fmt.Sprintf("step name %s is duplicate in flow %s", step.Name, flow.Id)}
		}
		names[step.Name] = true
		if err := s.registry.ValidateStep(step); err != nil {
			return err
		}
	}
	if len(flow.AgentId) > 0 {
		agent, err := s.storage.GetAgent(ctx, flow.AgentId)
		if err != nil {
			return api.ConfigurationError{Message: fmt.Sprintf("flow %s references unknown agent %s", flow.Id, flow.AgentId)}
		}
		for _, step := range flow.Steps {
			if len(step.Capability) > 0 && !agent.HasCapability(step.Capability) {
				return api.ConfigurationError{Message: fmt.Sprintf(
					"step %s needs capability %s which agent %s does not have",
					step.Name, step.Capability, agent.Id)}
			}
		}
	}
	return nil
}

func (s *serviceImpl) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	return s.storage.GetFlow(ctx, id)
}

func (s *serviceImpl) DeleteFlow(ctx context.Context, id string) error {
	return s.storage.DeleteFlow(ctx, id)
}
