package handler

import (
	"context"
	"fmt"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
)

// Result carries a step's output and its resource usage.
type Result struct {
	Output map[string]any
	Tokens int64
	Cost   float64
}

// Handler executes one step type. Implementations classify their failures:
// anything wrapped in TransientStepError is retried by the executor, any
// other error fails the step immediately.
type Handler interface {
	Type() string
	Validate(step model.StepDef) error
	Execute(ctx context.Context, step model.StepDef, params map[string]any) (Result, error)
}

// Registry maps step type identifiers to handlers. Flows are resolved
// against it once at save time so the executor never sees an unknown type.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.handlers[h.Type()] = h
	}
	return r
}

func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

func (r *Registry) Get(stepType string) (Handler, error) {
	h, ok := r.handlers[stepType]
	if !ok {
		return nil, api.ConfigurationError{Message: fmt.Sprintf("no handler registered for step type %q", stepType)}
	}
	return h, nil
}

func (r *Registry) ValidateStep(step model.StepDef) error {
	h, err := r.Get(step.Type)
	if err != nil {
		return err
	}
	if err := ValidateCondition(step); err != nil {
		return err
	}
	return h.Validate(step)
}
