package handler

import (
	"context"
	"fmt"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
)

// transformHandler re-shapes execution data. Its parameters are already
// resolved through jsonpath by the executor, so the output is simply the
// resolved parameter map.
type transformHandler struct{}

func NewTransformHandler() Handler {
	return &transformHandler{}
}

func (h *transformHandler) Type() string { return "transform" }

func (h *transformHandler) Validate(step model.StepDef) error {
	if len(step.Params) == 0 {
		return api.ConfigurationError{Message: fmt.Sprintf("transform step %s has no parameters", step.Name)}
	}
	return nil
}

func (h *transformHandler) Execute(ctx context.Context, step model.StepDef, params map[string]any) (Result, error) {
	return Result{Output: params}, nil
}

// noopHandler does nothing and succeeds. Useful as a marker step and in
// tests.
type noopHandler struct{}

func NewNoopHandler() Handler {
	return &noopHandler{}
}

func (h *noopHandler) Type() string { return "noop" }

func (h *noopHandler) Validate(step model.StepDef) error { return nil }

func (h *noopHandler) Execute(ctx context.Context, step model.StepDef, params map[string]any) (Result, error) {
	return Result{Output: map[string]any{}}, nil
}
