package handler

import (
	"context"
	"fmt"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
)

// InvokeResult is what the external invocation layer returns for one call.
type InvokeResult struct {
	Output map[string]any
	Tokens int64
	Cost   float64
}

// Invoker is the external LLM and tool call collaborator. Calls may be slow
// or unreliable; the executor bounds them with a timeout and retries
// transient failures.
type Invoker interface {
	Invoke(ctx context.Context, stepType string, params map[string]any) (InvokeResult, error)
}

// llmHandler delegates model calls to the invoker.
type llmHandler struct {
	invoker Invoker
}

func NewLlmHandler(invoker Invoker) Handler {
	return &llmHandler{invoker: invoker}
}

func (h *llmHandler) Type() string { return "llm" }

func (h *llmHandler) Validate(step model.StepDef) error {
	if _, ok := step.Params["prompt"]; !ok {
		return api.ConfigurationError{Message: fmt.Sprintf("llm step %s has no prompt parameter", step.Name)}
	}
	return nil
}

func (h *llmHandler) Execute(ctx context.Context, step model.StepDef, params map[string]any) (Result, error) {
	res, err := h.invoker.Invoke(ctx, h.Type(), params)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: res.Output, Tokens: res.Tokens, Cost: res.Cost}, nil
}

// toolHandler delegates tool calls to the invoker.
type toolHandler struct {
	invoker Invoker
}

func NewToolHandler(invoker Invoker) Handler {
	return &toolHandler{invoker: invoker}
}

func (h *toolHandler) Type() string { return "tool" }

func (h *toolHandler) Validate(step model.StepDef) error {
	if _, ok := step.Params["tool"]; !ok {
		return api.ConfigurationError{Message: fmt.Sprintf("tool step %s has no tool parameter", step.Name)}
	}
	return nil
}

func (h *toolHandler) Execute(ctx context.Context, step model.StepDef, params map[string]any) (Result, error) {
	res, err := h.invoker.Invoke(ctx, h.Type(), params)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: res.Output, Tokens: res.Tokens, Cost: res.Cost}, nil
}
