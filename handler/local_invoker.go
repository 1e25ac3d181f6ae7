package handler

import (
	"context"
	"fmt"
)

// localInvoker is the built in invoker used when no external LLM or tool
// gateway is configured. It echoes the resolved parameters back as output so
// flows can be exercised end to end without outbound calls.
type localInvoker struct{}

func NewLocalInvoker() Invoker {
	return &localInvoker{}
}

func (inv *localInvoker) Invoke(ctx context.Context, stepType string, params map[string]any) (InvokeResult, error) {
	select {
	case <-ctx.Done():
		return InvokeResult{}, ctx.Err()
	default:
	}
	output := make(map[string]any, len(params)+1)
	for k, v := range params {
		output[k] = v
	}
	output["invokedAs"] = stepType
	if prompt, ok := params["prompt"].(string); ok {
		output["completion"] = fmt.Sprintf("echo: %s", prompt)
	}
	return InvokeResult{Output: output}, nil
}
