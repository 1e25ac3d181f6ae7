package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
)

// scriptHandler evaluates the step expression as javascript with $ bound to
// the resolved parameters. Whatever the script leaves in $ becomes the step
// output.
type scriptHandler struct{}

func NewScriptHandler() Handler {
	return &scriptHandler{}
}

func (h *scriptHandler) Type() string { return "script" }

func (h *scriptHandler) Validate(step model.StepDef) error {
	if len(step.Expression) == 0 {
		return api.ConfigurationError{Message: fmt.Sprintf("script step %s has an empty expression", step.Name)}
	}
	return nil
}

func (h *scriptHandler) Execute(ctx context.Context, step model.StepDef, params map[string]any) (Result, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return Result{}, err
	}
	expression := fmt.Sprintf("var $ = %s;\n", data) + step.Expression
	vm := goja.New()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("step timeout")
		case <-done:
		}
	}()
	defer close(done)
	if _, err := vm.RunString(expression); err != nil {
		return Result{}, fmt.Errorf("error executing script: %w", err)
	}
	val, err := vm.RunString("$")
	if err != nil {
		return Result{}, fmt.Errorf("error executing script: %w", err)
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return Result{}, err
	}
	var output map[string]any
	if err := json.Unmarshal(res, &output); err != nil {
		output = map[string]any{"value": val.Export()}
	}
	return Result{Output: output}, nil
}
