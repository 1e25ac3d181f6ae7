package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
)

// EvalCondition evaluates a step condition as javascript with $ bound to
// the execution data. The expression's result is coerced with javascript
// truthiness rules.
func EvalCondition(ctx context.Context, expression string, data map[string]any) (bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return false, err
	}
	vm := goja.New()
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("condition timeout")
		case <-done:
		}
	}()
	defer close(done)
	val, err := vm.RunString(fmt.Sprintf("var $ = %s;\n", raw) + expression)
	if err != nil {
		return false, fmt.Errorf("error evaluating condition: %w", err)
	}
	return val.ToBoolean(), nil
}

// ValidateCondition compiles the step condition, if any, so a malformed
// expression is rejected at save time instead of failing every run.
func ValidateCondition(step model.StepDef) error {
	if len(step.Condition) == 0 {
		return nil
	}
	if _, err := goja.Compile(step.Name, step.Condition, false); err != nil {
		return api.ConfigurationError{Message: fmt.Sprintf("step %s has an invalid condition: %s", step.Name, err)}
	}
	return nil
}
