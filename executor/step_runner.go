package executor

import (
	"context"
	"errors"
	"time"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/handler"
	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/model"
	"go.uber.org/zap"
)

// runStep executes one step with a bounded timeout per attempt and retries
// transient failures with a linear backoff. Non transient errors fail on
// the first attempt.
func (fe *FlowExecutor) runStep(ctx context.Context, step model.StepDef, input map[string]any) (handler.Result, model.ErrorKind, error) {
	h, err := fe.registry.Get(step.Type)
	if err != nil {
		return handler.Result{}, model.ERROR_KIND_INTERNAL, err
	}
	attempts := fe.conf.MaxStepRetries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	var kind model.ErrorKind
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fe.invoke(ctx, h, step, input)
		if err == nil {
			return result, model.ERROR_KIND_NONE, nil
		}
		lastErr = err
		kind = classify(err)
		if kind != model.ERROR_KIND_TRANSIENT && kind != model.ERROR_KIND_TIMEOUT {
			break
		}
		if attempt < attempts {
			logger.Debug("retrying step after transient error",
				zap.String("step", step.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
			time.Sleep(fe.conf.RetryBackoff * time.Duration(attempt))
		}
	}
	return handler.Result{}, kind, lastErr
}

// invoke bounds a single handler call. A hung handler cannot block the
// worker past the step timeout; its goroutine is abandoned with a
// cancelled context.
func (fe *FlowExecutor) invoke(ctx context.Context, h handler.Handler, step model.StepDef, input map[string]any) (handler.Result, error) {
	stepCtx, cancel := context.WithTimeout(ctx, fe.conf.StepTimeout)
	defer cancel()
	type outcome struct {
		result handler.Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := h.Execute(stepCtx, step, input)
		ch <- outcome{result: result, err: err}
	}()
	select {
	case out := <-ch:
		return out.result, out.err
	case <-stepCtx.Done():
		return handler.Result{}, stepCtx.Err()
	}
}

func classify(err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ERROR_KIND_TIMEOUT
	}
	var transient api.TransientStepError
	if errors.As(err, &transient) {
		return model.ERROR_KIND_TRANSIENT
	}
	return model.ERROR_KIND_INTERNAL
}
