package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/util"
	"go.uber.org/zap"
)

// Dispatcher drains queued executions as per agent capacity frees up.
type Dispatcher struct {
	orchestrator *Orchestrator
	tw           *util.TickWorker
	batchSize    int
}

func NewDispatcher(orchestrator *Orchestrator, interval time.Duration, wg *sync.WaitGroup) *Dispatcher {
	d := &Dispatcher{
		orchestrator: orchestrator,
		batchSize:    32,
	}
	d.tw = util.NewTickWorker("queued-dispatcher", interval, d.dispatch, wg)
	return d
}

func (d *Dispatcher) Start() {
	if d.tw.IsRunning() {
		return
	}
	d.tw.Start()
}

func (d *Dispatcher) Stop() {
	if !d.tw.IsRunning() {
		return
	}
	d.tw.Stop()
}

func (d *Dispatcher) dispatch() {
	ctx := context.Background()
	o := d.orchestrator
	queued, err := o.executions.ListQueued(ctx, d.batchSize)
	if err != nil {
		logger.Error("error listing queued executions", zap.Error(err))
		return
	}
	for _, execution := range queued {
		claimed, err := o.executions.TryClaimSlot(ctx, execution.AgentId, execution.Id, o.conf.MaxConcurrentPerAgent)
		if err != nil {
			logger.Error("error claiming slot", zap.String("agentId", execution.AgentId), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		execution.Queued = false
		if err := o.executions.Save(ctx, &execution); err != nil {
			// the execution advanced under us; another dispatcher owns the
			// claim unless it already went terminal
			if current, getErr := o.executions.Get(ctx, execution.Id); getErr == nil && current.Status.IsTerminal() {
				_ = o.executions.ReleaseSlot(ctx, execution.AgentId, execution.Id)
			}
			continue
		}
		logger.Info("dispatching queued execution",
			zap.String("executionId", execution.Id),
			zap.String("agentId", execution.AgentId))
		o.executor.Submit(execution.Id)
	}
}
