package approval

import (
	"context"
	"sync"
	"time"

	"github.com/jarabaimpact/agentflow/logger"
	"github.com/jarabaimpact/agentflow/util"
	"go.uber.org/zap"
)

// Sweeper periodically expires pending approvals that passed their
// expiration timestamp.
type Sweeper struct {
	gate *Gate
	tw   *util.TickWorker
}

func NewSweeper(gate *Gate, interval time.Duration, wg *sync.WaitGroup) *Sweeper {
	s := &Sweeper{gate: gate}
	s.tw = util.NewTickWorker("approval-sweeper", interval, s.sweep, wg)
	return s
}

func (s *Sweeper) Start() {
	if s.tw.IsRunning() {
		return
	}
	s.tw.Start()
}

func (s *Sweeper) Stop() {
	if !s.tw.IsRunning() {
		return
	}
	s.tw.Stop()
}

func (s *Sweeper) sweep() {
	swept, err := s.gate.SweepExpired(context.Background(), time.Now())
	if err != nil {
		logger.Error("error sweeping expired approvals", zap.Error(err))
		return
	}
	if swept > 0 {
		logger.Info("swept expired approvals", zap.Int("count", swept))
	}
}
