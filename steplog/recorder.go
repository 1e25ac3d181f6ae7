package steplog

import (
	"context"

	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
)

// Recorder is the append only writer for the per step audit trail. Every
// record is mirrored to the collector so the trail also exists outside the
// primary store.
type Recorder struct {
	storage   persistence.StepLogStorage
	collector Collector
}

func NewRecorder(storage persistence.StepLogStorage, collector Collector) *Recorder {
	if collector == nil {
		collector = NoopCollector{}
	}
	return &Recorder{
		storage:   storage,
		collector: collector,
	}
}

// Record appends one step attempt. The storage rejects any order index that
// is not the next contiguous one, which keeps the trail strictly ordered.
func (r *Recorder) Record(ctx context.Context, log model.StepLog) error {
	if err := r.storage.Append(ctx, log); err != nil {
		return err
	}
	r.collector.RecordStep(log)
	return nil
}

func (r *Recorder) List(ctx context.Context, executionId string) ([]model.StepLog, error) {
	return r.storage.List(ctx, executionId)
}

func (r *Recorder) Count(ctx context.Context, executionId string) (int, error) {
	return r.storage.Count(ctx, executionId)
}
