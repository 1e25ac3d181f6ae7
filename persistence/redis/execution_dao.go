package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/util"
)

const EXECUTION_KEY string = "EXECUTION"
const DEDUP_KEY string = "DEDUP"
const EXECUTION_TIME_KEY string = "EXECUTION_BY_TIME"
const QUEUED_KEY string = "QUEUED"
const SLOT_KEY string = "SLOTS"

var errSlotsExhausted = errors.New("all agent slots are held")

type executionDao struct {
	*baseDao
	encDec util.EncoderDecoder[model.Execution]
}

func (r *executionDao) CreateIfAbsent(ctx context.Context, execution *model.Execution) (*model.Execution, bool, error) {
	dedupKey := r.getNamespaceKey(DEDUP_KEY)
	if len(execution.DedupKey) > 0 {
		created, err := r.redisClient.HSetNX(ctx, dedupKey, execution.DedupKey, execution.Id).Result()
		if err != nil {
			return nil, false, api.StorageLayerError{Message: err.Error()}
		}
		if !created {
			existingId, err := r.redisClient.HGet(ctx, dedupKey, execution.DedupKey).Result()
			if err != nil {
				return nil, false, api.StorageLayerError{Message: err.Error()}
			}
			existing, err := r.Get(ctx, existingId)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
	}
	execution.Version = 1
	data, err := r.encDec.Encode(*execution)
	if err != nil {
		return nil, false, err
	}
	timeKey := r.getNamespaceKey(EXECUTION_TIME_KEY)
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, r.getNamespaceKey(EXECUTION_KEY, execution.Id), string(data), 0)
		pipe.ZAdd(ctx, timeKey, rd.Z{Score: float64(execution.StartedAt.UnixMilli()), Member: execution.Id})
		if execution.Queued {
			pipe.ZAdd(ctx, r.getNamespaceKey(QUEUED_KEY), rd.Z{Score: float64(execution.StartedAt.UnixMilli()), Member: execution.Id})
		}
		return nil
	})
	if err != nil {
		return nil, false, api.StorageLayerError{Message: err.Error()}
	}
	return execution, true, nil
}

func (r *executionDao) Get(ctx context.Context, id string) (*model.Execution, error) {
	data, err := r.redisClient.Get(ctx, r.getNamespaceKey(EXECUTION_KEY, id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "execution", Id: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.encDec.Decode([]byte(data))
}

func (r *executionDao) GetByDedupKey(ctx context.Context, dedupKey string) (*model.Execution, error) {
	id, err := r.redisClient.HGet(ctx, r.getNamespaceKey(DEDUP_KEY), dedupKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "execution", Id: dedupKey}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.Get(ctx, id)
}

// Save is a watch protected compare-and-set on the execution version. Each
// execution lives under its own key, so the watch only trips when two
// workers race the same record, never on unrelated writes. The queued index
// is kept in the same transaction.
func (r *executionDao) Save(ctx context.Context, execution *model.Execution) error {
	key := r.getNamespaceKey(EXECUTION_KEY, execution.Id)
	err := r.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		currentStr, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return api.NotFoundError{Kind: "execution", Id: execution.Id}
			}
			return err
		}
		current, err := r.encDec.Decode([]byte(currentStr))
		if err != nil {
			return err
		}
		if current.Version != execution.Version {
			return api.ConflictError{Message: "stale execution version"}
		}
		next := *execution
		next.Version = execution.Version + 1
		data, err := r.encDec.Encode(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			r.updateIndexes(ctx, pipe, current, &next)
			return nil
		})
		if err == nil {
			execution.Version = next.Version
		}
		return err
	}, key)
	if err != nil {
		var conflict api.ConflictError
		var notFound api.NotFoundError
		if errors.Is(err, rd.TxFailedErr) {
			return api.ConflictError{Message: "concurrent execution update"}
		}
		if errors.As(err, &conflict) || errors.As(err, &notFound) {
			return err
		}
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *executionDao) updateIndexes(ctx context.Context, pipe rd.Pipeliner, prev *model.Execution, next *model.Execution) {
	if prev.Queued && !next.Queued {
		pipe.ZRem(ctx, r.getNamespaceKey(QUEUED_KEY), next.Id)
	}
}

// TryClaimSlot is a watch protected check-and-add on the agent's slot set,
// so two admissions racing the same last slot cannot both win.
func (r *executionDao) TryClaimSlot(ctx context.Context, agentId string, executionId string, limit int) (bool, error) {
	slotKey := r.getNamespaceKey(SLOT_KEY, agentId)
	for attempt := 0; attempt < 3; attempt++ {
		err := r.redisClient.Watch(ctx, func(tx *rd.Tx) error {
			held, err := tx.SIsMember(ctx, slotKey, executionId).Result()
			if err != nil {
				return err
			}
			if held {
				return nil
			}
			count, err := tx.SCard(ctx, slotKey).Result()
			if err != nil {
				return err
			}
			if count >= int64(limit) {
				return errSlotsExhausted
			}
			_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
				pipe.SAdd(ctx, slotKey, executionId)
				return nil
			})
			return err
		}, slotKey)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, errSlotsExhausted) {
			return false, nil
		}
		if errors.Is(err, rd.TxFailedErr) {
			continue
		}
		return false, api.StorageLayerError{Message: err.Error()}
	}
	return false, api.ConflictError{Message: "could not claim slot for agent " + agentId}
}

func (r *executionDao) ReleaseSlot(ctx context.Context, agentId string, executionId string) error {
	if err := r.redisClient.SRem(ctx, r.getNamespaceKey(SLOT_KEY, agentId), executionId).Err(); err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *executionDao) CountActive(ctx context.Context, agentId string) (int, error) {
	count, err := r.redisClient.SCard(ctx, r.getNamespaceKey(SLOT_KEY, agentId)).Result()
	if err != nil {
		return 0, api.StorageLayerError{Message: err.Error()}
	}
	return int(count), nil
}

func (r *executionDao) List(ctx context.Context, filter model.ExecutionFilter, page model.Page) ([]model.Execution, error) {
	timeKey := r.getNamespaceKey(EXECUTION_TIME_KEY)
	ids, err := r.redisClient.ZRevRange(ctx, timeKey, 0, -1).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	var out []model.Execution
	for _, id := range ids {
		execution, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		if !filterMatches(execution, filter) {
			continue
		}
		out = append(out, *execution)
	}
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (r *executionDao) ListStartedSince(ctx context.Context, since time.Time, agentId string) ([]model.Execution, error) {
	timeKey := r.getNamespaceKey(EXECUTION_TIME_KEY)
	ids, err := r.redisClient.ZRangeByScore(ctx, timeKey, &rd.ZRangeBy{
		Min: formatScore(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	var out []model.Execution
	for _, id := range ids {
		execution, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		if len(agentId) > 0 && execution.AgentId != agentId {
			continue
		}
		out = append(out, *execution)
	}
	return out, nil
}

func (r *executionDao) ListQueued(ctx context.Context, limit int) ([]model.Execution, error) {
	queuedKey := r.getNamespaceKey(QUEUED_KEY)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.redisClient.ZRange(ctx, queuedKey, 0, stop).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	var out []model.Execution
	for _, id := range ids {
		execution, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *execution)
	}
	return out, nil
}

func filterMatches(execution *model.Execution, filter model.ExecutionFilter) bool {
	if len(filter.AgentId) > 0 && execution.AgentId != filter.AgentId {
		return false
	}
	if len(filter.FlowId) > 0 && execution.FlowId != filter.FlowId {
		return false
	}
	if len(filter.Status) > 0 && execution.Status != filter.Status {
		return false
	}
	if len(filter.DedupKey) > 0 && execution.DedupKey != filter.DedupKey {
		return false
	}
	return true
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
