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

const APPROVAL_KEY string = "APPROVAL"
const APPROVAL_OPEN_KEY string = "APPROVAL_OPEN"
const APPROVAL_PENDING_KEY string = "APPROVAL_PENDING"
const APPROVAL_TIME_KEY string = "APPROVAL_BY_TIME"

type approvalDao struct {
	*baseDao
	encDec util.EncoderDecoder[model.Approval]
}

// Create reserves the single open slot for the execution before writing the
// record. The pending sorted set is scored by expiration for the sweeper.
func (r *approvalDao) Create(ctx context.Context, approval *model.Approval) error {
	openKey := r.getNamespaceKey(APPROVAL_OPEN_KEY)
	reserved, err := r.redisClient.HSetNX(ctx, openKey, approval.ExecutionId, approval.Id).Result()
	if err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	if !reserved {
		return api.ConflictError{Message: "execution already has an open approval"}
	}
	data, err := r.encDec.Encode(*approval)
	if err != nil {
		return err
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		pipe.Set(ctx, r.getNamespaceKey(APPROVAL_KEY, approval.Id), string(data), 0)
		pipe.ZAdd(ctx, r.getNamespaceKey(APPROVAL_TIME_KEY), rd.Z{
			Score:  float64(approval.CreatedAt.UnixMilli()),
			Member: approval.Id,
		})
		pipe.ZAdd(ctx, r.getNamespaceKey(APPROVAL_PENDING_KEY), rd.Z{
			Score:  float64(approval.ExpiresAt.UnixMilli()),
			Member: approval.Id,
		})
		return nil
	})
	if err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *approvalDao) Get(ctx context.Context, id string) (*model.Approval, error) {
	data, err := r.redisClient.Get(ctx, r.getNamespaceKey(APPROVAL_KEY, id)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "approval", Id: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.encDec.Decode([]byte(data))
}

func (r *approvalDao) GetOpenByExecution(ctx context.Context, executionId string) (*model.Approval, error) {
	id, err := r.redisClient.HGet(ctx, r.getNamespaceKey(APPROVAL_OPEN_KEY), executionId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "open approval for execution", Id: executionId}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.Get(ctx, id)
}

// ResolvePending watches the approval's own key, so the compare-and-set
// only trips on a concurrent resolution of the same record.
func (r *approvalDao) ResolvePending(ctx context.Context, approval *model.Approval) error {
	key := r.getNamespaceKey(APPROVAL_KEY, approval.Id)
	err := r.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		currentStr, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return api.NotFoundError{Kind: "approval", Id: approval.Id}
			}
			return err
		}
		current, err := r.encDec.Decode([]byte(currentStr))
		if err != nil {
			return err
		}
		if current.Status != model.APPROVAL_PENDING {
			return api.ConflictError{Message: "approval is not pending"}
		}
		data, err := r.encDec.Encode(*approval)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, key, string(data), 0)
			pipe.HDel(ctx, r.getNamespaceKey(APPROVAL_OPEN_KEY), current.ExecutionId)
			pipe.ZRem(ctx, r.getNamespaceKey(APPROVAL_PENDING_KEY), approval.Id)
			return nil
		})
		return err
	}, key)
	if err != nil {
		var conflict api.ConflictError
		var notFound api.NotFoundError
		if errors.Is(err, rd.TxFailedErr) {
			return api.ConflictError{Message: "concurrent approval update"}
		}
		if errors.As(err, &conflict) || errors.As(err, &notFound) {
			return err
		}
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *approvalDao) ListByStatus(ctx context.Context, status model.ApprovalStatus, page model.Page) ([]model.Approval, error) {
	var out []model.Approval
	if status == model.APPROVAL_PENDING {
		ids, err := r.redisClient.ZRange(ctx, r.getNamespaceKey(APPROVAL_PENDING_KEY), 0, -1).Result()
		if err != nil {
			return nil, api.StorageLayerError{Message: err.Error()}
		}
		for _, id := range ids {
			approval, err := r.Get(ctx, id)
			if err != nil {
				continue
			}
			out = append(out, *approval)
		}
	} else {
		ids, err := r.redisClient.ZRange(ctx, r.getNamespaceKey(APPROVAL_TIME_KEY), 0, -1).Result()
		if err != nil {
			return nil, api.StorageLayerError{Message: err.Error()}
		}
		for _, id := range ids {
			approval, err := r.Get(ctx, id)
			if err != nil {
				continue
			}
			if approval.Status == status {
				out = append(out, *approval)
			}
		}
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

func (r *approvalDao) ListExpired(ctx context.Context, now time.Time) ([]model.Approval, error) {
	ids, err := r.redisClient.ZRangeByScore(ctx, r.getNamespaceKey(APPROVAL_PENDING_KEY), &rd.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	var out []model.Approval
	for _, id := range ids {
		approval, err := r.Get(ctx, id)
		if err != nil {
			continue
		}
		if approval.Status == model.APPROVAL_PENDING {
			out = append(out, *approval)
		}
	}
	return out, nil
}
