package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/util"
)

const STEPLOG_KEY string = "STEPLOG"

type stepLogDao struct {
	*baseDao
	encDec util.EncoderDecoder[model.StepLog]
}

// Append pushes the record only when its order index equals the current list
// length, so the audit trail stays contiguous even under racing writers.
func (r *stepLogDao) Append(ctx context.Context, log model.StepLog) error {
	key := r.getNamespaceKey(STEPLOG_KEY, log.ExecutionId)
	data, err := r.encDec.Encode(log)
	if err != nil {
		return err
	}
	err = r.redisClient.Watch(ctx, func(tx *rd.Tx) error {
		length, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if int(length) != log.Order {
			return api.ConflictError{Message: "step log order is not contiguous, expected " + strconv.FormatInt(length, 10)}
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.RPush(ctx, key, string(data))
			return nil
		})
		return err
	}, key)
	if err != nil {
		var conflict api.ConflictError
		if errors.Is(err, rd.TxFailedErr) {
			return api.ConflictError{Message: "concurrent step log append"}
		}
		if errors.As(err, &conflict) {
			return err
		}
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *stepLogDao) List(ctx context.Context, executionId string) ([]model.StepLog, error) {
	key := r.getNamespaceKey(STEPLOG_KEY, executionId)
	values, err := r.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	out := make([]model.StepLog, 0, len(values))
	for _, v := range values {
		log, err := r.encDec.Decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, *log)
	}
	return out, nil
}

func (r *stepLogDao) Count(ctx context.Context, executionId string) (int, error) {
	key := r.getNamespaceKey(STEPLOG_KEY, executionId)
	length, err := r.redisClient.LLen(ctx, key).Result()
	if err != nil {
		return 0, api.StorageLayerError{Message: err.Error()}
	}
	return int(length), nil
}
