package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/util"
)

const AGENT_KEY string = "AGENT"
const FLOW_KEY string = "FLOW"

type metadataDao struct {
	*baseDao
	agentEncDec util.EncoderDecoder[model.Agent]
	flowEncDec  util.EncoderDecoder[model.Flow]
}

func (r *metadataDao) SaveAgent(ctx context.Context, agent *model.Agent) error {
	data, err := r.agentEncDec.Encode(*agent)
	if err != nil {
		return err
	}
	if err := r.redisClient.HSet(ctx, r.getNamespaceKey(AGENT_KEY), agent.Id, string(data)).Err(); err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *metadataDao) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	data, err := r.redisClient.HGet(ctx, r.getNamespaceKey(AGENT_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "agent", Id: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.agentEncDec.Decode([]byte(data))
}

func (r *metadataDao) DeleteAgent(ctx context.Context, id string) error {
	if err := r.redisClient.HDel(ctx, r.getNamespaceKey(AGENT_KEY), id).Err(); err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *metadataDao) SaveFlow(ctx context.Context, flow *model.Flow) error {
	data, err := r.flowEncDec.Encode(*flow)
	if err != nil {
		return err
	}
	if err := r.redisClient.HSet(ctx, r.getNamespaceKey(FLOW_KEY), flow.Id, string(data)).Err(); err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *metadataDao) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	data, err := r.redisClient.HGet(ctx, r.getNamespaceKey(FLOW_KEY), id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, api.NotFoundError{Kind: "flow", Id: id}
		}
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return r.flowEncDec.Decode([]byte(data))
}

func (r *metadataDao) DeleteFlow(ctx context.Context, id string) error {
	if err := r.redisClient.HDel(ctx, r.getNamespaceKey(FLOW_KEY), id).Err(); err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}
