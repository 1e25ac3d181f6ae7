package metadata

import (
	"context"
	"time"

	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
	c "github.com/patrickmn/go-cache"
)

// CachedStorage is a read through cache over metadata storage. Definitions
// are read on every trigger and on every step, so cache hits keep the hot
// path off the store. Writes invalidate.
type CachedStorage struct {
	delegate persistence.MetadataStorage
	agents   *c.Cache
	flows    *c.Cache
}

var _ persistence.MetadataStorage = new(CachedStorage)

func NewCachedStorage(delegate persistence.MetadataStorage) *CachedStorage {
	return &CachedStorage{
		delegate: delegate,
		agents:   c.New(5*time.Minute, 10*time.Minute),
		flows:    c.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *CachedStorage) SaveAgent(ctx context.Context, agent *model.Agent) error {
	if err := s.delegate.SaveAgent(ctx, agent); err != nil {
		return err
	}
	s.agents.Delete(agent.Id)
	return nil
}

func (s *CachedStorage) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	if cached, found := s.agents.Get(id); found {
		agent := cached.(model.Agent)
		return &agent, nil
	}
	agent, err := s.delegate.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.agents.Set(id, *agent, c.DefaultExpiration)
	return agent, nil
}

func (s *CachedStorage) DeleteAgent(ctx context.Context, id string) error {
	if err := s.delegate.DeleteAgent(ctx, id); err != nil {
		return err
	}
	s.agents.Delete(id)
	return nil
}

func (s *CachedStorage) SaveFlow(ctx context.Context, flow *model.Flow) error {
	if err := s.delegate.SaveFlow(ctx, flow); err != nil {
		return err
	}
	s.flows.Delete(flow.Id)
	return nil
}

func (s *CachedStorage) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	if cached, found := s.flows.Get(id); found {
		flow := cached.(model.Flow)
		return &flow, nil
	}
	flow, err := s.delegate.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	s.flows.Set(id, *flow, c.DefaultExpiration)
	return flow, nil
}

func (s *CachedStorage) DeleteFlow(ctx context.Context, id string) error {
	if err := s.delegate.DeleteFlow(ctx, id); err != nil {
		return err
	}
	s.flows.Delete(id)
	return nil
}
