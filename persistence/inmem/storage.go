package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/jarabaimpact/agentflow/persistence"
	"github.com/jarabaimpact/agentflow/util"
)

// Storage is the in memory implementation used for tests and for
// storage-impl=memory deployments. All stores share one mutex; records are
// copied through the JSON codec on the way in and out so callers never alias
// stored state.
type Storage struct {
	mu         sync.Mutex
	executions map[string]*model.Execution
	dedup      map[string]string
	claims     map[string]map[string]struct{}
	stepLogs   map[string][]model.StepLog
	approvals  map[string]*model.Approval
	openByExec map[string]string
	agents     map[string]*model.Agent
	flows      map[string]*model.Flow

	execEncDec     util.EncoderDecoder[model.Execution]
	approvalEncDec util.EncoderDecoder[model.Approval]
}

var _ persistence.Storage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		executions:     make(map[string]*model.Execution),
		dedup:          make(map[string]string),
		claims:         make(map[string]map[string]struct{}),
		stepLogs:       make(map[string][]model.StepLog),
		approvals:      make(map[string]*model.Approval),
		openByExec:     make(map[string]string),
		agents:         make(map[string]*model.Agent),
		flows:          make(map[string]*model.Flow),
		execEncDec:     util.NewJsonEncoderDecoder[model.Execution](),
		approvalEncDec: util.NewJsonEncoderDecoder[model.Approval](),
	}
}

func (s *Storage) Executions() persistence.ExecutionStorage { return (*executionStore)(s) }
func (s *Storage) StepLogs() persistence.StepLogStorage     { return (*stepLogStore)(s) }
func (s *Storage) Approvals() persistence.ApprovalStorage   { return (*approvalStore)(s) }
func (s *Storage) Metadata() persistence.MetadataStorage    { return (*metadataStore)(s) }

type executionStore Storage

func (s *executionStore) copyExecution(in *model.Execution) *model.Execution {
	data, err := s.execEncDec.Encode(*in)
	if err != nil {
		cp := *in
		return &cp
	}
	out, err := s.execEncDec.Decode(data)
	if err != nil {
		cp := *in
		return &cp
	}
	return out
}

func (s *executionStore) CreateIfAbsent(ctx context.Context, execution *model.Execution) (*model.Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(execution.DedupKey) > 0 {
		if existingId, ok := s.dedup[execution.DedupKey]; ok {
			return s.copyExecution(s.executions[existingId]), false, nil
		}
	}
	stored := s.copyExecution(execution)
	stored.Version = 1
	s.executions[stored.Id] = stored
	if len(stored.DedupKey) > 0 {
		s.dedup[stored.DedupKey] = stored.Id
	}
	return s.copyExecution(stored), true, nil
}

func (s *executionStore) Get(ctx context.Context, id string) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	execution, ok := s.executions[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "execution", Id: id}
	}
	return s.copyExecution(execution), nil
}

func (s *executionStore) GetByDedupKey(ctx context.Context, dedupKey string) (*model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.dedup[dedupKey]
	if !ok {
		return nil, api.NotFoundError{Kind: "execution", Id: dedupKey}
	}
	return s.copyExecution(s.executions[id]), nil
}

func (s *executionStore) Save(ctx context.Context, execution *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.executions[execution.Id]
	if !ok {
		return api.NotFoundError{Kind: "execution", Id: execution.Id}
	}
	if stored.Version != execution.Version {
		return api.ConflictError{Message: "stale execution version"}
	}
	next := s.copyExecution(execution)
	next.Version = execution.Version + 1
	s.executions[execution.Id] = next
	execution.Version = next.Version
	return nil
}

func (s *executionStore) List(ctx context.Context, filter model.ExecutionFilter, page model.Page) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Execution
	for _, execution := range s.executions {
		if !matches(execution, filter) {
			continue
		}
		out = append(out, *s.copyExecution(execution))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return paginate(out, page), nil
}

func (s *executionStore) ListStartedSince(ctx context.Context, since time.Time, agentId string) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Execution
	for _, execution := range s.executions {
		if execution.StartedAt.Before(since) {
			continue
		}
		if len(agentId) > 0 && execution.AgentId != agentId {
			continue
		}
		out = append(out, *s.copyExecution(execution))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *executionStore) ListQueued(ctx context.Context, limit int) ([]model.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Execution
	for _, execution := range s.executions {
		if execution.Queued && execution.Status == model.EXECUTION_PENDING {
			out = append(out, *s.copyExecution(execution))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *executionStore) TryClaimSlot(ctx context.Context, agentId string, executionId string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.claims[agentId]
	if _, ok := held[executionId]; ok {
		return true, nil
	}
	if len(held) >= limit {
		return false, nil
	}
	if held == nil {
		held = make(map[string]struct{})
		s.claims[agentId] = held
	}
	held[executionId] = struct{}{}
	return true, nil
}

func (s *executionStore) ReleaseSlot(ctx context.Context, agentId string, executionId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	held := s.claims[agentId]
	delete(held, executionId)
	if len(held) == 0 {
		delete(s.claims, agentId)
	}
	return nil
}

func (s *executionStore) CountActive(ctx context.Context, agentId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims[agentId]), nil
}

func matches(execution *model.Execution, filter model.ExecutionFilter) bool {
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

func paginate(in []model.Execution, page model.Page) []model.Execution {
	if page.Offset >= len(in) {
		return nil
	}
	out := in[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out
}

type stepLogStore Storage

func (s *stepLogStore) Append(ctx context.Context, log model.StepLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.stepLogs[log.ExecutionId]
	if log.Order != len(logs) {
		return api.ConflictError{Message: "step log order is not contiguous"}
	}
	s.stepLogs[log.ExecutionId] = append(logs, log)
	return nil
}

func (s *stepLogStore) List(ctx context.Context, executionId string) ([]model.StepLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logs := s.stepLogs[executionId]
	out := make([]model.StepLog, len(logs))
	copy(out, logs)
	return out, nil
}

func (s *stepLogStore) Count(ctx context.Context, executionId string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stepLogs[executionId]), nil
}

type approvalStore Storage

func (s *approvalStore) copyApproval(in *model.Approval) *model.Approval {
	data, err := s.approvalEncDec.Encode(*in)
	if err != nil {
		cp := *in
		return &cp
	}
	out, err := s.approvalEncDec.Decode(data)
	if err != nil {
		cp := *in
		return &cp
	}
	return out
}

func (s *approvalStore) Create(ctx context.Context, approval *model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.openByExec[approval.ExecutionId]; ok {
		return api.ConflictError{Message: "execution already has an open approval"}
	}
	s.approvals[approval.Id] = s.copyApproval(approval)
	s.openByExec[approval.ExecutionId] = approval.Id
	return nil
}

func (s *approvalStore) Get(ctx context.Context, id string) (*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	approval, ok := s.approvals[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "approval", Id: id}
	}
	return s.copyApproval(approval), nil
}

func (s *approvalStore) GetOpenByExecution(ctx context.Context, executionId string) (*model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.openByExec[executionId]
	if !ok {
		return nil, api.NotFoundError{Kind: "open approval for execution", Id: executionId}
	}
	return s.copyApproval(s.approvals[id]), nil
}

func (s *approvalStore) ResolvePending(ctx context.Context, approval *model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.approvals[approval.Id]
	if !ok {
		return api.NotFoundError{Kind: "approval", Id: approval.Id}
	}
	if stored.Status != model.APPROVAL_PENDING {
		return api.ConflictError{Message: "approval is not pending"}
	}
	s.approvals[approval.Id] = s.copyApproval(approval)
	delete(s.openByExec, stored.ExecutionId)
	return nil
}

func (s *approvalStore) ListByStatus(ctx context.Context, status model.ApprovalStatus, page model.Page) ([]model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Approval
	for _, approval := range s.approvals {
		if approval.Status == status {
			out = append(out, *s.copyApproval(approval))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if page.Offset >= len(out) {
		return nil, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *approvalStore) ListExpired(ctx context.Context, now time.Time) ([]model.Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Approval
	for _, approval := range s.approvals {
		if approval.Status == model.APPROVAL_PENDING && approval.ExpiresAt.Before(now) {
			out = append(out, *s.copyApproval(approval))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

type metadataStore Storage

func (s *metadataStore) SaveAgent(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.Id] = &cp
	return nil
}

func (s *metadataStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "agent", Id: id}
	}
	cp := *agent
	return &cp, nil
}

func (s *metadataStore) DeleteAgent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, id)
	return nil
}

func (s *metadataStore) SaveFlow(ctx context.Context, flow *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *flow
	s.flows[flow.Id] = &cp
	return nil
}

func (s *metadataStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flow, ok := s.flows[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "flow", Id: id}
	}
	cp := *flow
	return &cp, nil
}

func (s *metadataStore) DeleteFlow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
	return nil
}
