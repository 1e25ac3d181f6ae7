package inmem

import (
	"context"
	"testing"
	"time"

	api "github.com/jarabaimpact/agentflow/api/v1"
	"github.com/jarabaimpact/agentflow/model"
	"github.com/stretchr/testify/require"
)

func TestExecutionStore(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, storage *Storage){
		"create is idempotent per dedup key": testCreateIfAbsent,
		"save rejects stale version":         testOptimisticSave,
		"slot claims are bounded per agent":  testSlotClaims,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewStorage())
		})
	}
}

func newExecution(id, dedupKey string) *model.Execution {
	return &model.Execution{
		Id:           id,
		FlowId:       "flow-1",
		AgentId:      "agent-1",
		DedupKey:     dedupKey,
		Status:       model.EXECUTION_PENDING,
		ApprovedStep: -1,
		Data:         map[string]any{},
		StartedAt:    time.Now(),
	}
}

func testCreateIfAbsent(t *testing.T, storage *Storage) {
	ctx := context.Background()
	store := storage.Executions()

	first, created, err := store.CreateIfAbsent(ctx, newExecution("e1", "key-1"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(1), first.Version)

	second, created, err := store.CreateIfAbsent(ctx, newExecution("e2", "key-1"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "e1", second.Id)

	_, err = store.Get(ctx, "e2")
	var notFound api.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func testOptimisticSave(t *testing.T, storage *Storage) {
	ctx := context.Background()
	store := storage.Executions()
	stored, _, err := store.CreateIfAbsent(ctx, newExecution("e1", "key-1"))
	require.NoError(t, err)

	stale, err := store.Get(ctx, stored.Id)
	require.NoError(t, err)

	stored.Status = model.EXECUTION_RUNNING
	require.NoError(t, store.Save(ctx, stored))
	require.Equal(t, int64(2), stored.Version)

	stale.Status = model.EXECUTION_CANCELLED
	err = store.Save(ctx, stale)
	var conflict api.ConflictError
	require.ErrorAs(t, err, &conflict)

	current, err := store.Get(ctx, stored.Id)
	require.NoError(t, err)
	require.Equal(t, model.EXECUTION_RUNNING, current.Status)
}

func testSlotClaims(t *testing.T, storage *Storage) {
	ctx := context.Background()
	store := storage.Executions()

	claimed, err := store.TryClaimSlot(ctx, "agent-1", "e1", 2)
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = store.TryClaimSlot(ctx, "agent-1", "e2", 2)
	require.NoError(t, err)
	require.True(t, claimed)

	// the third execution finds every slot held
	claimed, err = store.TryClaimSlot(ctx, "agent-1", "e3", 2)
	require.NoError(t, err)
	require.False(t, claimed)

	// re-claiming a held slot is not a second admission
	claimed, err = store.TryClaimSlot(ctx, "agent-1", "e1", 2)
	require.NoError(t, err)
	require.True(t, claimed)
	count, err := store.CountActive(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// another agent's slots are independent
	claimed, err = store.TryClaimSlot(ctx, "agent-2", "e4", 1)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.ReleaseSlot(ctx, "agent-1", "e1"))
	claimed, err = store.TryClaimSlot(ctx, "agent-1", "e3", 2)
	require.NoError(t, err)
	require.True(t, claimed)

	// releasing an unclaimed slot is a no-op
	require.NoError(t, store.ReleaseSlot(ctx, "agent-1", "never-claimed"))
	count, err = store.CountActive(ctx, "agent-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestStepLogStoreContiguity(t *testing.T) {
	ctx := context.Background()
	store := NewStorage().StepLogs()

	require.NoError(t, store.Append(ctx, model.StepLog{ExecutionId: "e1", Order: 0, StepName: "s0"}))
	require.NoError(t, store.Append(ctx, model.StepLog{ExecutionId: "e1", Order: 1, StepName: "s1"}))

	err := store.Append(ctx, model.StepLog{ExecutionId: "e1", Order: 3, StepName: "s3"})
	var conflict api.ConflictError
	require.ErrorAs(t, err, &conflict)

	err = store.Append(ctx, model.StepLog{ExecutionId: "e1", Order: 1, StepName: "dup"})
	require.ErrorAs(t, err, &conflict)

	logs, err := store.List(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for i, log := range logs {
		require.Equal(t, i, log.Order)
	}
}

func TestApprovalStoreSingleOpen(t *testing.T) {
	ctx := context.Background()
	store := NewStorage().Approvals()

	first := &model.Approval{Id: "a1", ExecutionId: "e1", Status: model.APPROVAL_PENDING, ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Create(ctx, first))

	err := store.Create(ctx, &model.Approval{Id: "a2", ExecutionId: "e1", Status: model.APPROVAL_PENDING})
	var conflict api.ConflictError
	require.ErrorAs(t, err, &conflict)

	open, err := store.GetOpenByExecution(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "a1", open.Id)

	first.Status = model.APPROVAL_APPROVED
	require.NoError(t, store.ResolvePending(ctx, first))

	// resolving frees the slot and further transitions conflict
	_, err = store.GetOpenByExecution(ctx, "e1")
	var notFound api.NotFoundError
	require.ErrorAs(t, err, &notFound)

	first.Status = model.APPROVAL_EXPIRED
	err = store.ResolvePending(ctx, first)
	require.ErrorAs(t, err, &conflict)
}

func TestApprovalStoreListExpired(t *testing.T) {
	ctx := context.Background()
	store := NewStorage().Approvals()
	now := time.Now()

	require.NoError(t, store.Create(ctx, &model.Approval{
		Id: "old", ExecutionId: "e1", Status: model.APPROVAL_PENDING, ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.Create(ctx, &model.Approval{
		Id: "fresh", ExecutionId: "e2", Status: model.APPROVAL_PENDING, ExpiresAt: now.Add(time.Hour),
	}))

	expired, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "old", expired[0].Id)
}
