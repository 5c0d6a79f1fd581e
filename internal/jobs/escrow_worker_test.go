package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alevoro-com/alevoro/internal/registry"
)

type outboxMock struct {
	jobs []EscrowJob

	done    map[string]string
	retries map[string]time.Time
	failed  map[string]string
}

func newOutboxMock(jobs ...EscrowJob) *outboxMock {
	return &outboxMock{
		jobs:    jobs,
		done:    map[string]string{},
		retries: map[string]time.Time{},
		failed:  map[string]string{},
	}
}

func (m *outboxMock) ClaimPending(_ context.Context, limit int32) ([]EscrowJob, error) {
	if int32(len(m.jobs)) > limit {
		return m.jobs[:limit], nil
	}
	return m.jobs, nil
}

func (m *outboxMock) MarkDone(_ context.Context, jobID, receiptID string) error {
	m.done[jobID] = receiptID
	return nil
}

func (m *outboxMock) MarkRetry(_ context.Context, jobID string, nextAvailableAt time.Time, _ string) error {
	m.retries[jobID] = nextAvailableAt
	return nil
}

func (m *outboxMock) MarkFailed(_ context.Context, jobID, lastError string) error {
	m.failed[jobID] = lastError
	return nil
}

type registryMock struct {
	receipts map[string]string
	err      error
	calls    []registry.TransferRequest
}

func (m *registryMock) TransferItem(_ context.Context, req registry.TransferRequest) (string, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return "", m.err
	}
	return m.receipts[req.ItemID], nil
}

func (m *registryMock) ItemMetadata(context.Context, string) (*registry.ItemMetadata, error) {
	return nil, errors.New("not implemented")
}

func TestRunOnceDeliversTransfers(t *testing.T) {
	outbox := newOutboxMock(
		EscrowJob{ID: "job-1", ItemID: "item-1", Receiver: "market.test", ApprovalToken: "7", Attempts: 1},
		EscrowJob{ID: "job-2", ItemID: "item-2", Receiver: "bob", Attempts: 1},
	)
	client := &registryMock{receipts: map[string]string{"item-1": "rcpt-a", "item-2": "rcpt-b"}}
	worker := NewEscrowWorker(outbox, client, 5)

	require.NoError(t, worker.RunOnce(context.Background(), 10))

	require.Len(t, client.calls, 2)
	assert.Equal(t, "7", client.calls[0].ApprovalToken)
	assert.Equal(t, map[string]string{"job-1": "rcpt-a", "job-2": "rcpt-b"}, outbox.done)
	assert.Empty(t, outbox.retries)
	assert.Empty(t, outbox.failed)
}

func TestRunOnceHonorsBatchSize(t *testing.T) {
	outbox := newOutboxMock(
		EscrowJob{ID: "job-1", ItemID: "item-1", Receiver: "bob", Attempts: 1},
		EscrowJob{ID: "job-2", ItemID: "item-2", Receiver: "bob", Attempts: 1},
	)
	client := &registryMock{receipts: map[string]string{}}
	worker := NewEscrowWorker(outbox, client, 5)

	require.NoError(t, worker.RunOnce(context.Background(), 1))
	assert.Len(t, client.calls, 1)
}

func TestTransferErrorSchedulesRetryWithBackoff(t *testing.T) {
	outbox := newOutboxMock(EscrowJob{ID: "job-1", ItemID: "item-1", Receiver: "bob", Attempts: 2})
	client := &registryMock{err: errors.New("registry unavailable")}
	worker := NewEscrowWorker(outbox, client, 5)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	worker.now = func() time.Time { return base }

	require.NoError(t, worker.RunOnce(context.Background(), 10))

	next, ok := outbox.retries["job-1"]
	require.True(t, ok, "job must be scheduled for retry")
	assert.Equal(t, base.Add(30*time.Second), next)
	assert.Empty(t, outbox.done)
	assert.Empty(t, outbox.failed)
}

func TestExhaustedAttemptsMarkFailed(t *testing.T) {
	outbox := newOutboxMock(EscrowJob{ID: "job-1", ItemID: "item-1", Receiver: "bob", Attempts: 5})
	client := &registryMock{err: errors.New("registry unavailable")}
	worker := NewEscrowWorker(outbox, client, 5)

	require.NoError(t, worker.RunOnce(context.Background(), 10))

	assert.Equal(t, "registry unavailable", outbox.failed["job-1"])
	assert.Empty(t, outbox.retries)
}

func TestMalformedIntentNeverReachesRegistry(t *testing.T) {
	outbox := newOutboxMock(EscrowJob{ID: "job-1", ItemID: "", Receiver: "bob", Attempts: 5})
	client := &registryMock{}
	worker := NewEscrowWorker(outbox, client, 5)

	require.NoError(t, worker.RunOnce(context.Background(), 10))

	assert.Empty(t, client.calls)
	assert.Equal(t, "invalid_transfer_intent", outbox.failed["job-1"])
}
