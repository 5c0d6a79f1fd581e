package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/alevoro-com/alevoro/internal/registry"
)

// EscrowJob is one claimed custody-transfer intent.
type EscrowJob struct {
	ID            string
	ItemID        string
	Receiver      string
	ApprovalToken string
	Memo          string
	Status        string
	Attempts      int32
	LastError     string
	AvailableAt   time.Time
}

type EscrowOutboxRepository interface {
	ClaimPending(ctx context.Context, limit int32) ([]EscrowJob, error)
	MarkDone(ctx context.Context, jobID, receiptID string) error
	MarkRetry(ctx context.Context, jobID string, nextAvailableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, jobID string, lastError string) error
}

// EscrowWorker drains staged custody-transfer intents and issues them to the
// item registry. Delivery retries live here, outside the market core: the
// core itself never retries.
type EscrowWorker struct {
	outboxRepo   EscrowOutboxRepository
	client       registry.Client
	maxAttempts  int32
	now          func() time.Time
	retryBackoff func(attempt int32) time.Duration
}

func NewEscrowWorker(outboxRepo EscrowOutboxRepository, client registry.Client, maxAttempts int32) *EscrowWorker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &EscrowWorker{
		outboxRepo:  outboxRepo,
		client:      client,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		retryBackoff: func(attempt int32) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			return time.Duration(attempt*15) * time.Second
		},
	}
}

func (w *EscrowWorker) RunOnce(ctx context.Context, batchSize int32) error {
	jobs, err := w.outboxRepo.ClaimPending(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			return err
		}
	}

	return nil
}

func (w *EscrowWorker) processJob(ctx context.Context, job EscrowJob) error {
	if job.ItemID == "" || job.Receiver == "" {
		return w.handleJobError(ctx, job, errors.New("invalid_transfer_intent"))
	}

	receiptID, err := w.client.TransferItem(ctx, registry.TransferRequest{
		ItemID:        job.ItemID,
		Receiver:      job.Receiver,
		ApprovalToken: job.ApprovalToken,
		Memo:          job.Memo,
	})
	if err != nil {
		return w.handleJobError(ctx, job, err)
	}

	return w.outboxRepo.MarkDone(ctx, job.ID, receiptID)
}

func (w *EscrowWorker) handleJobError(ctx context.Context, job EscrowJob, err error) error {
	msg := err.Error()
	if job.Attempts >= w.maxAttempts {
		return w.outboxRepo.MarkFailed(ctx, job.ID, msg)
	}
	next := w.now().Add(w.retryBackoff(job.Attempts))
	return w.outboxRepo.MarkRetry(ctx, job.ID, next, msg)
}
