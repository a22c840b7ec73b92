package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"stayflow/internal/domain"
)

// Runner drains due scheduled emails on each external trigger tick. Ticks may
// overlap; correctness comes from Execute's re-checks and the conditional row
// updates, not from the runner serializing itself.
type Runner struct {
	emails    domain.ScheduledEmailStore
	scheduler *EmailScheduler
	batchSize int
	workers   int64
}

func NewRunner(emails domain.ScheduledEmailStore, scheduler *EmailScheduler, batchSize, workers int) *Runner {
	if batchSize <= 0 {
		batchSize = 50
	}
	if workers <= 0 {
		workers = 4
	}
	return &Runner{emails: emails, scheduler: scheduler, batchSize: batchSize, workers: int64(workers)}
}

type RunSummary struct {
	Processed int64 `json:"processed"`
	Sent      int64 `json:"sent"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

// RunDueEmails processes at most one batch; the next tick picks up the rest.
// One row's failure never aborts the others.
func (r *Runner) RunDueEmails(ctx context.Context, now time.Time) (RunSummary, error) {
	due, err := r.emails.DueBefore(ctx, now, r.batchSize)
	if err != nil {
		return RunSummary{}, err
	}

	var summary RunSummary
	sem := semaphore.NewWeighted(r.workers)
	var wg sync.WaitGroup

	for _, row := range due {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone mid-batch; report what completed.
			break
		}
		wg.Add(1)
		go func(e domain.ScheduledEmail) {
			defer wg.Done()
			defer sem.Release(1)

			atomic.AddInt64(&summary.Processed, 1)
			outcome, err := r.scheduler.Execute(ctx, e)
			if err != nil {
				log.Error().Int64("email_id", e.ID).Err(err).Msg("due email execution failed")
				atomic.AddInt64(&summary.Failed, 1)
				return
			}
			switch outcome {
			case OutcomeSent:
				atomic.AddInt64(&summary.Sent, 1)
			case OutcomeSkipped:
				atomic.AddInt64(&summary.Skipped, 1)
			case OutcomeFailed:
				atomic.AddInt64(&summary.Failed, 1)
			}
		}(row)
	}
	wg.Wait()

	if summary.Processed > 0 {
		log.Info().Int64("processed", summary.Processed).Int64("sent", summary.Sent).
			Int64("skipped", summary.Skipped).Int64("failed", summary.Failed).Msg("email batch done")
	}
	return summary, nil
}
