package recovery

import (
	"context"
	"log"
	"time"

	"revenue-attribution-pipeline/internal/queue"
	"revenue-attribution-pipeline/internal/tenant"
)

type sessionSource interface {
	AcquireOperational(ctx context.Context, ec tenant.ExecutionContext) (*tenant.Session, error)
}

type transport interface {
	ListStale(ctx context.Context, q tenant.Querier, cutoff time.Time, limit int) ([]queue.StaleRef, error)
	Release(ctx context.Context, q tenant.Querier, taskID string) error
}

type exclusionStore interface {
	Excluded(ctx context.Context, q tenant.Querier, scenario, taskID string) (bool, error)
}

// Sweeper returns messages stuck in flight past the staleness threshold to
// visibility so another worker can claim them. Re-sweeping an already-released
// task is harmless: Release only touches unacked in-flight rows, and the
// executor's proof row absorbs any resulting redelivery.
type Sweeper struct {
	sessions   sessionSource
	transport  transport
	exclusions exclusionStore
	scenario   string
	staleness  time.Duration
	batchSize  int
}

// NewSweeper returns a sweeper. scenario names the active exclusion set; an
// empty scenario skips exclusion checks entirely.
func NewSweeper(sessions sessionSource, tp transport, exclusions exclusionStore, scenario string, staleness time.Duration, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Sweeper{
		sessions:   sessions,
		transport:  tp,
		exclusions: exclusions,
		scenario:   scenario,
		staleness:  staleness,
		batchSize:  batchSize,
	}
}

// Sweep runs one pass and reports how many messages it requeued. Per-message
// failures are logged and skipped; the next pass picks them up.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	sess, err := s.sessions.AcquireOperational(ctx, tenant.ContextSweeper)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	stale, err := s.transport.ListStale(ctx, sess, now.Add(-s.staleness), s.batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, ref := range stale {
		if s.scenario != "" {
			excluded, err := s.exclusions.Excluded(ctx, sess, s.scenario, ref.TaskID)
			if err != nil {
				log.Printf("recovery: exclusion check for task %s: %v", ref.TaskID, err)
				continue
			}
			if excluded {
				continue
			}
		}
		if err := s.transport.Release(ctx, sess, ref.TaskID); err != nil {
			log.Printf("recovery: release task %s: %v", ref.TaskID, err)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// Run sweeps on the given interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Sweep(ctx, now)
			if err != nil {
				log.Printf("recovery: sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("recovery: requeued %d stale messages", n)
			}
		}
	}
}
