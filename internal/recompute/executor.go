package recompute

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"revenue-attribution-pipeline/internal/budget"
	"revenue-attribution-pipeline/internal/effects"
	"revenue-attribution-pipeline/internal/event"
	"revenue-attribution-pipeline/internal/ledger"
	"revenue-attribution-pipeline/internal/telemetry"
	"revenue-attribution-pipeline/internal/tenant"
)

// ErrForcedFailure is returned when a task carries the debug force_failure
// flag. It exists so crash-recovery probes can trigger redelivery on demand.
var ErrForcedFailure = errors.New("recompute: forced failure requested by task payload")

// ErrPartialApplication wraps a ledger write that failed after the proof row
// was inserted in the same transaction. The rollback undoes both; the error
// is an alert, not a consistency breach.
var ErrPartialApplication = errors.New("recompute: ledger write failed after side-effect proof, transaction rolled back")

type eventLister interface {
	ListWindow(ctx context.Context, q tenant.Querier, start, end time.Time) ([]*event.Event, error)
}

type effectStore interface {
	RecordOnce(ctx context.Context, q tenant.Querier, e *effects.SideEffect) error
}

type allocationStore interface {
	Insert(ctx context.Context, q tenant.Querier, a *Allocation) error
}

type ledgerPoster interface {
	Post(ctx context.Context, q tenant.Querier, e *ledger.Entry) (string, error)
}

// Investigator is an optional paid enrichment step run when the budget gate
// approves. Failures are logged and never block the recompute.
type Investigator func(ctx context.Context, j *Job, allocs []*Allocation) error

// Executor applies one recompute task: derive allocations from the event
// window and post them to the ledger, exactly once per task id. The proof row
// in worker_side_effects and every ledger write share one transaction, so a
// crash at any point leaves either the full effect or none of it.
type Executor struct {
	db           txRunner
	jobs         jobStore
	events       eventLister
	effects      effectStore
	allocations  allocationStore
	poster       ledgerPoster
	gate         budget.Gate
	investigator Investigator
	metrics      *telemetry.PipelineMetrics
}

// NewExecutor wires an executor. gate may be nil when no budget policy is
// configured; investigation is then skipped.
func NewExecutor(
	db txRunner,
	jobs jobStore,
	events eventLister,
	effectStore effectStore,
	allocations allocationStore,
	poster ledgerPoster,
	gate budget.Gate,
	metrics *telemetry.PipelineMetrics,
) *Executor {
	return &Executor{
		db:          db,
		jobs:        jobs,
		events:      events,
		effects:     effectStore,
		allocations: allocations,
		poster:      poster,
		gate:        gate,
		metrics:     metrics,
	}
}

// SetInvestigator installs the paid enrichment hook.
func (e *Executor) SetInvestigator(fn Investigator) { e.investigator = fn }

// Execute processes one delivered task. A nil return means the message may be
// acked: either the effect was applied now, or a prior delivery already
// applied it. A non-nil return leaves the message in flight for redelivery.
func (e *Executor) Execute(ctx context.Context, tenantID, taskID, correlationID string, rawPayload []byte) error {
	payload, err := DecodePayload(rawPayload)
	if err != nil {
		// Undecodable payloads never self-heal; record the failure and ack.
		log.Printf("recompute: task %s has malformed payload: %v", taskID, err)
		e.failJob(ctx, tenantID, taskID, err)
		return nil
	}
	ctx = tenant.WithCorrelationID(ctx, correlationID)

	err = e.db.InTenantTx(ctx, tenantID, tenant.ContextWorker, func(q tenant.Querier) error {
		return e.apply(ctx, q, tenantID, taskID, correlationID, payload)
	})
	switch {
	case err == nil:
		e.metrics.RecordJob(ctx, tenantID, string(StatusSucceeded))
		return nil
	case errors.Is(err, effects.ErrAlreadyApplied):
		// A prior delivery committed the effect. The job row is already
		// terminal unless that delivery crashed between commit and ack;
		// settle it either way.
		log.Printf("recompute: task %s already applied, short-circuiting", taskID)
		e.settleJob(ctx, tenantID, taskID)
		return nil
	default:
		e.metrics.RecordJob(ctx, tenantID, string(StatusFailed))
		e.failJob(ctx, tenantID, taskID, err)
		return err
	}
}

// apply runs inside the task's single transaction. The proof row goes in
// first: any later error rolls back proof and effect together.
func (e *Executor) apply(ctx context.Context, q tenant.Querier, tenantID, taskID, correlationID string, payload Payload) error {
	err := e.effects.RecordOnce(ctx, q, &effects.SideEffect{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		TaskID:        taskID,
		CorrelationID: correlationID,
		EffectKey: fmt.Sprintf("recompute:%s/%s",
			payload.WindowStart.UTC().Format(time.RFC3339), payload.WindowEnd.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return err
	}

	if payload.ForceFailure {
		return ErrForcedFailure
	}

	job, err := e.jobs.GetByID(ctx, q, taskID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("recompute: no job row for task %s", taskID)
	}
	if err := e.jobs.SetStatus(ctx, q, job.ID, StatusRunning, ""); err != nil {
		return err
	}

	events, err := e.events.ListWindow(ctx, q, payload.WindowStart, payload.WindowEnd)
	if err != nil {
		return err
	}
	allocs := ComputeAllocations(job, events)

	e.investigate(ctx, job, allocs, payload)

	for _, a := range allocs {
		if err := e.allocations.Insert(ctx, q, a); err != nil {
			return err
		}
		if _, err := e.poster.Post(ctx, q, entryFor(a)); err != nil {
			log.Printf("recompute: task %s ledger write failed after proof insert: %v", taskID, err)
			return fmt.Errorf("%w: %v", ErrPartialApplication, err)
		}
	}

	return e.jobs.SetStatus(ctx, q, job.ID, StatusSucceeded, "")
}

// investigate runs the optional paid enrichment when the budget gate
// approves it. Denial and failure both degrade to the deterministic model.
func (e *Executor) investigate(ctx context.Context, j *Job, allocs []*Allocation, payload Payload) {
	if !payload.Investigate || e.gate == nil || e.investigator == nil {
		return
	}
	decision, err := e.gate.Decide(ctx, budget.Request{
		TenantID:     j.TenantID,
		Task:         "recompute_investigation",
		EstimatedUSD: 0.05 * float64(len(allocs)),
	})
	if err != nil || decision != budget.Approve {
		return
	}
	if err := e.investigator(ctx, j, allocs); err != nil {
		log.Printf("recompute: investigation for job %s failed, continuing without it: %v", j.ID, err)
	}
}

// settleJob marks a short-circuited task's job succeeded if a crash between
// commit and ack left it non-terminal. Best effort.
func (e *Executor) settleJob(ctx context.Context, tenantID, taskID string) {
	err := e.db.InTenantTx(ctx, tenantID, tenant.ContextWorker, func(q tenant.Querier) error {
		job, err := e.jobs.GetByID(ctx, q, taskID)
		if err != nil || job == nil {
			return err
		}
		if job.Status == StatusSucceeded || job.Status == StatusFailed {
			return nil
		}
		return e.jobs.SetStatus(ctx, q, job.ID, StatusSucceeded, "")
	})
	if err != nil {
		log.Printf("recompute: settle job for task %s: %v", taskID, err)
	}
}

// failJob records a failure outcome on the job row. Best effort; the
// transport owns redelivery.
func (e *Executor) failJob(ctx context.Context, tenantID, taskID string, cause error) {
	err := e.db.InTenantTx(ctx, tenantID, tenant.ContextWorker, func(q tenant.Querier) error {
		job, err := e.jobs.GetByID(ctx, q, taskID)
		if err != nil || job == nil {
			return err
		}
		return e.jobs.SetStatus(ctx, q, job.ID, StatusFailed, cause.Error())
	})
	if err != nil {
		log.Printf("recompute: record failure for task %s: %v", taskID, err)
	}
}
