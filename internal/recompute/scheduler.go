package recompute

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"revenue-attribution-pipeline/internal/queue"
	"revenue-attribution-pipeline/internal/tenant"
)

// txRunner runs a function inside one tenant-scoped transaction. Satisfied by
// *tenant.Sessions.
type txRunner interface {
	InTenantTx(ctx context.Context, tenantID string, ec tenant.ExecutionContext, fn func(q tenant.Querier) error) error
}

type jobStore interface {
	Create(ctx context.Context, q tenant.Querier, j *Job) error
	GetByID(ctx context.Context, q tenant.Querier, id string) (*Job, error)
	SetStatus(ctx context.Context, q tenant.Querier, id string, status JobStatus, errorDetail string) error
}

type enqueuer interface {
	Enqueue(ctx context.Context, q tenant.Querier, m *queue.Message) error
}

// ScheduleRequest asks for one recompute of a tenant's window. Bounds accept
// time.Time or RFC 3339 strings. An empty CorrelationID gets a fresh one.
type ScheduleRequest struct {
	TenantID      string
	WindowStart   any
	WindowEnd     any
	CorrelationID string
	ModelVersion  string
	Investigate   bool
	ForceFailure  bool
}

// Scheduler validates recompute requests and makes them durable: one job row
// plus one queue message, committed together or not at all.
type Scheduler struct {
	db                txRunner
	jobs              jobStore
	transport         enqueuer
	allowForceFailure bool
}

// NewScheduler returns a scheduler. allowForceFailure enables the
// deterministic failure hook used by crash-recovery probes; production
// configs refuse it.
func NewScheduler(db txRunner, jobs jobStore, transport enqueuer, allowForceFailure bool) *Scheduler {
	return &Scheduler{
		db:                db,
		jobs:              jobs,
		transport:         transport,
		allowForceFailure: allowForceFailure,
	}
}

// Schedule validates the window, creates the job row, and enqueues its task
// in a single transaction. Invalid windows are rejected before any write.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*Job, error) {
	start, err := ParseWindowBound(req.WindowStart)
	if err != nil {
		return nil, err
	}
	end, err := ParseWindowBound(req.WindowEnd)
	if err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: [%s, %s)", ErrInvalidWindow,
			start.Format("2006-01-02T15:04:05Z07:00"), end.Format("2006-01-02T15:04:05Z07:00"))
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	modelVersion := req.ModelVersion
	if modelVersion == "" {
		modelVersion = "v1"
	}
	forceFailure := req.ForceFailure
	if forceFailure && !s.allowForceFailure {
		log.Printf("recompute: ignoring force_failure for tenant %s, hook disabled", req.TenantID)
		forceFailure = false
	}

	job := &Job{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		WindowStart:   start,
		WindowEnd:     end,
		CorrelationID: correlationID,
		ModelVersion:  modelVersion,
		Status:        StatusQueued,
	}

	payload, err := EncodePayload(Payload{
		WindowStart:  start,
		WindowEnd:    end,
		ModelVersion: modelVersion,
		Investigate:  req.Investigate,
		ForceFailure: forceFailure,
	})
	if err != nil {
		return nil, err
	}

	err = s.db.InTenantTx(ctx, req.TenantID, tenant.ContextIngest, func(q tenant.Querier) error {
		if err := s.jobs.Create(ctx, q, job); err != nil {
			return err
		}
		return s.transport.Enqueue(ctx, q, &queue.Message{
			TenantID:      job.TenantID,
			TaskID:        job.ID,
			CorrelationID: correlationID,
			Payload:       payload,
		})
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}
