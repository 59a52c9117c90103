// Package scheduler drives the settlement state machine in batch:
// four timer-triggered jobs that each scan a bounded window of
// candidates and push every one through its transition independently.
package scheduler

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"expertmarket/internal/errtrack"
	"expertmarket/internal/models"
	"expertmarket/internal/notify"
	"expertmarket/internal/store"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const dispatchConcurrency = 8

// Store is the slice of the persistence layer the jobs read and write.
type Store interface {
	AuthorizationCandidates(ctx context.Context, req store.PageRequest, horizon time.Time) (*store.Page[store.OrderRef], error)
	CaptureCandidates(ctx context.Context, req store.PageRequest) (*store.Page[store.OrderRef], error)
	AutoCancelCandidates(ctx context.Context, req store.PageRequest, cutoff time.Time) (*store.Page[store.OrderRef], error)
	AttendanceCandidates(ctx context.Context, req store.PageRequest, now time.Time) (*store.Page[store.SessionRef], error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListSubOrders(ctx context.Context, parentID uuid.UUID) ([]*models.Order, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	MarkAuthorizationFailed(ctx context.Context, orderID uuid.UUID, at time.Time) error
	CancelOrder(ctx context.Context, orderID uuid.UUID) error
	CancelSession(ctx context.Context, sessionID uuid.UUID) error
	SetAttendanceResult(ctx context.Context, sessionID uuid.UUID, result models.AttendanceResult) error
	ListCheckIns(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error)
	RecordCheckIn(ctx context.Context, rec *models.AttendanceRecord) error
}

// Settler is the settlement surface the jobs invoke per candidate.
type Settler interface {
	HoldOrderFunds(ctx context.Context, order *models.Order) error
	CaptureOrderFunds(ctx context.Context, order *models.Order) error
}

type Scheduler struct {
	Store      Store
	Settlement Settler
	Notifier   notify.Service
	Reporter   errtrack.Reporter

	PageLimit        int64
	AuthWindow       time.Duration
	AutoCancelWindow time.Duration

	AuthorizerInterval time.Duration
	ProcessorInterval  time.Duration
	CancellerInterval  time.Duration
	AttendanceInterval time.Duration

	PresenceEndpoint string

	// Now is substituted in tests; nil means wall clock.
	Now func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Scheduler) pageRequest(sort string) store.PageRequest {
	return store.PageRequest{
		Page:      1,
		Limit:     s.PageLimit,
		Sort:      sort,
		Direction: store.SortAsc,
	}
}

// Run starts the presence feed and all four job tickers and blocks
// until ctx is cancelled. Each job is independently idempotent, so an
// overlap with a previous run or a crash mid-batch is safe.
func (s *Scheduler) Run(ctx context.Context) {
	go s.RunCheckInFeed(ctx)
	go s.runJob(ctx, "authorizer", s.AuthorizerInterval, s.RunAuthorizerOnce)
	go s.runJob(ctx, "processor", s.ProcessorInterval, s.RunProcessorOnce)
	go s.runJob(ctx, "canceller", s.CancellerInterval, s.RunCancellerOnce)
	go s.runJob(ctx, "attendance", s.AttendanceInterval, s.RunAttendanceOnce)
	<-ctx.Done()
}

// runJob runs fn immediately, then on every tick. A job-level failure
// (the candidate query itself) is logged and the run simply ends; the
// next tick re-derives candidates from current state.
func (s *Scheduler) runJob(ctx context.Context, name string, every time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			log.Printf("%s run failed: %v", name, err)
			s.Reporter.Capture(ctx, err, map[string]string{"job": name})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// processAll dispatches every candidate concurrently and waits for all
// outcomes before returning, so a run's completion accounts for each
// candidate it picked up. Per-candidate failures are logged and
// reported, never propagated to siblings.
func processAll[T any](ctx context.Context, job string, docs []T, rep errtrack.Reporter,
	describe func(T) string, fn func(context.Context, T) error) (succeeded, failed int64) {

	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dispatchConcurrency)
	for _, doc := range docs {
		doc := doc
		g.Go(func() error {
			if err := fn(gctx, doc); err != nil {
				bad.Add(1)
				log.Printf("%s candidate %s failed: %v", job, describe(doc), err)
				rep.Capture(gctx, err, map[string]string{"job": job, "candidate": describe(doc)})
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return ok.Load(), bad.Load()
}

func orderRefID(c store.OrderRef) string     { return c.OrderID.String() }
func sessionRefID(c store.SessionRef) string { return c.SessionID.String() }
