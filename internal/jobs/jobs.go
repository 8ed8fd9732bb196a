// Package jobs runs background side effects (audit log writes, replaced asset removal, CRM sync)
// so that failures stay visible: a failed job is parked in the delayed table and retried later.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/madcarpet/lessonadmin/internal/logger"
	"github.com/madcarpet/lessonadmin/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 5
	// parkTimeout bounds writes to the delayed table made after the worker context is gone.
	parkTimeout = 3 * time.Second
)

// Handler executes one job kind.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Enqueuer is what services depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) error
}

type DelayedStore interface {
	AddJobDelayed(ctx context.Context, j *models.Job) error
	// ClaimJobsDelayed hands out up to lim jobs that no other worker currently holds.
	ClaimJobsDelayed(ctx context.Context, lim int) ([]models.Job, error)
	DeleteJobDelayed(ctx context.Context, id string) error
}

type Queue struct {
	store          DelayedStore
	handlers       map[string]Handler
	workers        int
	workersDelayed int
	delay          time.Duration
	delayedBatch   int
	maxAttempts    int
	jobChan        chan models.Job
	wg             sync.WaitGroup
	log            *zap.Logger
}

func NewQueue(s DelayedStore, size int, w int, wd int, d time.Duration, batch int) *Queue {
	return &Queue{
		store:          s,
		handlers:       map[string]Handler{},
		workers:        w,
		workersDelayed: wd,
		delay:          d,
		delayedBatch:   batch,
		maxAttempts:    DefaultMaxAttempts,
		jobChan:        make(chan models.Job, size),
		log:            logger.Component("jobs"),
	}
}

// Register binds a handler to a job kind. Call before Start.
func (q *Queue) Register(kind string, h Handler) {
	q.handlers[kind] = h
}

func (q *Queue) Start(ctx context.Context) {
	for i := range q.workers {
		q.wg.Add(1)
		go q.dealJobs(ctx, i)
	}
	for i := range q.workersDelayed {
		q.wg.Add(1)
		go q.dealJobsDelayed(ctx, i)
	}
}

// Wait blocks until every worker has returned after ctx cancellation.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue never blocks the caller: with a full queue the job is parked in the delayed table.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("job %s payload: %w", kind, err)
	}
	job := models.Job{ID: uuid.New().String(), Kind: kind, Payload: raw}
	select {
	case q.jobChan <- job:
		return nil
	default:
		q.log.Warn("jobs queue is full - parking job", zap.String("kind", kind), zap.String("job", job.ID))
		return q.store.AddJobDelayed(ctx, &job)
	}
}

func (q *Queue) dealJobs(ctx context.Context, wid int) {
	defer q.wg.Done()
	q.log.Info("jobs worker started", zap.Int("id", wid))
	for {
		select {
		case <-ctx.Done():
			q.parkBuffered(wid)
			q.log.Info("jobs worker stopped by ctx", zap.Int("id", wid))
			return
		case job := <-q.jobChan:
			if ctx.Err() != nil {
				q.park(job)
				continue
			}
			q.process(ctx, job, false)
		}
	}
}

// parkBuffered moves jobs still waiting in the channel to the delayed table so a restart picks them up.
func (q *Queue) parkBuffered(wid int) {
	parked := 0
	for {
		select {
		case job := <-q.jobChan:
			if q.park(job) {
				parked++
			}
		default:
			if parked > 0 {
				q.log.Info("jobs worker parked buffered jobs on stop", zap.Int("id", wid), zap.Int("parked", parked))
			}
			return
		}
	}
}

// park stores the job with its own deadline: the caller's context may already be cancelled.
func (q *Queue) park(job models.Job) bool {
	ctx, cancel := context.WithTimeout(context.Background(), parkTimeout)
	defer cancel()
	if err := q.store.AddJobDelayed(ctx, &job); err != nil {
		q.log.Error("job lost - adding to delayed processing failed",
			zap.String("kind", job.Kind), zap.String("job", job.ID), zap.Error(err))
		return false
	}
	return true
}

func (q *Queue) dealJobsDelayed(ctx context.Context, wid int) {
	defer q.wg.Done()
	q.log.Info("jobs worker for delayed jobs started", zap.Int("id", wid))
	tick := time.NewTicker(q.delay)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			q.log.Info("jobs worker for delayed jobs stopped by ctx", zap.Int("id", wid))
			return
		case <-tick.C:
			q.drainDelayed(ctx)
		}
	}
}

func (q *Queue) drainDelayed(ctx context.Context) {
	delayed, err := q.store.ClaimJobsDelayed(ctx, q.delayedBatch)
	if err != nil {
		q.log.Error("jobs worker get delayed jobs error", zap.Error(err))
		return
	}
	for _, job := range delayed {
		if ctx.Err() != nil {
			return
		}
		if q.process(ctx, job, true) {
			if err := q.store.DeleteJobDelayed(ctx, job.ID); err != nil {
				q.log.Error("jobs worker delete delayed job error", zap.String("job", job.ID), zap.Error(err))
			}
		}
	}
}

// process runs the job and reports whether it is finished, either done or given up.
func (q *Queue) process(ctx context.Context, job models.Job, delayed bool) (finished bool) {
	h, ok := q.handlers[job.Kind]
	if !ok {
		q.log.Error("job dropped - no handler for kind", zap.String("kind", job.Kind), zap.String("job", job.ID))
		return true
	}
	job.Attempts++
	err := h(ctx, job.Payload)
	if err == nil {
		q.log.Debug("job done", zap.String("kind", job.Kind), zap.String("job", job.ID), zap.Int("attempt", job.Attempts))
		return true
	}
	if job.Attempts >= q.maxAttempts {
		q.log.Error("job dropped - attempts exhausted",
			zap.String("kind", job.Kind), zap.String("job", job.ID), zap.Int("attempts", job.Attempts), zap.Error(err))
		return true
	}
	q.log.Warn("job failed - parking for retry",
		zap.String("kind", job.Kind), zap.String("job", job.ID), zap.Bool("delayed", delayed), zap.Error(err))
	q.park(job)
	return false
}
