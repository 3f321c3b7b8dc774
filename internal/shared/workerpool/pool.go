// Package workerpool runs a finite batch of jobs on a bounded set of worker
// goroutines and collects one result per job, in submission order.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"catalogsync/internal/shared/logging"
)

var (
	jobTracer      = otel.Tracer("catalogsync/workerpool")
	jobMeter       = otel.Meter("catalogsync/workerpool")
	jobDuration, _ = jobMeter.Float64Histogram("workerpool.job.duration", metric.WithDescription("Job execution duration in seconds"), metric.WithUnit("s"))
	jobTotal, _    = jobMeter.Int64Counter("workerpool.job.total", metric.WithDescription("Total jobs executed by status"))
)

// Job is one unit of work. ID identifies the job in logs and results.
type Job[R any] interface {
	ID() string
	Description() string
	Execute(ctx context.Context) (R, error)
}

// Result pairs a job with its outcome.
type Result[R any] struct {
	JobID    string
	Value    R
	Err      error
	Duration time.Duration
}

type Config struct {
	// WorkerCount is the number of concurrent workers. With 1 worker jobs run
	// strictly in submission order.
	WorkerCount int
	// JobDelay is slept by a worker after each job, to spread upstream load.
	JobDelay time.Duration
	// JobTimeout bounds a single job. Zero means no per-job deadline.
	JobTimeout time.Duration
}

// Pool is stateless between runs and safe to share.
type Pool[R any] struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
}

func New[R any](cfg Config) *Pool[R] {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &Pool[R]{
		workerCount: cfg.WorkerCount,
		jobDelay:    cfg.JobDelay,
		jobTimeout:  cfg.JobTimeout,
	}
}

type indexedJob[R any] struct {
	index int
	job   Job[R]
}

// Run executes every job and blocks until all have finished or ctx is done.
// A failing or panicking job never stops the others. Jobs not started before
// cancellation get ctx.Err() as their result.
func (p *Pool[R]) Run(ctx context.Context, jobs []Job[R]) []Result[R] {
	results := make([]Result[R], len(jobs))
	if len(jobs) == 0 {
		return results
	}

	queue := make(chan indexedJob[R], len(jobs))
	for i, job := range jobs {
		results[i].JobID = job.ID()
		queue <- indexedJob[R]{index: i, job: job}
	}
	close(queue)

	workers := min(p.workerCount, len(jobs))
	started := make([]bool, len(jobs))

	var wg sync.WaitGroup
	for id := 1; id <= workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id, queue, results, started)
		}(id)
	}
	wg.Wait()

	for i := range results {
		if !started[i] {
			results[i].Err = ctx.Err()
		}
	}
	return results
}

// worker drains the queue until it is empty or ctx is cancelled. Each index
// is written by exactly one worker, so results and started need no lock.
func (p *Pool[R]) worker(ctx context.Context, id int, queue <-chan indexedJob[R], results []Result[R], started []bool) {
	log := logging.Component("workerpool")

	for {
		select {
		case <-ctx.Done():
			log.Debug().Int("worker", id).Msg("worker stopping: context cancelled")
			return

		case item, ok := <-queue:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}

			started[item.index] = true
			results[item.index] = p.processJob(ctx, id, item.job)

			if p.jobDelay > 0 {
				select {
				case <-time.After(p.jobDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (p *Pool[R]) processJob(parent context.Context, workerID int, job Job[R]) (res Result[R]) {
	log := logging.Component("workerpool")

	ctx := parent
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.jobTimeout)
		defer cancel()
	}

	ctx, span := jobTracer.Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.id", job.ID()),
			attribute.String("job.description", job.Description()),
		),
	)
	defer span.End()

	start := time.Now()
	res.JobID = job.ID()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job %s panicked: %v", job.ID(), r)
		}
		res.Duration = time.Since(start)

		status := "success"
		if res.Err != nil {
			status = "error"
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			log.Debug().Err(res.Err).
				Int("worker", workerID).
				Str("job", job.ID()).
				Msgf("%s failed", job.Description())
		} else {
			log.Debug().
				Int("worker", workerID).
				Str("job", job.ID()).
				Dur("duration", res.Duration).
				Msgf("%s completed", job.Description())
		}
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
		jobDuration.Record(ctx, res.Duration.Seconds())
	}()

	res.Value, res.Err = job.Execute(ctx)
	return res
}
