package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"go-wiki-engine/internal/logger"
)

// JobSpec describes a unit of background work.
type JobSpec struct {
	Name string
	Run  func(ctx context.Context) error
}

// Job is a handle to a dispatched job. Finished yields the job's error (or
// nil) exactly once and is then closed.
type Job struct {
	name     string
	finished chan error
}

// Finished returns the completion channel of the job. Receiving from it
// awaits the job.
func (j *Job) Finished() <-chan error {
	return j.finished
}

// Wait blocks until the job completes and returns its error.
func (j *Job) Wait() error {
	return <-j.finished
}

// Scheduler dispatches immediate background jobs and recurring cron jobs.
// Immediate jobs of the same name are not serialized against each other;
// callers needing exclusion must await the returned handle.
type Scheduler struct {
	log  logger.Logger
	cron *cron.Cron
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a stopped scheduler. Call Start to begin running recurring jobs.
func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		cron: cron.New(),
	}
}

// RegisterJob dispatches the job immediately on its own goroutine and
// returns an awaitable handle.
func (s *Scheduler) RegisterJob(ctx context.Context, spec JobSpec) (*Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler is stopped")
	}
	s.wg.Add(1)
	s.mu.Unlock()

	job := &Job{name: spec.Name, finished: make(chan error, 1)}
	go func() {
		defer s.wg.Done()
		err := spec.Run(ctx)
		if err != nil {
			s.log.Error(err, fmt.Sprintf("Job %s failed", spec.Name))
		}
		job.finished <- err
		close(job.finished)
	}()
	return job, nil
}

// Schedule registers a recurring job with a cron expression (e.g. "@daily").
func (s *Scheduler) Schedule(cronExpr string, spec JobSpec) error {
	_, err := s.cron.AddFunc(cronExpr, func() {
		if err := spec.Run(context.Background()); err != nil {
			s.log.Error(err, fmt.Sprintf("Scheduled job %s failed", spec.Name))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", spec.Name, err)
	}
	return nil
}

// Start begins running recurring jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops accepting jobs, halts the cron runner and waits for in-flight
// immediate jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
