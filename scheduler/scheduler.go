// Package scheduler runs one-shot delayed tasks and recurring maintenance
// jobs gated by a run condition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/warden/metrics"
	"github.com/zephyrtronium/warden/syncmap"
)

// Job is a recurring job.
type Job struct {
	// Name identifies the job in logs and metrics.
	Name string
	// Interval is the time between ticks. It must be positive.
	Interval time.Duration
	// RunCondition is evaluated on every tick. Run is called only when it
	// returns true. A nil RunCondition is always true.
	RunCondition func() bool
	// Run is the job body. Jobs should be idempotent per tick; under load,
	// ticks may be missed.
	Run func(ctx context.Context) error
}

// Scheduler owns delayed tasks and recurring jobs.
type Scheduler struct {
	// Log is the logger for task and job failures.
	Log *slog.Logger
	// Runs observes job tick outcomes labeled by job name and outcome.
	// It may be nil.
	Runs metrics.Observer

	base   context.Context
	stop   context.CancelFunc
	tasks  *syncmap.Map[uuid.UUID, *Task]
	mu     sync.Mutex
	jobs   []Job
	active bool
}

// New creates a scheduler.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		Log:   log,
		base:  ctx,
		stop:  cancel,
		tasks: syncmap.New[uuid.UUID, *Task](),
	}
}

// Task is a pending one-shot callback.
type Task struct {
	id    uuid.UUID
	timer *time.Timer
	state atomic.Int32
	owner *Scheduler
}

const (
	pending int32 = iota
	fired
	cancelled
)

// ID returns the task's identifier.
func (t *Task) ID() uuid.UUID {
	return t.id
}

// Cancel prevents the task from firing. It reports whether the task was
// still pending; if it returns false, the task has already fired or was
// already cancelled.
func (t *Task) Cancel() bool {
	if !t.state.CompareAndSwap(pending, cancelled) {
		return false
	}
	t.timer.Stop()
	t.owner.tasks.Delete(t.id)
	return true
}

// Delay schedules fn to run once after d. The context passed to fn is
// canceled when the scheduler shuts down.
func (s *Scheduler) Delay(fn func(ctx context.Context), d time.Duration) *Task {
	t := &Task{id: uuid.New(), owner: s}
	// The callback waits for ready so that it never runs before the task is
	// tracked, however short d is.
	ready := make(chan struct{})
	t.timer = time.AfterFunc(d, func() {
		<-ready
		if !t.state.CompareAndSwap(pending, fired) {
			return
		}
		s.tasks.Delete(t.id)
		s.fire(t, fn)
	})
	s.tasks.Store(t.id, t)
	close(ready)
	return t
}

func (s *Scheduler) fire(t *Task, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.ErrorContext(s.base, "delayed task panicked",
				slog.String("task", t.id.String()),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	if s.base.Err() != nil {
		return
	}
	fn(s.base)
}

// Pending returns the number of delayed tasks which have neither fired nor
// been canceled.
func (s *Scheduler) Pending() int {
	return s.tasks.Len()
}

// Every registers a recurring job. Jobs must be registered before Run.
func (s *Scheduler) Every(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %q has non-positive interval %v", job.Name, job.Interval)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q has no body", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return errors.New("scheduler is already running")
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Run runs registered jobs until ctx is canceled. When it returns, pending
// delayed tasks are canceled and will not fire.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return errors.New("scheduler is already running")
	}
	s.active = true
	jobs := s.jobs
	s.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		group.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	<-ctx.Done()
	err := group.Wait()
	s.shutdown()
	return err
}

func (s *Scheduler) shutdown() {
	s.stop()
	for _, t := range s.tasks.All() {
		t.Cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	tick := time.NewTicker(job.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			s.tick(ctx, job)
		}
	}
}

// tick runs one tick of a job. Failures are logged and never stop the job.
func (s *Scheduler) tick(ctx context.Context, job Job) {
	outcome := "skip"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			s.Log.ErrorContext(ctx, "job panicked",
				slog.String("job", job.Name),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
		metrics.Observe(s.Runs, 1, job.Name, outcome)
	}()
	if job.RunCondition != nil && !job.RunCondition() {
		return
	}
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		outcome = "error"
		s.Log.ErrorContext(ctx, "job failed", slog.String("job", job.Name), slog.Any("err", err))
		return
	}
	outcome = "ok"
	s.Log.DebugContext(ctx, "job ran", slog.String("job", job.Name), slog.Duration("took", time.Since(start)))
}
