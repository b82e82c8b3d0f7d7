package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/events"
	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s"
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Callback is a job body. A returned error marks the invocation failed;
// it does not cancel future invocations.
type Callback func(ctx context.Context) error

// Spec describes when a job runs. Exactly one of Cron or Interval is
// set. A non-zero End bounds the recurrence: once End passes the job is
// not re-armed.
type Spec struct {
	Cron     string
	Interval time.Duration
	End      time.Time
}

// Job is a named scheduled job. At most one invocation of a given name
// is pending or in flight at any time.
type Job struct {
	Name     string
	spec     Spec
	schedule cronlib.Schedule // set when spec.Cron is used
	callback Callback
	nextRun  time.Time // zero when the job is exhausted
	running  bool
}

// Scheduler owns the named-job registry and the single dispatch loop.
// Job callbacks run in their own goroutines; the per-name mutual
// exclusion invariant is enforced here, not by the callbacks.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	draining bool

	broker *events.Broker
	clock  func() time.Time
	tick   time.Duration

	stopCh   chan struct{}
	loopWg   sync.WaitGroup
	inflight sync.WaitGroup

	logger zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithTickInterval sets how often the dispatch loop checks for due jobs
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithClock replaces the time source (used by tests)
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates a Scheduler publishing lifecycle events to broker
func New(broker *events.Broker, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*Job),
		broker: broker,
		clock:  time.Now,
		tick:   time.Second,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the dispatch loop
func (s *Scheduler) Start() {
	s.loopWg.Add(1)
	go s.run()
	s.logger.Info().Dur("tick", s.tick).Msg("scheduler started")
}

// Drain stops accepting new invocations, lets in-flight invocations
// finish, and returns once everything has settled.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	close(s.stopCh)
	s.loopWg.Wait()
	s.inflight.Wait()
	s.logger.Info().Msg("scheduler drained")
}

// ScheduleJob installs a named job. It returns nil (and logs) if a job
// of the same name still has a pending or in-flight invocation; the
// existing job is left untouched. An idle job of the same name is
// cancelled and replaced. If runImmediately is set the callback is
// invoked once right away, outside the normal schedule, with its own
// outcome logged independently.
func (s *Scheduler) ScheduleJob(name string, spec Spec, callback Callback, runImmediately bool) *Job {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.logger.Warn().Str("job", name).Msg("scheduler draining, job rejected")
		return nil
	}

	if existing, ok := s.jobs[name]; ok && existing.running {
		s.mu.Unlock()
		s.logger.Warn().Str("job", name).Msg("job already pending, schedule request ignored")
		s.publish(events.EventJobDuplicate, name, "schedule request ignored: invocation pending")
		return nil
	}

	if _, ok := s.jobs[name]; ok {
		delete(s.jobs, name)
		s.logger.Info().Str("job", name).Msg("existing idle job replaced")
	}

	job := &Job{Name: name, spec: spec, callback: callback}
	if spec.Cron != "" {
		sched, err := ParseSchedule(spec.Cron)
		if err != nil {
			s.mu.Unlock()
			s.logger.Error().Str("job", name).Str("cron", spec.Cron).Err(err).
				Msg("invalid cron expression, job not scheduled")
			return nil
		}
		job.schedule = sched
	} else if spec.Interval <= 0 {
		s.mu.Unlock()
		s.logger.Error().Str("job", name).Msg("schedule spec has neither cron nor interval")
		return nil
	}

	now := s.clock()
	job.nextRun = job.next(now)
	if job.nextRun.IsZero() {
		s.mu.Unlock()
		s.logger.Warn().Str("job", name).Time("end", spec.End).
			Msg("schedule already past its end, job not armed")
		return nil
	}
	s.jobs[name] = job

	if runImmediately {
		s.startInvocation(job, "immediate")
	}
	s.mu.Unlock()

	s.logger.Info().
		Str("job", name).
		Time("next_run", job.nextRun).
		Bool("run_immediately", runImmediately).
		Msg("job scheduled")
	s.publish(events.EventJobScheduled, name, fmt.Sprintf("next run at %s", job.nextRun.Format(time.RFC3339)))
	return job
}

// Cancel removes the named job from the active set. An in-flight
// invocation is not interrupted; only future ticks are suppressed.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	_, ok := s.jobs[name]
	delete(s.jobs, name)
	s.mu.Unlock()

	if ok {
		s.logger.Info().Str("job", name).Msg("job cancelled")
		s.publish(events.EventJobCancelled, name, "job cancelled")
	}
	return ok
}

// Pending reports whether the named job has an invocation in flight
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	return ok && job.running
}

// Active reports whether the named job is in the active set
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// run is the dispatch loop
func (s *Scheduler) run() {
	defer s.loopWg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.dispatch()
		case <-s.stopCh:
			return
		}
	}
}

// dispatch fires every due job that has no invocation in flight
func (s *Scheduler) dispatch() {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, job := range s.jobs {
		if job.running || job.nextRun.IsZero() || job.nextRun.After(now) {
			continue
		}
		job.nextRun = job.next(now)
		if job.nextRun.IsZero() {
			// Last firing of a bounded recurrence; the job leaves the
			// active set once this invocation completes.
			s.logger.Debug().Str("job", name).Msg("bounded schedule exhausted")
		}
		s.startInvocation(job, "scheduled")
	}
}

// startInvocation launches one callback invocation. Callers hold s.mu.
func (s *Scheduler) startInvocation(job *Job, trigger string) {
	job.running = true
	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()

		start := time.Now()
		err := job.callback(context.Background())
		duration := time.Since(start)

		s.mu.Lock()
		job.running = false
		if cur, ok := s.jobs[job.Name]; ok && cur == job && job.nextRun.IsZero() {
			delete(s.jobs, job.Name)
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error().
				Str("job", job.Name).
				Str("trigger", trigger).
				Dur("duration", duration).
				Err(err).
				Msg("job invocation failed")
			metrics.JobInvocationsTotal.WithLabelValues(job.Name, "error").Inc()
			s.publish(events.EventJobFailed, job.Name, err.Error())
			return
		}

		s.logger.Info().
			Str("job", job.Name).
			Str("trigger", trigger).
			Dur("duration", duration).
			Msg("job invocation succeeded")
		metrics.JobInvocationsTotal.WithLabelValues(job.Name, "success").Inc()
		s.publish(events.EventJobSucceeded, job.Name, trigger)
	}()
}

// next computes the run after now, honoring the bounded end
func (j *Job) next(now time.Time) time.Time {
	var next time.Time
	if j.schedule != nil {
		next = j.schedule.Next(now)
	} else {
		next = now.Add(j.spec.Interval)
	}
	if !j.spec.End.IsZero() && next.After(j.spec.End) {
		return time.Time{}
	}
	return next
}

func (s *Scheduler) publish(t events.EventType, job, message string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.New(t, message, map[string]string{"job": job}))
}
