package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/events"
	"github.com/schoolops/rollcall/pkg/log"
	"github.com/schoolops/rollcall/pkg/metrics"
	"github.com/schoolops/rollcall/pkg/scheduler"
	"github.com/schoolops/rollcall/pkg/types"
)

// SweepJobName is the scheduler key for the late-arrival sweep job
const SweepJobName = "late-arrival-sweep"

// RosterService is the roster gateway surface the engine uses
type RosterService interface {
	EligibleRoster(ctx context.Context, date time.Time) ([]types.Member, error)
	MarkMembers(ctx context.Context, status types.Status, members []types.Member) types.MarkResult
}

// ScanSource is the access log gateway surface the engine uses
type ScanSource interface {
	ScanEvents(ctx context.Context, start, end time.Time) ([]types.ScanEvent, error)
}

// JobScheduler is the scheduler surface the engine uses to install and
// cancel the sweep job
type JobScheduler interface {
	ScheduleJob(name string, spec scheduler.Spec, callback scheduler.Callback, runImmediately bool) *scheduler.Job
	Cancel(name string) bool
}

// Config holds engine tunables
type Config struct {
	Window types.AttendanceWindow

	// PresentThreshold is the minimum present-count for a school day
	PresentThreshold int

	// SweepInterval is the late-arrival sweep period
	SweepInterval time.Duration

	// Matcher joins roster members to scan actors; nil means IDMatcher
	Matcher Matcher
}

// Engine drives the two-phase attendance state machine: window-close
// evaluation builds the absent set and writes absent marks; the
// late-arrival sweep shrinks the set as new scans arrive until it
// empties or school dismissal passes.
type Engine struct {
	roster RosterService
	scans  ScanSource
	sched  JobScheduler
	broker *events.Broker
	cfg    Config
	clock  func() time.Time
	logger zerolog.Logger

	mu      sync.Mutex
	absent  map[string]types.Member // keyed by matcher key, shrinks monotonically
	runDate time.Time               // date the current absent set was built for
}

// New creates an Engine
func New(roster RosterService, scans ScanSource, sched JobScheduler, broker *events.Broker, cfg Config) *Engine {
	if cfg.Matcher == nil {
		cfg.Matcher = IDMatcher{}
	}
	return &Engine{
		roster: roster,
		scans:  scans,
		sched:  sched,
		broker: broker,
		cfg:    cfg,
		clock:  time.Now,
		logger: log.WithComponent("reconciler"),
	}
}

// RunWindowClose performs the initial evaluation at attendance-window
// close: members with no scan in the window are marked absent and the
// late-arrival sweep is installed. If the present count is below the
// school-day threshold the run abstains entirely.
func (e *Engine) RunWindowClose(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	now := e.clock()
	start, end := e.cfg.Window.Bounds(now)

	members, err := e.roster.EligibleRoster(ctx, now)
	if err != nil {
		metrics.ReconciliationCyclesTotal.WithLabelValues("window_close", "error").Inc()
		return fmt.Errorf("failed to fetch eligible roster: %w", err)
	}

	scans, err := e.scans.ScanEvents(ctx, start, end)
	if err != nil {
		metrics.ReconciliationCyclesTotal.WithLabelValues("window_close", "error").Inc()
		return fmt.Errorf("failed to fetch scan events: %w", err)
	}

	actors := make(map[string]bool, len(scans))
	for _, s := range scans {
		actors[e.cfg.Matcher.ActorKey(s)] = true
	}

	absent := make(map[string]types.Member)
	for _, m := range members {
		key := e.cfg.Matcher.MemberKey(m)
		if !actors[key] {
			absent[key] = m
		}
	}

	present := len(members) - len(absent)
	e.logger.Info().
		Int("roster", len(members)).
		Int("present", present).
		Int("absent", len(absent)).
		Int("scans", len(scans)).
		Msg("attendance window evaluated")

	if present < e.cfg.PresentThreshold {
		e.logger.Info().
			Int("present", present).
			Int("threshold", e.cfg.PresentThreshold).
			Msg("present count below threshold, not a school day")
		metrics.ReconciliationCyclesTotal.WithLabelValues("window_close", "skipped").Inc()
		e.publish(events.EventRunSkipped,
			fmt.Sprintf("not a school day: %d present, threshold %d", present, e.cfg.PresentThreshold))
		return nil
	}

	result := e.roster.MarkMembers(ctx, types.StatusAbsent, membersOf(absent))
	if result.Failed > 0 {
		// Partial failure is data, not an error: the run proceeds and
		// the failed members stay in the absent set for remediation.
		e.logger.Error().
			Int("failed", result.Failed).
			Int("succeeded", result.Succeeded).
			Msg("some absent marks failed")
	}
	e.publish(events.EventMarkWritten,
		fmt.Sprintf("absent marks: %d succeeded, %d failed", result.Succeeded, result.Failed))

	e.mu.Lock()
	e.absent = absent
	e.runDate = now
	e.mu.Unlock()
	metrics.AbsentMembers.Set(float64(len(absent)))

	e.installSweep(now)
	metrics.ReconciliationCyclesTotal.WithLabelValues("window_close", "success").Inc()
	return nil
}

// installSweep arms the late-arrival sweep job, bounded by dismissal
func (e *Engine) installSweep(date time.Time) {
	spec := scheduler.Spec{
		Interval: e.cfg.SweepInterval,
		End:      e.cfg.Window.DismissalAt(date),
	}
	if job := e.sched.ScheduleJob(SweepJobName, spec, e.RunSweep, false); job == nil {
		e.logger.Warn().Msg("late-arrival sweep not scheduled")
		return
	}
	e.logger.Info().
		Dur("interval", e.cfg.SweepInterval).
		Time("until", spec.End).
		Msg("late-arrival sweep scheduled")
}

// RunSweep is one late-arrival sweep tick: members of the absent set
// seen in scans since window close are promoted to late arrival and
// removed. The sweep cancels itself once the set empties or dismissal
// passes. Members removed in an earlier tick are never reconsidered.
func (e *Engine) RunSweep(ctx context.Context) error {
	now := e.clock()

	e.mu.Lock()
	date := e.runDate
	remaining := len(e.absent)
	e.mu.Unlock()

	if remaining == 0 {
		e.logger.Info().Msg("absent set empty, cancelling sweep")
		e.sched.Cancel(SweepJobName)
		return nil
	}

	_, windowEnd := e.cfg.Window.Bounds(date)
	scans, err := e.scans.ScanEvents(ctx, windowEnd, now)
	if err != nil {
		metrics.ReconciliationCyclesTotal.WithLabelValues("sweep", "error").Inc()
		return fmt.Errorf("failed to fetch scan events: %w", err)
	}

	actors := make(map[string]bool, len(scans))
	for _, s := range scans {
		actors[e.cfg.Matcher.ActorKey(s)] = true
	}

	e.mu.Lock()
	var promote []types.Member
	for key, m := range e.absent {
		if actors[key] {
			promote = append(promote, m)
			delete(e.absent, key)
		}
	}
	remaining = len(e.absent)
	e.mu.Unlock()
	metrics.AbsentMembers.Set(float64(remaining))

	if len(promote) > 0 {
		result := e.roster.MarkMembers(ctx, types.StatusLateArrival, promote)
		e.logger.Info().
			Int("promoted", len(promote)).
			Int("succeeded", result.Succeeded).
			Int("failed", result.Failed).
			Int("remaining", remaining).
			Msg("late arrivals promoted")
		e.publish(events.EventMarkWritten,
			fmt.Sprintf("late-arrival marks: %d succeeded, %d failed", result.Succeeded, result.Failed))
	} else {
		e.logger.Debug().Int("remaining", remaining).Msg("no late arrivals this tick")
	}

	switch {
	case remaining == 0:
		e.logger.Info().Msg("all members accounted for, cancelling sweep")
		e.sched.Cancel(SweepJobName)
	case now.After(e.cfg.Window.DismissalAt(date)):
		e.logger.Info().
			Int("remaining", remaining).
			Msg("school dismissal passed, cancelling sweep")
		e.sched.Cancel(SweepJobName)
	}

	metrics.ReconciliationCyclesTotal.WithLabelValues("sweep", "success").Inc()
	return nil
}

// AbsentCount returns the size of the current absent set
func (e *Engine) AbsentCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.absent)
}

// AbsentMembers returns a copy of the current absent set
func (e *Engine) AbsentMembers() []types.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	return membersOf(e.absent)
}

func membersOf(set map[string]types.Member) []types.Member {
	out := make([]types.Member, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	return out
}

func (e *Engine) publish(t events.EventType, message string) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(events.New(t, message, nil))
}
