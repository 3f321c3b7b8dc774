// Package scheduler fires the bulk library sync at fixed wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"catalogsync/internal/domain/catalogsync"
	"catalogsync/internal/shared/logging"
)

// ScheduleTime represents a specific time of day when the scheduler should run.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses a time string in HH:MM format.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return ScheduleTime{}, fmt.Errorf("invalid time format %q (expected HH:MM)", s)
	}

	hour, err := strconv.Atoi(hh)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid minute in %q: %w", s, err)
	}

	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}

	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// BulkSyncer runs one pass over every linked account.
type BulkSyncer interface {
	BulkSync(ctx context.Context) (*catalogsync.BulkResult, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// ScheduleTimes are "HH:MM" strings in the local clock.
	ScheduleTimes []string
	RunOnStartup  bool
	// RunTimeout bounds a single bulk run. Zero means no deadline.
	RunTimeout time.Duration
	// TickInterval defaults to one minute.
	TickInterval time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Scheduler triggers bulk syncs at the configured times of day. It is a
// suture service: Serve blocks until its context ends. Runs never overlap;
// a firing missed while the process was down is not caught up.
type Scheduler struct {
	syncer        BulkSyncer
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	runTimeout    time.Duration
	tickInterval  time.Duration
	now           func() time.Time

	trigger chan struct{}

	mu          sync.Mutex
	lastRunKey  string
	lastResult  *catalogsync.BulkResult
	lastRunErr  error
	lastRunTime time.Time
}

// New creates a scheduler. At least one valid schedule time is required.
func New(syncer BulkSyncer, cfg Config) (*Scheduler, error) {
	scheduleTimes := make([]ScheduleTime, 0, len(cfg.ScheduleTimes))
	for _, timeStr := range cfg.ScheduleTimes {
		st, err := ParseScheduleTime(timeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", timeStr, err)
		}
		scheduleTimes = append(scheduleTimes, st)
	}
	if len(scheduleTimes) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}

	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scheduler{
		syncer:        syncer,
		scheduleTimes: scheduleTimes,
		runOnStartup:  cfg.RunOnStartup,
		runTimeout:    cfg.RunTimeout,
		tickInterval:  cfg.TickInterval,
		now:           cfg.Now,
		trigger:       make(chan struct{}, 1),
	}, nil
}

// SplitTimes turns a comma-separated "HH:MM,HH:MM" setting into a slice.
func SplitTimes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	log := logging.Component("scheduler")
	log.Info().
		Stringer("next_run", nextRunStringer{s}).
		Int("schedule_times", len(s.scheduleTimes)).
		Msg("scheduler started")

	if s.runOnStartup {
		log.Info().Msg("running initial bulk sync on startup")
		s.runJobs(ctx)
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopping")
			return ctx.Err()

		case <-ticker.C:
			now := s.now()
			if s.shouldRun(now) {
				log.Info().Str("at", now.Format("15:04")).Msg("scheduled bulk sync triggered")
				s.runJobs(ctx)
			}

		case <-s.trigger:
			log.Info().Msg("manual bulk sync triggered")
			s.runJobs(ctx)
		}
	}
}

func (s *Scheduler) String() string { return "scheduler" }

// shouldRun reports whether now matches a schedule time that has not fired
// yet in this minute.
func (s *Scheduler) shouldRun(now time.Time) bool {
	currentKey := fmt.Sprintf("%s-%02d:%02d", now.Format("2006-01-02"), now.Hour(), now.Minute())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRunKey == currentKey {
		return false
	}

	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastRunKey = currentKey
			return true
		}
	}

	return false
}

// runJobs performs one bulk sync. A failure is logged and never stops the
// schedule.
func (s *Scheduler) runJobs(ctx context.Context) {
	log := logging.Component("scheduler")

	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	started := s.now()
	result, err := s.syncer.BulkSync(ctx)

	s.mu.Lock()
	s.lastRunTime = started
	s.lastResult = result
	s.lastRunErr = err
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("bulk sync failed; next run proceeds as scheduled")
		return
	}

	failed := result.Failed()
	ev := log.Info()
	if len(failed) > 0 {
		ev = log.Warn()
		ids := make([]string, len(failed))
		for i, r := range failed {
			ids[i] = r.AccountID
		}
		ev = ev.Strs("failed_accounts", ids)
	}
	ev.Str("run_id", result.RunID).
		Int("succeeded", len(result.Succeeded())).
		Int("failed", len(failed)).
		Msg("bulk sync run complete")
}

// TriggerNow requests an immediate run. A request made while another is
// already pending is dropped.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// LastRun returns the outcome of the most recent run. The zero time means
// no run has happened yet.
func (s *Scheduler) LastRun() (time.Time, *catalogsync.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunTime, s.lastResult, s.lastRunErr
}

// GetNextScheduledTime returns the next scheduled run time.
func (s *Scheduler) GetNextScheduledTime() time.Time {
	return s.nextAfter(s.now())
}

func (s *Scheduler) nextAfter(now time.Time) time.Time {
	var next time.Time
	for _, st := range s.scheduleTimes {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = time.Date(now.Year(), now.Month(), now.Day()+1, st.Hour, st.Minute, 0, 0, now.Location())
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}

// GetScheduleTimes returns the configured schedule times.
func (s *Scheduler) GetScheduleTimes() []ScheduleTime {
	return append([]ScheduleTime(nil), s.scheduleTimes...)
}

type nextRunStringer struct{ s *Scheduler }

func (n nextRunStringer) String() string {
	return n.s.GetNextScheduledTime().Format(time.RFC3339)
}
