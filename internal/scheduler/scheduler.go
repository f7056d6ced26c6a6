package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pierre-ai/pierre/internal/agent"
	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/memory"
	"github.com/pierre-ai/pierre/internal/prompts"
	"github.com/pierre-ai/pierre/internal/settings"
)

const (
	// DefaultBriefingHourUTC is when the daily briefing job fires.
	DefaultBriefingHourUTC = 13

	// decayWeekday and decayHourUTC place the weekly memory sweep in a
	// quiet window.
	decayWeekday = time.Sunday
	decayHourUTC = 3

	// decayMaxIdle is how long a session memory may go unaccessed
	// before the sweep deactivates it.
	decayMaxIdle = 7 * 24 * time.Hour

	// jobTimeout bounds a single job run, including all users.
	jobTimeout = 15 * time.Minute
)

// TurnRunner executes one agent turn against a conversation.
type TurnRunner interface {
	RunTurn(ctx context.Context, conversationID, userID, prompt string) (*agent.RunResult, error)
}

// Config wires a Scheduler.
type Config struct {
	Logger        *slog.Logger
	Store         *Store
	Conversations *conversation.Store
	Memories      *memory.Store
	Settings      *settings.Store
	Runner        TurnRunner

	// BriefingHourUTC overrides the daily briefing hour. Zero means
	// DefaultBriefingHourUTC.
	BriefingHourUTC int
}

// Scheduler fires the briefing and decay jobs on their schedules.
type Scheduler struct {
	logger        *slog.Logger
	store         *Store
	conversations *conversation.Store
	memories      *memory.Store
	settings      *settings.Store
	runner        TurnRunner
	briefingHour  int

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running bool
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hour := cfg.BriefingHourUTC
	if hour == 0 {
		hour = DefaultBriefingHourUTC
	}
	return &Scheduler{
		logger:        logger,
		store:         cfg.Store,
		conversations: cfg.Conversations,
		memories:      cfg.Memories,
		settings:      cfg.Settings,
		runner:        cfg.Runner,
		briefingHour:  hour,
		timers:        make(map[string]*time.Timer),
	}
}

// Start arms both job timers. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	now := time.Now().UTC()
	s.armJob("briefing", nextDaily(now, s.briefingHour), s.briefingJob)
	s.armJob("decay", nextWeekly(now, decayWeekday, decayHourUTC), s.decayJob)

	s.logger.Info("scheduler started",
		"briefing_hour_utc", s.briefingHour,
	)
}

// Stop cancels pending timers and waits for any in-flight job.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for name, timer := range s.timers {
		timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// armJob schedules fn at next, then re-arms itself after each run.
func (s *Scheduler) armJob(name string, next time.Time, fn func(ctx context.Context)) {
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if timer, ok := s.timers[name]; ok {
		timer.Stop()
	}
	s.timers[name] = time.AfterFunc(delay, func() {
		s.onFire(name, fn)
	})

	s.logger.Debug("job scheduled", "job", name, "next", next)
}

func (s *Scheduler) onFire(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	fn(ctx)
	cancel()

	now := time.Now().UTC()
	switch name {
	case "briefing":
		s.armJob(name, nextDaily(now, s.briefingHour), fn)
	case "decay":
		s.armJob(name, nextWeekly(now, decayWeekday, decayHourUTC), fn)
	}
}

func (s *Scheduler) briefingJob(ctx context.Context) {
	s.RunBriefing(ctx)
}

func (s *Scheduler) decayJob(ctx context.Context) {
	s.RunDecay(ctx)
}

// RunBriefing runs the morning briefing for every opted-in user. Users
// are processed strictly sequentially; one user's failure is logged
// and the batch continues.
func (s *Scheduler) RunBriefing(ctx context.Context) {
	users, err := s.settings.ListBriefingEnabled()
	if err != nil {
		s.logger.Error("failed to list briefing users", "error", err)
		return
	}

	s.logger.Info("briefing job started", "users", len(users))
	for _, userID := range users {
		if err := s.briefUser(ctx, userID); err != nil {
			s.logger.Error("briefing failed for user",
				"user_id", userID,
				"error", err,
			)
		}
	}
	s.logger.Info("briefing job finished")
}

func (s *Scheduler) briefUser(ctx context.Context, userID string) error {
	now := time.Now()

	task, err := s.store.InsertTask(userID, TaskMorningBriefing, now)
	if err != nil {
		return err
	}

	runErr := func() error {
		if err := s.store.UpdateTaskStatus(task.ID, StatusRunning, ""); err != nil {
			return err
		}

		date := now.In(s.userLocation(userID))
		conv, err := s.conversations.Create(userID, "Briefing — "+date.Format("Monday, January 2, 2006"))
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}

		prompt := prompts.Briefing(date)
		if _, err := s.conversations.Append(conv.ID, conversation.RoleUser, prompt, nil); err != nil {
			return fmt.Errorf("append briefing prompt: %w", err)
		}

		result, err := s.runner.RunTurn(ctx, conv.ID, userID, prompt)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("run failed: %s", result.ErrorMessage)
		}
		return nil
	}()

	if runErr != nil {
		if err := s.store.UpdateTaskStatus(task.ID, StatusFailed, runErr.Error()); err != nil {
			s.logger.Error("failed to record task failure", "task_id", task.ID, "error", err)
		}
		return runErr
	}
	return s.store.UpdateTaskStatus(task.ID, StatusCompleted, "success")
}

// RunDecay deactivates session memories idle longer than a week and
// logs the count.
func (s *Scheduler) RunDecay(ctx context.Context) {
	task, err := s.store.InsertTask("", TaskMemoryDecay, time.Now())
	if err != nil {
		s.logger.Error("failed to log decay task", "error", err)
		return
	}
	if err := s.store.UpdateTaskStatus(task.ID, StatusRunning, ""); err != nil {
		s.logger.Error("failed to mark decay task running", "task_id", task.ID, "error", err)
	}

	count, err := s.memories.DecayStale(decayMaxIdle)
	if err != nil {
		s.logger.Error("memory decay failed", "error", err)
		if uerr := s.store.UpdateTaskStatus(task.ID, StatusFailed, err.Error()); uerr != nil {
			s.logger.Error("failed to record decay failure", "task_id", task.ID, "error", uerr)
		}
		return
	}

	s.logger.Info("memory decay finished", "deactivated", count)
	if err := s.store.UpdateTaskStatus(task.ID, StatusCompleted, fmt.Sprintf("deactivated %d memories", count)); err != nil {
		s.logger.Error("failed to record decay result", "task_id", task.ID, "error", err)
	}
}

// userLocation resolves a user's timezone, defaulting to UTC.
func (s *Scheduler) userLocation(userID string) *time.Location {
	resolved, err := s.settings.Resolve(userID)
	if err != nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(resolved.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// nextDaily returns the next occurrence of hour (UTC) strictly after now.
func nextDaily(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// nextWeekly returns the next occurrence of weekday at hour (UTC)
// strictly after now.
func nextWeekly(now time.Time, weekday time.Weekday, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	days := (int(weekday) - int(next.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(now) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}
