package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/pkg/bus"
)

// maxJobNameLen bounds stored job names.
const maxJobNameLen = 30

// Publisher injects inbound envelopes. Satisfied by *bus.Bus.
type Publisher interface {
	Publish(ctx context.Context, msg bus.InboundMessage) error
}

// Service manages scheduled jobs. Jobs persist across restarts in a
// JSON store; the timer loop wakes at the earliest due job.
type Service struct {
	storePath string
	publisher Publisher
	logger    zerolog.Logger

	mu   sync.Mutex
	jobs []Job
	// wake nudges the timer loop after jobs change.
	wake chan struct{}
}

// NewService creates a cron service and loads any persisted jobs.
func NewService(storePath string, publisher Publisher, logger zerolog.Logger) (*Service, error) {
	if storePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	s := &Service{
		storePath: storePath,
		publisher: publisher,
		logger:    logger.With().Str("component", "cron").Logger(),
		wake:      make(chan struct{}, 1),
	}

	if err := s.load(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to load cron store, starting empty")
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("cron service initialized")

	return s, nil
}

// Add creates and persists a job. One-shot jobs may set deleteAfterRun
// to remove themselves once fired.
func (s *Service) Add(name string, schedule Schedule, payload Payload, deleteAfterRun bool) (Job, error) {
	if name == "" {
		return Job{}, fmt.Errorf("job name is required")
	}
	if payload.Message == "" {
		return Job{}, fmt.Errorf("job message is required")
	}

	now := time.Now()
	next, err := NextRun(schedule, now)
	if err != nil {
		return Job{}, fmt.Errorf("invalid schedule: %w", err)
	}

	if len(name) > maxJobNameLen {
		name = name[:maxJobNameLen]
	}

	job := Job{
		ID:             uuid.New().String()[:8],
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		State:          JobState{NextRunAtMs: next},
		CreatedAtMs:    now.UnixMilli(),
		UpdatedAtMs:    now.UnixMilli(),
		DeleteAfterRun: deleteAfterRun,
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	err = s.save()
	s.mu.Unlock()
	if err != nil {
		return Job{}, err
	}

	s.nudge()
	s.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("cron job added")
	return job, nil
}

// Remove deletes a job by ID. Returns false if no job matched.
func (s *Service) Remove(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == jobID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to save cron store")
			}
			s.nudge()
			s.logger.Info().Str("job_id", jobID).Msg("cron job removed")
			return true
		}
	}
	return false
}

// Enable toggles a job. Re-enabling recomputes the next run.
func (s *Service) Enable(jobID string, enabled bool) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != jobID {
			continue
		}
		s.jobs[i].Enabled = enabled
		s.jobs[i].UpdatedAtMs = nowMs()
		if enabled {
			next, err := NextRun(s.jobs[i].Schedule, time.Now())
			if err != nil {
				return Job{}, fmt.Errorf("invalid schedule: %w", err)
			}
			s.jobs[i].State.NextRunAtMs = next
		}
		if err := s.save(); err != nil {
			return Job{}, err
		}
		s.nudge()
		return s.jobs[i], nil
	}
	return Job{}, fmt.Errorf("job not found: %s", jobID)
}

// List returns jobs, optionally including disabled ones.
func (s *Service) List(includeDisabled bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if includeDisabled || job.Enabled {
			out = append(out, job)
		}
	}
	return out
}

// Run drives the timer loop until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info().Msg("cron timer started")
	for {
		wait := s.untilNext()

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Info().Msg("cron timer stopped")
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			s.executeDue(ctx)
		}
	}
}

// untilNext returns the wait before the earliest enabled job, or -1
// when nothing is scheduled.
func (s *Service) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := int64(-1)
	for _, job := range s.jobs {
		if !job.Enabled || job.State.NextRunAtMs == 0 {
			continue
		}
		if earliest < 0 || job.State.NextRunAtMs < earliest {
			earliest = job.State.NextRunAtMs
		}
	}
	if earliest < 0 {
		return -1
	}

	wait := time.Duration(earliest-nowMs()) * time.Millisecond
	if wait < 0 {
		wait = 0
	}
	return wait
}

// executeDue fires every enabled job whose next run has passed.
func (s *Service) executeDue(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMs()
	var remaining []Job

	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled || job.State.NextRunAtMs == 0 || now < job.State.NextRunAtMs {
			remaining = append(remaining, *job)
			continue
		}

		s.logger.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("executing cron job")

		if err := s.fire(ctx, *job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to publish cron trigger")
			job.State.LastStatus = "error"
			job.State.LastError = err.Error()
		} else {
			job.State.LastStatus = "ok"
			job.State.LastError = ""
		}
		job.State.LastRunAtMs = now
		job.UpdatedAtMs = now

		if job.Schedule.Kind == ScheduleKindAt {
			if job.DeleteAfterRun {
				continue // dropped from remaining
			}
			job.Enabled = false
			job.State.NextRunAtMs = 0
		} else {
			next, err := NextRun(job.Schedule, time.Now())
			if err != nil {
				job.Enabled = false
				job.State.NextRunAtMs = 0
			} else {
				job.State.NextRunAtMs = next
			}
		}
		remaining = append(remaining, *job)
	}

	s.jobs = remaining
	if err := s.save(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to save cron store")
	}
}

// fire publishes the job's trigger envelope. Delivery-targeted jobs
// route to their channel's session; the rest land in the system
// session.
func (s *Service) fire(ctx context.Context, job Job) error {
	channel := "system"
	chatID := "cron"
	if job.Payload.Deliver && job.Payload.Channel != "" {
		channel = job.Payload.Channel
		chatID = job.Payload.To
	}

	msg := bus.NewMessage(channel, "cron", chatID, job.Payload.Message)
	msg.Metadata = map[string]string{
		"cron_job_id":   job.ID,
		"cron_job_name": job.Name,
	}
	return s.publisher.Publish(ctx, msg)
}

func (s *Service) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// load reads the job store and recomputes next runs for recurring
// jobs. Caller need not hold the lock: only called from NewService.
func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cron store: %w", err)
	}

	var st store
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse cron store: %w", err)
	}
	s.jobs = st.Jobs

	now := time.Now()
	for i := range s.jobs {
		job := &s.jobs[i]
		if job.Enabled && job.Schedule.Kind != ScheduleKindAt {
			if next, err := NextRun(job.Schedule, now); err == nil {
				job.State.NextRunAtMs = next
			}
		}
	}
	return nil
}

// save writes the job store. Caller holds the lock.
func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cron store directory: %w", err)
	}

	data, err := json.MarshalIndent(store{Version: 1, Jobs: s.jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cron store: %w", err)
	}
	if err := os.WriteFile(s.storePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cron store: %w", err)
	}
	return nil
}
