package cron

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaredwolff/patina/pkg/bus"
)

// capturePublisher records published envelopes.
type capturePublisher struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (p *capturePublisher) Publish(ctx context.Context, msg bus.InboundMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func (p *capturePublisher) last() bus.InboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

func newService(t *testing.T) (*Service, *capturePublisher, string) {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "cron.json")
	publisher := &capturePublisher{}
	svc, err := NewService(storePath, publisher, zerolog.Nop())
	require.NoError(t, err)
	return svc, publisher, storePath
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService("", &capturePublisher{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewService("/tmp/x.json", nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestAddAndList(t *testing.T) {
	svc, _, _ := newService(t)

	job, err := svc.Add("morning briefing",
		Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *"},
		Payload{Message: "give me a briefing", Deliver: true, Channel: "telegram", To: "42"},
		false)
	require.NoError(t, err)
	assert.Len(t, job.ID, 8)
	assert.True(t, job.Enabled)
	assert.Greater(t, job.State.NextRunAtMs, nowMs())

	jobs := svc.List(false)
	require.Len(t, jobs, 1)
	assert.Equal(t, "morning briefing", jobs[0].Name)
}

func TestAddValidation(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Add("", Schedule{Kind: ScheduleKindEvery, EveryMs: 1000}, Payload{Message: "m"}, false)
	assert.Error(t, err)

	_, err = svc.Add("x", Schedule{Kind: ScheduleKindEvery, EveryMs: 1000}, Payload{}, false)
	assert.Error(t, err)

	_, err = svc.Add("x", Schedule{Kind: ScheduleKindCron, Expr: "not a cron"}, Payload{Message: "m"}, false)
	assert.Error(t, err)
}

func TestAddTruncatesLongName(t *testing.T) {
	svc, _, _ := newService(t)

	job, err := svc.Add("this name is much longer than the thirty character limit",
		Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000}, Payload{Message: "m"}, false)
	require.NoError(t, err)
	assert.Len(t, job.Name, maxJobNameLen)
}

func TestRemove(t *testing.T) {
	svc, _, _ := newService(t)

	job, err := svc.Add("x", Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000}, Payload{Message: "m"}, false)
	require.NoError(t, err)

	assert.True(t, svc.Remove(job.ID))
	assert.False(t, svc.Remove(job.ID))
	assert.Empty(t, svc.List(true))
}

func TestEnableDisable(t *testing.T) {
	svc, _, _ := newService(t)

	job, err := svc.Add("x", Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000}, Payload{Message: "m"}, false)
	require.NoError(t, err)

	disabled, err := svc.Enable(job.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Empty(t, svc.List(false))
	assert.Len(t, svc.List(true), 1)

	enabled, err := svc.Enable(job.ID, true)
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
	assert.Greater(t, enabled.State.NextRunAtMs, nowMs())

	_, err = svc.Enable("missing", true)
	assert.Error(t, err)
}

func TestJobsPersistAcrossRestart(t *testing.T) {
	svc, _, storePath := newService(t)

	_, err := svc.Add("persistent", Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000}, Payload{Message: "m"}, false)
	require.NoError(t, err)

	reloaded, err := NewService(storePath, &capturePublisher{}, zerolog.Nop())
	require.NoError(t, err)

	jobs := reloaded.List(true)
	require.Len(t, jobs, 1)
	assert.Equal(t, "persistent", jobs[0].Name)
	// Recurring next run recomputed on load.
	assert.Greater(t, jobs[0].State.NextRunAtMs, nowMs())
}

func TestDueJobFires(t *testing.T) {
	svc, publisher, _ := newService(t)

	_, err := svc.Add("soon",
		Schedule{Kind: ScheduleKindAt, At: time.Now().Add(50 * time.Millisecond).Format(time.RFC3339Nano)},
		Payload{Message: "wake up", Deliver: true, Channel: "telegram", To: "42"},
		false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool { return publisher.count() == 1 },
		3*time.Second, 10*time.Millisecond)

	msg := publisher.last()
	assert.Equal(t, "telegram", msg.Channel)
	assert.Equal(t, "42", msg.ChatID)
	assert.Equal(t, "wake up", msg.Content)
	assert.Equal(t, "cron", msg.SenderID)
	assert.NotEmpty(t, msg.Metadata["cron_job_id"])

	// One-shot without deleteAfterRun is disabled, not removed.
	assert.Eventually(t, func() bool {
		jobs := svc.List(true)
		return len(jobs) == 1 && !jobs[0].Enabled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOneShotDeleteAfterRun(t *testing.T) {
	svc, publisher, _ := newService(t)

	_, err := svc.Add("ephemeral",
		Schedule{Kind: ScheduleKindAt, At: time.Now().Add(50 * time.Millisecond).Format(time.RFC3339Nano)},
		Payload{Message: "once"},
		true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	require.Eventually(t, func() bool { return publisher.count() == 1 },
		3*time.Second, 10*time.Millisecond)

	// Undelivered jobs land in the system session.
	msg := publisher.last()
	assert.Equal(t, "system", msg.Channel)
	assert.Equal(t, "cron", msg.ChatID)

	assert.Eventually(t, func() bool { return len(svc.List(true)) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestNextRunKinds(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	at, err := NextRun(Schedule{Kind: ScheduleKindAt, At: "2026-09-01T09:00:00Z"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), at)

	every, err := NextRun(Schedule{Kind: ScheduleKindEvery, EveryMs: 60_000}, now)
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli()+60_000, every)

	cronNext, err := NextRun(Schedule{Kind: ScheduleKindCron, Expr: "0 9 * * *"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), cronNext)

	_, err = NextRun(Schedule{Kind: "bogus"}, now)
	assert.Error(t, err)
	_, err = NextRun(Schedule{Kind: ScheduleKindEvery}, now)
	assert.Error(t, err)
	_, err = NextRun(Schedule{Kind: ScheduleKindAt, At: "not a time"}, now)
	assert.Error(t, err)
}
