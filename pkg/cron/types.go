// Package cron schedules background agent triggers: one-shot and
// recurring jobs persisted to a JSON store, plus the heartbeat ticker.
package cron

import "time"

// ScheduleKind discriminates schedule types.
type ScheduleKind string

const (
	// ScheduleKindAt fires once at a fixed timestamp.
	ScheduleKindAt ScheduleKind = "at"
	// ScheduleKindEvery fires on a fixed interval.
	ScheduleKindEvery ScheduleKind = "every"
	// ScheduleKindCron fires per a 5-field cron expression.
	ScheduleKindCron ScheduleKind = "cron"
)

// Schedule is a time specification for job execution.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// At holds an RFC 3339 timestamp for one-shot jobs.
	At string `json:"at,omitempty"`

	// EveryMs is the interval in milliseconds for recurring jobs.
	EveryMs int64 `json:"everyMs,omitempty"`

	// Expr is a 5-field cron expression, TZ an optional IANA zone.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// Payload is the agent trigger a job injects when it fires.
type Payload struct {
	Message string `json:"message"`
	// Deliver routes the reply to Channel/To instead of the system
	// session.
	Deliver bool   `json:"deliver,omitempty"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// JobState tracks a job's execution history.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Job is one scheduled trigger.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// store is the on-disk format.
type store struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
