package cron

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/pkg/bus"
)

// DefaultHeartbeatInterval is the tick period when none is configured.
const DefaultHeartbeatInterval = 30 * time.Minute

const heartbeatPrompt = "Read HEARTBEAT.md in your workspace (if it exists). " +
	"Follow any instructions or tasks listed there. " +
	"If nothing needs attention, reply with just: HEARTBEAT_OK"

// Heartbeat periodically checks HEARTBEAT.md in the workspace and
// triggers an agent turn when it has actionable content.
type Heartbeat struct {
	workspace string
	interval  time.Duration
	publisher Publisher
	logger    zerolog.Logger
}

// NewHeartbeat creates a heartbeat ticker.
func NewHeartbeat(workspace string, interval time.Duration, publisher Publisher, logger zerolog.Logger) (*Heartbeat, error) {
	if workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Heartbeat{
		workspace: workspace,
		interval:  interval,
		publisher: publisher,
		logger:    logger.With().Str("component", "heartbeat").Logger(),
	}, nil
}

// File returns the path to the heartbeat file.
func (h *Heartbeat) File() string {
	return filepath.Join(h.workspace, "HEARTBEAT.md")
}

// Run ticks until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	h.logger.Info().Dur("interval", h.interval).Msg("heartbeat started")
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("heartbeat stopped")
			return
		case <-ticker.C:
			if err := h.Tick(ctx); err != nil {
				h.logger.Warn().Err(err).Msg("heartbeat tick failed")
			}
		}
	}
}

// Tick runs a single heartbeat check.
func (h *Heartbeat) Tick(ctx context.Context) error {
	content, err := os.ReadFile(h.File())
	if os.IsNotExist(err) {
		h.logger.Debug().Msg("no HEARTBEAT.md, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read heartbeat file: %w", err)
	}

	if heartbeatEmpty(string(content)) {
		h.logger.Debug().Msg("HEARTBEAT.md has no actionable content, skipping")
		return nil
	}

	h.logger.Info().Msg("heartbeat found tasks, triggering agent")
	msg := bus.NewMessage("system", "heartbeat", "heartbeat", heartbeatPrompt)
	return h.publisher.Publish(ctx, msg)
}

// heartbeatEmpty reports whether content has only structural lines:
// blanks, headers, HTML comments, and unchecked empty checkboxes.
func heartbeatEmpty(content string) bool {
	inComment := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.Contains(trimmed, "<!--") {
			inComment = true
		}
		if inComment {
			if strings.Contains(trimmed, "-->") {
				inComment = false
			}
			continue
		}

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, "- [ ]") && len(trimmed) <= 6 {
			continue
		}
		return false
	}
	return true
}
