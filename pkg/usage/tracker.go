// Package usage provides persistent token accounting for model calls.
// Records are append-only in SQLite and aggregated on demand.
package usage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/jaredwolff/patina/pkg/agent"
)

// Record is one model call's token accounting.
type Record struct {
	Timestamp    time.Time
	SessionKey   string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Filter narrows aggregation queries. Zero values mean "no filter".
type Filter struct {
	From       time.Time
	To         time.Time
	Model      string
	Provider   string
	SessionKey string
	// GroupBy is one of "model", "provider", "session", "day".
	// Anything else falls back to "model".
	GroupBy string
}

// Summary is one aggregated usage row.
type Summary struct {
	GroupKey     string `json:"group_key"`
	Calls        int64  `json:"calls"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
}

// DailyUsage is one day's totals.
type DailyUsage struct {
	Date         string `json:"date"`
	Calls        int64  `json:"calls"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
}

// Tracker is an append-only SQLite store for model call usage. Safe
// for concurrent use. RecordModelCall never fails the caller: tracking
// is best-effort and insert errors are logged, not returned.
type Tracker struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewTracker opens or creates the usage database.
func NewTracker(dbPath string, logger zerolog.Logger) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create usage database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}

	t := &Tracker{db: db, logger: logger.With().Str("component", "usage").Logger()}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate usage schema: %w", err)
	}

	return t, nil
}

// Close closes the database connection.
func (t *Tracker) Close() error {
	return t.db.Close()
}

func (t *Tracker) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp     TEXT NOT NULL,
		session_key   TEXT NOT NULL,
		provider      TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		total_tokens  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage(session_key);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage(model);
	`
	_, err := t.db.Exec(schema)
	return err
}

// RecordModelCall persists one model call's token counts.
func (t *Tracker) RecordModelCall(sessionKey, provider, model string, usage agent.Usage) {
	t.Insert(Record{
		SessionKey:   sessionKey,
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	})
}

// Insert appends a usage record. Errors are logged and swallowed so a
// broken tracker never takes the agent down with it.
func (t *Tracker) Insert(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.TotalTokens == 0 {
		rec.TotalTokens = rec.InputTokens + rec.OutputTokens
	}

	_, err := t.db.Exec(
		`INSERT INTO usage
			(timestamp, session_key, provider, model, input_tokens, output_tokens, total_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SessionKey,
		rec.Provider,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.TotalTokens,
	)
	if err != nil {
		t.logger.Warn().Err(err).Msg("failed to record usage")
	}
}

// groupColumn maps a GroupBy value to its SQL expression.
func groupColumn(groupBy string) string {
	switch groupBy {
	case "provider":
		return "provider"
	case "session":
		return "session_key"
	case "day":
		return "date(timestamp)"
	default:
		return "model"
	}
}

// buildWhere assembles the WHERE clause and its parameters.
func buildWhere(f Filter) (string, []interface{}) {
	var conditions []string
	var params []interface{}

	if !f.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, f.From.UTC().Format(time.RFC3339))
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, f.To.UTC().Format(time.RFC3339))
	}
	if f.Model != "" {
		conditions = append(conditions, "model = ?")
		params = append(params, f.Model)
	}
	if f.Provider != "" {
		conditions = append(conditions, "provider = ?")
		params = append(params, f.Provider)
	}
	if f.SessionKey != "" {
		conditions = append(conditions, "session_key = ?")
		params = append(params, f.SessionKey)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), params
}

// Summarize aggregates usage grouped per Filter.GroupBy, largest
// totals first.
func (t *Tracker) Summarize(f Filter) ([]Summary, error) {
	where, params := buildWhere(f)
	query := fmt.Sprintf(
		`SELECT %s AS group_key,
			COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(total_tokens)
		 FROM usage %s
		 GROUP BY group_key
		 ORDER BY SUM(total_tokens) DESC`,
		groupColumn(f.GroupBy), where)

	rows, err := t.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.GroupKey, &s.Calls, &s.InputTokens, &s.OutputTokens, &s.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Daily aggregates usage per calendar day, newest first.
func (t *Tracker) Daily(f Filter) ([]DailyUsage, error) {
	where, params := buildWhere(f)
	query := fmt.Sprintf(
		`SELECT date(timestamp) AS day,
			COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(total_tokens)
		 FROM usage %s
		 GROUP BY day
		 ORDER BY day DESC`,
		where)

	rows, err := t.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var out []DailyUsage
	for rows.Next() {
		var d DailyUsage
		if err := rows.Scan(&d.Date, &d.Calls, &d.InputTokens, &d.OutputTokens, &d.TotalTokens); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
