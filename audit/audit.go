// Package audit writes one append-only trace per query: every reasoning
// decision, agent interaction, validation verdict, and retry, serialized
// to a JSON file at close. Audit failures are logged and swallowed; they
// never affect the user-facing response.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relay-labs/agent-router/internal/logging"
)

// Kind identifies an audit event type.
type Kind string

// Event kinds recorded in a trace.
const (
	KindQueryStart        Kind = "QUERY_START"
	KindReasoningDecision Kind = "REASONING_DECISION"
	KindAgentInteraction  Kind = "AGENT_INTERACTION"
	KindToolInteraction   Kind = "TOOL_INTERACTION"
	KindValidation        Kind = "VALIDATION"
	KindRetryAttempt      Kind = "RETRY_ATTEMPT"
	KindError             Kind = "ERROR"
	KindQueryEnd          Kind = "QUERY_END"
)

// Event is one entry in a trace.
type Event struct {
	Kind    Kind           `json:"kind"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Summary is the final record closed into a trace.
type Summary struct {
	Success    bool     `json:"success"`
	AgentCount int      `json:"agent_count"`
	AgentsUsed []string `json:"agents_used"`
	ErrorCount int      `json:"error_count"`
}

// Trace is the per-query append-only event log. Event is safe to call
// concurrently from executor tasks.
type Trace struct {
	QueryID   string    `json:"query_id"`
	QueryText string    `json:"query"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	TotalMs   int64     `json:"total_ms"`
	Events    []Event   `json:"events"`
	Summary   *Summary  `json:"final_summary,omitempty"`

	mu       sync.Mutex
	disabled bool
}

// Event appends an event to the trace. No-op on a disabled trace.
func (t *Trace) Event(kind Kind, payload map[string]any) {
	if t == nil || t.disabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Events = append(t.Events, Event{Kind: kind, At: time.Now(), Payload: payload})
}

// Logger opens and closes traces. A nil or disabled Logger produces
// disabled traces whose operations all no-op.
type Logger struct {
	dir     string
	enabled bool
	sql     *SQLWriter
}

// Config configures the audit logger.
type Config struct {
	Enabled   bool
	Dir       string
	SQLDriver string
	SQLDSN    string
}

// New creates a Logger. The directory is created on first use. An SQL
// mirror is attached when a driver is configured; mirror setup failures
// disable the mirror but not file logging.
func New(cfg Config) *Logger {
	l := &Logger{dir: cfg.Dir, enabled: cfg.Enabled}
	if !cfg.Enabled {
		return l
	}
	if cfg.SQLDriver != "" {
		sw, err := NewSQLWriter(cfg.SQLDriver, cfg.SQLDSN)
		if err != nil {
			logging.Logger.Error("audit sql mirror unavailable", "driver", cfg.SQLDriver, "error", err.Error())
		} else {
			l.sql = sw
		}
	}
	return l
}

// Open starts a trace for a query and records QUERY_START.
func (l *Logger) Open(queryID, queryText string) *Trace {
	if l == nil || !l.enabled {
		return &Trace{disabled: true}
	}
	if queryID == "" {
		queryID = uuid.NewString()
	}
	t := &Trace{
		QueryID:   queryID,
		QueryText: queryText,
		StartedAt: time.Now(),
	}
	t.Event(KindQueryStart, map[string]any{"query": queryText})
	return t
}

// Close records QUERY_END, finalizes timing, and writes the trace file
// atomically. Errors are logged and swallowed.
func (l *Logger) Close(t *Trace, summary Summary) {
	if l == nil || !l.enabled || t == nil || t.disabled {
		return
	}
	t.Event(KindQueryEnd, map[string]any{
		"success":     summary.Success,
		"agent_count": summary.AgentCount,
		"error_count": summary.ErrorCount,
	})

	t.mu.Lock()
	t.EndedAt = time.Now()
	t.TotalMs = t.EndedAt.Sub(t.StartedAt).Milliseconds()
	t.Summary = &summary
	t.mu.Unlock()

	if err := l.write(t); err != nil {
		logging.Logger.Error("audit trace write failed", "query_id", t.QueryID, "error", err.Error())
	}
	if l.sql != nil {
		if err := l.sql.Write(t); err != nil {
			logging.Logger.Error("audit sql mirror write failed", "query_id", t.QueryID, "error", err.Error())
		}
	}
}

// write serializes the trace and renames a temp file into place so a
// crash never leaves a half-written trace.
func (l *Logger) write(t *Trace) error {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return fmt.Errorf("creating audit dir: %w", err)
	}

	t.mu.Lock()
	data, err := json.MarshalIndent(t, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}

	name := fmt.Sprintf("query_%s_%s.json",
		t.StartedAt.Format("20060102T150405"), shortID(t.QueryID))
	final := filepath.Join(l.dir, name)

	tmp, err := os.CreateTemp(l.dir, name+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp trace: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("writing trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("closing temp trace: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("renaming trace: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
