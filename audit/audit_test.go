package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestTraceLifecycle(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Dir: dir})

	tr := l.Open("q-12345678-abcd", "what is the weather")
	tr.Event(KindReasoningDecision, map[string]any{"method": "rule", "agents": []string{"weather"}})
	tr.Event(KindAgentInteraction, map[string]any{"agent": "weather", "success": true})
	l.Close(tr, Summary{Success: true, AgentCount: 1, AgentsUsed: []string{"weather"}})

	files, err := filepath.Glob(filepath.Join(dir, "query_*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one trace file, got %v (err %v)", files, err)
	}
	if !strings.Contains(filepath.Base(files[0]), "q-123456") {
		t.Errorf("filename should carry the query id prefix: %s", files[0])
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("reading trace: %v", err)
	}
	var got Trace
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal trace: %v", err)
	}
	if got.QueryID != "q-12345678-abcd" {
		t.Errorf("QueryID = %q", got.QueryID)
	}
	if got.Summary == nil || !got.Summary.Success {
		t.Error("summary missing or wrong")
	}
}

func TestTraceStartEndExactlyOnceAndOrdered(t *testing.T) {
	l := New(Config{Enabled: true, Dir: t.TempDir()})
	tr := l.Open("qid", "test")
	tr.Event(KindError, map[string]any{"error": "oops"})
	l.Close(tr, Summary{Success: false, ErrorCount: 1})

	starts, ends := 0, 0
	startIdx, endIdx := -1, -1
	for i, e := range tr.Events {
		switch e.Kind {
		case KindQueryStart:
			starts++
			startIdx = i
		case KindQueryEnd:
			ends++
			endIdx = i
		}
	}
	if starts != 1 || ends != 1 {
		t.Fatalf("QUERY_START x%d, QUERY_END x%d, want exactly one each", starts, ends)
	}
	if startIdx != 0 || endIdx != len(tr.Events)-1 {
		t.Errorf("start at %d, end at %d of %d events", startIdx, endIdx, len(tr.Events))
	}
}

func TestDisabledLoggerNoOps(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Dir: dir})

	tr := l.Open("qid", "test")
	tr.Event(KindError, nil)
	l.Close(tr, Summary{})

	files, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(files) != 0 {
		t.Errorf("disabled logger wrote files: %v", files)
	}
	if len(tr.Events) != 0 {
		t.Errorf("disabled trace accumulated events: %d", len(tr.Events))
	}
}

func TestTraceConcurrentEvents(t *testing.T) {
	l := New(Config{Enabled: true, Dir: t.TempDir()})
	tr := l.Open("qid", "test")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tr.Event(KindAgentInteraction, map[string]any{"n": n})
		}(i)
	}
	wg.Wait()
	l.Close(tr, Summary{Success: true})

	// 50 interactions + QUERY_START + QUERY_END
	if len(tr.Events) != 52 {
		t.Errorf("event count = %d, want 52", len(tr.Events))
	}
}

func TestSQLWriterSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	w, err := NewSQLWriter("sqlite", dsn)
	if err != nil {
		t.Fatalf("NewSQLWriter() error: %v", err)
	}
	defer func() { _ = w.Close() }()

	l := New(Config{Enabled: true, Dir: t.TempDir()})
	tr := l.Open("qid", "test")
	l.Close(tr, Summary{Success: true, AgentCount: 2, AgentsUsed: []string{"a", "b"}})

	if err := w.Write(tr); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	var count int
	if err := w.db.QueryRow("SELECT COUNT(*) FROM audit_traces").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}
}

func TestSQLWriterUnknownDriver(t *testing.T) {
	if _, err := NewSQLWriter("oracle", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
