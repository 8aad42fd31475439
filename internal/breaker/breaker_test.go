package breaker

import (
	"testing"
	"time"
)

func TestInitialStateClosed(t *testing.T) {
	b := New(Settings{OpenThreshold: 3, Cooldown: 10 * time.Second})
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected Allow=true when closed")
	}
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New(Settings{OpenThreshold: 3, Cooldown: 10 * time.Second})
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected Allow=false when open")
	}
	snap := b.Snapshot()
	if snap.OpenedAt.IsZero() {
		t.Fatal("expected OpenedAt to be set when open")
	}
}

func TestTransitionsToHalfOpenAfterCooldown(t *testing.T) {
	b := New(Settings{OpenThreshold: 1, Cooldown: time.Millisecond})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected Allow=true for the half-open probe")
	}
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New(Settings{OpenThreshold: 1, Cooldown: time.Millisecond})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected first probe to be admitted")
	}
	if b.Allow() {
		t.Fatal("expected second concurrent probe to be rejected")
	}
	b.RecordSuccess()
	if !b.Allow() {
		t.Fatal("expected Allow=true after probe success closed the circuit")
	}
}

func TestClosesAfterProbeSuccess(t *testing.T) {
	b := New(Settings{OpenThreshold: 1, Cooldown: time.Millisecond})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow() // admit the probe
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
	if b.Snapshot().ConsecutiveFailures != 0 {
		t.Fatal("expected failure count reset after close")
	}
}

func TestReopensOnProbeFailure(t *testing.T) {
	b := New(Settings{OpenThreshold: 1, Cooldown: time.Millisecond})
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	_ = b.Allow() // admit the probe
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after probe failure, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(Settings{OpenThreshold: 3, Cooldown: 10 * time.Second})
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected still closed (failure count reset), got %s", b.State())
	}
}

func TestSetCreatesPerTargetBreakers(t *testing.T) {
	s := NewSet(Settings{OpenThreshold: 1, Cooldown: time.Minute})
	s.For("weather").RecordFailure()
	if s.For("weather").State() != StateOpen {
		t.Fatalf("expected weather breaker open, got %s", s.For("weather").State())
	}
	if s.For("calculator").State() != StateClosed {
		t.Fatalf("expected calculator breaker untouched, got %s", s.For("calculator").State())
	}
	snaps := s.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}
