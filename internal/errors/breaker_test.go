// internal/errors/breaker_test.go
package errors

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("reddit", CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 300 * time.Second}, clock.Now)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if cb.IsOpen() {
			t.Fatalf("Expected breaker closed after %d failures", i+1)
		}
	}
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("Expected breaker open after 3 failures")
	}
	if admitted, _ := cb.Admit(); admitted {
		t.Error("Expected open breaker to reject a run")
	}

	clock.Advance(299 * time.Second)
	if !cb.IsOpen() {
		t.Error("Expected breaker still open before cooldown elapses")
	}

	clock.Advance(time.Second)
	if cb.IsOpen() {
		t.Error("Expected breaker no longer open once cooldown elapses")
	}
	if state := cb.GetState(); state != CircuitHalfOpen {
		t.Errorf("Expected half_open, got %s", state)
	}
}

func TestCircuitBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("imgur", CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute}, clock.Now)

	cb.RecordFailure()
	clock.Advance(time.Minute)

	admitted, probe := cb.Admit()
	if !admitted || !probe {
		t.Fatalf("Expected first run after cooldown to be the probe, got admitted=%v probe=%v", admitted, probe)
	}
	if admitted, _ := cb.Admit(); admitted {
		t.Error("Expected concurrent run to be rejected while probing")
	}

	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("Expected failed probe to reopen the breaker")
	}

	clock.Advance(time.Minute)
	if admitted, _ := cb.Admit(); !admitted {
		t.Fatal("Expected new probe after second cooldown")
	}
	cb.RecordSuccess()
	if state := cb.GetState(); state != CircuitClosed {
		t.Errorf("Expected closed after successful probe, got %s", state)
	}
	if stats := cb.GetStats(); stats.Failures != 0 {
		t.Errorf("Expected failure count reset, got %d", stats.Failures)
	}
}

func TestCircuitBreaker_ReleaseWithoutVerdict(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("bing", CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second}, clock.Now)
	cb.RecordFailure()
	clock.Advance(time.Second)

	_, probe := cb.Admit()
	cb.Release(probe)

	if admitted, probe := cb.Admit(); !admitted || !probe {
		t.Error("Expected released probe slot to admit another probe")
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb := NewCircuitBreaker("s", CircuitBreakerConfig{MaxFailures: 3}, nil)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.IsOpen() {
		t.Error("Expected success to reset consecutive failures")
	}
}

func TestBreakerTable_TransitionsObserved(t *testing.T) {
	clock := newFakeClock()
	table := NewBreakerTable(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Second}, clock.Now)

	var mu sync.Mutex
	var seen []string
	table.OnTransition(func(name string, from, to CircuitBreakerState) {
		mu.Lock()
		seen = append(seen, name+":"+to.String())
		mu.Unlock()
	})

	cb := table.Get("vimeo")
	if table.Get("vimeo") != cb {
		t.Fatal("Expected the same breaker for the same source")
	}
	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.Admit()
	cb.RecordSuccess()

	want := []string{"vimeo:open", "vimeo:half_open", "vimeo:closed"}
	if len(seen) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}

	snap := table.Snapshot()
	if len(snap) != 1 || snap[0].Name != "vimeo" || snap[0].State != "closed" {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}
