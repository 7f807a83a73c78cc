package mpesa

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := newBreaker(3, time.Minute)

	if !b.Allow() {
		t.Fatal("new breaker should allow")
	}

	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Error("breaker opened below threshold")
	}

	b.RecordFailure()
	if b.Allow() {
		t.Error("breaker still closed at threshold")
	}
}

func TestBreakerSuccessResetsRun(t *testing.T) {
	b := newBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if !b.Allow() {
		t.Error("success did not reset the failure run")
	}
}

func TestBreakerReclosesAfterCooldown(t *testing.T) {
	b := newBreaker(1, 50*time.Millisecond)

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(60 * time.Millisecond)
	if !b.Allow() {
		t.Error("breaker still open after cooldown")
	}
}
