package authcore

import (
	"testing"
	"time"
)

func TestLockoutStateMachine(t *testing.T) {
	p := lockoutPolicy{threshold: 5, duration: 30 * time.Minute}
	u := &User{}
	t0 := time.Unix(1_700_000_000, 0)

	for i := 1; i < 5; i++ {
		if p.recordFailure(u, t0) {
			t.Fatalf("attempt %d must not lock", i)
		}
	}
	if !p.recordFailure(u, t0) {
		t.Fatal("fifth failure must lock")
	}
	if !u.LockUntil.Equal(t0.Add(30 * time.Minute)) {
		t.Fatalf("unexpected LockUntil %v", u.LockUntil)
	}

	if !p.locked(u, t0.Add(1799*time.Second)) {
		t.Fatal("expected locked just before expiry")
	}
	if p.locked(u, t0.Add(1801*time.Second)) {
		t.Fatal("expected unlocked after expiry")
	}

	// An expired lock restarts the counter before applying the new failure.
	if p.recordFailure(u, t0.Add(1801*time.Second)) {
		t.Fatal("first failure after expiry must not relock")
	}
	if u.FailedLoginAttempts != 1 || u.IsLocked {
		t.Fatalf("expected fresh counter, got attempts=%d locked=%v", u.FailedLoginAttempts, u.IsLocked)
	}

	p.recordSuccess(u)
	if u.FailedLoginAttempts != 0 || u.IsLocked || !u.LockUntil.IsZero() {
		t.Fatalf("success must clear lockout state: %+v", u)
	}
}
