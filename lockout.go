package authcore

import "time"

// lockoutPolicy is the brute-force state machine. An account is Unlocked,
// Locked (IsLocked and now < LockUntil) or Expired-Lock (IsLocked but the
// window has passed), which behaves as Unlocked with a fresh counter.
type lockoutPolicy struct {
	threshold int
	duration  time.Duration
}

func (p lockoutPolicy) locked(u *User, now time.Time) bool {
	return u.IsLocked && now.Before(u.LockUntil)
}

// expire clears an elapsed lock together with its counter.
func (p lockoutPolicy) expire(u *User, now time.Time) {
	if u.IsLocked && !now.Before(u.LockUntil) {
		u.IsLocked = false
		u.LockUntil = time.Time{}
		u.FailedLoginAttempts = 0
	}
}

// recordFailure applies one failed attempt and reports whether it locked
// the account.
func (p lockoutPolicy) recordFailure(u *User, now time.Time) bool {
	p.expire(u, now)
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= p.threshold {
		u.IsLocked = true
		u.LockUntil = now.Add(p.duration)
		return true
	}
	return false
}

func (p lockoutPolicy) recordSuccess(u *User) {
	u.FailedLoginAttempts = 0
	u.IsLocked = false
	u.LockUntil = time.Time{}
}
