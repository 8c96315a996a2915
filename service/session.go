package service

import (
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// authSession is one voter's recent face verification history. It is guarded
// by the owning FaceMatcher's mutex.
type authSession struct {
	failures    []mclock.AbsTime
	lockedUntil mclock.AbsTime
}

// prune drops failures that have left the sliding window
func (s *authSession) prune(now mclock.AbsTime, window time.Duration) {
	keep := s.failures[:0]
	for _, f := range s.failures {
		if now.Sub(f) < window {
			keep = append(keep, f)
		}
	}
	s.failures = keep
}

func (s *authSession) locked(now mclock.AbsTime) bool {
	return now < s.lockedUntil
}

// remaining is the time left on an active lockout
func (s *authSession) remaining(now mclock.AbsTime) time.Duration {
	if !s.locked(now) {
		return 0
	}
	return s.lockedUntil.Sub(now)
}

// fail records a failed match and reports whether it started a lockout. The
// lockout runs from the oldest failure still in the window.
func (s *authSession) fail(now mclock.AbsTime, window, lockout time.Duration, maxFailures int) bool {
	s.prune(now, window)
	s.failures = append(s.failures, now)
	if len(s.failures) < maxFailures {
		return false
	}
	s.lockedUntil = s.failures[0].Add(lockout)
	s.failures = s.failures[:0]
	return true
}

func (s *authSession) succeed() {
	s.failures = s.failures[:0]
}

// idle reports whether the session holds nothing worth keeping
func (s *authSession) idle(now mclock.AbsTime, window time.Duration) bool {
	s.prune(now, window)
	return len(s.failures) == 0 && !s.locked(now)
}
