package core

import (
	"math"
	"time"
)

// Exhausted is returned by NextDelay when no retries remain. It can never be
// a valid delay.
const Exhausted time.Duration = -1

// NextDelay computes the delay before the next retry of a job that has failed
// attemptsMade times:
//
//	min(InitialDelay * Factor^attemptsMade, MaxDelay)
//
// It returns Exhausted once attemptsMade reaches policy.MaxAttempts.
func NextDelay(attemptsMade int, policy RetryPolicy) time.Duration {
	if attemptsMade >= policy.MaxAttempts {
		return Exhausted
	}
	if attemptsMade < 0 {
		attemptsMade = 0
	}

	delay := float64(policy.InitialDelay) * math.Pow(policy.Factor, float64(attemptsMade))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > float64(policy.MaxDelay) {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// IsExhausted reports whether d is the exhaustion sentinel.
func IsExhausted(d time.Duration) bool {
	return d == Exhausted
}
