package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryPolicy defines how failed jobs are retried. Policies are plain values
// and are never mutated after construction.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
}

// DefaultRetryPolicy returns the policy used when a job supplies none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Factor:       2.0,
	}
}

// NewRetryPolicy builds and validates a policy.
func NewRetryPolicy(maxAttempts int, initialDelay, maxDelay time.Duration, factor float64) (RetryPolicy, error) {
	p := RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initialDelay,
		MaxDelay:     maxDelay,
		Factor:       factor,
	}
	if err := p.Validate(); err != nil {
		return RetryPolicy{}, err
	}
	return p, nil
}

// Validate checks the policy invariants.
func (p RetryPolicy) Validate() *Error {
	if p.MaxAttempts < 1 {
		return NewValidationError("max_attempts must be at least 1.", map[string]any{
			"field":    "max_attempts",
			"received": p.MaxAttempts,
		})
	}
	if p.Factor <= 1 {
		return NewValidationError("backoff_coefficient must be greater than 1.", map[string]any{
			"field":    "backoff_coefficient",
			"received": p.Factor,
		})
	}
	if p.InitialDelay <= 0 {
		return NewValidationError("initial_interval must be positive.", map[string]any{
			"field":    "initial_interval",
			"received": p.InitialDelay.String(),
		})
	}
	if p.InitialDelay > p.MaxDelay {
		return NewValidationError(
			fmt.Sprintf("initial_interval (%s) must not exceed max_interval (%s).", p.InitialDelay, p.MaxDelay),
			map[string]any{
				"field":        "initial_interval",
				"max_interval": p.MaxDelay.String(),
			},
		)
	}
	return nil
}

type retryPolicyJSON struct {
	MaxAttempts        int     `json:"max_attempts"`
	InitialInterval    string  `json:"initial_interval,omitempty"`
	MaxInterval        string  `json:"max_interval,omitempty"`
	BackoffCoefficient float64 `json:"backoff_coefficient,omitempty"`
}

// MarshalJSON encodes delays as ISO 8601 durations.
func (p RetryPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(retryPolicyJSON{
		MaxAttempts:        p.MaxAttempts,
		InitialInterval:    FormatISO8601Duration(p.InitialDelay),
		MaxInterval:        FormatISO8601Duration(p.MaxDelay),
		BackoffCoefficient: p.Factor,
	})
}

// UnmarshalJSON decodes a policy, filling omitted fields from the default.
func (p *RetryPolicy) UnmarshalJSON(data []byte) error {
	var raw retryPolicyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := DefaultRetryPolicy()
	if raw.MaxAttempts != 0 {
		out.MaxAttempts = raw.MaxAttempts
	}
	if raw.BackoffCoefficient != 0 {
		out.Factor = raw.BackoffCoefficient
	}
	if raw.InitialInterval != "" {
		d, err := ParseISO8601Duration(raw.InitialInterval)
		if err != nil {
			return fmt.Errorf("initial_interval: %w", err)
		}
		out.InitialDelay = d
	}
	if raw.MaxInterval != "" {
		d, err := ParseISO8601Duration(raw.MaxInterval)
		if err != nil {
			return fmt.Errorf("max_interval: %w", err)
		}
		out.MaxDelay = d
	}

	*p = out
	return nil
}
