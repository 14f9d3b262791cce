package uploader

import (
	"errors"
	"math"
	"time"
)

const (
	defaultBackoffBase   = time.Second
	defaultBackoffFactor = 2
	defaultMaxAttempts   = 5
)

// RetryPolicy describes when each delivery attempt starts. Attempt 0 starts
// immediately and attempt k (k >= 1) starts Base*Factor^(k-1) after it, so the
// defaults give attempts at 0s, 1s, 2s, 4s and 8s.
type RetryPolicy struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:        defaultBackoffBase,
		Factor:      defaultBackoffFactor,
		MaxAttempts: defaultMaxAttempts,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Factor < 1 {
		p.Factor = 1
	}
	if p.Base < 0 {
		p.Base = 0
	}
	return p
}

// offset is the start of attempt k relative to attempt 0.
func (p RetryPolicy) offset(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return time.Duration(float64(p.Base) * math.Pow(p.Factor, float64(attempt-1)))
}

// Wait returns how long to wait after attempt-1 started before running attempt.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	return p.offset(attempt) - p.offset(attempt-1)
}

// retriableError marks failures worth another attempt: network errors and 5xx.
type retriableError struct{ err error }

func (e *retriableError) Error() string { return e.err.Error() }

func (e *retriableError) Unwrap() error { return e.err }

func isRetriable(err error) bool {
	var r *retriableError
	return errors.As(err, &r)
}
