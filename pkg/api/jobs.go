package api

import (
	"context"
	"time"
)

// ExpirationTime describes when a job fires. Exactly one of Repeat or
// Exact is meaningful, selected by IsExact.
type ExpirationTime struct {
	// Delay before the first firing.
	Delay time.Duration
	// Period between subsequent firings.
	Period time.Duration
	// RepeatCount is the total number of firings; negative means unbounded.
	RepeatCount int

	// At is the single firing time of an exact expiration.
	At time.Time
}

// RepeatExpiration returns a repeating expiration.
func RepeatExpiration(delay, period time.Duration, count int) ExpirationTime {
	return ExpirationTime{Delay: delay, Period: period, RepeatCount: count}
}

// ExactExpiration returns an expiration firing once at at.
func ExactExpiration(at time.Time) ExpirationTime {
	return ExpirationTime{At: at}
}

// IsExact reports whether the expiration fires once at a fixed date.
func (e ExpirationTime) IsExact() bool { return !e.At.IsZero() }

// JobDescription is a timer registered with the scheduler.
type JobDescription struct {
	ID             string
	ExpirationTime ExpirationTime
	ProcessID      string
	NodeID         string
	// Fire is called on every expiration.
	Fire func(ctx context.Context) error
}

// JobsService schedules and cancels timer jobs.
type JobsService interface {
	ScheduleJob(ctx context.Context, job JobDescription) (string, error)
	CancelJob(ctx context.Context, id string) (bool, error)
}
