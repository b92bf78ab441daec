package model

import (
	"fmt"
	"time"
)

// Outcome is the closed set of per-repository results. "skipped" covers
// both the staleness short-circuit and empty artifacts; it is a normal
// branch, not an error.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeDeleted Outcome = "deleted"
	OutcomeFailed  Outcome = "failed"
)

// Result is the transient per-repository outcome of one run.
type Result struct {
	Repository *Repository
	Outcome    Outcome
	BundleType BundleType
	RemotePath string
	Err        error
}

// Summary aggregates the outcomes of one run. Not persisted.
type Summary struct {
	TotalRepos   int
	SuccessCount int
	SkippedCount int
	FailedCount  int
	DeletedCount int
	StartTime    time.Time
	EndTime      time.Time
	Results      []Result
}

// Tally records a result and updates the counters.
func (s *Summary) Tally(r Result) {
	s.Results = append(s.Results, r)

	switch r.Outcome {
	case OutcomeSuccess:
		s.SuccessCount++
	case OutcomeSkipped:
		s.SkippedCount++
	case OutcomeDeleted:
		s.DeletedCount++
	case OutcomeFailed:
		s.FailedCount++
	}
}

// Duration returns the elapsed run time.
func (s *Summary) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}

	return s.EndTime.Sub(s.StartTime)
}

// DurationString formats the elapsed time for notifications.
func (s *Summary) DurationString() string {
	d := s.Duration()

	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.1fm", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh", d.Hours())
	}
}
