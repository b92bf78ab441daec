// Package notify provides best-effort notification dispatching for
// backup events. Failures here never affect engine control flow.
package notify

import (
	"context"
	"time"

	"github.com/inovacc/starkeep/internal/model"
)

// Event types emitted by the engine.
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventDeleted  = "deleted"
	EventError    = "error"
	EventComplete = "complete"
)

// Event represents a notification event with all context needed for
// formatting.
type Event struct {
	// Type is the event type (start, progress, deleted, error, complete)
	Type string

	// Repository is the repository name (owner/repo), if applicable
	Repository string

	// Message is free-form detail, set for error events
	Message string

	// Index and Total locate progress within the run
	Index int
	Total int

	// Accounts are the configured star sources, set for start events
	Accounts []string

	// Summary carries the run counters for progress and complete events
	Summary *model.Summary

	// Timestamp is when the event occurred
	Timestamp time.Time
}

// Sender delivers events to one notification channel.
type Sender interface {
	// Name identifies the sender for logging.
	Name() string

	// Send delivers one event. Errors are logged by the dispatcher and
	// never propagated to the caller.
	Send(ctx context.Context, event *Event) error
}
