package notify

import (
	"context"

	"github.com/inovacc/starkeep/internal/model"
)

// Notifier is the engine-facing facade. Every method is fire-and-forget:
// delivery failures are logged by the dispatcher and never surface.
type Notifier struct {
	dispatcher *Dispatcher
}

// NewNotifier builds a notifier over an async dispatcher.
func NewNotifier(senders ...Sender) *Notifier {
	d := NewDispatcher(true)
	for _, s := range senders {
		d.Register(s)
	}

	return &Notifier{dispatcher: d}
}

// Enabled reports whether any channel is configured.
func (n *Notifier) Enabled() bool {
	return n.dispatcher.HasSenders()
}

// Start announces a new run.
func (n *Notifier) Start(ctx context.Context, total int, accounts []string) {
	n.dispatcher.Dispatch(ctx, &Event{
		Type:     EventStart,
		Total:    total,
		Accounts: accounts,
	})
}

// Progress reports position within the run.
func (n *Notifier) Progress(ctx context.Context, index, total int, fullName string, summary *model.Summary) {
	n.dispatcher.Dispatch(ctx, &Event{
		Type:       EventProgress,
		Repository: fullName,
		Index:      index,
		Total:      total,
		Summary:    summary,
	})
}

// Deleted reports a repository that disappeared upstream.
func (n *Notifier) Deleted(ctx context.Context, fullName string) {
	n.dispatcher.Dispatch(ctx, &Event{
		Type:       EventDeleted,
		Repository: fullName,
	})
}

// Error reports a failure. fullName may be empty for run-level errors.
func (n *Notifier) Error(ctx context.Context, fullName, message string) {
	n.dispatcher.Dispatch(ctx, &Event{
		Type:       EventError,
		Repository: fullName,
		Message:    message,
	})
}

// Complete announces the end of a run with final counters.
func (n *Notifier) Complete(ctx context.Context, summary *model.Summary) {
	n.dispatcher.Dispatch(ctx, &Event{
		Type:    EventComplete,
		Summary: summary,
	})
}
