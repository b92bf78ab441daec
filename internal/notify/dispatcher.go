package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher routes events to registered senders.
type Dispatcher struct {
	senders []Sender
	mu      sync.RWMutex
	async   bool
}

// NewDispatcher creates a new notification dispatcher.
// If async is true, notifications are sent in goroutines.
func NewDispatcher(async bool) *Dispatcher {
	return &Dispatcher{
		senders: make([]Sender, 0),
		async:   async,
	}
}

// Register adds a sender to the dispatcher.
func (d *Dispatcher) Register(sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, sender)
}

// Unregister removes a sender from the dispatcher by name.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	filtered := make([]Sender, 0, len(d.senders))
	for _, s := range d.senders {
		if s.Name() != name {
			filtered = append(filtered, s)
		}
	}
	d.senders = filtered
}

// Dispatch sends an event to all registered senders.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) {
	d.mu.RLock()
	senders := make([]Sender, len(d.senders))
	copy(senders, d.senders)
	d.mu.RUnlock()

	if len(senders) == 0 {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if d.async {
		for _, sender := range senders {
			go d.sendWithRecover(ctx, sender, event)
		}
	} else {
		for _, sender := range senders {
			d.sendWithRecover(ctx, sender, event)
		}
	}
}

// sendWithRecover sends an event and recovers from panics.
func (d *Dispatcher) sendWithRecover(ctx context.Context, sender Sender, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in notification sender",
				slog.String("sender", sender.Name()),
				slog.Any("panic", r),
			)
		}
	}()

	// Bound each send so a stuck channel cannot hold up the caller
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := sender.Send(sendCtx, event); err != nil {
		slog.Warn("notification send failed",
			slog.String("sender", sender.Name()),
			slog.String("event", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

// HasSenders returns true if any senders are registered.
func (d *Dispatcher) HasSenders() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.senders) > 0
}
