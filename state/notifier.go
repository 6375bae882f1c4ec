package state

import "context"

// Notifier receives the views changed by an applied event.
//
// Both methods are called while the chat's state lock is held, which is what
// preserves per-chat ordering; implementations must not block.
type Notifier interface {
	// Notify delivers a fresh copy of one stream's view for a chat.
	Notify(chatID string, stream Stream, data any)

	// Push delivers the raw event, as a push socket would send it.
	Push(chatID string, ev Event)
}

// Applier accepts progress events for a chat. The Reconciler is the
// canonical implementation; other components depend on this interface only.
type Applier interface {
	Apply(ctx context.Context, chatID string, ev Event) error
}

// Recorder counts applied events, typically for metrics.
type Recorder interface {
	EventApplied(kind string)
}

// MultiNotifier fans notifications out to several notifiers in order.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(chatID string, stream Stream, data any) {
	for _, n := range m {
		n.Notify(chatID, stream, data)
	}
}

// Push implements Notifier.
func (m MultiNotifier) Push(chatID string, ev Event) {
	for _, n := range m {
		n.Push(chatID, ev)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, Stream, any) {}
func (nopNotifier) Push(string, Event)         {}
