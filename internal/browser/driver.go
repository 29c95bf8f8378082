// Package browser defines the narrow browser-automation capability the
// verification pipeline consumes. The pipeline only ever talks to Driver and
// EventLog; the chromedp-backed implementation lives in the session
// subpackage so the core stages stay testable with a fake.
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/verityscan/verity-cli/api/schemas"
)

// ElementProbe reports what selector resolution found on the live page.
type ElementProbe struct {
	Count   int
	Visible bool
	Enabled bool
}

// Driver is the capability surface of the browser-automation collaborator:
// locate, interact, snapshot. Implementations must be safe for sequential use
// from a single goroutine; the pipeline never runs two interactions
// concurrently against the same page.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Probe(ctx context.Context, selector string) (ElementProbe, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Press(ctx context.Context, selector, key string) error
	// Submit attempts to trigger the submit mechanism of the form owning the
	// selector. The boolean reports whether any mechanism was found and
	// fired; false with a nil error means the form had nothing to submit.
	Submit(ctx context.Context, selector string) (bool, error)
	Screenshot(ctx context.Context, path string) error
	HTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	Events() *EventLog
}

// EventLog is the append-only collection of network and console events for
// one page. Listeners are registered once per page and append from the CDP
// event goroutine; readers take snapshots. Events are never removed, so
// correlation logic can tolerate events that arrive after an attempt's
// nominal window closes.
type EventLog struct {
	mu      sync.RWMutex
	network []schemas.NetworkEvent
	console []schemas.ConsoleError
}

// NewEventLog creates an empty event log.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// AppendNetwork records a request and returns its index so the producer can
// attach the response status later.
func (l *EventLog) AppendNetwork(ev schemas.NetworkEvent) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.network = append(l.network, ev)
	return len(l.network) - 1
}

// SetStatus attaches a response status to a previously appended request.
func (l *EventLog) SetStatus(idx, status int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx >= 0 && idx < len(l.network) {
		l.network[idx].Status = status
	}
}

// MarkFailed flags a previously appended request as failed.
func (l *EventLog) MarkFailed(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx >= 0 && idx < len(l.network) {
		l.network[idx].Failed = true
	}
}

// MarkBlocked flags a previously appended request as blocked by the
// read-only policy. Blocked requests stay in the log; they are evidence.
func (l *EventLog) MarkBlocked(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx >= 0 && idx < len(l.network) {
		l.network[idx].Blocked = true
	}
}

// AppendConsole records a console error entry.
func (l *EventLog) AppendConsole(ev schemas.ConsoleError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = append(l.console, ev)
}

// NetworkSince returns a copy of every network event that started at or
// after t.
func (l *EventLog) NetworkSince(t time.Time) []schemas.NetworkEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schemas.NetworkEvent, 0, len(l.network))
	for _, ev := range l.network {
		if !ev.StartedAt.Before(t) {
			out = append(out, ev)
		}
	}
	return out
}

// ConsoleSince returns a copy of every console error recorded at or after t.
func (l *EventLog) ConsoleSince(t time.Time) []schemas.ConsoleError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schemas.ConsoleError, 0, len(l.console))
	for _, ev := range l.console {
		if !ev.Timestamp.Before(t) {
			out = append(out, ev)
		}
	}
	return out
}
