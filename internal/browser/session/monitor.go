// internal/browser/session/monitor.go
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/browser"
)

// timeNow is indirected for tests.
var timeNow = time.Now

// mutatingMethods are never dispatched. The pipeline's interaction policy is
// read-only; a page that tries to mutate state gets the request failed at the
// Fetch stage and the block recorded as evidence.
var mutatingMethods = map[string]struct{}{
	"POST":   {},
	"PUT":    {},
	"PATCH":  {},
	"DELETE": {},
}

// monitor listens to CDP network/console events and appends them to the
// session's EventLog. It is registered once per page.
type monitor struct {
	ctx    context.Context
	events *browser.EventLog
	logger *zap.Logger

	mu      sync.Mutex
	indexes map[network.RequestID]int
}

func newMonitor(ctx context.Context, events *browser.EventLog, logger *zap.Logger) *monitor {
	return &monitor{
		ctx:     ctx,
		events:  events,
		logger:  logger.Named("monitor"),
		indexes: make(map[network.RequestID]int),
	}
}

// enableActions returns the CDP domains the monitor needs. Fetch interception
// is request-stage so mutating calls can be failed before dispatch.
func (m *monitor) enableActions() []chromedp.Action {
	return []chromedp.Action{
		network.Enable(),
		log.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		}),
	}
}

// listen registers the CDP event handlers.
func (m *monitor) listen() {
	chromedp.ListenTarget(m.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventRequestPaused:
			// Continue/fail must run off the listener goroutine.
			go m.handlePaused(ev)
		case *network.EventRequestWillBeSent:
			m.handleRequestWillBeSent(ev)
		case *network.EventResponseReceived:
			m.handleResponseReceived(ev)
		case *network.EventLoadingFailed:
			m.handleLoadingFailed(ev)
		case *log.EventEntryAdded:
			m.handleLogEntry(ev)
		}
	})
}

// handlePaused enforces the read-only policy: mutating requests are failed
// before dispatch and recorded, everything else continues untouched.
func (m *monitor) handlePaused(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(m.ctx)
	execCtx := cdp.WithExecutor(m.ctx, c.Target)

	method := strings.ToUpper(ev.Request.Method)
	if _, mutating := mutatingMethods[method]; !mutating {
		if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil && m.ctx.Err() == nil {
			m.logger.Debug("Failed to continue intercepted request.",
				zap.String("url", ev.Request.URL), zap.Error(err))
		}
		return
	}

	m.logger.Warn("Blocked state-mutating request (read-only policy).",
		zap.String("method", method), zap.String("url", ev.Request.URL))
	m.markBlocked(ev.NetworkID, method, ev.Request.URL)

	if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil && m.ctx.Err() == nil {
		m.logger.Error("Failed to abort mutating request; browser may have dispatched it.",
			zap.String("url", ev.Request.URL), zap.Error(err))
	}
}

// markBlocked records the block against the network-domain event when it
// already exists, or appends a standalone blocked event when the Fetch pause
// arrived first.
func (m *monitor) markBlocked(id network.RequestID, method, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[id]; ok {
		m.events.MarkBlocked(idx)
		return
	}
	idx := m.events.AppendNetwork(schemas.NetworkEvent{
		Method:    method,
		URL:       url,
		StartedAt: timeNow(),
		Blocked:   true,
	})
	if id != "" {
		m.indexes[id] = idx
	}
}

func (m *monitor) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.indexes[ev.RequestID]; exists {
		// Redirect hop of a request we already track; keep the original.
		return
	}
	idx := m.events.AppendNetwork(schemas.NetworkEvent{
		Method:       ev.Request.Method,
		URL:          ev.Request.URL,
		ResourceType: string(ev.Type),
		StartedAt:    ev.WallTime.Time(),
	})
	m.indexes[ev.RequestID] = idx
}

func (m *monitor) handleResponseReceived(ev *network.EventResponseReceived) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[ev.RequestID]; ok {
		m.events.SetStatus(idx, int(ev.Response.Status))
	}
}

func (m *monitor) handleLoadingFailed(ev *network.EventLoadingFailed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[ev.RequestID]; ok {
		m.events.MarkFailed(idx)
	}
}

func (m *monitor) handleLogEntry(ev *log.EventEntryAdded) {
	if ev.Entry.Level != log.LevelError {
		return
	}
	m.events.AppendConsole(schemas.ConsoleError{
		Level:     string(ev.Entry.Level),
		Text:      ev.Entry.Text,
		Source:    string(ev.Entry.Source),
		URL:       ev.Entry.URL,
		Line:      ev.Entry.LineNumber,
		Timestamp: ev.Entry.Timestamp.Time(),
	})
}
