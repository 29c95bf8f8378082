// File: internal/mocks/mocks.go
// Package mocks holds shared test doubles for the pipeline's collaborator
// interfaces.
package mocks

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/browser"
)

// -- Browser Driver Fake --

// PageState is one scripted page the fake driver can be on.
type PageState struct {
	URL  string
	HTML string
}

// FakeDriver is a scripted, in-memory browser.Driver. Tests configure the
// probes, the page states, and hooks that fire on interaction; the fake
// records everything it was asked to do.
type FakeDriver struct {
	mu sync.Mutex

	// Probes maps selector -> probe result. Unknown selectors report zero
	// matches.
	Probes map[string]browser.ElementProbe

	// Current is the live page state. OnClick/OnSubmit may swap it to
	// simulate the page reacting.
	Current PageState

	// OnClick and OnSubmit run under the driver lock when the interaction
	// fires. Either may be nil.
	OnClick  func(selector string, d *FakeDriver)
	OnSubmit func(selector string, d *FakeDriver)

	// SubmitFires reports whether Submit finds a mechanism. Defaults true
	// via NewFakeDriver.
	SubmitFires bool

	// ClickErr, when set, is returned from Click.
	ClickErr error

	// NavigateErr, when set, is returned from Navigate.
	NavigateErr error

	// ScreenshotErr, when set, makes Screenshot fail without writing.
	ScreenshotErr error

	events *browser.EventLog

	Clicks      []string
	Submits     []string
	Navigations []string
	Screenshots []string
}

// NewFakeDriver creates a fake positioned on the given page.
func NewFakeDriver(page PageState) *FakeDriver {
	return &FakeDriver{
		Probes:      make(map[string]browser.ElementProbe),
		Current:     page,
		SubmitFires: true,
		events:      browser.NewEventLog(),
	}
}

func (d *FakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.NavigateErr != nil {
		return d.NavigateErr
	}
	d.Navigations = append(d.Navigations, url)
	d.Current.URL = url
	return nil
}

func (d *FakeDriver) Probe(ctx context.Context, selector string) (browser.ElementProbe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Probes[selector], nil
}

func (d *FakeDriver) Click(ctx context.Context, selector string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Clicks = append(d.Clicks, selector)
	if d.ClickErr != nil {
		return d.ClickErr
	}
	if d.OnClick != nil {
		d.OnClick(selector, d)
	}
	return nil
}

func (d *FakeDriver) Fill(ctx context.Context, selector, value string) error {
	return nil
}

func (d *FakeDriver) Press(ctx context.Context, selector, key string) error {
	return nil
}

func (d *FakeDriver) Submit(ctx context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Submits = append(d.Submits, selector)
	if !d.SubmitFires {
		return false, nil
	}
	if d.OnSubmit != nil {
		d.OnSubmit(selector, d)
	}
	return true, nil
}

func (d *FakeDriver) Screenshot(ctx context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ScreenshotErr != nil {
		return d.ScreenshotErr
	}
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		return fmt.Errorf("fake screenshot write failed: %w", err)
	}
	d.Screenshots = append(d.Screenshots, path)
	return nil
}

func (d *FakeDriver) HTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Current.HTML, nil
}

func (d *FakeDriver) CurrentURL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Current.URL, nil
}

func (d *FakeDriver) Events() *browser.EventLog {
	return d.events
}

// RecordNetwork appends a network event to the fake's event log, as the CDP
// monitor would.
func (d *FakeDriver) RecordNetwork(ev schemas.NetworkEvent) {
	d.events.AppendNetwork(ev)
}

// SetPage swaps the live page state. Callers outside OnClick/OnSubmit hooks
// only; hooks already hold the lock.
func (d *FakeDriver) SetPage(page PageState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Current = page
}

var _ browser.Driver = (*FakeDriver)(nil)
