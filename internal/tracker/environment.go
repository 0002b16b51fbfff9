package tracker

import (
	"context"
	"sync"
	"time"

	"pulse/internal/identity"
)

// Environment is the host the tracker is embedded in. It supplies the
// browser-like signals the tracker reads; interactions arrive through the
// Tracker's Handle methods.
type Environment interface {
	identity.SignalSource

	DoNotTrack() bool
	URL() string
	Referrer() string
	Title() string
	UserAgent() string
	Language() string
	Platform() string
	Viewport() (width, height int)
	Visible() bool
	Online() bool
}

// ClickTarget describes a clicked element
type ClickTarget struct {
	Tag   string
	Role  string
	Href  string
	Text  string
	Class string
	// Matches reports whether the element matches a CSS selector. A nil
	// Matches never matches.
	Matches func(selector string) bool
}

// Form describes a submitted form
type Form struct {
	ID     string
	Action string
	Method string
}

// PerformanceTiming holds page load measurements
type PerformanceTiming struct {
	LoadTime       time.Duration
	DOMReady       time.Duration
	FirstByte      time.Duration
	DNSLookup      time.Duration
	TCPConnect     time.Duration
	ServerResponse time.Duration
}

func (p PerformanceTiming) properties() map[string]any {
	return map[string]any{
		"load_time":       p.LoadTime.Milliseconds(),
		"dom_ready":       p.DOMReady.Milliseconds(),
		"first_byte":      p.FirstByte.Milliseconds(),
		"dns_lookup":      p.DNSLookup.Milliseconds(),
		"tcp_connect":     p.TCPConnect.Milliseconds(),
		"server_response": p.ServerResponse.Milliseconds(),
	}
}

// StaticEnvironment is a fixed Environment for servers, CLIs and tests
type StaticEnvironment struct {
	mu sync.RWMutex

	DNT            bool
	PageURL        string
	PageReferrer   string
	PageTitle      string
	Agent          string
	Lang           string
	OS             string
	ViewportWidth  int
	ViewportHeight int
	Hidden         bool
	Offline        bool
	Signals        identity.Signals
	SignalsErr     error
}

func (e *StaticEnvironment) FingerprintSignals(context.Context) (identity.Signals, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Signals, e.SignalsErr
}

func (e *StaticEnvironment) DoNotTrack() bool { e.mu.RLock(); defer e.mu.RUnlock(); return e.DNT }
func (e *StaticEnvironment) URL() string      { e.mu.RLock(); defer e.mu.RUnlock(); return e.PageURL }
func (e *StaticEnvironment) Referrer() string { e.mu.RLock(); defer e.mu.RUnlock(); return e.PageReferrer }
func (e *StaticEnvironment) Title() string    { e.mu.RLock(); defer e.mu.RUnlock(); return e.PageTitle }
func (e *StaticEnvironment) UserAgent() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Agent
}
func (e *StaticEnvironment) Language() string { e.mu.RLock(); defer e.mu.RUnlock(); return e.Lang }
func (e *StaticEnvironment) Platform() string { e.mu.RLock(); defer e.mu.RUnlock(); return e.OS }
func (e *StaticEnvironment) Viewport() (int, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ViewportWidth, e.ViewportHeight
}
func (e *StaticEnvironment) Visible() bool { e.mu.RLock(); defer e.mu.RUnlock(); return !e.Hidden }
func (e *StaticEnvironment) Online() bool  { e.mu.RLock(); defer e.mu.RUnlock(); return !e.Offline }

// SetHidden changes page visibility
func (e *StaticEnvironment) SetHidden(hidden bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Hidden = hidden
}

// SetURL changes the current page URL
func (e *StaticEnvironment) SetURL(u string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.PageURL = u
}
