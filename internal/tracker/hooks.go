package tracker

import (
	"math"
	"net/url"
	"strings"

	"pulse/internal/license"
)

// Host hooks. They are no-ops until Start has succeeded.

// HandleClick tracks link and button clicks and fires selector goals
func (t *Tracker) HandleClick(target ClickTarget) {
	if !t.live() {
		return
	}

	switch {
	case strings.EqualFold(target.Tag, "a"):
		t.TrackEvent(EventClick, map[string]any{
			"element":  "link",
			"href":     target.Href,
			"text":     strings.TrimSpace(target.Text),
			"external": t.isExternal(target.Href),
		})
	case strings.EqualFold(target.Tag, "button") || target.Role == "button":
		t.TrackEvent(EventClick, map[string]any{
			"element": "button",
			"text":    strings.TrimSpace(target.Text),
			"class":   target.Class,
		})
	}

	if target.Matches == nil {
		return
	}
	for _, g := range t.goalsSnapshot() {
		if g.Selector != "" && target.Matches(g.Selector) {
			t.TrackConversion(g.ID, g.Value, g.Currency)
		}
	}
}

// isExternal reports whether href leaves the current host
func (t *Tracker) isExternal(href string) bool {
	if !strings.HasPrefix(href, "http") {
		return false
	}
	t.mu.Lock()
	current := t.currentURL
	t.mu.Unlock()

	cur, err := url.Parse(current)
	if err != nil || cur.Hostname() == "" {
		return true
	}
	return !strings.Contains(href, cur.Hostname())
}

// HandleSubmit tracks a form submission
func (t *Tracker) HandleSubmit(f Form) {
	if !t.live() {
		return
	}
	t.TrackEvent(EventFormSubmit, map[string]any{
		"form_id":     f.ID,
		"form_action": f.Action,
		"form_method": f.Method,
	})
}

// HandleScroll tracks scroll depth milestones at every 25% of the
// scrollable height, each at most once per page
func (t *Tracker) HandleScroll(scrollY, scrollHeight, innerHeight float64) {
	if !t.live() {
		return
	}
	scrollable := scrollHeight - innerHeight
	if scrollable <= 0 {
		return
	}

	percent := int(math.Round(scrollY / scrollable * 100))
	milestone := min(percent/25*25, 100)

	t.mu.Lock()
	from := t.maxScroll
	if milestone > from {
		t.maxScroll = milestone
	}
	t.mu.Unlock()

	for depth := from + 25; depth <= milestone; depth += 25 {
		t.TrackEvent(EventScroll, map[string]any{"depth": depth})
	}
}

// HandleLoad tracks page load performance
func (t *Tracker) HandleLoad(timing PerformanceTiming) {
	if !t.live() || !t.lic.HasFeature(license.FeatureBasicTracking) {
		return
	}
	t.TrackEvent(EventPerformance, timing.properties())
}

// HandleNavigation records an in-page navigation and fires URL goals
func (t *Tracker) HandleNavigation(rawURL string) {
	if !t.live() {
		return
	}

	t.mu.Lock()
	t.currentURL = rawURL
	t.maxScroll = 0
	t.mu.Unlock()

	for _, g := range t.goalsSnapshot() {
		if g.pattern != nil && g.pattern.MatchString(rawURL) {
			t.TrackConversion(g.ID, g.Value, g.Currency)
		}
	}
}

// HandleError tracks a host error
func (t *Tracker) HandleError(message, source string) {
	if !t.live() {
		return
	}
	t.TrackEvent(EventError, map[string]any{"message": message, "source": source})
}

func (t *Tracker) live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized && !t.closed
}

func (t *Tracker) goalsSnapshot() []compiledGoal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]compiledGoal, len(t.goals))
	copy(out, t.goals)
	return out
}
