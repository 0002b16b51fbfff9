package privacy

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
)

// Banner layouts
const (
	StyleMinimal  = "minimal"
	StyleDetailed = "detailed"
)

// ActionID identifies a banner button
type ActionID string

const (
	ActionAcceptAll       ActionID = "pulse-accept-all"
	ActionManage          ActionID = "pulse-manage-consent"
	ActionRejectAll       ActionID = "pulse-reject-all"
	ActionSavePreferences ActionID = "pulse-save-preferences"
	ActionClose           ActionID = "pulse-close-banner"
)

// Action is one banner button
type Action struct {
	ID    ActionID
	Label string
	// Kind is primary, secondary or text
	Kind string
}

// CategoryOption is one checkbox of the detailed layout
type CategoryOption struct {
	Category    Category
	Label       string
	Description string
	Checked     bool
	Disabled    bool
}

// Link is a legal document link
type Link struct {
	Label string
	URL   string
}

// BannerView is everything needed to draw the banner
type BannerView struct {
	Visible    bool
	Layout     string
	Position   string
	Backdrop   bool
	Regulation Regulation
	Title      string
	Message    string
	Categories []CategoryOption
	Links      []Link
	Actions    []Action
}

// BannerPresenter displays banner views on the host
type BannerPresenter interface {
	Show(view BannerView)
	Hide()
}

type logPresenter struct {
	logger *slog.Logger
}

func (p logPresenter) Show(v BannerView) {
	p.logger.Info("consent banner shown", slog.String("layout", v.Layout), slog.String("regulation", string(v.Regulation)))
}

func (p logPresenter) Hide() {
	p.logger.Debug("consent banner hidden")
}

// Banner returns the view for the current state. It is not visible unless
// the manager is awaiting consent.
func (m *Manager) Banner() BannerView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bannerLocked()
}

func (m *Manager) bannerLocked() BannerView {
	reg := RegulationGDPR
	if m.location != nil && m.location.Regulation != "" {
		reg = m.location.Regulation
	}
	return BuildBanner(m.cfg.Position, m.layout, reg, m.consent, m.state == StateAwaitingConsent, links(m.cfg.PrivacyPolicyURL, m.cfg.TermsOfServiceURL, m.cfg.CookiePolicyURL))
}

func links(privacy, terms, cookies string) []Link {
	var out []Link
	if privacy != "" {
		out = append(out, Link{Label: "Privacy Policy", URL: privacy})
	}
	if terms != "" {
		out = append(out, Link{Label: "Terms of Service", URL: terms})
	}
	if cookies != "" {
		out = append(out, Link{Label: "Cookie Policy", URL: cookies})
	}
	return out
}

// BuildBanner is the pure view function behind Manager.Banner
func BuildBanner(position, layout string, reg Regulation, consent ConsentSettings, visible bool, legal []Link) BannerView {
	v := BannerView{
		Visible:    visible,
		Layout:     layout,
		Position:   position,
		Backdrop:   position == "center",
		Regulation: reg,
	}

	if layout != StyleDetailed {
		v.Layout = StyleMinimal
		v.Title = "Privacy Notice"
		v.Message = fmt.Sprintf("We use cookieless tracking to analyze site usage and improve your experience while respecting your privacy under %s.", reg)
		v.Actions = []Action{
			{ID: ActionAcceptAll, Label: "Accept All", Kind: "primary"},
			{ID: ActionManage, Label: "Manage Preferences", Kind: "secondary"},
			{ID: ActionRejectAll, Label: "Reject All", Kind: "text"},
		}
		return v
	}

	v.Title = "Your Privacy Matters"
	v.Message = fmt.Sprintf("We respect your privacy and use cookieless technology to provide analytics without invasive tracking. Under %s, you can control what data we collect.", reg)
	v.Categories = []CategoryOption{
		{Category: CategoryNecessary, Label: "Necessary", Description: "Required for basic site functionality", Checked: true, Disabled: true},
		{Category: CategoryAnalytics, Label: "Analytics", Description: "Helps us understand how you use our site", Checked: consent.Analytics},
		{Category: CategoryMarketing, Label: "Marketing", Description: "Allows us to show relevant content", Checked: consent.Marketing},
		{Category: CategoryPersonalization, Label: "Personalization", Description: "Customizes your experience", Checked: consent.Personalization},
	}
	v.Links = legal
	v.Actions = []Action{
		{ID: ActionSavePreferences, Label: "Save Preferences", Kind: "primary"},
		{ID: ActionAcceptAll, Label: "Accept All", Kind: "secondary"},
		{ID: ActionClose, Label: "×", Kind: "close"},
	}
	return v
}

var bannerTemplate = template.Must(template.New("banner").Parse(`{{if .Visible -}}
{{if .Backdrop}}<div id="pulse-consent-backdrop" class="pulse-consent-backdrop"></div>
{{end -}}
<div id="pulse-consent-banner" class="pulse-consent-banner pulse-consent-{{.Position}} pulse-consent-{{.Layout}}" role="dialog" aria-live="polite">
  <div class="pulse-consent-content">
    <div class="pulse-consent-text">
      <h4>{{.Title}}</h4>
      <p>{{.Message}}</p>
    </div>
{{- if .Categories}}
    <div class="pulse-consent-categories">
{{- range .Categories}}
      <div class="pulse-category">
        <label class="pulse-category-label">
          <input type="checkbox" id="pulse-{{.Category}}-consent" name="{{.Category}}"{{if .Checked}} checked{{end}}{{if .Disabled}} disabled{{end}}>
          <strong>{{.Label}}</strong> - {{.Description}}
        </label>
      </div>
{{- end}}
    </div>
{{- end}}
{{- if .Links}}
    <div class="pulse-consent-links">
{{- range .Links}}
      <a href="{{.URL}}" target="_blank" rel="noopener">{{.Label}}</a>
{{- end}}
    </div>
{{- end}}
    <div class="pulse-consent-actions">
{{- range .Actions}}
      <button id="{{.ID}}" class="pulse-btn pulse-btn-{{.Kind}}" data-action="{{.ID}}">{{.Label}}</button>
{{- end}}
    </div>
  </div>
</div>
{{end}}`))

// RenderBanner renders a view as an HTML fragment. An invisible view
// renders as the empty string.
func RenderBanner(v BannerView) (string, error) {
	var buf bytes.Buffer
	if err := bannerTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render consent banner: %w", err)
	}
	return buf.String(), nil
}
