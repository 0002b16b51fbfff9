package identity

import "net/url"

// Attribution holds the UTM parameters of the landing URL
type Attribution struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// ExtractUTM reads utm_* query parameters. Unparseable URLs yield an empty
// attribution.
func ExtractUTM(rawURL string) Attribution {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Attribution{}
	}
	q := u.Query()
	return Attribution{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}

// IsZero reports whether no parameter was present
func (a Attribution) IsZero() bool {
	return a == Attribution{}
}

// Params returns the parameters keyed by their query names, omitting
// absent ones
func (a Attribution) Params() map[string]string {
	out := make(map[string]string, 5)
	for k, v := range map[string]string{
		"utm_source":   a.Source,
		"utm_medium":   a.Medium,
		"utm_campaign": a.Campaign,
		"utm_term":     a.Term,
		"utm_content":  a.Content,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
