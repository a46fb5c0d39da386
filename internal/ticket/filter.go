package ticket

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Filter narrows a set of tickets. The zero value matches everything.
type Filter struct {
	Priority Priority `json:"priority,omitempty"`
	Search   string   `json:"search,omitempty"`
}

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(norm.NFC.String(s))
}

// IsZero reports whether f matches every ticket.
func (f Filter) IsZero() bool {
	return f.Priority == "" && strings.TrimSpace(f.Search) == ""
}

// Match reports whether t passes the filter. Search is a case-insensitive
// substring match on title or category.
func (f Filter) Match(t Ticket) bool {
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	q := strings.TrimSpace(f.Search)
	if q == "" {
		return true
	}
	q = fold(q)
	return strings.Contains(fold(t.Title), q) || strings.Contains(fold(t.Category), q)
}

// Apply returns the tickets in ts that match f, in their original order.
// ts is not modified.
func (f Filter) Apply(ts []Ticket) []Ticket {
	out := make([]Ticket, 0, len(ts))
	for _, t := range ts {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

// Values encodes f as authority query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Priority != "" {
		v.Set("priority", string(f.Priority))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		v.Set("q", q)
	}
	return v
}

// FilterFromValues is the inverse of Values. An unknown priority is ignored.
func FilterFromValues(v url.Values) Filter {
	var f Filter
	if p := v.Get("priority"); p != "" {
		if pr, err := ParsePriority(p); err == nil {
			f.Priority = pr
		}
	}
	f.Search = v.Get("q")
	return f
}
