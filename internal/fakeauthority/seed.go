package fakeauthority

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tariku1234/ticketdesk/internal/ticket"
)

type seedFile struct {
	Tickets []seedTicket `yaml:"tickets"`
}

type seedTicket struct {
	ID        string    `yaml:"id"`
	Title     string    `yaml:"title"`
	Category  string    `yaml:"category"`
	Priority  string    `yaml:"priority"`
	CreatedAt time.Time `yaml:"createdAt"`
}

// ParseSeed decodes a YAML seed document. Missing ids are numbered srv-1,
// srv-2, ... and a missing createdAt defaults to now.
func ParseSeed(data []byte) ([]ticket.Ticket, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}

	now := time.Now().UTC()
	out := make([]ticket.Ticket, 0, len(f.Tickets))
	for i, st := range f.Tickets {
		d, err := ticket.Draft{Title: st.Title, Category: st.Category, Priority: ticket.Priority(st.Priority)}.Normalize()
		if err != nil {
			return nil, fmt.Errorf("seed ticket %d: %w", i+1, err)
		}
		id := st.ID
		if id == "" {
			id = fmt.Sprintf("srv-%d", i+1)
		}
		created := st.CreatedAt
		if created.IsZero() {
			created = now
		}
		out = append(out, ticket.Ticket{ID: id, Title: d.Title, Category: d.Category, Priority: d.Priority, CreatedAt: created})
	}
	return out, nil
}

// LoadSeed reads a YAML seed file from path.
func LoadSeed(path string) ([]ticket.Ticket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	return ParseSeed(data)
}
