package lookup

import (
	"context"
	"strings"

	"github.com/shpitdev/contact-enricher/internal/contact"
)

// Stub is a deterministic offline Gateway.
//
// Companies containing "error.test" fail with a ServiceError, records without a
// company are not found, and everyone else is placed in City.
type Stub struct {
	City string
}

func (Stub) Name() string {
	return "stub"
}

func (s Stub) Lookup(_ context.Context, batch []contact.Record) (Results, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	city := s.City
	if city == "" {
		city = "Springfield, US"
	}
	res := make(Results, len(batch))
	for _, r := range batch {
		company := strings.ToLower(strings.TrimSpace(r.Company))
		switch {
		case strings.Contains(company, "error.test"):
			res[r.ID] = Failed(ServiceError, "stub: forced error")
		case company == "":
			res[r.ID] = NotFound()
		default:
			res[r.ID] = Found(city, r.JobTitle)
		}
	}
	return res, nil
}
