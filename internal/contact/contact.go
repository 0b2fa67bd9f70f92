package contact

import "strings"

// Status is the enrichment state of a single record.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
	StatusFound      Status = "found"
	StatusNotFound   Status = "not_found"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusInProgress, StatusFound, StatusNotFound, StatusError:
		return true
	}
	return false
}

// Human-readable markers written into the City field when no real city is known.
const (
	NotFoundCity          = "Not Found"
	RateLimitedCity       = "Rate Limited"
	NotProcessedCity      = "Not Processed"
	InvalidCredentialCity = "Invalid API Key"
)

// Record is one contact row.
//
// FirstName, LastName and Company are immutable after import; City, JobTitle,
// Status and Detail are owned by the enrichment engine.
type Record struct {
	// ID is the zero-based position among emitted records at import time.
	ID int

	FirstName string
	LastName  string
	JobTitle  string
	Company   string

	// City is empty until enriched. It may also hold one of the marker values above.
	City   string
	Status Status

	// Detail is an optional diagnostic for error states. Never exported or cached.
	Detail string
}

// Eligible reports whether the record should be (re)sent for lookup.
func (r Record) Eligible() bool {
	if r.City == "" {
		return true
	}
	return r.Status == StatusError || r.Status == StatusNotFound
}

// FullName joins the trimmed first and last names.
func (r Record) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}

// Key derives the natural identity of a record from its immutable fields.
//
// Two different people with the same name at the same company share a key;
// their enrichment results overwrite each other in the cache.
func Key(r Record) string {
	return norm(r.FirstName) + "|" + norm(r.LastName) + "|" + norm(r.Company)
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EligibleIndices returns the positions of eligible records in input order.
func EligibleIndices(records []Record) []int {
	var out []int
	for i, r := range records {
		if r.Eligible() {
			out = append(out, i)
		}
	}
	return out
}

// Counts tallies records per status.
func Counts(records []Record) map[Status]int {
	out := make(map[Status]int, 5)
	for _, r := range records {
		out[r.Status]++
	}
	return out
}

// Clone returns a copy of records that shares no backing array with the input.
func Clone(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
