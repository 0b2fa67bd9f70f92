package lookup

import (
	"context"
	"errors"
	"strings"

	"github.com/shpitdev/contact-enricher/internal/contact"
)

// NotFoundToken is the city value providers are instructed to return when a
// person cannot be located. Compared case-insensitively after trimming.
const NotFoundToken = "not found"

// IsNotFoundToken reports whether city is the not-found sentinel.
func IsNotFoundToken(city string) bool {
	return strings.EqualFold(strings.TrimSpace(city), NotFoundToken)
}

// Kind distinguishes the three outcome shapes.
type Kind int

const (
	KindFound Kind = iota + 1
	KindNotFound
	KindFailed
)

// ErrorKind classifies a failed lookup. The set is closed; providers map their
// own error shapes onto it and downstream code never inspects message text.
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	InvalidCredential
	RateLimited
	ServiceError
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case InvalidCredential:
		return "invalid_credential"
	case RateLimited:
		return "rate_limited"
	case ServiceError:
		return "service_error"
	}
	return "unknown"
}

// Fatal reports whether the classification halts a whole run.
func (k ErrorKind) Fatal() bool {
	return k == InvalidCredential || k == RateLimited
}

// Outcome is the per-record result of a lookup.
type Outcome struct {
	Kind     Kind
	City     string
	JobTitle string

	// Error and Message are set only for KindFailed. Message is diagnostic only.
	Error   ErrorKind
	Message string
}

// Found returns a successful outcome.
func Found(city, jobTitle string) Outcome {
	return Outcome{Kind: KindFound, City: strings.TrimSpace(city), JobTitle: strings.TrimSpace(jobTitle)}
}

// NotFound returns an outcome for a person who could not be located.
func NotFound() Outcome {
	return Outcome{Kind: KindNotFound}
}

// Failed returns a classified failure.
func Failed(kind ErrorKind, message string) Outcome {
	if kind == ErrorNone {
		kind = ServiceError
	}
	return Outcome{Kind: KindFailed, Error: kind, Message: message}
}

// Fatal reports whether o halts the run.
func (o Outcome) Fatal() bool {
	return o.Kind == KindFailed && o.Error.Fatal()
}

// Results maps record IDs to outcomes.
type Results map[int]Outcome

// Gateway looks up a batch of records.
//
// Implementations must return an outcome for every record ID in batch, must not
// retry internally, and must downgrade malformed upstream responses to
// ServiceError. The error return is reserved for a provider that cannot be used
// at all (for example a missing credential); it is returned before any network
// activity.
type Gateway interface {
	Name() string
	Lookup(ctx context.Context, batch []contact.Record) (Results, error)
}

// Credentials supplies the API key at call time.
type Credentials interface {
	APIKey() string
}

var (
	// ErrMissingCredential means no API key is configured.
	ErrMissingCredential = errors.New("lookup: missing API credential")
	// ErrEmptyBatch means Lookup was called with no records.
	ErrEmptyBatch = errors.New("lookup: empty batch")
)

// Precheck validates a batch and credential before any network activity.
func Precheck(creds Credentials, batch []contact.Record) (string, error) {
	if len(batch) == 0 {
		return "", ErrEmptyBatch
	}
	if creds == nil {
		return "", ErrMissingCredential
	}
	key := strings.TrimSpace(creds.APIKey())
	if key == "" {
		return "", ErrMissingCredential
	}
	return key, nil
}

// Complete fills in a ServiceError for every batch record missing from res and
// drops IDs that are not part of the batch.
func Complete(batch []contact.Record, res Results) Results {
	out := make(Results, len(batch))
	for _, r := range batch {
		if o, ok := res[r.ID]; ok {
			out[r.ID] = o
			continue
		}
		out[r.ID] = Failed(ServiceError, "no result")
	}
	return out
}

// FailAll assigns the same failure to every record in batch.
func FailAll(batch []contact.Record, kind ErrorKind, message string) Results {
	out := make(Results, len(batch))
	for _, r := range batch {
		out[r.ID] = Failed(kind, message)
	}
	return out
}
