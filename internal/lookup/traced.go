package lookup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

// Traced wraps a Gateway and logs every call and its per-record outcomes.
type Traced struct {
	next   Gateway
	logger *zap.Logger

	mu       sync.Mutex
	attempts map[string]int
}

// NewTraced returns a logging decorator around next.
func NewTraced(next Gateway, logger *zap.Logger) *Traced {
	if logger == nil {
		logger = zap.L()
	}
	return &Traced{
		next:     next,
		logger:   logger.With(zap.String("provider", next.Name())),
		attempts: make(map[string]int),
	}
}

func (t *Traced) Name() string {
	return t.next.Name()
}

func (t *Traced) Lookup(ctx context.Context, batch []contact.Record) (Results, error) {
	ids := make([]int, len(batch))
	attempts := make([]int, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
		attempts[i] = t.nextAttempt(contact.Key(r))
	}

	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	t.logger.Info("lookup request",
		zap.Ints("ids", ids),
		zap.Ints("attempts", attempts),
		zap.String("deadline_in", deadlineIn),
	)

	start := time.Now()
	res, err := t.next.Lookup(ctx, batch)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.logger.Error("lookup unavailable",
			zap.Ints("ids", ids),
			zap.Duration("duration", elapsed),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return res, err
	}

	var found, notFound, failed int
	for _, r := range batch {
		o := res[r.ID]
		switch o.Kind {
		case KindFound:
			found++
		case KindNotFound:
			notFound++
		default:
			failed++
			t.logger.Warn("lookup record failed",
				zap.Int("id", r.ID),
				zap.Stringer("kind", o.Error),
				zap.String("message", redact.Secrets(o.Message)),
			)
		}
	}
	t.logger.Info("lookup response",
		zap.Ints("ids", ids),
		zap.Duration("duration", elapsed),
		zap.Int("found", found),
		zap.Int("not_found", notFound),
		zap.Int("failed", failed),
	)
	return res, nil
}

func (t *Traced) nextAttempt(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[key]++
	return t.attempts[key]
}
