package settings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/contact-enricher/internal/kv"
	"github.com/shpitdev/contact-enricher/internal/redact"
)

// Settings is the session configuration shared by the scheduler and the lookup
// providers: the API credential and the source locator.
//
// The credential is held in memory once loaded; InvalidateCredential is the only
// path that clears it during a session.
type Settings struct {
	store kv.Store

	mu         sync.RWMutex
	credential string
}

// New returns Settings backed by store.
func New(store kv.Store) *Settings {
	return &Settings{store: store}
}

// Load reads the stored credential. When none is stored, fallback (typically
// from the environment) is used for this session without being persisted,
// unless it is the key the provider last rejected.
func (s *Settings) Load(ctx context.Context, fallback string) error {
	v, ok, err := s.store.Get(ctx, kv.KeyCredential)
	if err != nil {
		return eris.Wrap(err, "settings: load credential")
	}
	if ok && strings.TrimSpace(v) != "" {
		s.setCredential(strings.TrimSpace(v))
		return nil
	}

	fallback = strings.TrimSpace(fallback)
	if fallback != "" {
		rejected, _, err := s.store.Get(ctx, kv.KeyRejectedCredential)
		if err != nil {
			return eris.Wrap(err, "settings: load rejected credential")
		}
		if rejected != "" && rejected == fingerprint(fallback) {
			zap.L().Warn("settings: ignoring previously rejected credential",
				zap.String("credential", redact.Credential(fallback)))
			fallback = ""
		}
	}
	s.setCredential(fallback)
	return nil
}

func (s *Settings) setCredential(key string) {
	s.mu.Lock()
	s.credential = key
	s.mu.Unlock()
}

// APIKey returns the current credential, or "" when none is configured.
func (s *Settings) APIKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credential
}

// SetCredential stores a new credential. An explicitly entered key is trusted
// even if it was rejected before.
func (s *Settings) SetCredential(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return eris.New("settings: credential must not be empty")
	}
	if err := s.store.Set(ctx, kv.KeyCredential, key); err != nil {
		return eris.Wrap(err, "settings: store credential")
	}
	if err := s.store.Remove(ctx, kv.KeyRejectedCredential); err != nil {
		return eris.Wrap(err, "settings: clear rejected credential")
	}
	s.setCredential(key)
	return nil
}

// InvalidateCredential forgets the credential after the provider rejected it.
// The user must enter a new one before the next run; the same key supplied
// again through the environment is ignored.
func (s *Settings) InvalidateCredential(ctx context.Context) error {
	s.mu.Lock()
	old := s.credential
	s.credential = ""
	s.mu.Unlock()

	zap.L().Warn("settings: credential invalidated", zap.String("credential", redact.Credential(old)))
	if old != "" {
		if err := s.store.Set(ctx, kv.KeyRejectedCredential, fingerprint(old)); err != nil {
			return eris.Wrap(err, "settings: record rejected credential")
		}
	}
	return eris.Wrap(s.store.Remove(ctx, kv.KeyCredential), "settings: remove credential")
}

// SourceLocator returns the last used source locator, or "".
func (s *Settings) SourceLocator(ctx context.Context) (string, error) {
	v, _, err := s.store.Get(ctx, kv.KeySource)
	if err != nil {
		return "", eris.Wrap(err, "settings: load source locator")
	}
	return v, nil
}

// SetSourceLocator remembers locator for later sessions.
func (s *Settings) SetSourceLocator(ctx context.Context, locator string) error {
	return eris.Wrap(s.store.Set(ctx, kv.KeySource, strings.TrimSpace(locator)), "settings: store source locator")
}

type rateLimitStops struct {
	Stops     []time.Time `json:"stops"`
	Signalled bool        `json:"signalled,omitempty"`
}

// LoadRateLimitStops returns the persisted rate-limit stop history.
// A corrupt value is logged and treated as empty.
func (s *Settings) LoadRateLimitStops(ctx context.Context) ([]time.Time, bool, error) {
	v, ok, err := s.store.Get(ctx, kv.KeyRateLimitStops)
	if err != nil {
		return nil, false, eris.Wrap(err, "settings: load rate limit stops")
	}
	if !ok || strings.TrimSpace(v) == "" {
		return nil, false, nil
	}
	var rs rateLimitStops
	if err := json.Unmarshal([]byte(v), &rs); err != nil {
		zap.L().Warn("settings: discarding unreadable rate limit stops", zap.Error(err))
		return nil, false, nil
	}
	return rs.Stops, rs.Signalled, nil
}

// SaveRateLimitStops persists the stop history. An empty, unsignalled history
// removes the key.
func (s *Settings) SaveRateLimitStops(ctx context.Context, stops []time.Time, signalled bool) error {
	if len(stops) == 0 && !signalled {
		return eris.Wrap(s.store.Remove(ctx, kv.KeyRateLimitStops), "settings: clear rate limit stops")
	}
	b, err := json.Marshal(rateLimitStops{Stops: stops, Signalled: signalled})
	if err != nil {
		return eris.Wrap(err, "settings: marshal rate limit stops")
	}
	return eris.Wrap(s.store.Set(ctx, kv.KeyRateLimitStops, string(b)), "settings: store rate limit stops")
}

// Reset clears every persisted key, including the enrichment cache.
func (s *Settings) Reset(ctx context.Context) error {
	for _, key := range kv.Keys() {
		if err := s.store.Remove(ctx, key); err != nil {
			return eris.Wrapf(err, "settings: reset %s", key)
		}
	}
	s.setCredential("")
	return nil
}

// fingerprint identifies a key without storing it.
func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}
