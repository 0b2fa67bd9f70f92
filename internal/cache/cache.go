package cache

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/kv"
)

// Entry is the last known enrichment result for one identity key.
type Entry struct {
	City   string         `json:"city"`
	Status contact.Status `json:"status"`
}

// Map is keyed by contact.Key.
type Map map[string]Entry

// Cache persists enrichment results across re-imports.
type Cache struct {
	store kv.Store
}

// New returns a Cache stored under kv.KeyCache in store.
func New(store kv.Store) *Cache {
	return &Cache{store: store}
}

// Load returns the persisted mapping. A missing or unreadable blob yields an empty mapping.
func (c *Cache) Load(ctx context.Context) (Map, error) {
	raw, ok, err := c.store.Get(ctx, kv.KeyCache)
	if err != nil {
		return nil, eris.Wrap(err, "cache: load")
	}
	if !ok || raw == "" {
		return Map{}, nil
	}
	var m Map
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		zap.L().Warn("cache: discarding unreadable cache blob", zap.Error(err))
		return Map{}, nil
	}
	if m == nil {
		m = Map{}
	}
	return m, nil
}

// Save replaces the persisted mapping with m.
func (c *Cache) Save(ctx context.Context, m Map) error {
	if m == nil {
		m = Map{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "cache: marshal")
	}
	return eris.Wrap(c.store.Set(ctx, kv.KeyCache, string(b)), "cache: save")
}

// SaveRecords persists a snapshot of the working set.
func (c *Cache) SaveRecords(ctx context.Context, records []contact.Record) error {
	return c.Save(ctx, Snapshot(records))
}

// Clear removes the persisted mapping.
func (c *Cache) Clear(ctx context.Context) error {
	return eris.Wrap(c.store.Remove(ctx, kv.KeyCache), "cache: clear")
}

// Snapshot builds a mapping from records. Records that were never enriched are skipped.
func Snapshot(records []contact.Record) Map {
	m := make(Map, len(records))
	for _, r := range records {
		if r.City == "" && (r.Status == contact.StatusIdle || r.Status == "") {
			continue
		}
		m[contact.Key(r)] = Entry{City: r.City, Status: r.Status}
	}
	return m
}

// Merge overlays cached City/Status onto freshly imported records.
// Identity fields are never touched.
func Merge(records []contact.Record, m Map) []contact.Record {
	out := contact.Clone(records)
	if len(m) == 0 {
		return out
	}
	for i := range out {
		e, ok := m[contact.Key(out[i])]
		if !ok || !e.Status.Valid() {
			continue
		}
		out[i].City = e.City
		out[i].Status = e.Status
		if e.Status == contact.StatusInProgress {
			// The process that started this lookup never applied it.
			out[i].Status = contact.StatusError
			out[i].City = contact.NotProcessedCity
		}
	}
	return out
}
