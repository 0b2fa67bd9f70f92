package app_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/shpitdev/contact-enricher/internal/app"
	"github.com/shpitdev/contact-enricher/internal/cache"
	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/kv"
	"github.com/shpitdev/contact-enricher/internal/lookup"
	"github.com/shpitdev/contact-enricher/internal/scheduler"
	"github.com/shpitdev/contact-enricher/internal/settings"
	"github.com/shpitdev/contact-enricher/internal/sheet"
)

type staticSource map[string]string

func (s staticSource) Fetch(_ context.Context, locator string) (sheet.Document, error) {
	body, ok := s[locator]
	if !ok {
		return sheet.Document{}, &sheet.SourceUnavailableError{Locator: locator, Reason: "not found"}
	}
	return sheet.Document{Locator: locator, Format: sheet.EncodingCSV, Body: []byte(body)}, nil
}

// keyedGateway behaves like a real provider: it needs a credential and can be
// told to reject it.
type keyedGateway struct {
	creds   lookup.Credentials
	reject  bool
	limited bool
	calls   int
}

func (g *keyedGateway) Name() string { return "keyed" }

func (g *keyedGateway) Lookup(ctx context.Context, batch []contact.Record) (lookup.Results, error) {
	if _, err := lookup.Precheck(g.creds, batch); err != nil {
		return nil, err
	}
	g.calls++
	switch {
	case g.reject:
		return lookup.FailAll(batch, lookup.InvalidCredential, "API key not valid"), nil
	case g.limited:
		return lookup.FailAll(batch, lookup.RateLimited, "quota"), nil
	}
	return lookup.Stub{City: "Paris, FR"}.Lookup(ctx, batch)
}

const contactsCSV = "First Name,Last Name,Job Title,Company\n" +
	"Ann,Lee,,Acme\n" +
	"Bob,Ray,CTO,\n" +
	"Cy,Oh,Dev,Globex\n"

func newSession(t *testing.T, store kv.Store, gw *keyedGateway) *app.Session {
	t.Helper()
	return newSessionWithMonitor(t, store, gw, nil)
}

func newSessionWithMonitor(t *testing.T, store kv.Store, gw *keyedGateway, mon *scheduler.Monitor) *app.Session {
	t.Helper()
	st := settings.New(store)
	require.NoError(t, st.Load(context.Background(), "test-key"))
	gw.creds = st
	s, err := app.New(app.Options{
		Store:    store,
		Settings: st,
		Source:   staticSource{"contacts": contactsCSV},
		Gateway:  gw,
		Scheduler: scheduler.Options{
			BatchSize: 2,
			Limiter:   rate.NewLimiter(rate.Inf, 1),
			Sleep:     func(context.Context, time.Duration) error { return nil },
			Monitor:   mon,
		},
	})
	require.NoError(t, err)
	return s
}

func TestSession_LoadRunExport(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	gw := &keyedGateway{}
	s := newSession(t, store, gw)

	sum, err := s.Load(ctx, "contacts")
	require.NoError(t, err)
	assert.Equal(t, app.LoadSummary{Locator: "contacts", Records: 3, Pending: 3}, sum)

	rep, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.Completed, rep.Outcome)
	assert.Equal(t, 2, rep.Batches)
	assert.Equal(t, 2, gw.calls)

	recs := s.Records()
	assert.Equal(t, "Paris, FR", recs[0].City)
	assert.Equal(t, contact.StatusFound, recs[0].Status)
	assert.Equal(t, contact.NotFoundCity, recs[1].City, "stub reports not found without a company")
	assert.Equal(t, contact.StatusNotFound, recs[1].Status)

	var buf bytes.Buffer
	require.NoError(t, s.Export(&buf))
	assert.Equal(t,
		"First Name,Last Name,Job Title,Company,City\n"+
			"Ann,Lee,,Acme,\"Paris, FR\"\n"+
			"Bob,Ray,CTO,,Not Found\n"+
			"Cy,Oh,Dev,Globex,\"Paris, FR\"\n",
		buf.String())
}

func TestSession_ReloadUsesCache(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	first := newSession(t, store, &keyedGateway{})
	_, err := first.Load(ctx, "contacts")
	require.NoError(t, err)
	_, err = first.Run(ctx)
	require.NoError(t, err)

	gw := &keyedGateway{}
	second := newSession(t, store, gw)
	sum, err := second.Load(ctx, "")
	require.NoError(t, err, "last locator is remembered")
	assert.Equal(t, 3, sum.Cached)
	assert.Equal(t, 1, sum.Pending, "not_found records are retried")

	_, err = second.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, gw.calls)
}

func TestSession_InvalidCredential(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	gw := &keyedGateway{reject: true}
	s := newSession(t, store, gw)
	require.NoError(t, s.SetCredential(ctx, "bad-key"))

	_, err := s.Load(ctx, "contacts")
	require.NoError(t, err)

	rep, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StoppedFatal, rep.Outcome)
	assert.Equal(t, lookup.InvalidCredential, rep.Fatal)
	assert.Equal(t, 1, gw.calls)
	assert.Empty(t, s.Settings().APIKey(), "credential cleared")

	recs := s.Records()
	assert.Equal(t, contact.InvalidCredentialCity, recs[0].City)
	assert.Equal(t, contact.NotProcessedCity, recs[2].City)

	// The next run fails before any network call.
	_, err = s.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lookup.ErrMissingCredential))
	assert.Equal(t, 1, gw.calls)
}

func TestSession_Edit(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := newSession(t, store, &keyedGateway{})
	_, err := s.Load(ctx, "contacts")
	require.NoError(t, err)

	city := " Lisbon, PT "
	title := "Founder"
	got, err := s.Edit(ctx, 1, app.Patch{City: &city, JobTitle: &title})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon, PT", got.City)
	assert.Equal(t, "Founder", got.JobTitle)
	assert.Equal(t, contact.StatusFound, got.Status)

	m, err := cache.New(store).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.Entry{City: "Lisbon, PT", Status: contact.StatusFound}, m[contact.Key(got)])

	empty := ""
	got, err = s.Edit(ctx, 1, app.Patch{City: &empty})
	require.NoError(t, err)
	assert.Equal(t, contact.StatusIdle, got.Status)
	assert.True(t, got.Eligible())

	_, err = s.Edit(ctx, 99, app.Patch{City: &city})
	assert.ErrorIs(t, err, app.ErrUnknownRecord)
}

func TestSession_LookupOne(t *testing.T) {
	ctx := context.Background()
	gw := &keyedGateway{}
	s := newSession(t, kv.NewMemory(), gw)

	_, err := s.LookupOne(ctx, 0)
	assert.ErrorIs(t, err, app.ErrNoRecords)

	_, err = s.Load(ctx, "contacts")
	require.NoError(t, err)

	got, err := s.LookupOne(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Paris, FR", got.City)
	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, contact.StatusIdle, s.Records()[0].Status)
}

func TestSession_LoadErrors(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, kv.NewMemory(), &keyedGateway{})

	_, err := s.Load(ctx, "")
	assert.ErrorIs(t, err, app.ErrNoSource)

	_, err = s.Load(ctx, "missing")
	var su *sheet.SourceUnavailableError
	assert.True(t, errors.As(err, &su))

	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, app.ErrNoRecords)
}

func TestSession_ResetSettings(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := newSession(t, store, &keyedGateway{})
	require.NoError(t, s.SetCredential(ctx, "k2"))
	_, err := s.Load(ctx, "contacts")
	require.NoError(t, err)
	_, err = s.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, s.ResetSettings(ctx))
	assert.Empty(t, s.Settings().APIKey())
	for _, key := range kv.Keys() {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	assert.Len(t, s.Records(), 3, "working set survives a reset")
}

func TestSession_QuotaAdvisoryAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	fired := 0

	// Every session stands for a separate enricher invocation.
	run := func(limited bool) scheduler.Report {
		t.Helper()
		mon := scheduler.NewMonitor(clock, func() { fired++ })
		s := newSessionWithMonitor(t, store, &keyedGateway{limited: limited}, mon)
		_, err := s.Load(ctx, "contacts")
		require.NoError(t, err)
		rep, err := s.Run(ctx)
		require.NoError(t, err)
		return rep
	}

	rep := run(true)
	assert.Equal(t, lookup.RateLimited, rep.Fatal)
	assert.False(t, rep.QuotaExhausted)
	assert.Equal(t, 0, fired)

	now = now.Add(65 * time.Second)
	rep = run(true)
	assert.Equal(t, lookup.RateLimited, rep.Fatal)
	assert.True(t, rep.QuotaExhausted, "second stop a minute later signals")
	assert.Equal(t, 1, fired)

	now = now.Add(10 * time.Minute)
	rep = run(false)
	assert.Equal(t, scheduler.Completed, rep.Outcome)
	assert.False(t, rep.QuotaExhausted)
	_, ok, err := store.Get(ctx, kv.KeyRateLimitStops)
	require.NoError(t, err)
	assert.False(t, ok, "a successful lookup clears the history")

	now = now.Add(10 * time.Minute)
	rep = run(true)
	assert.Equal(t, lookup.RateLimited, rep.Fatal)
	assert.False(t, rep.QuotaExhausted, "one stop after a success is not enough")
	assert.Equal(t, 1, fired)
}

func TestSession_ResetForgetsQuotaHistory(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	s := newSession(t, store, &keyedGateway{limited: true})
	_, err := s.Load(ctx, "contacts")
	require.NoError(t, err)
	_, err = s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Monitor().Hits())

	require.NoError(t, s.ResetSettings(ctx))
	assert.Equal(t, 0, s.Monitor().Hits())
	_, ok, err := store.Get(ctx, kv.KeyRateLimitStops)
	require.NoError(t, err)
	assert.False(t, ok)
}
