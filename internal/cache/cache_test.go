package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-enricher/internal/cache"
	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/kv"
)

func TestCache_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cache.New(kv.NewMemory())

	m, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)

	want := cache.Map{
		"ann|lee|acme": {City: "Paris, FR", Status: contact.StatusFound},
		"bob|ray|":     {City: contact.NotFoundCity, Status: contact.StatusNotFound},
	}
	require.NoError(t, c.Save(ctx, want))
	require.NoError(t, c.Save(ctx, want), "save is idempotent")

	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, c.Clear(ctx))
	got, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCache_CorruptBlobIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, kv.KeyCache, "{not json"))

	got, err := cache.New(store).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSnapshot_SkipsNeverEnriched(t *testing.T) {
	records := []contact.Record{
		{FirstName: "Ann", LastName: "Lee", Company: "Acme", City: "Paris", Status: contact.StatusFound},
		{FirstName: "Bob", LastName: "Ray", Status: contact.StatusIdle},
		{FirstName: "Cy", LastName: "Oh", City: "Lima", Status: contact.StatusError},
		{FirstName: "Di", LastName: "Po", Status: contact.StatusError},
	}
	m := cache.Snapshot(records)
	assert.Len(t, m, 3)
	assert.NotContains(t, m, "bob|ray|")
	assert.Equal(t, cache.Entry{City: "Lima", Status: contact.StatusError}, m["cy|oh|"])
	assert.Equal(t, cache.Entry{Status: contact.StatusError}, m["di|po|"])
}

func TestMerge(t *testing.T) {
	records := []contact.Record{
		{ID: 0, FirstName: "Ann", LastName: "Lee", Company: "Acme", JobTitle: "CTO", Status: contact.StatusIdle},
		{ID: 1, FirstName: "Bob", LastName: "Ray", Status: contact.StatusIdle},
		{ID: 2, FirstName: "Cy", LastName: "Oh", Status: contact.StatusIdle},
		{ID: 3, FirstName: "Di", LastName: "Po", Status: contact.StatusIdle},
	}
	m := cache.Map{
		" ann|lee|acme": {City: "ignored", Status: contact.StatusFound},
		"ann|lee|acme":  {City: "Paris, FR", Status: contact.StatusFound},
		"cy|oh|":        {City: "", Status: contact.StatusInProgress},
		"di|po|":        {City: "Rome", Status: "bogus"},
	}

	got := cache.Merge(records, m)
	require.Len(t, got, 4)

	assert.Equal(t, "Paris, FR", got[0].City)
	assert.Equal(t, contact.StatusFound, got[0].Status)
	assert.Equal(t, "Ann", got[0].FirstName)
	assert.Equal(t, "CTO", got[0].JobTitle)
	assert.Equal(t, 0, got[0].ID)

	assert.Equal(t, contact.StatusIdle, got[1].Status)

	assert.Equal(t, contact.StatusError, got[2].Status, "stale in_progress is never revived as idle")
	assert.Equal(t, contact.NotProcessedCity, got[2].City)

	assert.Equal(t, contact.StatusIdle, got[3].Status, "invalid cached status is ignored")

	assert.Equal(t, "", records[0].City, "input is not mutated")
}
