package contact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shpitdev/contact-enricher/internal/contact"
)

func TestKey(t *testing.T) {
	a := contact.Record{FirstName: " Ann ", LastName: "LEE", Company: "Acme Corp "}
	b := contact.Record{FirstName: "ann", LastName: "lee", Company: "acme corp", City: "Paris", JobTitle: "CTO"}

	assert.Equal(t, "ann|lee|acme corp", contact.Key(a))
	assert.Equal(t, contact.Key(a), contact.Key(b), "mutable fields must not affect the key")
	assert.Equal(t, "||", contact.Key(contact.Record{}))
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name string
		rec  contact.Record
		want bool
	}{
		{name: "idle_empty", rec: contact.Record{Status: contact.StatusIdle}, want: true},
		{name: "found", rec: contact.Record{City: "Paris, FR", Status: contact.StatusFound}, want: false},
		{name: "not_found", rec: contact.Record{City: contact.NotFoundCity, Status: contact.StatusNotFound}, want: true},
		{name: "error_stale_city", rec: contact.Record{City: "Berlin", Status: contact.StatusError}, want: true},
		{name: "error_empty", rec: contact.Record{Status: contact.StatusError}, want: true},
		{name: "idle_with_city", rec: contact.Record{City: "Oslo", Status: contact.StatusIdle}, want: false},
		{name: "in_progress_empty", rec: contact.Record{Status: contact.StatusInProgress}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Eligible())
		})
	}
}

func TestEligibleIndicesKeepsOrder(t *testing.T) {
	in := []contact.Record{
		{ID: 0},
		{ID: 1, City: "Paris", Status: contact.StatusFound},
		{ID: 2, City: "x", Status: contact.StatusError},
		{ID: 3, City: "Oslo", Status: contact.StatusIdle},
		{ID: 4, City: contact.NotFoundCity, Status: contact.StatusNotFound},
	}
	assert.Equal(t, []int{0, 2, 4}, contact.EligibleIndices(in))
	assert.Nil(t, contact.EligibleIndices(in[1:2]))
}

func TestCountsAndClone(t *testing.T) {
	in := []contact.Record{
		{Status: contact.StatusFound, City: "a"},
		{Status: contact.StatusFound, City: "b"},
		{Status: contact.StatusError},
	}
	counts := contact.Counts(in)
	assert.Equal(t, 2, counts[contact.StatusFound])
	assert.Equal(t, 1, counts[contact.StatusError])

	cp := contact.Clone(in)
	cp[0].City = "changed"
	assert.Equal(t, "a", in[0].City)
	assert.Nil(t, contact.Clone(nil))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, contact.StatusNotFound.Valid())
	assert.False(t, contact.Status("done").Valid())
}
