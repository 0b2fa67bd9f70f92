package sheet_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contact-enricher/internal/contact"
	"github.com/shpitdev/contact-enricher/internal/sheet"
)

func TestImport_SingleRow(t *testing.T) {
	in := "First Name,Last Name,Job Title,Company\nAnn,Lee,,Acme\n"
	got, err := sheet.Import(in)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, contact.Record{
		ID:        0,
		FirstName: "Ann",
		LastName:  "Lee",
		Company:   "Acme",
		Status:    contact.StatusIdle,
	}, got[0])
}

func TestImport_SkipsBlankAndLocatedRows(t *testing.T) {
	in := strings.Join([]string{
		"Exported contacts",
		"",
		"first name,LAST NAME,Title,Organization,Location",
		"Ann,Lee,CTO,Acme,",
		",,,,",
		"Bob,Stone,CEO,Initech,\"Austin, TX\"",
		"  Cara , Diaz ,Engineer, Globex ,  ",
	}, "\n")

	got, err := sheet.Import(in)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 0, got[0].ID)
	assert.Equal(t, "Ann", got[0].FirstName)
	assert.Equal(t, "CTO", got[0].JobTitle)
	assert.Equal(t, "Acme", got[0].Company)

	assert.Equal(t, 1, got[1].ID, "IDs are positions among emitted records")
	assert.Equal(t, "Cara", got[1].FirstName)
	assert.Equal(t, "Diaz", got[1].LastName)
	assert.Equal(t, "Globex", got[1].Company)
}

func TestImport_QuotedDelimiter(t *testing.T) {
	in := "First Name,Last Name,Company\n\"Ann, Jr.\",Lee,\"Acme, \"\"Inc\"\"\"\n"
	got, err := sheet.Import(in)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ann, Jr.", got[0].FirstName)
	assert.Equal(t, `Acme, "Inc"`, got[0].Company)
}

func TestImport_StripsBOM(t *testing.T) {
	in := "\ufeffFirst Name,Last Name\nAnn,Lee\n"
	got, err := sheet.Import(in)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Ann", got[0].FirstName)
}

func TestImport_Errors(t *testing.T) {
	t.Run("no header row", func(t *testing.T) {
		_, err := sheet.Import("name,company\nAnn,Acme\n")
		var fe *sheet.FormatError
		require.True(t, errors.As(err, &fe), "got %T %v", err, err)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := sheet.Import("")
		var fe *sheet.FormatError
		require.True(t, errors.As(err, &fe), "got %T %v", err, err)
	})

	t.Run("marker present but column not exact", func(t *testing.T) {
		_, err := sheet.Import("First,Last Name\nAnn,Lee\n")
		var ce *sheet.ColumnMappingError
		require.True(t, errors.As(err, &ce), "got %T %v", err, err)
		assert.Equal(t, sheet.ColumnFirstName, ce.Column)
	})

	t.Run("last name missing", func(t *testing.T) {
		_, err := sheet.Import("First Name,Lastname\nAnn,Lee\n")
		var ce *sheet.ColumnMappingError
		require.True(t, errors.As(err, &ce), "got %T %v", err, err)
		assert.Equal(t, sheet.ColumnLastName, ce.Column)
	})
}

func TestFormat_RoundTrip(t *testing.T) {
	records := []contact.Record{
		{ID: 0, FirstName: "Ann", LastName: "Lee", JobTitle: "VP, Sales", Company: `Acme "West"`, City: "Paris, FR", Status: contact.StatusFound},
		{ID: 1, FirstName: "Bob", LastName: "Line\nBreak", Company: "Initech", Status: contact.StatusIdle},
	}

	text, err := sheet.Format(records)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "First Name,Last Name,Job Title,Company,City\n"), text)

	back, err := sheet.Import(text)
	require.NoError(t, err)
	require.Len(t, back, 2)
	for i := range records {
		assert.Equal(t, records[i].FirstName, back[i].FirstName)
		assert.Equal(t, records[i].LastName, back[i].LastName)
		assert.Equal(t, records[i].JobTitle, back[i].JobTitle)
		assert.Equal(t, records[i].Company, back[i].Company)
		assert.Equal(t, i, back[i].ID)
		assert.Equal(t, contact.StatusIdle, back[i].Status)
		assert.Empty(t, back[i].City, "the exported City column is not an already-located column")
	}

	again, err := sheet.Format(back)
	require.NoError(t, err)
	back2, err := sheet.Import(again)
	require.NoError(t, err)
	assert.Equal(t, back, back2)
}

func TestExportURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			in:   "https://docs.google.com/spreadsheets/d/abc_123/edit#gid=42",
			want: "https://docs.google.com/spreadsheets/d/abc_123/export?format=csv&gid=42",
		},
		{
			in:   "https://docs.google.com/spreadsheets/d/abc_123/edit",
			want: "https://docs.google.com/spreadsheets/d/abc_123/export?format=csv",
		},
		{
			in:   "https://docs.google.com/spreadsheets/d/abc/export?format=csv",
			want: "https://docs.google.com/spreadsheets/d/abc/export?format=csv",
		},
		{in: "https://example.test/file.csv", want: "https://example.test/file.csv"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sheet.ExportURL(tt.in))
	}
}

func TestHTTPSource(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.csv", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte("First Name,Last Name\nAnn,Lee\n"))
	})
	mux.HandleFunc("/empty.csv", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>sign in</html>"))
	})
	mux.HandleFunc("/missing.csv", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	src := &sheet.HTTPSource{Client: ts.Client()}
	ctx := context.Background()

	doc, err := src.Fetch(ctx, ts.URL+"/ok.csv")
	require.NoError(t, err)
	assert.Equal(t, sheet.EncodingCSV, doc.Format)
	recs, err := sheet.Parse(doc)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	for _, path := range []string{"/empty.csv", "/login", "/missing.csv"} {
		t.Run(path, func(t *testing.T) {
			_, err := src.Fetch(ctx, ts.URL+path)
			var su *sheet.SourceUnavailableError
			require.True(t, errors.As(err, &su), "got %T %v", err, err)
		})
	}

	_, err = src.Fetch(ctx, ts.URL+"/missing.csv")
	var su *sheet.SourceUnavailableError
	require.True(t, errors.As(err, &su))
	assert.Equal(t, http.StatusNotFound, su.StatusCode)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("First Name,Last Name\nAnn,Lee\n"), 0o644))

	doc, err := sheet.AutoSource{}.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, sheet.EncodingCSV, doc.Format)

	_, err = sheet.FileSource{}.Fetch(context.Background(), filepath.Join(dir, "nope.csv"))
	var su *sheet.SourceUnavailableError
	require.True(t, errors.As(err, &su))
	assert.Equal(t, "file does not exist", su.Reason)
}
