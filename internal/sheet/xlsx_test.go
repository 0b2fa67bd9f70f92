package sheet_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/shpitdev/contact-enricher/internal/sheet"
)

func createTestXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	s, err := f.AddSheet("Contacts")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := s.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "contacts.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestImportXLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"Q3 conference leads"},
		{"exported by sales"},
		{" First Name ", "Last Name", "Title", "Organization", "Location"},
		{"  Ann ", " Lee", " CTO ", "Acme  ", ""},
		{"Bob", "Ray", "", "", "Berlin, DE"},
		{"", "", "", "", ""},
		{"Cy", "Oh", "Dev", "Globex", ""},
	})
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	records, err := sheet.ImportXLSX(b)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 0, records[0].ID)
	assert.Equal(t, "Ann", records[0].FirstName)
	assert.Equal(t, "Lee", records[0].LastName)
	assert.Equal(t, "CTO", records[0].JobTitle)
	assert.Equal(t, "Acme", records[0].Company)

	assert.Equal(t, 1, records[1].ID)
	assert.Equal(t, "Cy Oh", records[1].FullName())
}

func TestImportXLSX_Errors(t *testing.T) {
	_, err := sheet.ImportXLSX([]byte("not a workbook"))
	var fe *sheet.FormatError
	require.True(t, errors.As(err, &fe), "got %T %v", err, err)

	path := createTestXLSX(t, [][]string{{"Name", "Email"}, {"Ann", "a@x"}})
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = sheet.ImportXLSX(b)
	require.True(t, errors.As(err, &fe), "got %T %v", err, err)
}

func TestFileSource_XLSX(t *testing.T) {
	path := createTestXLSX(t, [][]string{
		{"First Name", "Last Name"},
		{"Ann", "Lee"},
	})

	doc, err := sheet.AutoSource{}.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, sheet.EncodingXLSX, doc.Format)

	records, err := sheet.Parse(doc)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Ann Lee", records[0].FullName())
}
