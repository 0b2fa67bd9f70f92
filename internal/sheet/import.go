package sheet

import (
	"encoding/csv"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/shpitdev/contact-enricher/internal/contact"
)

// Header markers that identify the header row (case-insensitive substring match).
const (
	firstNameMarker = "first"
	lastNameMarker  = "last"
)

// Mandatory columns (case-insensitive exact match).
const (
	ColumnFirstName = "First Name"
	ColumnLastName  = "Last Name"
)

// Optional columns, resolved by the first alias present in the header.
var (
	jobTitleAliases = []string{"Job Title", "Title", "Position", "Role"}
	companyAliases  = []string{"Company", "Company Name", "Organization", "Employer"}

	// Rows with a value in this column were already located upstream and are skipped.
	// "City" is deliberately absent: it is the enrichment output column written by Format.
	locatedAliases = []string{"Location", "Current Location", "Based In", "Locality"}
)

type columns struct {
	first, last, title, company, located int
}

// Import parses delimited text into records.
//
// The header row is the first row mentioning both name markers; rows above it
// are ignored. Blank rows and already-located rows are dropped without error.
func Import(raw string) ([]contact.Record, error) {
	rows, err := readRows(strings.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return importRows(rows)
}

func readRows(r io.Reader) ([][]string, error) {
	// Spreadsheet exports often start with a UTF-8 BOM.
	dec := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(dec)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, &FormatError{Reason: "unparseable delimited text", Err: err}
	}
	return rows, nil
}

func importRows(rows [][]string) ([]contact.Record, error) {
	headerIdx := findHeader(rows)
	if headerIdx < 0 {
		return nil, &FormatError{Reason: "no row contains both first and last name columns"}
	}
	header := trimAll(rows[headerIdx])

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []contact.Record
	for _, row := range rows[headerIdx+1:] {
		if isBlank(row) {
			continue
		}
		if cell(row, cols.located) != "" {
			continue
		}
		out = append(out, contact.Record{
			ID:        len(out),
			FirstName: cell(row, cols.first),
			LastName:  cell(row, cols.last),
			JobTitle:  cell(row, cols.title),
			Company:   cell(row, cols.company),
			Status:    contact.StatusIdle,
		})
	}
	return out, nil
}

func findHeader(rows [][]string) int {
	for i, row := range rows {
		joined := strings.ToLower(strings.Join(row, "\x00"))
		if strings.Contains(joined, firstNameMarker) && strings.Contains(joined, lastNameMarker) {
			return i
		}
	}
	return -1
}

func mapColumns(header []string) (columns, error) {
	cols := columns{
		first:   indexOf(header, ColumnFirstName),
		last:    indexOf(header, ColumnLastName),
		title:   indexOfAny(header, jobTitleAliases),
		company: indexOfAny(header, companyAliases),
		located: indexOfAny(header, locatedAliases),
	}
	if cols.first < 0 {
		return cols, &ColumnMappingError{Column: ColumnFirstName, Header: header}
	}
	if cols.last < 0 {
		return cols, &ColumnMappingError{Column: ColumnLastName, Header: header}
	}
	return cols, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i
		}
	}
	return -1
}

func indexOfAny(header []string, aliases []string) int {
	for _, alias := range aliases {
		if i := indexOf(header, alias); i >= 0 {
			return i
		}
	}
	return -1
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func trimAll(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.TrimSpace(v)
	}
	return out
}
