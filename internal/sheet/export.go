package sheet

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/shpitdev/contact-enricher/internal/contact"
)

// ExportHeader returns the stable header written by Format.
func ExportHeader() []string {
	return []string{
		ColumnFirstName,
		ColumnLastName,
		"Job Title",
		"Company",
		"City",
	}
}

// Write renders records as CSV with the ExportHeader ordering.
//
// Fields containing the delimiter, a quote or a line break are quoted with
// inner quotes doubled, which Import reverses.
func Write(w io.Writer, records []contact.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader()); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.FirstName,
			r.LastName,
			r.JobTitle,
			r.Company,
			r.City,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Format renders records to text. See Write.
func Format(records []contact.Record) (string, error) {
	var buf bytes.Buffer
	if err := Write(&buf, records); err != nil {
		return "", err
	}
	return buf.String(), nil
}
