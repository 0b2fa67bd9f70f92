package sheet

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/shpitdev/contact-enricher/internal/contact"
)

// ImportXLSX parses the first sheet of a workbook with the same rules as Import.
func ImportXLSX(b []byte) ([]contact.Record, error) {
	f, err := xlsx.OpenBinary(b)
	if err != nil {
		return nil, &FormatError{Reason: "unreadable workbook", Err: eris.Wrap(err, "xlsx: open")}
	}
	if len(f.Sheets) == 0 {
		return nil, &FormatError{Reason: "workbook has no sheets"}
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			if c == nil {
				continue
			}
			cells[j] = c.String()
		}
		rows = append(rows, cells)
	}
	return importRows(rows)
}
