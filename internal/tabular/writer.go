package tabular

import (
	"encoding/csv"
	"io"
)

// WriteCSV serializes rows using the given column order. A byte-order-mark
// is written first so spreadsheet tools pick up UTF-8. Missing cells are
// written as empty strings.
func WriteCSV(w io.Writer, header []string, rows []Row) error {
	if _, err := io.WriteString(w, "\uFEFF"); err != nil {
		return &StreamError{Op: "write bom", Err: err}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return &StreamError{Op: "write header", Err: err}
	}

	record := make([]string, len(header))
	for _, row := range rows {
		for i, name := range header {
			record[i] = row[name]
		}
		if err := cw.Write(record); err != nil {
			return &StreamError{Op: "write row", Err: err}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return &StreamError{Op: "flush", Err: err}
	}
	return nil
}
