package tabular

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// RowsFromWorkbook extracts the first sheet of an Excel workbook as a header
// plus Rows, matching the shape produced by Reader. Uploads may arrive as
// .xlsx instead of .csv; they are converted to delimited text before storage.
func RowsFromWorkbook(r io.Reader) ([]string, []Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, &FormatError{Msg: "open workbook: " + err.Error()}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, &FormatError{Msg: "workbook has no sheets"}
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, &FormatError{Msg: "read sheet: " + err.Error()}
	}
	if len(records) == 0 {
		return nil, nil, &FormatError{Msg: "stream ended before header row"}
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
