package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is a single record keyed by trimmed header name. Column order is kept
// on the Reader, not on the Row.
type Row map[string]string

// FormatError indicates structurally malformed tabular input, such as a
// stream that ends before a header row is read.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("tabular: format error: %s", e.Msg)
}

// StreamError indicates that the underlying transport failed mid-read.
// It wraps the transport error so callers can inspect it with errors.As.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("tabular: stream error during %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// Reader parses a delimited byte stream into Rows. It is single-pass: once
// the stream is consumed, callers needing another pass must re-open it.
type Reader struct {
	cr     *csv.Reader
	header []string
}

// NewReader reads the header row eagerly so that schema errors surface
// before any data row is consumed. A leading byte-order-mark on the first
// header cell is stripped.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	record, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &FormatError{Msg: "stream ended before header row"}
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &FormatError{Msg: pe.Error()}
		}
		return nil, &StreamError{Op: "read header", Err: err}
	}

	header := make([]string, len(record))
	for i, h := range record {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		header[i] = h
	}

	return &Reader{cr: cr, header: header}, nil
}

// Header returns the trimmed column names in file order.
func (r *Reader) Header() []string {
	return r.header
}

// Next returns the next Row, or io.EOF when the stream is exhausted. Short
// records are padded with empty strings; cells beyond the header are dropped.
func (r *Reader) Next() (Row, error) {
	record, err := r.cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, &FormatError{Msg: pe.Error()}
		}
		return nil, &StreamError{Op: "read row", Err: err}
	}

	row := make(Row, len(r.header))
	for i, name := range r.header {
		if i < len(record) {
			row[name] = record[i]
		} else {
			row[name] = ""
		}
	}
	return row, nil
}

// ReadAll materializes the remaining rows, fully consuming the stream.
func (r *Reader) ReadAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := r.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}
