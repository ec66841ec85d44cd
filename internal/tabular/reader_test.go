package tabular

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReader(t *testing.T) {
	t.Run("reads header eagerly", func(t *testing.T) {
		rd, err := NewReader(strings.NewReader("a,b,c\n1,2,3\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, rd.Header())
	})

	t.Run("strips BOM from first header cell", func(t *testing.T) {
		rd, err := NewReader(strings.NewReader("\uFEFFcustomerid,city\nC1,Austin\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"customerid", "city"}, rd.Header())
	})

	t.Run("trims header whitespace", func(t *testing.T) {
		rd, err := NewReader(strings.NewReader(" a , b \n1,2\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, rd.Header())
	})

	t.Run("empty stream is a format error", func(t *testing.T) {
		_, err := NewReader(strings.NewReader(""))
		var formatErr *FormatError
		require.ErrorAs(t, err, &formatErr)
	})

	t.Run("transport failure is a stream error", func(t *testing.T) {
		_, err := NewReader(&failingReader{})
		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.ErrorIs(t, err, errBroken)
	})
}

func TestReaderNext(t *testing.T) {
	t.Run("maps cells by header name", func(t *testing.T) {
		rd, err := NewReader(strings.NewReader("a,b\n1,2\n"))
		require.NoError(t, err)

		row, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, Row{"a": "1", "b": "2"}, row)

		_, err = rd.Next()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("pads short records", func(t *testing.T) {
		rd, err := NewReader(strings.NewReader("a,b,c\n1,2\n"))
		require.NoError(t, err)

		row, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, Row{"a": "1", "b": "2", "c": ""}, row)
	})

	t.Run("drops cells beyond the header", func(t *testing.T) {
		rd, err := NewReader(strings.NewReader("a,b\n1,2,3\n"))
		require.NoError(t, err)

		row, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, Row{"a": "1", "b": "2"}, row)
	})
}

func TestReaderReadAll(t *testing.T) {
	rd, err := NewReader(strings.NewReader("a,b\n1,2\n3,4\n"))
	require.NoError(t, err)

	rows, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[1]["a"])
}

var errBroken = io.ErrUnexpectedEOF

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, errBroken
}
