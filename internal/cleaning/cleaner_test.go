package cleaning

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fakeCleanerScript = `#!/bin/sh
input=""
name=""
while [ $# -gt 0 ]; do
  case "$1" in
    --temp_file_path_with_filename) input="$2"; shift 2;;
    --original_file_name) name="$2"; shift 2;;
    *) shift;;
  esac
done
dir=$(dirname "$input")
base="${name%.*}"
ext=".${name##*.}"
printf 'customerid,city\nC1,Austin\n' > "$dir/${base}_cleaned${ext}"
printf '{"rowsDropped":1}' > "$dir/${base}_report.json"
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cleaner.sh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestArtifactPaths(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		wantCleaned string
		wantReport  string
	}{
		{"csv", "orders.csv", "orders_cleaned.csv", "orders_report.json"},
		{"uppercase ext", "Orders.CSV", "Orders_cleaned.CSV", "Orders_report.json"},
		{"dotted base", "q1.orders.csv", "q1.orders_cleaned.csv", "q1.orders_report.json"},
		{"no ext", "orders", "orders_cleaned", "orders_report.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleaned, report := ArtifactPaths("/tmp/work", tt.displayName)
			assert.Equal(t, filepath.Join("/tmp/work", tt.wantCleaned), cleaned)
			assert.Equal(t, filepath.Join("/tmp/work", tt.wantReport), report)
		})
	}
}

func TestSubprocessCleanerClean(t *testing.T) {
	ctx := context.Background()

	newInput := func(t *testing.T) string {
		t.Helper()
		dir := t.TempDir()
		input := filepath.Join(dir, "orders.csv")
		require.NoError(t, os.WriteFile(input, []byte("a,b\n1,2\n"), 0o644))
		return input
	}

	t.Run("produces both artifacts", func(t *testing.T) {
		script := writeScript(t, fakeCleanerScript)
		cleaner, err := NewSubprocessCleaner([]string{script}, time.Minute, nil)
		require.NoError(t, err)

		input := newInput(t)
		cleanedPath, reportPath, err := cleaner.Clean(ctx, "order", input, "orders.csv")
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(filepath.Dir(input), "orders_cleaned.csv"), cleanedPath)
		assert.Equal(t, filepath.Join(filepath.Dir(input), "orders_report.json"), reportPath)

		report, err := os.ReadFile(reportPath)
		require.NoError(t, err)
		assert.JSONEq(t, `{"rowsDropped":1}`, string(report))
	})

	t.Run("non-zero exit is a subprocess error", func(t *testing.T) {
		script := writeScript(t, "#!/bin/sh\necho 'bad input file' >&2\nexit 3\n")
		cleaner, err := NewSubprocessCleaner([]string{script}, time.Minute, nil)
		require.NoError(t, err)

		_, _, err = cleaner.Clean(ctx, "order", newInput(t), "orders.csv")
		var subErr *SubprocessError
		require.ErrorAs(t, err, &subErr)
		assert.Equal(t, 3, subErr.ExitCode)
		assert.Contains(t, subErr.Stderr, "bad input file")
	})

	t.Run("zero exit without artifacts is a pipeline error", func(t *testing.T) {
		script := writeScript(t, "#!/bin/sh\nexit 0\n")
		cleaner, err := NewSubprocessCleaner([]string{script}, time.Minute, nil)
		require.NoError(t, err)

		_, _, err = cleaner.Clean(ctx, "order", newInput(t), "orders.csv")
		var pipeErr *PipelineError
		require.ErrorAs(t, err, &pipeErr)
		assert.Contains(t, pipeErr.Missing, "orders_cleaned.csv")
	})

	t.Run("timeout kills the subprocess", func(t *testing.T) {
		script := writeScript(t, "#!/bin/sh\nsleep 5\n")
		cleaner, err := NewSubprocessCleaner([]string{script}, 100*time.Millisecond, nil)
		require.NoError(t, err)

		start := time.Now()
		_, _, err = cleaner.Clean(ctx, "order", newInput(t), "orders.csv")
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("timeout holds when a grandchild keeps stderr open", func(t *testing.T) {
		// The background sleep inherits the stderr pipe and survives the
		// kill of its parent.
		script := writeScript(t, "#!/bin/sh\nsleep 5 &\nsleep 5\n")
		cleaner, err := NewSubprocessCleaner([]string{script}, 100*time.Millisecond, nil)
		require.NoError(t, err)

		start := time.Now()
		_, _, err = cleaner.Clean(ctx, "order", newInput(t), "orders.csv")
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 3*time.Second)
	})

	t.Run("empty command is rejected", func(t *testing.T) {
		_, err := NewSubprocessCleaner(nil, time.Minute, nil)
		assert.Error(t, err)
	})
}
