package cleaning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Cleaner is the pluggable cleaning transform. Implementations normalize
// the raw file at inputPath and report where the cleaned file and the JSON
// report landed. Artifact path derivation is part of this contract, not
// something callers guess at.
type Cleaner interface {
	Clean(ctx context.Context, kind, inputPath, displayName string) (cleanedPath, reportPath string, err error)
}

// SubprocessCleaner shells out to the external normalization program. The
// program must create `<basename>_cleaned<ext>` and `<basename>_report.json`
// next to the input file and exit zero.
type SubprocessCleaner struct {
	command []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewSubprocessCleaner builds a cleaner around the given argv prefix, e.g.
// ["python3", "cleaning_main.py"]. A zero timeout disables the deadline.
func NewSubprocessCleaner(command []string, timeout time.Duration, logger *slog.Logger) (*SubprocessCleaner, error) {
	if len(command) == 0 {
		return nil, errors.New("cleaning: empty cleaner command")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubprocessCleaner{
		command: command,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "cleaning.subprocess")),
	}, nil
}

func (c *SubprocessCleaner) Clean(ctx context.Context, kind, inputPath, displayName string) (string, string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := append(c.command[1:],
		"--type", kind,
		"--temp_file_path_with_filename", inputPath,
		"--original_file_name", displayName,
	)
	cmd := exec.CommandContext(ctx, c.command[0], args...)
	// The context kill only reaches the direct child. WaitDelay forces the
	// stderr pipe closed shortly after cancellation so orphaned grandchildren
	// holding it cannot block Run past the deadline.
	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.logger.Info("invoking external cleaning stage",
		slog.String("kind", kind),
		slog.String("input", inputPath))

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", "", &SubprocessError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   truncate(stderr.String(), 512),
			}
		}
		return "", "", fmt.Errorf("cleaning: spawn external stage: %w", err)
	}

	c.logger.Info("external cleaning stage finished",
		slog.String("kind", kind),
		slog.Duration("duration", duration))

	cleanedPath, reportPath := ArtifactPaths(filepath.Dir(inputPath), displayName)
	if _, err := os.Stat(cleanedPath); err != nil {
		return "", "", &PipelineError{Missing: cleanedPath}
	}
	if _, err := os.Stat(reportPath); err != nil {
		return "", "", &PipelineError{Missing: reportPath}
	}
	return cleanedPath, reportPath, nil
}

// ArtifactPaths derives the cleaned-file and report locations the external
// stage must produce for a given display name.
func ArtifactPaths(dir, displayName string) (cleanedPath, reportPath string) {
	ext := filepath.Ext(displayName)
	base := strings.TrimSuffix(displayName, ext)
	cleanedPath = filepath.Join(dir, base+"_cleaned"+ext)
	reportPath = filepath.Join(dir, base+"_report.json")
	return cleanedPath, reportPath
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Cleaner = (*SubprocessCleaner)(nil)
