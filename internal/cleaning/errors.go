package cleaning

import "fmt"

// SubprocessError reports a non-zero exit from the external cleaning
// stage. Any non-zero code is an unconditional failure.
type SubprocessError struct {
	ExitCode int
	Stderr   string
}

func (e *SubprocessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("cleaning: external stage exited with code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("cleaning: external stage exited with code %d", e.ExitCode)
}

// PipelineError reports that the external stage exited successfully but
// did not leave the expected artifacts behind.
type PipelineError struct {
	Missing string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("cleaning: external stage produced no usable artifact: %s", e.Missing)
}
