// Package tabular parses delimited byte streams into ordered row records.
// It backs both the upload validation path and the fusion pipeline, and
// distinguishes malformed input (FormatError) from transport failures
// (StreamError) so callers can surface them differently.
package tabular
