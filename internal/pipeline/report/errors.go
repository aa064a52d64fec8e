package report

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Callers classify with errors.Is; the richer shapes
// below wrap these so classification and detail extraction compose.
var (
	ErrBatchTooLarge   = errors.New("batch exceeds size limit")
	ErrToolUnavailable = errors.New("external tool not found")
	ErrToolTimeout     = errors.New("external tool timed out")
	ErrUnknownBundle   = errors.New("unknown bundle")
	ErrNoActiveBundle  = errors.New("no active bundle")
)

// ToolExecutionError reports a non-zero tool exit with captured stderr.
type ToolExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ToolExecutionError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + firstLine(s)
	}
	return msg
}

// MissingImport names a namespace declared by the bundle that no submitted
// file provides, plus the files that declared it.
type MissingImport struct {
	Namespace string   `json:"namespace"`
	NeededBy  []string `json:"needed_by"`
}

// SchemaIncompleteError reports unresolved schema imports.
type SchemaIncompleteError struct {
	Missing []MissingImport
}

func (e *SchemaIncompleteError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		names = append(names, m.Namespace)
	}
	return "schema bundle incomplete: unresolved imports: " + strings.Join(names, ", ")
}

// MappingError is fatal for a bundle: the canonical model cannot be compiled
// into a graph mapping.
type MappingError struct {
	Reason string
}

func (e *MappingError) Error() string {
	return "mapping compilation failed: " + e.Reason
}

// ProjectionError fails a single instance file. Rule is a short machine
// token such as "unknown_element".
type ProjectionError struct {
	Rule    string
	Element string
	Reason  string
}

func (e *ProjectionError) Error() string {
	msg := "projection failed (" + e.Rule + ")"
	if e.Element != "" {
		msg += " at " + e.Element
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// SinkError wraps a graph or blob sink rejection; the per-file transaction
// was aborted.
type SinkError struct {
	Sink string // "graph" or "blob"
	Err  error
}

func (e *SinkError) Error() string {
	return e.Sink + " sink: " + e.Err.Error()
}

func (e *SinkError) Unwrap() error { return e.Err }

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
