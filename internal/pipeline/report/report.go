package report

import (
	"strconv"
	"strings"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single validator finding, attributed to a file and, when the
// tool provides one, a source location and rule identifier.
type Issue struct {
	File     string   `json:"file"`
	Line     int      `json:"line,omitempty"`
	Column   int      `json:"column,omitempty"`
	Rule     string   `json:"rule,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ValidationReport is the structured result of one validator invocation.
type ValidationReport struct {
	Valid    bool    `json:"valid"`
	Summary  string  `json:"summary"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Add routes an issue to the error or warning list and flips Valid when an
// error-severity issue arrives.
func (r *ValidationReport) Add(iss Issue) {
	if iss.Severity == SeverityError {
		r.Errors = append(r.Errors, iss)
		r.Valid = false
		return
	}
	r.Warnings = append(r.Warnings, iss)
}

// ByFile groups all issues (errors then warnings) by filename.
func (r *ValidationReport) ByFile() map[string][]Issue {
	out := map[string][]Issue{}
	for _, iss := range r.Errors {
		out[iss.File] = append(out[iss.File], iss)
	}
	for _, iss := range r.Warnings {
		out[iss.File] = append(out[iss.File], iss)
	}
	return out
}

type FileStatus string

const (
	StatusSuccess FileStatus = "success"
	StatusFailed  FileStatus = "failed"
)

// FileResult is the per-file entry of a BatchResult.
type FileResult struct {
	Filename     string            `json:"filename"`
	Status       FileStatus        `json:"status"`
	NodesCreated int               `json:"nodes_created"`
	EdgesCreated int               `json:"edges_created"`
	Validation   *ValidationReport `json:"validation,omitempty"`
	Error        string            `json:"error,omitempty"`
	// Warnings that do not change Status: dangling references, soft
	// blob-persist failures, elided metadata references.
	Warnings []string `json:"warnings,omitempty"`
}

// BatchResult summarizes one batch call. PerFile preserves input order and
// always has one entry per submitted file.
type BatchResult struct {
	BundleID       string       `json:"bundle_id,omitempty"`
	FilesSubmitted int          `json:"files_submitted"`
	Succeeded      int          `json:"succeeded"`
	Failed         int          `json:"failed"`
	PerFile        []FileResult `json:"per_file"`
}

// Tally recomputes the Succeeded/Failed counters from PerFile.
func (b *BatchResult) Tally() {
	b.Succeeded, b.Failed = 0, 0
	for _, f := range b.PerFile {
		if f.Status == StatusSuccess {
			b.Succeeded++
		} else {
			b.Failed++
		}
	}
}

// Summarize renders a one-line summary like "3 errors, 1 warning in 2 files".
func Summarize(errs, warns []Issue) string {
	files := map[string]struct{}{}
	for _, iss := range errs {
		files[iss.File] = struct{}{}
	}
	for _, iss := range warns {
		files[iss.File] = struct{}{}
	}
	var parts []string
	parts = append(parts, plural(len(errs), "error"))
	parts = append(parts, plural(len(warns), "warning"))
	return strings.Join(parts, ", ") + " in " + plural(len(files), "file")
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
