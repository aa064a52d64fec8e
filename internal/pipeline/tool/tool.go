// Package tool wraps the external NIEM canonicalizer/validator behind a
// typed gateway. Every invocation runs in its own scratch directory with a
// scrubbed environment, a wall-clock cap, and whole-process-group teardown;
// callers never see subprocess mechanics, only structured reports and the
// error taxonomy.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"niemgraph/internal/pipeline/report"
)

// SchemaFile is one member of a schema bundle, or an instance document
// staged for validation.
type SchemaFile struct {
	Name string
	Data []byte
}

const DefaultTimeout = 60 * time.Second

// Gateway invokes the external tool. The command vector is fixed at
// construction; per-call arguments are subcommand names and file paths only.
type Gateway struct {
	toolPath string
	timeout  time.Duration
	log      *zap.Logger
}

func New(toolPath string, timeout time.Duration, log *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{toolPath: toolPath, timeout: timeout, log: log}
}

// ValidateSchemaBundle checks import completeness and, unless skipNdr is
// set, runs the NDR rule validator against the primary file. A bundle with
// unresolved imports fails with SchemaIncompleteError before the tool runs.
func (g *Gateway) ValidateSchemaBundle(ctx context.Context, files []SchemaFile, primary string, skipNdr bool) (*report.ValidationReport, error) {
	if err := checkImports(files); err != nil {
		return nil, err
	}
	if skipNdr {
		return &report.ValidationReport{Valid: true, Summary: "import check passed, NDR rules skipped"}, nil
	}
	out, err := g.run(ctx, files, "ndr-check", primary)
	if err != nil {
		return nil, err
	}
	return parseIssues(out, g.log), nil
}

// XSDToCanonicalModel produces the canonical model byte stream for a bundle.
// Callers must have validated the bundle first.
func (g *Gateway) XSDToCanonicalModel(ctx context.Context, files []SchemaFile, primary string) ([]byte, error) {
	return g.run(ctx, files, "xsd-to-cmf", primary)
}

// JSONSchema produces the JSON Schema the tool derives from a bundle. The
// bundle store persists it for the permissive JSON validation path.
func (g *Gateway) JSONSchema(ctx context.Context, files []SchemaFile, primary string) ([]byte, error) {
	return g.run(ctx, files, "json-schema", primary)
}

// ValidateXML validates one instance document against the bundle. Strict:
// the tool reports unknown elements as errors.
func (g *Gateway) ValidateXML(ctx context.Context, files []SchemaFile, primary, filename string, instance []byte) (*report.ValidationReport, error) {
	staged := make([]SchemaFile, 0, len(files)+1)
	staged = append(staged, files...)
	instName := "instance_" + filepath.Base(filename)
	staged = append(staged, SchemaFile{Name: instName, Data: instance})
	out, err := g.run(ctx, staged, "xml-validate", primary, instName)
	if err != nil {
		return nil, err
	}
	rep := parseIssues(out, g.log)
	rebind(rep, instName, filename)
	return rep, nil
}

// rebind rewrites the staged instance name back to the caller's filename.
func rebind(rep *report.ValidationReport, staged, actual string) {
	for i := range rep.Errors {
		if rep.Errors[i].File == staged {
			rep.Errors[i].File = actual
		}
	}
	for i := range rep.Warnings {
		if rep.Warnings[i].File == staged {
			rep.Warnings[i].File = actual
		}
	}
}

// run stages files into a fresh scratch directory, executes one tool
// subcommand there, and returns its stdout. The scratch directory is removed
// on every exit path; the child runs in its own process group and the whole
// group is killed on cancellation or timeout.
func (g *Gateway) run(ctx context.Context, files []SchemaFile, args ...string) ([]byte, error) {
	scratch, err := os.MkdirTemp("", "niemtool-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	for _, f := range files {
		name := filepath.Base(f.Name)
		if err := os.WriteFile(filepath.Join(scratch, name), f.Data, 0o644); err != nil {
			return nil, fmt.Errorf("stage %s: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, g.toolPath, args...)
	cmd.Dir = scratch
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "TMPDIR=" + scratch}
	// Own process group so the whole child tree dies on timeout.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	g.log.Debug("tool invocation",
		zap.Strings("args", args),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("ok", err == nil))

	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s %s: %w", g.toolPath, args[0], report.ErrToolTimeout)
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", g.toolPath, report.ErrToolUnavailable)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &report.ToolExecutionError{
			Command:  g.toolPath + " " + args[0],
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
		}
	}
	return nil, fmt.Errorf("run %s: %w", g.toolPath, err)
}
