package tool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"niemgraph/internal/pipeline/report"
)

// fakeTool writes an executable shell script standing in for the external
// canonicalizer and returns its path.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "niemtool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func schemaBundle() []SchemaFile {
	core := `<xs:schema targetNamespace="http://example.com/core/">
		<xs:import namespace="http://www.w3.org/2001/XMLSchema"/>
	</xs:schema>`
	exch := `<xs:schema targetNamespace="http://example.com/exchange/">
		<xs:import namespace="http://example.com/core/"/>
	</xs:schema>`
	return []SchemaFile{
		{Name: "core.xsd", Data: []byte(core)},
		{Name: "exchange.xsd", Data: []byte(exch)},
	}
}

func TestValidateSchemaBundleParsesFindings(t *testing.T) {
	tool := fakeTool(t, `case "$1" in
ndr-check)
  printf '%s\n' '{"file":"exchange.xsd","line":4,"rule":"ndr-9-10","severity":"error","message":"element undocumented"}'
  printf '%s\n' '{"file":"core.xsd","rule":"ndr-7-2","severity":"warning","message":"naming"}'
  printf '%s\n' 'noise line the parser must skip'
  ;;
esac`)
	g := New(tool, time.Second, nil)
	rep, err := g.ValidateSchemaBundle(context.Background(), schemaBundle(), "exchange.xsd", false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Valid {
		t.Fatal("report with errors marked valid")
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Rule != "ndr-9-10" || rep.Errors[0].Line != 4 {
		t.Fatalf("errors: %+v", rep.Errors)
	}
	if len(rep.Warnings) != 1 || rep.Warnings[0].File != "core.xsd" {
		t.Fatalf("warnings: %+v", rep.Warnings)
	}
}

func TestValidateSchemaBundleSkipNdrOnlyChecksImports(t *testing.T) {
	// The tool would fail loudly; skipNdr must never reach it.
	tool := fakeTool(t, `echo boom >&2; exit 9`)
	g := New(tool, time.Second, nil)
	rep, err := g.ValidateSchemaBundle(context.Background(), schemaBundle(), "exchange.xsd", true)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Valid {
		t.Fatalf("report: %+v", rep)
	}
}

func TestMissingImportFailsBeforeToolRuns(t *testing.T) {
	tool := fakeTool(t, `exit 0`)
	g := New(tool, time.Second, nil)
	files := []SchemaFile{{Name: "exchange.xsd", Data: []byte(
		`<xs:schema targetNamespace="http://example.com/exchange/">
			<xs:import namespace="http://example.com/missing/"/>
		</xs:schema>`)}}
	_, err := g.ValidateSchemaBundle(context.Background(), files, "exchange.xsd", false)
	var incomplete *report.SchemaIncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("error: %v", err)
	}
	if len(incomplete.Missing) != 1 || incomplete.Missing[0].Namespace != "http://example.com/missing/" {
		t.Fatalf("missing: %+v", incomplete.Missing)
	}
	if got := incomplete.Missing[0].NeededBy; len(got) != 1 || got[0] != "exchange.xsd" {
		t.Fatalf("neededBy: %v", got)
	}
}

func TestCanonicalModelReturnsStdout(t *testing.T) {
	tool := fakeTool(t, `[ "$1" = xsd-to-cmf ] && printf '<Model/>'`)
	g := New(tool, time.Second, nil)
	out, err := g.XSDToCanonicalModel(context.Background(), schemaBundle(), "exchange.xsd")
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "<Model/>" {
		t.Fatalf("stdout: %q", out)
	}
}

func TestNonZeroExitBecomesToolExecutionError(t *testing.T) {
	tool := fakeTool(t, `echo "schema exploded" >&2; exit 3`)
	g := New(tool, time.Second, nil)
	_, err := g.XSDToCanonicalModel(context.Background(), schemaBundle(), "exchange.xsd")
	var execErr *report.ToolExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error: %v", err)
	}
	if execErr.ExitCode != 3 || !strings.Contains(execErr.Stderr, "schema exploded") {
		t.Fatalf("exec error: %+v", execErr)
	}
}

func TestMissingToolIsToolUnavailable(t *testing.T) {
	g := New(filepath.Join(t.TempDir(), "no-such-tool"), time.Second, nil)
	_, err := g.XSDToCanonicalModel(context.Background(), schemaBundle(), "exchange.xsd")
	if !errors.Is(err, report.ErrToolUnavailable) {
		t.Fatalf("error: %v", err)
	}
}

func TestTimeoutKillsToolAndMapsToToolTimeout(t *testing.T) {
	tool := fakeTool(t, `sleep 10`)
	g := New(tool, 100*time.Millisecond, nil)
	start := time.Now()
	_, err := g.XSDToCanonicalModel(context.Background(), schemaBundle(), "exchange.xsd")
	if !errors.Is(err, report.ErrToolTimeout) {
		t.Fatalf("error: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the child promptly")
	}
}

func TestValidateXMLRebindsInstanceFilename(t *testing.T) {
	tool := fakeTool(t, `[ "$1" = xml-validate ] && printf '%s\n' "{\"file\":\"$3\",\"severity\":\"error\",\"message\":\"unknown element\"}"`)
	g := New(tool, time.Second, nil)
	rep, err := g.ValidateXML(context.Background(), schemaBundle(), "exchange.xsd", "crash1.xml", []byte(`<exch:Crash/>`))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].File != "crash1.xml" {
		t.Fatalf("errors: %+v", rep.Errors)
	}
}

const personSchema = `{
	"type": "object",
	"properties": {
		"nc:Person": {
			"type": "object",
			"properties": {
				"nc:PersonName": {"type": "string"},
				"nc:PersonAge": {"type": "integer"}
			},
			"required": ["nc:PersonName"],
			"additionalProperties": false
		}
	}
}`

func TestValidateJSONDemotesMissingRequired(t *testing.T) {
	g := New("unused", time.Second, nil)
	rep, err := g.ValidateJSON([]byte(personSchema), "p.json", []byte(`{"nc:Person": {"nc:PersonAge": 40}}`))
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Valid {
		t.Fatalf("missing required must be permissive: %+v", rep)
	}
	if len(rep.Warnings) == 0 {
		t.Fatalf("expected a warning, got %+v", rep)
	}
}

func TestValidateJSONKeepsTypeAndForbiddenFieldErrors(t *testing.T) {
	g := New("unused", time.Second, nil)
	rep, err := g.ValidateJSON([]byte(personSchema), "p.json",
		[]byte(`{"nc:Person": {"nc:PersonName": "Ann", "nc:PersonAge": "forty", "zz:Bogus": 1}}`))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Valid {
		t.Fatalf("type mismatch accepted: %+v", rep)
	}
	if len(rep.Errors) == 0 {
		t.Fatalf("errors: %+v", rep)
	}
}

func TestValidateJSONRejectsMalformedInstance(t *testing.T) {
	g := New("unused", time.Second, nil)
	rep, err := g.ValidateJSON([]byte(personSchema), "p.json", []byte(`{not json`))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Valid || len(rep.Errors) != 1 {
		t.Fatalf("report: %+v", rep)
	}
}
