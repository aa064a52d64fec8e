package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"niemgraph/internal/pipeline/report"
)

// ValidateJSON evaluates an instance against the bundle's tool-derived JSON
// Schema. The contract is permissive: missing required properties demote to
// warnings, while type mismatches and forbidden fields stay errors. No
// subprocess is involved; the schema was produced at bundle submission.
func (g *Gateway) ValidateJSON(schemaJSON []byte, filename string, instance []byte) (*report.ValidationReport, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("bundle.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("load bundle json schema: %w", err)
	}
	schema, err := compiler.Compile("bundle.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile bundle json schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(instance))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		rep := &report.ValidationReport{}
		rep.Add(report.Issue{File: filename, Severity: report.SeverityError, Message: "not valid JSON: " + err.Error()})
		rep.Summary = report.Summarize(rep.Errors, rep.Warnings)
		return rep, nil
	}

	rep := &report.ValidationReport{Valid: true}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if !errors.As(err, &verr) {
			return nil, fmt.Errorf("json schema validation: %w", err)
		}
		for _, leaf := range leaves(verr) {
			sev := report.SeverityError
			if strings.Contains(leaf.KeywordLocation, "/required") {
				sev = report.SeverityWarning
			}
			rep.Add(report.Issue{
				File:     filename,
				Rule:     leaf.KeywordLocation,
				Severity: sev,
				Message:  instanceMessage(leaf),
			})
		}
	}
	rep.Summary = report.Summarize(rep.Errors, rep.Warnings)
	return rep, nil
}

// leaves flattens the validation error tree to its most specific findings.
func leaves(v *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(v.Causes) == 0 {
		return []*jsonschema.ValidationError{v}
	}
	var out []*jsonschema.ValidationError
	for _, c := range v.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func instanceMessage(v *jsonschema.ValidationError) string {
	loc := v.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + v.Message
}
