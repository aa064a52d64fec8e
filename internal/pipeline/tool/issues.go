package tool

import (
	"bufio"
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"niemgraph/internal/pipeline/report"
)

// parseIssues reads the tool's NDJSON finding stream: one JSON object per
// line, matching the Issue shape. Lines that are not JSON objects are tool
// noise and are dropped.
func parseIssues(out []byte, log *zap.Logger) *report.ValidationReport {
	rep := &report.ValidationReport{Valid: true}
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var iss report.Issue
		if err := json.Unmarshal(line, &iss); err != nil {
			log.Debug("unparseable tool output line", zap.ByteString("line", line))
			continue
		}
		if iss.Severity == "" {
			iss.Severity = report.SeverityError
		}
		rep.Add(iss)
	}
	rep.Summary = report.Summarize(rep.Errors, rep.Warnings)
	return rep
}
