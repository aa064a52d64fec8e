// Package graphsink is the write-side boundary to the property-graph
// database. The projector emits exactly two statement shapes, merge a node
// by id and merge an edge between two ids, and every instance-derived value
// travels in the parameter map, never in statement text.
package graphsink

import (
	"context"
	"strings"
)

type StatementKind string

const (
	KindMergeNode StatementKind = "merge_node"
	KindMergeEdge StatementKind = "merge_edge"
)

// Statement is one parameterized graph mutation. Text is the rendered Cypher
// for sinks that speak it; the structured fields let other sinks apply the
// same semantics without parsing.
type Statement struct {
	Kind      StatementKind
	Label     string   // primary node label (merge_node) or relationship type (merge_edge)
	Labels    []string // every node label (merge_node)
	FromLabel string
	ToLabel   string
	Text      string
	Params    map[string]any
}

// Counts reports how many graph entities a commit actually created. Merged
// (already existing) entities do not count.
type Counts struct {
	NodesCreated int `json:"nodes_created"`
	EdgesCreated int `json:"edges_created"`
}

// Sink executes a statement sequence inside a single logical transaction.
// Either every statement commits or none do.
type Sink interface {
	Commit(ctx context.Context, stmts []Statement) (Counts, error)
}

// MergeNode builds the node-merge statement. Every label is rendered into
// the one MERGE pattern; splitting labels across statements would make the
// database merge a fresh node per label instead of matching the first one.
// Labels are schema-derived and identifier-sanitized before rendering.
func MergeNode(labels []string, id string, props map[string]any) Statement {
	if len(labels) == 0 {
		labels = []string{""}
	}
	clean := make([]string, len(labels))
	var text strings.Builder
	text.WriteString("MERGE (n")
	for i, l := range labels {
		clean[i] = SanitizeIdent(l)
		text.WriteString(":`" + clean[i] + "`")
	}
	text.WriteString(" {id:$id}) SET n += $props")
	return Statement{
		Kind:   KindMergeNode,
		Label:  clean[0],
		Labels: clean,
		Text:   text.String(),
		Params: map[string]any{
			"id":    id,
			"props": props,
		},
	}
}

// MergeEdge builds the edge-merge statement between two already-merged ids.
func MergeEdge(fromID, fromLabel, toID, toLabel, relType string, props map[string]any) Statement {
	rel := SanitizeIdent(relType)
	if props == nil {
		props = map[string]any{}
	}
	return Statement{
		Kind:      KindMergeEdge,
		Label:     rel,
		FromLabel: SanitizeIdent(fromLabel),
		ToLabel:   SanitizeIdent(toLabel),
		Text:      "MATCH (a {id:$from}), (b {id:$to}) MERGE (a)-[r:`" + rel + "`]->(b) SET r += $props",
		Params: map[string]any{
			"from":  fromID,
			"to":    toID,
			"props": props,
		},
	}
}

// SanitizeIdent restricts a label or relationship type to ASCII letters,
// digits, and underscore. Labels are derived from schema qnames, but the
// sink does not trust its callers with statement text.
func SanitizeIdent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
