package project

import "niemgraph/internal/graphsink"

// Statements renders the projection as sink statements: one node merge per
// node carrying its full label set, then every edge. Node statements
// strictly precede edge statements.
func (r *Result) Statements() []graphsink.Statement {
	stmts := make([]graphsink.Statement, 0, len(r.Nodes)+len(r.Edges))
	for _, n := range r.Nodes {
		stmts = append(stmts, graphsink.MergeNode(n.Labels, n.ID, n.Props))
	}
	for _, e := range r.Edges {
		stmts = append(stmts, graphsink.MergeEdge(e.FromID, e.FromLabel, e.ToID, e.ToLabel, e.RelType, e.Props))
	}
	return stmts
}
