package graphsink

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryNode is a node as materialized by the MemorySink.
type MemoryNode struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// MemoryEdge is an edge as materialized by the MemorySink.
type MemoryEdge struct {
	FromID  string
	ToID    string
	RelType string
	Props   map[string]any
}

// MemorySink applies statements to an in-memory graph with the same merge
// semantics the real database uses: nodes merge by id, edges merge by
// (from, relType, to), and an edge whose endpoint does not exist matches
// nothing and creates nothing. Used by tests and by dry-run ingestion.
type MemorySink struct {
	mu    sync.Mutex
	nodes map[string]*MemoryNode
	edges map[string]*MemoryEdge

	// FailNext, when set, rejects the next Commit wholesale. Lets tests
	// exercise per-file transaction aborts.
	FailNext error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		nodes: map[string]*MemoryNode{},
		edges: map[string]*MemoryEdge{},
	}
}

func (s *MemorySink) Commit(ctx context.Context, stmts []Statement) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailNext != nil {
		err := s.FailNext
		s.FailNext = nil
		return Counts{}, err
	}

	// Stage on copies so a bad statement aborts without partial effects.
	nodes := make(map[string]*MemoryNode, len(s.nodes))
	for k, v := range s.nodes {
		nodes[k] = v
	}
	edges := make(map[string]*MemoryEdge, len(s.edges))
	for k, v := range s.edges {
		edges[k] = v
	}

	var counts Counts
	for i, st := range stmts {
		switch st.Kind {
		case KindMergeNode:
			id, ok := st.Params["id"].(string)
			if !ok || id == "" {
				return Counts{}, fmt.Errorf("statement %d: merge_node without id", i)
			}
			props, _ := st.Params["props"].(map[string]any)
			n, exists := nodes[id]
			if !exists {
				n = &MemoryNode{ID: id, Props: map[string]any{}}
				nodes[id] = n
				counts.NodesCreated++
			} else {
				// copy-on-write for staged mutation
				cp := &MemoryNode{ID: n.ID, Labels: append([]string(nil), n.Labels...), Props: map[string]any{}}
				for k, v := range n.Props {
					cp.Props[k] = v
				}
				n = cp
				nodes[id] = n
			}
			labels := st.Labels
			if len(labels) == 0 && st.Label != "" {
				labels = []string{st.Label}
			}
			for _, l := range labels {
				if !containsString(n.Labels, l) {
					n.Labels = append(n.Labels, l)
					sort.Strings(n.Labels)
				}
			}
			for k, v := range props {
				n.Props[k] = v
			}
		case KindMergeEdge:
			from, _ := st.Params["from"].(string)
			to, _ := st.Params["to"].(string)
			if from == "" || to == "" {
				return Counts{}, fmt.Errorf("statement %d: merge_edge without endpoints", i)
			}
			// MATCH semantics: a dangling endpoint matches nothing.
			if _, ok := nodes[from]; !ok {
				continue
			}
			if _, ok := nodes[to]; !ok {
				continue
			}
			key := from + "\x00" + st.Label + "\x00" + to
			props, _ := st.Params["props"].(map[string]any)
			e, exists := edges[key]
			if !exists {
				e = &MemoryEdge{FromID: from, ToID: to, RelType: st.Label, Props: map[string]any{}}
				edges[key] = e
				counts.EdgesCreated++
			} else {
				cp := &MemoryEdge{FromID: e.FromID, ToID: e.ToID, RelType: e.RelType, Props: map[string]any{}}
				for k, v := range e.Props {
					cp.Props[k] = v
				}
				e = cp
				edges[key] = e
			}
			for k, v := range props {
				e.Props[k] = v
			}
		default:
			return Counts{}, fmt.Errorf("statement %d: unknown kind %q", i, st.Kind)
		}
	}

	s.nodes = nodes
	s.edges = edges
	return counts, nil
}

// Node returns the materialized node with the given id, or nil.
func (s *MemorySink) Node(id string) *MemoryNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[id]
}

// Nodes returns all node ids, sorted.
func (s *MemorySink) Nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Edges returns all materialized edges in an unspecified but stable order.
func (s *MemorySink) Edges() []MemoryEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.edges))
	for k := range s.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]MemoryEdge, 0, len(keys))
	for _, k := range keys {
		out = append(out, *s.edges[k])
	}
	return out
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
