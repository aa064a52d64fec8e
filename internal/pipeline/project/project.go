// Package project transforms a validated instance document into an ordered
// sequence of idempotent graph mutations. The XML and JSON converters parse
// into one shared instance tree, so both formats project to the same graph
// shape; identity, reference, role, augmentation, and association semantics
// live in the single projector core.
package project

import (
	"crypto/sha256"
	"encoding/hex"

	"niemgraph/internal/pipeline/mapping"
)

// Node is one projected graph node.
type Node struct {
	ID     string
	Labels []string
	Props  map[string]any
}

// Edge is one projected graph edge. Endpoints are node ids from the same
// projection (or expected ids for dangling references).
type Edge struct {
	FromID    string
	FromLabel string
	ToID      string
	ToLabel   string
	RelType   string
	Props     map[string]any
}

// Result is the complete projection of one instance document. Nodes precede
// edges; committing them in order guarantees every edge endpoint has been
// merged first.
type Result struct {
	FileHash string
	Nodes    []Node
	Edges    []Edge
	Warnings []string
}

// Options configures one projection run.
type Options struct {
	// Mapping selects mapping mode; nil selects dynamic mode, where every
	// complex element becomes a node and labels derive from qnames.
	Mapping *mapping.Mapping

	SourceDoc string // instance filename
	UploadID  string
	SchemaID  string // bundle id; empty in dynamic mode

	// MaxBytes and MaxDepth bound the parse; zero applies the defaults.
	MaxBytes int
	MaxDepth int
}

// FileHash derives the per-file identity prefix: the first 8 hex characters
// of sha256(filename || uploadId || contentHash). Every node id in the file
// carries it, which is the sole mechanism keeping local identifiers like
// "P01" from colliding across files.
func FileHash(filename, uploadID string, content []byte) string {
	contentHash := sha256.Sum256(content)
	h := sha256.New()
	h.Write([]byte(filename))
	h.Write([]byte(uploadID))
	h.Write([]byte(hex.EncodeToString(contentHash[:])))
	return hex.EncodeToString(h.Sum(nil))[:8]
}

func syntheticID(fileHash, parentID, qname, ordinalPath string) string {
	h := sha256.New()
	h.Write([]byte(parentID))
	h.Write([]byte("|"))
	h.Write([]byte(qname))
	h.Write([]byte("|"))
	h.Write([]byte(ordinalPath))
	return fileHash + "_syn_" + hex.EncodeToString(h.Sum(nil))[:16]
}
