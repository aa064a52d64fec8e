// Package ingest stitches the per-file pipeline together: validate against
// the bundle, project to graph mutations, commit to the graph sink, then
// persist source bytes and a journal record. Files run under the shared
// batch executor; the graph is the source of truth, so blob-side failures
// after a successful commit demote to warnings.
package ingest

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"niemgraph/internal/blob"
	"niemgraph/internal/bundle"
	"niemgraph/internal/graphsink"
	"niemgraph/internal/pipeline/batch"
	"niemgraph/internal/pipeline/mapping"
	"niemgraph/internal/pipeline/project"
	"niemgraph/internal/pipeline/report"
	"niemgraph/internal/pipeline/tool"
)

type Format string

const (
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

// DynamicBundle is the schema id recorded on nodes ingested without a
// compiled mapping.
const DynamicBundle = "dynamic"

// artifacts is everything the per-file pipeline needs from one bundle.
// Bundle ids are content hashes, so a cached entry can never go stale.
type artifacts struct {
	mapping    *mapping.Mapping
	files      []tool.SchemaFile
	primary    string
	jsonSchema []byte
}

// Orchestrator owns the ingest flow. One instance is shared by every
// entrypoint; the executor inside it enforces the process-wide concurrency
// cap.
type Orchestrator struct {
	bundles *bundle.Store
	gw      *tool.Gateway
	exec    *batch.Executor
	graph   graphsink.Sink
	blobs   blob.Store
	log     *zap.Logger

	mu    sync.RWMutex
	cache map[string]*artifacts

	journalMu sync.Mutex
}

func New(bundles *bundle.Store, gw *tool.Gateway, exec *batch.Executor, graph graphsink.Sink, blobs blob.Store, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		bundles: bundles,
		gw:      gw,
		exec:    exec,
		graph:   graph,
		blobs:   blobs,
		log:     log,
		cache:   map[string]*artifacts{},
	}
}

// NewUploadID mints the upload identifier that scopes a batch's file
// hashes. ULIDs sort by time, which keeps journal keys browseable.
func NewUploadID() string {
	return ulid.Make().String()
}

// IngestXML runs a batch of XML instance files against a bundle. An empty
// bundleID selects the active bundle.
func (o *Orchestrator) IngestXML(ctx context.Context, bundleID, uploadID string, files []batch.File) (report.BatchResult, error) {
	return o.ingest(ctx, bundleID, uploadID, files, FormatXML)
}

// IngestJSON runs a batch of JSON instance files against a bundle.
func (o *Orchestrator) IngestJSON(ctx context.Context, bundleID, uploadID string, files []batch.File) (report.BatchResult, error) {
	return o.ingest(ctx, bundleID, uploadID, files, FormatJSON)
}

// IngestDynamic projects files without schema validation or a mapping;
// every complex element becomes a node. Exploration mode.
func (o *Orchestrator) IngestDynamic(ctx context.Context, uploadID string, files []batch.File, format Format) (report.BatchResult, error) {
	res, err := o.exec.Run(ctx, files, batch.KindIngest, func(ctx context.Context, f batch.File) (batch.Outcome, error) {
		return o.ingestOne(ctx, nil, DynamicBundle, uploadID, f, format)
	})
	res.BundleID = DynamicBundle
	return res, err
}

func (o *Orchestrator) ingest(ctx context.Context, bundleID, uploadID string, files []batch.File, format Format) (report.BatchResult, error) {
	if bundleID == "" {
		active, err := o.bundles.Active(ctx)
		if err != nil {
			return report.BatchResult{}, err
		}
		bundleID = active
	}
	arts, err := o.artifacts(ctx, bundleID)
	if err != nil {
		return report.BatchResult{}, err
	}
	res, err := o.exec.Run(ctx, files, batch.KindIngest, func(ctx context.Context, f batch.File) (batch.Outcome, error) {
		return o.ingestOne(ctx, arts, bundleID, uploadID, f, format)
	})
	res.BundleID = bundleID
	return res, err
}

func (o *Orchestrator) ingestOne(ctx context.Context, arts *artifacts, bundleID, uploadID string, f batch.File, format Format) (batch.Outcome, error) {
	start := time.Now()
	var out batch.Outcome

	// Validation. Invalid files never touch the graph or blob sinks.
	if arts != nil {
		rep, err := o.validate(ctx, arts, f, format)
		if err != nil {
			return out, err
		}
		out.Validation = rep
		if !rep.Valid {
			return out, fmt.Errorf("validation failed: %s", rep.Summary)
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	// Projection.
	opts := project.Options{SourceDoc: f.Name, UploadID: uploadID, SchemaID: bundleID}
	if arts != nil {
		opts.Mapping = arts.mapping
	}
	var (
		res *project.Result
		err error
	)
	switch format {
	case FormatJSON:
		res, err = project.ProjectJSON(ctx, f.Data, opts)
	default:
		res, err = project.ProjectXML(ctx, f.Data, opts)
	}
	if err != nil {
		return out, err
	}
	out.Warnings = res.Warnings

	// One logical transaction per file: all mutations commit or none do.
	counts, err := o.graph.Commit(ctx, res.Statements())
	if err != nil {
		return out, &report.SinkError{Sink: "graph", Err: err}
	}
	out.Nodes = counts.NodesCreated
	out.Edges = counts.EdgesCreated

	// The graph committed; everything after this point is soft.
	srcKey := path.Join("instances", bundleID, uploadID, f.Name)
	if err := o.blobs.Put(ctx, srcKey, f.Data); err != nil {
		o.log.Warn("source persist failed after graph commit",
			zap.String("file", f.Name), zap.Error(err))
		out.Warnings = append(out.Warnings, "source bytes not persisted: "+err.Error())
	}
	entry := journalEntry{
		ID:         ulid.Make().String(),
		BundleID:   bundleID,
		UploadID:   uploadID,
		Filename:   f.Name,
		FileHash:   res.FileHash,
		Nodes:      counts.NodesCreated,
		Edges:      counts.EdgesCreated,
		Warnings:   res.Warnings,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := o.appendJournal(ctx, entry); err != nil {
		o.log.Warn("journal append failed", zap.String("file", f.Name), zap.Error(err))
		out.Warnings = append(out.Warnings, "journal not written: "+err.Error())
	}

	o.log.Info("file ingested",
		zap.String("bundle", bundleID),
		zap.String("upload", uploadID),
		zap.String("file", f.Name),
		zap.Int("nodes", counts.NodesCreated),
		zap.Int("edges", counts.EdgesCreated))
	return out, nil
}

func (o *Orchestrator) validate(ctx context.Context, arts *artifacts, f batch.File, format Format) (*report.ValidationReport, error) {
	if format == FormatJSON {
		return o.gw.ValidateJSON(arts.jsonSchema, f.Name, f.Data)
	}
	return o.gw.ValidateXML(ctx, arts.files, arts.primary, f.Name, f.Data)
}

// artifacts returns the cached bundle artifacts, loading them from the
// bundle store on first use.
func (o *Orchestrator) artifacts(ctx context.Context, bundleID string) (*artifacts, error) {
	o.mu.RLock()
	arts := o.cache[bundleID]
	o.mu.RUnlock()
	if arts != nil {
		return arts, nil
	}

	m, err := o.bundles.Mapping(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	files, primary, err := o.bundles.SchemaFiles(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	jsonSchema, err := o.bundles.JSONSchema(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	arts = &artifacts{mapping: m, files: files, primary: primary, jsonSchema: jsonSchema}

	o.mu.Lock()
	o.cache[bundleID] = arts
	o.mu.Unlock()
	return arts, nil
}
