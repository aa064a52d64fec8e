// Package bundle persists submitted schema bundles and their derived
// artifacts (canonical model, compiled mapping, generated JSON Schema) and
// tracks which bundle is active for ingestion.
package bundle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"niemgraph/internal/blob"
	"niemgraph/internal/pipeline/mapping"
	"niemgraph/internal/pipeline/report"
	"niemgraph/internal/pipeline/tool"
)

const stateKey = "bundles/state.json"

// Info is the persisted record of one submitted bundle.
type Info struct {
	ID          string    `json:"id"`
	Primary     string    `json:"primary"`
	Files       []string  `json:"files"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SubmitResult carries the validation outcome and, when validation passed,
// the persisted bundle's identity and compiled mapping.
type SubmitResult struct {
	BundleID string                   `json:"bundle_id"`
	Report   *report.ValidationReport `json:"report"`
	Mapping  *mapping.Mapping         `json:"-"`
}

type state struct {
	Active  string `json:"active"`
	Bundles []Info `json:"bundles"`
}

// Store wires the tool gateway and the blob store into the schema ingestion
// flow. Mutating operations serialize on a mutex; the state blob is the only
// read-modify-write surface.
type Store struct {
	blobs blob.Store
	gw    *tool.Gateway
	log   *zap.Logger
	clock func() time.Time

	mu sync.Mutex
}

func NewStore(blobs blob.Store, gw *tool.Gateway, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{blobs: blobs, gw: gw, log: log, clock: time.Now}
}

// ID derives the bundle id: blake3 over the name-sorted file set, first 16
// hex characters. Identical bundles therefore share an id regardless of
// submission order.
func ID(files []tool.SchemaFile) string {
	sorted := make([]tool.SchemaFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	h := blake3.New()
	for _, f := range sorted {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write(f.Data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Submit validates, canonicalizes, and compiles a bundle, persisting every
// artifact on success. A bundle that fails validation is not persisted; the
// report comes back with Valid=false and no error.
func (s *Store) Submit(ctx context.Context, files []tool.SchemaFile, primary string, skipNdr bool) (*SubmitResult, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("empty schema bundle")
	}
	id := ID(files)

	rep, err := s.gw.ValidateSchemaBundle(ctx, files, primary, skipNdr)
	if err != nil {
		return nil, err
	}
	if !rep.Valid {
		s.log.Info("bundle rejected by validation",
			zap.String("bundle", id),
			zap.Int("errors", len(rep.Errors)))
		return &SubmitResult{BundleID: id, Report: rep}, nil
	}

	cmfBytes, err := s.gw.XSDToCanonicalModel(ctx, files, primary)
	if err != nil {
		return nil, err
	}
	jsonSchema, err := s.gw.JSONSchema(ctx, files, primary)
	if err != nil {
		return nil, err
	}
	m, err := mapping.Compile(cmfBytes)
	if err != nil {
		return nil, err
	}
	mappingBytes, err := mapping.Encode(m)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := s.blobs.Put(ctx, path.Join(id, "schema", f.Name), f.Data); err != nil {
			return nil, &report.SinkError{Sink: "blob", Err: err}
		}
		names = append(names, f.Name)
	}
	sort.Strings(names)
	repBytes, err := json.Marshal(rep)
	if err != nil {
		return nil, err
	}
	info := Info{ID: id, Primary: primary, Files: names, SubmittedAt: s.clock().UTC()}
	infoBytes, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	artifacts := map[string][]byte{
		path.Join(id, "canonical.cmf"):   cmfBytes,
		path.Join(id, "mapping.yaml"):    mappingBytes,
		path.Join(id, "schema.json"):     jsonSchema,
		path.Join(id, "ndr_report.json"): repBytes,
		path.Join(id, "info.json"):       infoBytes,
	}
	for key, data := range artifacts {
		if err := s.blobs.Put(ctx, key, data); err != nil {
			return nil, &report.SinkError{Sink: "blob", Err: err}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if !st.has(id) {
		st.Bundles = append(st.Bundles, info)
		sort.Slice(st.Bundles, func(i, j int) bool {
			return st.Bundles[i].SubmittedAt.Before(st.Bundles[j].SubmittedAt)
		})
	}
	if err := s.saveState(ctx, st); err != nil {
		return nil, err
	}

	s.log.Info("bundle submitted",
		zap.String("bundle", id),
		zap.String("primary", primary),
		zap.Int("files", len(files)))
	return &SubmitResult{BundleID: id, Report: rep, Mapping: m}, nil
}

// Activate marks a persisted bundle as the ingestion default.
func (s *Store) Activate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loadState(ctx)
	if err != nil {
		return err
	}
	if !st.has(id) {
		return fmt.Errorf("%w: %s", report.ErrUnknownBundle, id)
	}
	st.Active = id
	return s.saveState(ctx, st)
}

// Active returns the active bundle id or ErrNoActiveBundle.
func (s *Store) Active(ctx context.Context) (string, error) {
	st, err := s.loadState(ctx)
	if err != nil {
		return "", err
	}
	if st.Active == "" {
		return "", report.ErrNoActiveBundle
	}
	return st.Active, nil
}

// List returns all persisted bundles in submission order.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	st, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	return st.Bundles, nil
}

// Mapping loads and decodes a bundle's compiled mapping.
func (s *Store) Mapping(ctx context.Context, id string) (*mapping.Mapping, error) {
	data, err := s.artifact(ctx, id, "mapping.yaml")
	if err != nil {
		return nil, err
	}
	return mapping.Decode(data)
}

// JSONSchema loads the tool-generated JSON Schema for a bundle.
func (s *Store) JSONSchema(ctx context.Context, id string) ([]byte, error) {
	return s.artifact(ctx, id, "schema.json")
}

// SchemaFiles reloads a bundle's schema members plus its primary filename,
// as the XML validation path stages them back into a scratch directory.
func (s *Store) SchemaFiles(ctx context.Context, id string) ([]tool.SchemaFile, string, error) {
	infoBytes, err := s.artifact(ctx, id, "info.json")
	if err != nil {
		return nil, "", err
	}
	var info Info
	if err := json.Unmarshal(infoBytes, &info); err != nil {
		return nil, "", fmt.Errorf("bundle %s: corrupt info record: %w", id, err)
	}
	files := make([]tool.SchemaFile, 0, len(info.Files))
	for _, name := range info.Files {
		data, err := s.blobs.Get(ctx, path.Join(id, "schema", name))
		if err != nil {
			return nil, "", fmt.Errorf("bundle %s: %w", id, err)
		}
		files = append(files, tool.SchemaFile{Name: name, Data: data})
	}
	return files, info.Primary, nil
}

func (s *Store) artifact(ctx context.Context, id, name string) ([]byte, error) {
	data, err := s.blobs.Get(ctx, path.Join(id, name))
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", report.ErrUnknownBundle, id)
		}
		return nil, err
	}
	return data, nil
}

func (s *Store) loadState(ctx context.Context) (*state, error) {
	data, err := s.blobs.Get(ctx, stateKey)
	if err != nil {
		if errorsIsNotFound(err) {
			return &state{}, nil
		}
		return nil, err
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt bundle state: %w", err)
	}
	return &st, nil
}

func (s *Store) saveState(ctx context.Context, st *state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.blobs.Put(ctx, stateKey, data)
}

func (st *state) has(id string) bool {
	for _, b := range st.Bundles {
		if b.ID == id {
			return true
		}
	}
	return false
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, blob.ErrNotFound)
}
