// Package blob provides the byte-store the pipeline persists schema bundles,
// compiled mappings, instance sources, and journals into. It is a flat
// key/value surface over a filesystem; keys are slash-separated paths.
package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// ErrNotFound is returned by Get for keys that were never put or were deleted.
var ErrNotFound = errors.New("blob not found")

// Store is the narrow interface the pipeline consumes. Implementations must
// be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns keys under prefix, sorted. pattern is an optional
	// doublestar glob applied to the part of the key after the prefix;
	// empty matches everything.
	List(ctx context.Context, prefix, pattern string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// FSStore stores blobs as files under a root directory. Each blob is written
// alongside a sidecar digest file so corruption is detectable on read.
type FSStore struct {
	fs   afero.Fs
	root string
}

const digestSuffix = ".b3"

// NewFSStore returns a Store rooted at dir on the given filesystem. Use
// afero.NewMemMapFs in tests and afero.NewOsFs in production.
func NewFSStore(fsys afero.Fs, dir string) *FSStore {
	return &FSStore{fs: fsys, root: dir}
}

func (s *FSStore) keyPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("empty blob key")
	}
	// Clean already collapsed any ".." segments against the leading slash,
	// so joining under root cannot escape it.
	return path.Join(s.root, clean), nil
}

func (s *FSStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	// Write-then-rename so readers never observe a partial blob.
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	sum := blake3.Sum256(data)
	return afero.WriteFile(s.fs, p+digestSuffix, []byte(hex.EncodeToString(sum[:])), 0o644)
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if want, err := afero.ReadFile(s.fs, p+digestSuffix); err == nil {
		sum := blake3.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != strings.TrimSpace(string(want)) {
			return nil, fmt.Errorf("blob %s: digest mismatch", key)
		}
	}
	return data, nil
}

func (s *FSStore) List(ctx context.Context, prefix, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base := s.root
	rel := strings.Trim(path.Clean("/"+prefix), "/")
	var keys []string
	walkRoot := base
	if rel != "" {
		walkRoot = path.Join(base, rel)
	}
	err := afero.Walk(s.fs, walkRoot, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, digestSuffix) || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		key := strings.TrimPrefix(strings.TrimPrefix(p, base), "/")
		tail := strings.TrimPrefix(strings.TrimPrefix(key, rel), "/")
		if pattern != "" {
			ok, merr := doublestar.Match(pattern, tail)
			if merr != nil {
				return merr
			}
			if !ok {
				return nil
			}
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.keyPath(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	_ = s.fs.Remove(p + digestSuffix)
	return nil
}
