package contentstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// HashScheme identifies the content hash algorithm. It is persisted with the
// index so hashes computed by earlier runs remain comparable.
const HashScheme = "sha256-v1"

// DefaultMaxFileSize bounds the bytes read for a single document
const DefaultMaxFileSize = 10 << 20

var (
	// DefaultExtensions is the extension allow-list used when none is configured
	DefaultExtensions = []string{".md", ".markdown", ".txt", ".yaml", ".yml", ".json", ".html", ".htm"}

	// DefaultExcludes are glob patterns matched against every path segment
	DefaultExcludes = []string{"*.tmp", ".*", "__pycache__"}

	// ErrFileTooLarge is returned by Read when a file exceeds the size limit
	ErrFileTooLarge = errors.New("file too large")
)

// Candidate is a file discovered under a root
type Candidate struct {
	Root string // Absolute, cleaned root directory
	Abs  string // Absolute file path
	Rel  string // Slash-separated path relative to Root; the canonical document path
}

// Options configures filtering and limits
type Options struct {
	Extensions  []string
	Excludes    []string
	MaxFileSize int64

	// DirFS returns the view of root that Walk traverses. Defaults to os.DirFS.
	DirFS func(root string) fs.FS
}

// SkipFunc is told about an entry below a root that could not be read.
// rel is slash-separated and relative to the root.
type SkipFunc func(rel string, err error)

// Store reads documents from the local file system
type Store struct {
	extensions  map[string]bool
	excludes    []string
	maxFileSize int64
	dirFS       func(root string) fs.FS
}

// New creates a Store. Empty options fall back to the defaults.
func New(opts Options) *Store {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	excludes := opts.Excludes
	if excludes == nil {
		excludes = DefaultExcludes
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	dirFS := opts.DirFS
	if dirFS == nil {
		dirFS = os.DirFS
	}

	s := &Store{
		extensions:  make(map[string]bool, len(exts)),
		excludes:    excludes,
		maxFileSize: maxSize,
		dirFS:       dirFS,
	}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extensions[ext] = true
	}
	return s
}

// NormalizeRoot returns the absolute, cleaned form of root
func NormalizeRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: invalid root %q: %v", types.ErrInvalidArgument, root, err)
	}
	return filepath.Clean(abs), nil
}

// Walk calls fn for every candidate file under root, in lexical order.
// Hidden and excluded directories are skipped. A missing root returns an
// error wrapping types.ErrNotFound. An unreadable entry below the root is
// passed to onSkip, which may be nil, and the walk continues without it.
// Walk stops early when ctx is cancelled or fn returns an error.
func (s *Store) Walk(ctx context.Context, root string, fn func(Candidate) error, onSkip SkipFunc) error {
	root, err := NormalizeRoot(root)
	if err != nil {
		return err
	}

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: root does not exist: %s", types.ErrNotFound, root)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root is not a directory: %s", types.ErrInvalidArgument, root)
	}

	return fs.WalkDir(s.dirFS(root), ".", func(rel string, d fs.DirEntry, err error) error {
		if err != nil {
			if rel == "." {
				return err
			}
			if onSkip != nil {
				onSkip(rel, err)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if s.excluded(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		cand, ok := s.candidate(root, filepath.Join(root, filepath.FromSlash(rel)))
		if !ok {
			return nil
		}
		return fn(cand)
	})
}

// Match reports whether abs is a candidate under root, applying the same
// filters as Walk to every path segment
func (s *Store) Match(root, abs string) (Candidate, bool) {
	root = filepath.Clean(root)
	abs = filepath.Clean(abs)
	return s.candidate(root, abs)
}

// MatchDir reports whether a directory under root should be traversed
func (s *Store) MatchDir(root, abs string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(abs))
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	if rel == "." {
		return true
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if s.excluded(seg) {
			return false
		}
	}
	return true
}

func (s *Store) candidate(root, abs string) (Candidate, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return Candidate{}, false
	}
	rel = filepath.ToSlash(rel)

	for _, seg := range strings.Split(rel, "/") {
		if s.excluded(seg) {
			return Candidate{}, false
		}
	}
	if !s.extensions[strings.ToLower(filepath.Ext(abs))] {
		return Candidate{}, false
	}
	return Candidate{Root: root, Abs: abs, Rel: rel}, true
}

func (s *Store) excluded(name string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// Read returns the raw bytes and modification time of path. A file that
// vanished since it was listed yields an error wrapping types.ErrNotFound.
func (s *Store) Read(path string) ([]byte, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, time.Time{}, err
	}
	if info.IsDir() {
		return nil, time.Time{}, fmt.Errorf("%w: %s is a directory", types.ErrNotFound, path)
	}
	if info.Size() > s.maxFileSize {
		return nil, time.Time{}, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, path, info.Size(), s.maxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", types.ErrNotFound, path)
		}
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}

// Exists reports whether path currently exists as a regular file
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Hash computes the content hash of data under HashScheme
func Hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}
