package indexer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/brandnexus-mcp/internal/classifier"
	"github.com/dshills/brandnexus-mcp/internal/contentstore"
	"github.com/dshills/brandnexus-mcp/internal/extractor"
	"github.com/dshills/brandnexus-mcp/internal/storage"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) storage.Storage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// createTestFile creates a file under dir, making parent directories
func createTestFile(t testing.TB, dir, name, content string) string {
	t.Helper()

	filePath := filepath.Join(dir, filepath.FromSlash(name))
	err := os.MkdirAll(filepath.Dir(filePath), 0755)
	require.NoError(t, err)

	err = os.WriteFile(filePath, []byte(content), 0644)
	require.NoError(t, err)

	return filePath
}

func newTestIndexer(store storage.Storage, opts ...Option) *Indexer {
	return New(store,
		contentstore.New(contentstore.Options{}),
		classifier.New(),
		extractor.New(extractor.Options{}),
		opts...)
}

type countingNudger struct {
	n atomic.Int32
}

func (c *countingNudger) Nudge() { c.n.Add(1) }

func TestIndexCorpus_ThreeFiles(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "brand/logo.md", "# Logo Usage\nUse the logo with clear space. #logo")
	createTestFile(t, root, "campaigns/q3.txt", "Q3 campaign brief for the fall launch. @alice")
	createTestFile(t, root, "notes.md", "random thoughts")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	result, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 3, result.Added)
	assert.Equal(t, 0, result.Failed)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.LabelHistogram[types.LabelBrandGuideline])
	assert.Equal(t, 1, result.LabelHistogram[types.LabelCampaignBrief])
	assert.Equal(t, 1, result.LabelHistogram[types.LabelUnknown])

	doc, err := store.GetDocumentByPath(context.Background(), "brand/logo.md")
	require.NoError(t, err)
	assert.Equal(t, "Logo Usage", doc.Title)
	assert.Equal(t, []string{"logo"}, doc.Tags)
	assert.Equal(t, "brand", doc.Category)

	run, err := store.LastIndexRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.RunID, run.RunID)
	assert.Equal(t, 3, run.Indexed)
}

func TestIndexCorpus_Idempotent(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "brand/logo.md", "# Logo\nlogo rules")
	createTestFile(t, root, "voice.md", "# Voice\nour tone")

	store := setupTestStorage(t)
	var invalidations atomic.Int32
	nudger := &countingNudger{}
	idx := newTestIndexer(store,
		WithInvalidate(func(context.Context) { invalidations.Add(1) }),
		WithNudger(nudger))

	first, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Updated)
	assert.Equal(t, int32(2), invalidations.Load())
	assert.Equal(t, int32(2), nudger.n.Load())

	before, err := store.GetDocumentByPath(context.Background(), "voice.md")
	require.NoError(t, err)

	second, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Indexed)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, int32(2), invalidations.Load(), "unchanged files must not invalidate")

	after, err := store.GetDocumentByPath(context.Background(), "voice.md")
	require.NoError(t, err)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.IndexedAt, after.IndexedAt)
}

func TestIndexCorpus_ModifiedFile(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "doc.md", "# Draft\nfirst version")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	_, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)

	createTestFile(t, root, "doc.md", "# Final\nour brand voice and tone")
	result, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Added)

	doc, err := store.GetDocumentByPath(context.Background(), "doc.md")
	require.NoError(t, err)
	assert.Equal(t, "Final", doc.Title)
	assert.Equal(t, types.LabelBrandVoice, doc.Label)
}

func TestIndexCorpus_SweepsDeletedFiles(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "keep.md", "keep me")
	gone := createTestFile(t, root, "gone.md", "delete me")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	_, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)

	require.NoError(t, os.Remove(gone))
	result, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	_, err = store.GetDocumentByPath(context.Background(), "gone.md")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = store.GetDocumentByPath(context.Background(), "keep.md")
	assert.NoError(t, err)
}

func TestIndexCorpus_MissingRootDoesNotSweep(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "a.md", "alpha")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	_, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)

	missing := filepath.Join(t.TempDir(), "missing")
	result, err := idx.IndexCorpus(context.Background(), []string{missing})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], types.ErrIngestion)
	assert.Equal(t, 1, result.Failed)

	n, err := store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "records of other roots survive")
}

func TestIndexCorpus_PathCollisionAcrossRoots(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	createTestFile(t, rootA, "shared.md", "from a")
	createTestFile(t, rootB, "shared.md", "from b")
	createTestFile(t, rootB, "only-b.md", "b only")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	result, err := idx.IndexCorpus(context.Background(), []string{rootA, rootB})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], types.ErrIngestion)

	doc, err := store.GetDocumentByPath(context.Background(), "shared.md")
	require.NoError(t, err)
	assert.Contains(t, doc.FullText, "from a")
}

func TestIndexCorpus_FileErrorsDoNotAbort(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "good.md", "fine")
	createTestFile(t, root, "bad.txt", string([]byte{0xff, 0xfe, 0xfd}))

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	result, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad.txt", result.Errors[0].Path)
}

// lockedDirFS refuses to list one directory of each root
type lockedDirFS struct {
	fs.FS
	dir string
}

func (l lockedDirFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == l.dir {
		return nil, &fs.PathError{Op: "readdirent", Path: name, Err: fs.ErrPermission}
	}
	return fs.ReadDir(l.FS, name)
}

func TestIndexCorpus_UnreadableDirectoryDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "a/first.md", "first")
	createTestFile(t, root, "b/locked.md", "locked")
	createTestFile(t, root, "c/last.md", "last")

	store := setupTestStorage(t)
	_, err := newTestIndexer(store).IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)

	// b becomes unreadable while a file is removed and another added
	require.NoError(t, os.Remove(filepath.Join(root, "a", "first.md")))
	createTestFile(t, root, "d/new.md", "new")

	idx := New(store,
		contentstore.New(contentstore.Options{DirFS: func(root string) fs.FS {
			return lockedDirFS{FS: os.DirFS(root), dir: "b"}
		}}),
		classifier.New(),
		extractor.New(extractor.Options{}))

	result, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "b", result.Errors[0].Path)
	assert.ErrorIs(t, result.Errors[0], types.ErrIngestion)
	assert.Equal(t, 1, result.Added, "files after the unreadable directory are indexed")
	assert.Equal(t, 1, result.Deleted, "the sweep still runs")

	_, err = store.GetDocumentByPath(context.Background(), "d/new.md")
	assert.NoError(t, err)
	_, err = store.GetDocumentByPath(context.Background(), "a/first.md")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetDocumentByPath(context.Background(), "b/locked.md")
	assert.NoError(t, err, "records below an unreadable directory are kept")
}

func TestIndexCorpus_ConcurrentCalls(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		createTestFile(t, root, fmt.Sprintf("file%d.md", i), fmt.Sprintf("document %d", i))
	}

	store := setupTestStorage(t)
	idx := newTestIndexer(store, WithWorkers(1))

	require.True(t, idx.lock.TryAcquire())
	_, err := idx.IndexCorpus(context.Background(), []string{root})
	assert.ErrorIs(t, err, ErrIndexingInProgress)
	idx.lock.Release()

	_, err = idx.IndexCorpus(context.Background(), []string{root})
	assert.NoError(t, err)
}

func TestIndexCorpus_ContextCancellation(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "a.md", "alpha")
	createTestFile(t, root, "b.md", "beta")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	_, err := idx.IndexCorpus(context.Background(), []string{root})
	require.NoError(t, err)

	// Remove a file, then cancel before the rescan starts: nothing is swept
	require.NoError(t, os.Remove(filepath.Join(root, "b.md")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := idx.IndexCorpus(ctx, []string{root})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.Deleted)

	n, err := store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	run, err := store.LastIndexRun(context.Background())
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
}

func TestIngestFile_Outcomes(t *testing.T) {
	root, err := contentstore.NormalizeRoot(t.TempDir())
	require.NoError(t, err)
	path := createTestFile(t, root, "brief.md", "campaign brief")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)
	ctx := context.Background()

	outcome, label, err := idx.IngestFile(ctx, root, "brief.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdded, outcome)
	assert.Equal(t, types.LabelCampaignBrief, label)

	outcome, _, err = idx.IngestFile(ctx, root, "brief.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	require.NoError(t, os.Remove(path))
	outcome, _, err = idx.IngestFile(ctx, root, "brief.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRemoved, outcome)

	outcome, _, err = idx.IngestFile(ctx, root, "brief.md")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestRemovePath(t *testing.T) {
	root, err := contentstore.NormalizeRoot(t.TempDir())
	require.NoError(t, err)
	createTestFile(t, root, "a.md", "alpha")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)
	ctx := context.Background()

	_, _, err = idx.IngestFile(ctx, root, "a.md")
	require.NoError(t, err)

	removed, err := idx.RemovePath(ctx, "/some/other/root", "a.md")
	require.NoError(t, err)
	assert.False(t, removed, "records owned by another root are kept")

	removed, err = idx.RemovePath(ctx, root, "a.md")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = idx.RemovePath(ctx, root, "a.md")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestIngestFile_ConcurrentSamePath(t *testing.T) {
	root, err := contentstore.NormalizeRoot(t.TempDir())
	require.NoError(t, err)
	createTestFile(t, root, "a.md", "alpha")

	store := setupTestStorage(t)
	idx := newTestIndexer(store)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := idx.IngestFile(context.Background(), root, "a.md")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := store.CountDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, idx.paths.len(), "path locks are released")
}

func TestPathLocks_Serializes(t *testing.T) {
	locks := newPathLocks()
	var active, maxActive atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("same")
			defer unlock()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, 0, locks.len())
}

func TestIndexLock_ConcurrentAcquisition(t *testing.T) {
	var lock IndexLock
	const numGoroutines = 100

	var successes atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if lock.TryAcquire() {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load(), "exactly one goroutine should acquire the lock")
	lock.Release()
	assert.True(t, lock.TryAcquire(), "lock should be available after Release")
	lock.Release()
}

func BenchmarkIndexCorpus(b *testing.B) {
	root := b.TempDir()
	for i := 0; i < 200; i++ {
		createTestFile(b, root, fmt.Sprintf("docs/file%d.md", i),
			fmt.Sprintf("# Document %d\nCampaign brief with #tag%d and @owner%d", i, i, i))
	}

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		store, err := storage.NewSQLiteStorage(":memory:")
		require.NoError(b, err)
		idx := newTestIndexer(store)
		b.StartTimer()

		_, err = idx.IndexCorpus(context.Background(), []string{root})
		require.NoError(b, err)

		b.StopTimer()
		_ = store.Close()
		b.StartTimer()
	}
}
