package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/brandnexus-mcp/internal/config"
	"github.com/dshills/brandnexus-mcp/internal/embedder"
	"github.com/dshills/brandnexus-mcp/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Roots = []string{root}
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "index.db")
	cfg.Watch.Debounce = 20 * time.Millisecond
	cfg.Schedule.Vectors = ""
	return cfg
}

func openEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func threeFileCorpus(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "brand/logo.md", "# Logo Usage\nUse the logo with clear space. #logo")
	writeFile(t, root, "campaigns/q3.txt", "Q3 campaign brief for the fall launch. @alice")
	writeFile(t, root, "notes.md", "random thoughts")
	return root
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Search.SemanticWeight = 2

	_, err := Open(context.Background(), cfg)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestOpen_CreatesDatabaseDirectory(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	openEngine(t, cfg)

	_, err := os.Stat(filepath.Dir(cfg.Database.Path))
	assert.NoError(t, err)
}

func TestIndexCorpus_ThreeFiles(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()

	res, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.IndexedCount)
	assert.Equal(t, 3, res.UpdatedCount)
	assert.Equal(t, 0, res.FailedCount)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.LabelHistogram["brand_guideline"])
	assert.Equal(t, 1, res.LabelHistogram["campaign_brief"])
	assert.Equal(t, 1, res.LabelHistogram["unknown"])

	results, err := e.Search(ctx, "logo", nil, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "brand/logo.md", results[0].Path)
	assert.Equal(t, types.LabelBrandGuideline, results[0].Label)

	analysis, err := e.AnalyzeCorpus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, analysis.TotalDocuments)
	assert.Equal(t, 1, analysis.LabelDistribution[types.LabelCampaignBrief])
	assert.Contains(t, analysis.TopTags, types.TagCount{Tag: "logo", Count: 1})
}

func TestIndexCorpus_Idempotent(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()

	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	second, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, second.IndexedCount)
	assert.Equal(t, 0, second.UpdatedCount)
	assert.Equal(t, 3, second.UnchangedCount)
}

func TestIndexCorpus_IdenticalRewriteIsUnchanged(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "brand/logo.md", "# Logo\nlogo rules")
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()

	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	// Same bytes, new mtime
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("# Logo\nlogo rules"), 0o644))
	require.NoError(t, os.Chtimes(path, later, later))

	res, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Equal(t, 1, res.UnchangedCount)
}

func TestIndexCorpus_NoRoots(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Roots = nil
	e := openEngine(t, cfg)

	_, err := e.IndexCorpus(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestIndexCorpus_DeleteThenGetDocument(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()

	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	doc, err := e.GetDocument(ctx, "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "random thoughts", doc.Content)

	require.NoError(t, os.Remove(filepath.Join(root, "notes.md")))
	res, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedCount)

	_, err = e.GetDocument(ctx, "notes.md")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestWatcher_DeleteRemovesDocument(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, e.StartWatching(ctx))

	require.NoError(t, os.Remove(filepath.Join(root, "notes.md")))
	require.Eventually(t, func() bool {
		e.FlushWatcher()
		_, err := e.GetDocument(ctx, "notes.md")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)

	_, err = e.GetDocument(ctx, "notes.md")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestWatcher_NewFileIsIndexed(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.StartWatching(ctx))
	writeFile(t, root, "voice/tone.md", "# Tone\nOur voice is warm.")

	require.Eventually(t, func() bool {
		e.FlushWatcher()
		_, err := e.GetDocument(ctx, "voice/tone.md")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	docs, err := e.GetByLabel(ctx, types.LabelBrandVoice, "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Tone", docs[0].Title)
}

func TestGetDocument_Paths(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()
	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	doc, err := e.GetDocument(ctx, filepath.Join(root, "brand", "logo.md"))
	require.NoError(t, err)
	assert.Equal(t, "brand/logo.md", doc.Path)

	doc, err = e.GetDocument(ctx, "./brand/../brand/logo.md")
	require.NoError(t, err)
	assert.Equal(t, "brand/logo.md", doc.Path)
	assert.Greater(t, doc.Size, int64(0))

	_, err = e.GetDocument(ctx, "  ")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = e.GetDocument(ctx, "../outside.md")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = e.GetDocument(ctx, "missing.md")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.GetDocument(ctx, "/definitely/not/a/root/file.md")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestGetByLabel(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "brand/logo.md", "# Logo\nlogo usage")
	writeFile(t, root, "brand/colors.md", "# Colors\nidentity palette")
	writeFile(t, root, "campaigns/q3.txt", "campaign brief")
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()
	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	docs, err := e.GetByLabel(ctx, types.LabelBrandGuideline, "")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "brand/colors.md", docs[0].Path)
	assert.Equal(t, "brand/logo.md", docs[1].Path)

	docs, err = e.GetByLabel(ctx, types.LabelBrandGuideline, "campaigns")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	_, err = e.GetByLabel(ctx, types.Label("memo"), "")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestSearch_InvalidArguments(t *testing.T) {
	e := openEngine(t, testConfig(t, t.TempDir()))
	ctx := context.Background()

	_, err := e.Search(ctx, "   ", nil, "", 10)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = e.Search(ctx, "logo", nil, "", 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = e.Search(ctx, "logo", nil, "", 101)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	results, err := e.Search(ctx, "logo", nil, "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_CacheInvalidatedByIndexing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "brand/logo.md", "# Logo\nlogo usage")
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()
	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	first, err := e.Search(ctx, "logo", nil, "", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = e.Search(ctx, "logo", nil, "", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.CacheStats().Hits)

	writeFile(t, root, "brand/logo-dark.md", "# Dark Logo\nlogo on dark backgrounds")
	_, err = e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	after, err := e.Search(ctx, "logo", nil, "", 10)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestStats(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()

	empty, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.DocumentCount)
	assert.True(t, empty.LastIndexTime.IsZero())

	_, err = e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.DocumentCount)
	assert.Greater(t, stats.IndexSizeBytes, int64(0))
	assert.False(t, stats.LastIndexTime.IsZero())

	cs, err := e.ContentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, cs.RecentUpdates)
	assert.Greater(t, cs.TotalWords, int64(0))
	assert.Equal(t, 1, cs.LabelDistribution[types.LabelUnknown])
}

func TestStats_CopiesAndFollowsRuns(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))
	ctx := context.Background()

	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	first, err := e.Stats(ctx)
	require.NoError(t, err)
	first.DocumentCount = 99

	again, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, again.DocumentCount, "cached stats are copied")

	cs, err := e.ContentStats(ctx)
	require.NoError(t, err)
	cs.LabelDistribution[types.LabelUnknown] = 99
	cs, err = e.ContentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.LabelDistribution[types.LabelUnknown])

	// A rescan that changes nothing still moves the last index time
	res, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 0, res.UpdatedCount)

	after, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, after.LastIndexTime.After(again.LastIndexTime))
}

func TestHealth(t *testing.T) {
	root := threeFileCorpus(t)
	cfg := testConfig(t, root)
	e := openEngine(t, cfg)

	report, err := e.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.True(t, report.Database.OK)
	assert.Equal(t, "rules", report.Classifier)

	cfg.Roots = append(cfg.Roots, filepath.Join(root, "missing"))
	report, err = e.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Len(t, report.Issues, 1)
}

func TestTrainClassifier(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "brand/logo.md", "# Logo\nlogo placement and clear space")
	writeFile(t, root, "brand/colors.md", "# Colors\nidentity palette and logo colors")
	writeFile(t, root, "campaigns/q3.txt", "campaign brief for the autumn launch")
	writeFile(t, root, "campaigns/q4.txt", "holiday campaign brief and launch plan")
	writeFile(t, root, "notes.md", "random thoughts")

	cfg := testConfig(t, root)
	cfg.Classifier.MinExamples = 4
	e := openEngine(t, cfg)
	ctx := context.Background()

	_, err := e.TrainClassifier(ctx)
	assert.ErrorIs(t, err, types.ErrInsufficientData)

	_, err = e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	res, err := e.TrainClassifier(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Examples)
	assert.ElementsMatch(t, []types.Label{types.LabelBrandGuideline, types.LabelCampaignBrief}, res.Labels)

	report, err := e.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rules+model", report.Classifier)

	// The model survives a restart
	require.NoError(t, e.Close())
	reopened := openEngine(t, cfg)
	report, err = reopened.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rules+model", report.Classifier)
}

func TestRefreshVectors(t *testing.T) {
	root := threeFileCorpus(t)
	e := openEngine(t, testConfig(t, root))

	_, err := e.RefreshVectors(context.Background())
	assert.ErrorIs(t, err, embedder.ErrNoProviderEnabled)
	assert.False(t, e.Semantic())
}

func TestSemanticSearch_LocalEmbedder(t *testing.T) {
	root := threeFileCorpus(t)
	cfg := testConfig(t, root)
	cfg.Embedding.Provider = "local"
	e := openEngine(t, cfg)
	ctx := context.Background()
	require.True(t, e.Semantic())

	_, err := e.IndexCorpus(ctx, nil)
	require.NoError(t, err)

	refreshed, err := e.RefreshVectors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed.Embedded)

	report, err := e.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.VectorsFresh)
	assert.Equal(t, 0, report.VectorsStale)
	assert.NotEmpty(t, report.VectorModel)

	results, err := e.Search(ctx, "logo clear space", nil, "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "brand/logo.md", results[0].Path)
	assert.Greater(t, results[0].SemanticScore, 0.0)
}

func TestStartAndClose(t *testing.T) {
	root := threeFileCorpus(t)
	cfg := testConfig(t, root)
	cfg.Embedding.Provider = "local"
	cfg.Schedule.Rescan = "@every 1h"
	cfg.Schedule.Vectors = "@every 1h"
	e, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Start(ctx), types.ErrStoreUnavailable)
}

func TestClose_WaitsForWrites(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 200; i++ {
		writeFile(t, root, fmt.Sprintf("notes/n%03d.md", i), "launch notes for the brand team")
	}
	e, err := Open(context.Background(), testConfig(t, root))
	require.NoError(t, err)

	type outcome struct {
		res *IndexResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.IndexCorpus(context.Background(), nil)
		done <- outcome{res, err}
	}()

	require.NoError(t, e.Close())

	out := <-done
	if out.err != nil {
		assert.True(t, errors.Is(out.err, types.ErrStoreUnavailable) || errors.Is(out.err, context.Canceled), out.err)
	}
	if out.res != nil {
		for _, msg := range out.res.Errors {
			assert.NotContains(t, msg, types.ErrStoreUnavailable.Error())
		}
	}

	_, err = e.IndexCorpus(context.Background(), nil)
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	_, err = e.TrainClassifier(context.Background())
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
}
