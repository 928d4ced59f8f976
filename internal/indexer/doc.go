// Package indexer runs the ingestion pipeline that keeps the document index
// in line with the content roots.
//
// # Basic Usage
//
//	idx := indexer.New(store, contentstore.New(contentstore.Options{}),
//	    classifier.New(), extractor.New(extractor.Options{}),
//	    indexer.WithLogger(logger))
//
//	result, err := idx.IndexCorpus(ctx, []string{"/srv/brand"})
//	fmt.Printf("indexed %d, updated %d, deleted %d\n",
//	    result.Indexed, result.Updated, result.Deleted)
//
// # Pipeline
//
// Each candidate file goes through:
//
//  1. Read: the content store applies extension, exclusion and size filters
//  2. Hash: SHA-256 of the raw bytes; an unchanged hash ends processing
//  3. Classify: path and keyword rules, then the statistical model
//  4. Extract: title, tags, mentions, summary, word count and category
//  5. Store: one transaction per document
//
// A successful write runs the invalidation callback and nudges the vector
// refresher. Embeddings are never computed inline.
//
// # Concurrency
//
// A full rescan processes up to Workers files at a time. Only one rescan
// may run; a second call returns ErrIndexingInProgress. Work on a single
// path, from a rescan or from the watcher, is serialized by a per-path lock
// so the last writer always sees the latest file content.
//
// # Deletions
//
// After a root has been walked to completion, records under it whose files
// were not seen are removed. A root that is missing or whose walk fails is
// reported in Result.Errors and nothing under it is deleted.
package indexer
