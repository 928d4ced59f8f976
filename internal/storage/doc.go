// Package storage provides SQLite-based persistence for indexed documents.
//
// The storage layer manages:
//   - Document records (path, label, category, hash, tags, summary, full text)
//   - The FTS5 lexical index over title, summary and body
//   - Per-document embeddings tagged with a model version
//   - Key/value metadata and the history of full rescans
//
// # Database Schema
//
// Tables:
//   - documents: one row per canonical path, unique on path, indexed on label and category
//   - documents_fts: FTS5 index kept in sync by triggers
//   - vectors: embeddings keyed by document id, removed with their document
//   - metadata: hash scheme, trained classifier model
//   - index_runs: one row per full rescan (added in 1.1.0)
//
// Migrations are additive. Rows written under an older schema read the
// documented column defaults (mentions '[]', size_bytes 0).
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("brandnexus.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.UpsertDocument(ctx, &storage.Document{
//	    Path:        "brand/guidelines.md",
//	    Root:        "/corpus",
//	    Label:       types.LabelBrandGuideline,
//	    ContentHash: hash,
//	    FullText:    text,
//	})
//
// UpsertDocument updates an existing path in place, so the surrogate id stays
// stable for vectors and resource URIs.
//
// # Transactions
//
// Use transactions to replace a record atomically:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.UpsertDocument(ctx, doc); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// The connection pool holds a single connection, so a caller holding a
// transaction must run every query through it.
//
// # Staleness
//
// A vector is fresh only when its model version matches the active one and
// its content hash matches the document's current hash. Rewriting a
// document with new content therefore makes its vector stale without a
// separate write; ListStaleDocuments returns the documents to re-embed.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with
// -tags "sqlite_cgo,fts5" switches to github.com/mattn/go-sqlite3.
package storage
