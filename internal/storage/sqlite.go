package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dshills/brandnexus-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = types.ErrNotFound
	// ErrStoreUnavailable is returned when the database is closed or unreachable
	ErrStoreUnavailable = types.ErrStoreUnavailable
)

// candidateLimitCap bounds the stale documents loaded per refresh batch
const candidateLimitCap = 1000

const documentColumns = `d.id, d.path, d.root, d.title, d.label, d.category, d.last_modified,
	d.content_hash, d.tags, d.mentions, d.summary, d.word_count, d.size_bytes, d.indexed_at`

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	closed atomic.Bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens dbPath and applies all pending migrations.
// Use ":memory:" for an isolated in-process store.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: database closed", ErrStoreUnavailable)
	}
	return s.storeErr(s.db.PingContext(ctx))
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("%w: database closed", ErrStoreUnavailable)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// storeErr marks errors caused by an unusable connection as ErrStoreUnavailable
func (s *SQLiteStorage) storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	if s.closed.Load() || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.storage.storeErr(t.tx.Commit())
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) []string {
	var out []string
	if s == "" {
		return []string{}
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// scanDocument scans documentColumns, optionally followed by full_text
func scanDocument(row rowScanner, withText bool) (*Document, error) {
	var (
		doc                   Document
		label                 string
		lastModified, indexed int64
		hash                  []byte
		tags, mentions        string
	)
	dest := []interface{}{
		&doc.ID, &doc.Path, &doc.Root, &doc.Title, &label, &doc.Category, &lastModified,
		&hash, &tags, &mentions, &doc.Summary, &doc.WordCount, &doc.SizeBytes, &indexed,
	}
	if withText {
		dest = append(dest, &doc.FullText)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	doc.Label = types.Label(label)
	doc.LastModified = fromNanos(lastModified)
	doc.IndexedAt = fromNanos(indexed)
	copy(doc.ContentHash[:], hash)
	doc.Tags = decodeList(tags)
	doc.Mentions = decodeList(mentions)
	return &doc, nil
}

func collectDocuments(rows *sql.Rows, withText bool) ([]*Document, error) {
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows, withText)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// applyFilter appends hard label/category filters to a query over alias d
func applyFilter(query string, args []interface{}, filter DocumentFilter) (string, []interface{}) {
	if filter.Label != "" {
		query += " AND d.label = ?"
		args = append(args, string(filter.Label))
	}
	if filter.Category != "" {
		query += " AND d.category = ?"
		args = append(args, filter.Category)
	}
	return query, args
}

// Document operations

// upsertDocumentWithQuerier inserts or updates the record for doc.Path in place,
// keeping the surrogate id stable, and sets doc.ID
func (s *SQLiteStorage) upsertDocumentWithQuerier(ctx context.Context, q querier, doc *Document) error {
	if doc.Path == "" {
		return fmt.Errorf("%w: empty document path", types.ErrInvalidArgument)
	}
	if !doc.Label.Valid() {
		return fmt.Errorf("%w: invalid label %q", types.ErrInvalidArgument, doc.Label)
	}

	tags, err := encodeList(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	mentions, err := encodeList(doc.Mentions)
	if err != nil {
		return fmt.Errorf("failed to encode mentions: %w", err)
	}

	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now()
	}

	query := `
		INSERT INTO documents (path, root, title, label, category, last_modified, content_hash,
		                       tags, mentions, summary, word_count, size_bytes, full_text, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			root = excluded.root,
			title = excluded.title,
			label = excluded.label,
			category = excluded.category,
			last_modified = excluded.last_modified,
			content_hash = excluded.content_hash,
			tags = excluded.tags,
			mentions = excluded.mentions,
			summary = excluded.summary,
			word_count = excluded.word_count,
			size_bytes = excluded.size_bytes,
			full_text = excluded.full_text,
			indexed_at = excluded.indexed_at
		RETURNING id
	`
	var id int64
	err = q.QueryRowContext(ctx, query,
		doc.Path, doc.Root, doc.Title, string(doc.Label), doc.Category, toNanos(doc.LastModified),
		doc.ContentHash[:], tags, mentions, doc.Summary, doc.WordCount, doc.SizeBytes,
		doc.FullText, toNanos(doc.IndexedAt),
	).Scan(&id)
	if err != nil {
		return s.storeErr(fmt.Errorf("failed to upsert document: %w", err))
	}
	doc.ID = id
	return nil
}

func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *Document) error {
	return s.upsertDocumentWithQuerier(ctx, s.db, doc)
}

func (s *SQLiteStorage) getDocumentByPathWithQuerier(ctx context.Context, q querier, path string) (*Document, error) {
	query := `SELECT ` + documentColumns + `, d.full_text FROM documents d WHERE d.path = ?`
	doc, err := scanDocument(q.QueryRowContext(ctx, query, path), true)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.storeErr(err)
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	return s.getDocumentByPathWithQuerier(ctx, s.db, path)
}

func (s *SQLiteStorage) getDocumentByIDWithQuerier(ctx context.Context, q querier, id int64) (*Document, error) {
	query := `SELECT ` + documentColumns + `, d.full_text FROM documents d WHERE d.id = ?`
	doc, err := scanDocument(q.QueryRowContext(ctx, query, id), true)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.storeErr(err)
	}
	return doc, nil
}

func (s *SQLiteStorage) GetDocumentByID(ctx context.Context, id int64) (*Document, error) {
	return s.getDocumentByIDWithQuerier(ctx, s.db, id)
}

func (s *SQLiteStorage) getDocumentStateWithQuerier(ctx context.Context, q querier, path string) (*DocumentState, error) {
	var (
		state DocumentState
		label string
		hash  []byte
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, root, label, content_hash FROM documents WHERE path = ?", path,
	).Scan(&state.ID, &state.Root, &label, &hash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.storeErr(err)
	}
	state.Label = types.Label(label)
	copy(state.ContentHash[:], hash)
	return &state, nil
}

func (s *SQLiteStorage) GetDocumentState(ctx context.Context, path string) (*DocumentState, error) {
	return s.getDocumentStateWithQuerier(ctx, s.db, path)
}

// deleteDocumentWithQuerier removes the record and its vector entry
func (s *SQLiteStorage) deleteDocumentWithQuerier(ctx context.Context, q querier, path string) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM vectors WHERE document_id IN (SELECT id FROM documents WHERE path = ?)", path)
	if err != nil {
		return s.storeErr(fmt.Errorf("failed to delete vector: %w", err))
	}

	result, err := q.ExecContext(ctx, "DELETE FROM documents WHERE path = ?", path)
	if err != nil {
		return s.storeErr(fmt.Errorf("failed to delete document: %w", err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteDocument(ctx context.Context, path string) error {
	return s.deleteDocumentWithQuerier(ctx, s.db, path)
}

func (s *SQLiteStorage) listDocumentPathsWithQuerier(ctx context.Context, q querier, root string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT path FROM documents WHERE root = ? ORDER BY path", root)
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (s *SQLiteStorage) ListDocumentPaths(ctx context.Context, root string) ([]string, error) {
	return s.listDocumentPathsWithQuerier(ctx, s.db, root)
}

// listDocumentsWithQuerier returns documents without full text, ordered by path
func (s *SQLiteStorage) listDocumentsWithQuerier(ctx context.Context, q querier, filter DocumentFilter) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents d WHERE 1=1`
	query, args := applyFilter(query, nil, filter)
	query += " ORDER BY d.path"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.storeErr(fmt.Errorf("failed to list documents: %w", err))
	}
	return collectDocuments(rows, false)
}

func (s *SQLiteStorage) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	return s.listDocumentsWithQuerier(ctx, s.db, filter)
}

func (s *SQLiteStorage) getDocumentsByIDsWithQuerier(ctx context.Context, q querier, ids []int64, filter DocumentFilter) ([]*Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := `SELECT ` + documentColumns + `, d.full_text FROM documents d
		WHERE d.id IN (` + strings.Join(placeholders, ",") + `)`
	query, args = applyFilter(query, args, filter)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.storeErr(fmt.Errorf("failed to load documents: %w", err))
	}
	return collectDocuments(rows, true)
}

func (s *SQLiteStorage) GetDocumentsByIDs(ctx context.Context, ids []int64, filter DocumentFilter) ([]*Document, error) {
	return s.getDocumentsByIDsWithQuerier(ctx, s.db, ids, filter)
}

// Search operations

// searchLexicalWithQuerier returns documents (with full text) whose title,
// summary or body match any query term, either as an FTS5 token prefix or as
// a substring. Hard filters are applied in SQL; scoring is left to the caller,
// so a limit <= 0 returns every match.
func (s *SQLiteStorage) searchLexicalWithQuerier(ctx context.Context, q querier, query string, filter DocumentFilter, limit int) ([]*Document, error) {
	terms := QueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	conditions := []string{"d.id IN (SELECT rowid FROM documents_fts WHERE documents_fts MATCH ?)"}
	args := []interface{}{buildFTSQuery(terms)}
	for _, term := range terms {
		pattern := likePattern(term)
		conditions = append(conditions,
			`d.title LIKE ? ESCAPE '\'`, `d.summary LIKE ? ESCAPE '\'`, `d.full_text LIKE ? ESCAPE '\'`)
		args = append(args, pattern, pattern, pattern)
	}

	sqlQuery := `SELECT ` + documentColumns + `, d.full_text FROM documents d
		WHERE (` + strings.Join(conditions, " OR ") + `)`
	sqlQuery, args = applyFilter(sqlQuery, args, filter)
	sqlQuery += " ORDER BY d.last_modified DESC, d.path ASC"
	if limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, s.storeErr(fmt.Errorf("failed to execute lexical search: %w", err))
	}
	return collectDocuments(rows, true)
}

func (s *SQLiteStorage) SearchLexical(ctx context.Context, query string, filter DocumentFilter, limit int) ([]*Document, error) {
	return s.searchLexicalWithQuerier(ctx, s.db, query, filter, limit)
}

// Vector operations

func (s *SQLiteStorage) upsertVectorWithQuerier(ctx context.Context, q querier, vec *Vector) error {
	if len(vec.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding", types.ErrInvalidArgument)
	}
	if vec.UpdatedAt.IsZero() {
		vec.UpdatedAt = time.Now()
	}
	vec.Dimension = len(vec.Embedding)

	// The document may have been deleted while its embedding was computed
	query := `
		INSERT INTO vectors (document_id, embedding, dimension, model_version, content_hash, updated_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM documents WHERE id = ?)
		ON CONFLICT(document_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model_version = excluded.model_version,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`
	result, err := q.ExecContext(ctx, query,
		vec.DocumentID, serializeVector(vec.Embedding), vec.Dimension, vec.ModelVersion,
		vec.ContentHash[:], toNanos(vec.UpdatedAt), vec.DocumentID)
	if err != nil {
		return s.storeErr(fmt.Errorf("failed to upsert vector: %w", err))
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: document %d", ErrNotFound, vec.DocumentID)
	}
	return nil
}

func (s *SQLiteStorage) UpsertVector(ctx context.Context, vec *Vector) error {
	return s.upsertVectorWithQuerier(ctx, s.db, vec)
}

// listVectorsWithQuerier returns only fresh vectors: computed under modelVersion
// from the document's current content
func (s *SQLiteStorage) listVectorsWithQuerier(ctx context.Context, q querier, modelVersion string) ([]*Vector, error) {
	query := `
		SELECT v.document_id, v.embedding, v.dimension, v.model_version, v.content_hash, v.updated_at
		FROM vectors v
		INNER JOIN documents d ON d.id = v.document_id
		WHERE v.model_version = ? AND v.content_hash = d.content_hash
		ORDER BY v.document_id
	`
	rows, err := q.QueryContext(ctx, query, modelVersion)
	if err != nil {
		return nil, s.storeErr(fmt.Errorf("failed to list vectors: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var vectors []*Vector
	for rows.Next() {
		var (
			vec       Vector
			blob      []byte
			hash      []byte
			updatedAt int64
		)
		if err := rows.Scan(&vec.DocumentID, &blob, &vec.Dimension, &vec.ModelVersion, &hash, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		vec.Embedding = deserializeVector(blob)
		copy(vec.ContentHash[:], hash)
		vec.UpdatedAt = fromNanos(updatedAt)
		vectors = append(vectors, &vec)
	}
	return vectors, rows.Err()
}

func (s *SQLiteStorage) ListVectors(ctx context.Context, modelVersion string) ([]*Vector, error) {
	return s.listVectorsWithQuerier(ctx, s.db, modelVersion)
}

func (s *SQLiteStorage) listStaleDocumentsWithQuerier(ctx context.Context, q querier, modelVersion string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = candidateLimitCap
	}
	query := `SELECT ` + documentColumns + `, d.full_text
		FROM documents d
		LEFT JOIN vectors v ON v.document_id = d.id
		WHERE v.document_id IS NULL OR v.model_version != ? OR v.content_hash != d.content_hash
		ORDER BY d.id
		LIMIT ?`
	rows, err := q.QueryContext(ctx, query, modelVersion, limit)
	if err != nil {
		return nil, s.storeErr(fmt.Errorf("failed to list stale documents: %w", err))
	}
	return collectDocuments(rows, true)
}

func (s *SQLiteStorage) ListStaleDocuments(ctx context.Context, modelVersion string, limit int) ([]*Document, error) {
	return s.listStaleDocumentsWithQuerier(ctx, s.db, modelVersion, limit)
}

func (s *SQLiteStorage) countVectorsWithQuerier(ctx context.Context, q querier, modelVersion string) (VectorCounts, error) {
	var counts VectorCounts
	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&total); err != nil {
		return counts, s.storeErr(err)
	}
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vectors v
		INNER JOIN documents d ON d.id = v.document_id
		WHERE v.model_version = ? AND v.content_hash = d.content_hash
	`, modelVersion).Scan(&counts.Fresh)
	if err != nil {
		return counts, s.storeErr(err)
	}
	counts.Stale = total - counts.Fresh
	return counts, nil
}

func (s *SQLiteStorage) CountVectors(ctx context.Context, modelVersion string) (VectorCounts, error) {
	return s.countVectorsWithQuerier(ctx, s.db, modelVersion)
}

// Aggregate operations

func (s *SQLiteStorage) countDocumentsWithQuerier(ctx context.Context, q querier) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, s.storeErr(err)
	}
	return n, nil
}

func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int, error) {
	return s.countDocumentsWithQuerier(ctx, s.db)
}

func (s *SQLiteStorage) labelDistributionWithQuerier(ctx context.Context, q querier) (map[types.Label]int, error) {
	rows, err := q.QueryContext(ctx, "SELECT label, COUNT(*) FROM documents GROUP BY label")
	if err != nil {
		return nil, s.storeErr(err)
	}
	defer func() { _ = rows.Close() }()

	dist := make(map[types.Label]int)
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		dist[types.Label(label)] = n
	}
	return dist, rows.Err()
}

func (s *SQLiteStorage) LabelDistribution(ctx context.Context) (map[types.Label]int, error) {
	return s.labelDistributionWithQuerier(ctx, s.db)
}

// topTagsWithQuerier counts documents per tag, ordered by count then tag
func (s *SQLiteStorage) topTagsWithQuerier(ctx context.Context, q querier, n int) ([]types.TagCount, error) {
	if n <= 0 {
		return []types.TagCount{}, nil
	}
	rows, err := q.QueryContext(ctx, `
		SELECT j.value, COUNT(*) AS cnt
		FROM documents d, json_each(d.tags) j
		GROUP BY j.value
		ORDER BY cnt DESC, j.value ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, s.storeErr(fmt.Errorf("failed to count tags: %w", err))
	}
	defer func() { _ = rows.Close() }()

	tags := []types.TagCount{}
	for rows.Next() {
		var tc types.TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		tags = append(tags, tc)
	}
	return tags, rows.Err()
}

func (s *SQLiteStorage) TopTags(ctx context.Context, n int) ([]types.TagCount, error) {
	return s.topTagsWithQuerier(ctx, s.db, n)
}

func (s *SQLiteStorage) contentStatsWithQuerier(ctx context.Context, q querier, since time.Time) (*ContentStats, error) {
	var stats ContentStats
	err := q.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN last_modified > ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(word_count), 0),
			COALESCE(SUM(word_count), 0)
		FROM documents
	`, toNanos(since)).Scan(&stats.RecentUpdates, &stats.AverageWords, &stats.TotalWords)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return &stats, nil
}

func (s *SQLiteStorage) ContentStats(ctx context.Context, since time.Time) (*ContentStats, error) {
	return s.contentStatsWithQuerier(ctx, s.db, since)
}

// Metadata operations

func (s *SQLiteStorage) setMetaWithQuerier(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return s.storeErr(err)
}

func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	return s.setMetaWithQuerier(ctx, s.db, key, value)
}

func (s *SQLiteStorage) getMetaWithQuerier(ctx context.Context, q querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", s.storeErr(err)
	}
	return value, nil
}

func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, error) {
	return s.getMetaWithQuerier(ctx, s.db, key)
}

// Index run operations

func (s *SQLiteStorage) recordIndexRunWithQuerier(ctx context.Context, q querier, run *IndexRun) error {
	if run.RunID == "" {
		return fmt.Errorf("%w: empty run id", types.ErrInvalidArgument)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO index_runs (run_id, started_at, finished_at, indexed, updated, deleted, failed, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, toNanos(run.StartedAt), toNanos(run.FinishedAt),
		run.Indexed, run.Updated, run.Deleted, run.Failed, run.Cancelled)
	if err != nil {
		return s.storeErr(fmt.Errorf("failed to record index run: %w", err))
	}
	return nil
}

func (s *SQLiteStorage) RecordIndexRun(ctx context.Context, run *IndexRun) error {
	return s.recordIndexRunWithQuerier(ctx, s.db, run)
}

func (s *SQLiteStorage) lastIndexRunWithQuerier(ctx context.Context, q querier) (*IndexRun, error) {
	var (
		run               IndexRun
		started, finished int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT run_id, started_at, finished_at, indexed, updated, deleted, failed, cancelled
		FROM index_runs
		ORDER BY finished_at DESC
		LIMIT 1
	`).Scan(&run.RunID, &started, &finished, &run.Indexed, &run.Updated, &run.Deleted, &run.Failed, &run.Cancelled)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.storeErr(err)
	}
	run.StartedAt = fromNanos(started)
	run.FinishedAt = fromNanos(finished)
	return &run, nil
}

func (s *SQLiteStorage) LastIndexRun(ctx context.Context) (*IndexRun, error) {
	return s.lastIndexRunWithQuerier(ctx, s.db)
}

// lastIndexTimeWithQuerier returns the later of the last finished rescan and
// the last single-document ingestion, or the zero time when nothing was indexed
func (s *SQLiteStorage) lastIndexTimeWithQuerier(ctx context.Context, q querier) (time.Time, error) {
	var last sql.NullInt64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(t) FROM (
			SELECT MAX(indexed_at) AS t FROM documents
			UNION ALL
			SELECT MAX(finished_at) AS t FROM index_runs
		)
	`).Scan(&last)
	if err != nil {
		return time.Time{}, s.storeErr(err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return fromNanos(last.Int64), nil
}

func (s *SQLiteStorage) LastIndexTime(ctx context.Context) (time.Time, error) {
	return s.lastIndexTimeWithQuerier(ctx, s.db)
}

// SizeBytes reports the database size from page_count * page_size
func (s *SQLiteStorage) SizeBytes(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, s.storeErr(err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, s.storeErr(err)
	}
	return pageCount * pageSize, nil
}

// Transaction implementations - every operation runs on the transaction's querier

func (t *sqliteTx) UpsertDocument(ctx context.Context, doc *Document) error {
	return t.storage.upsertDocumentWithQuerier(ctx, t.tx, doc)
}

func (t *sqliteTx) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	return t.storage.getDocumentByPathWithQuerier(ctx, t.tx, path)
}

func (t *sqliteTx) GetDocumentByID(ctx context.Context, id int64) (*Document, error) {
	return t.storage.getDocumentByIDWithQuerier(ctx, t.tx, id)
}

func (t *sqliteTx) GetDocumentState(ctx context.Context, path string) (*DocumentState, error) {
	return t.storage.getDocumentStateWithQuerier(ctx, t.tx, path)
}

func (t *sqliteTx) DeleteDocument(ctx context.Context, path string) error {
	return t.storage.deleteDocumentWithQuerier(ctx, t.tx, path)
}

func (t *sqliteTx) ListDocumentPaths(ctx context.Context, root string) ([]string, error) {
	return t.storage.listDocumentPathsWithQuerier(ctx, t.tx, root)
}

func (t *sqliteTx) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	return t.storage.listDocumentsWithQuerier(ctx, t.tx, filter)
}

func (t *sqliteTx) GetDocumentsByIDs(ctx context.Context, ids []int64, filter DocumentFilter) ([]*Document, error) {
	return t.storage.getDocumentsByIDsWithQuerier(ctx, t.tx, ids, filter)
}

func (t *sqliteTx) SearchLexical(ctx context.Context, query string, filter DocumentFilter, limit int) ([]*Document, error) {
	return t.storage.searchLexicalWithQuerier(ctx, t.tx, query, filter, limit)
}

func (t *sqliteTx) UpsertVector(ctx context.Context, vec *Vector) error {
	return t.storage.upsertVectorWithQuerier(ctx, t.tx, vec)
}

func (t *sqliteTx) ListVectors(ctx context.Context, modelVersion string) ([]*Vector, error) {
	return t.storage.listVectorsWithQuerier(ctx, t.tx, modelVersion)
}

func (t *sqliteTx) ListStaleDocuments(ctx context.Context, modelVersion string, limit int) ([]*Document, error) {
	return t.storage.listStaleDocumentsWithQuerier(ctx, t.tx, modelVersion, limit)
}

func (t *sqliteTx) CountVectors(ctx context.Context, modelVersion string) (VectorCounts, error) {
	return t.storage.countVectorsWithQuerier(ctx, t.tx, modelVersion)
}

func (t *sqliteTx) CountDocuments(ctx context.Context) (int, error) {
	return t.storage.countDocumentsWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) LabelDistribution(ctx context.Context) (map[types.Label]int, error) {
	return t.storage.labelDistributionWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) TopTags(ctx context.Context, n int) ([]types.TagCount, error) {
	return t.storage.topTagsWithQuerier(ctx, t.tx, n)
}

func (t *sqliteTx) ContentStats(ctx context.Context, since time.Time) (*ContentStats, error) {
	return t.storage.contentStatsWithQuerier(ctx, t.tx, since)
}

func (t *sqliteTx) SetMeta(ctx context.Context, key, value string) error {
	return t.storage.setMetaWithQuerier(ctx, t.tx, key, value)
}

func (t *sqliteTx) GetMeta(ctx context.Context, key string) (string, error) {
	return t.storage.getMetaWithQuerier(ctx, t.tx, key)
}

func (t *sqliteTx) RecordIndexRun(ctx context.Context, run *IndexRun) error {
	return t.storage.recordIndexRunWithQuerier(ctx, t.tx, run)
}

func (t *sqliteTx) LastIndexRun(ctx context.Context) (*IndexRun, error) {
	return t.storage.lastIndexRunWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) LastIndexTime(ctx context.Context) (time.Time, error) {
	return t.storage.lastIndexTimeWithQuerier(ctx, t.tx)
}

func (t *sqliteTx) SizeBytes(ctx context.Context) (int64, error) {
	// The single connection is held by the transaction, so query through it
	var pageCount, pageSize int64
	if err := t.tx.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, err
	}
	if err := t.tx.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pageCount * pageSize, nil
}

func (t *sqliteTx) Ping(ctx context.Context) error {
	return nil
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
