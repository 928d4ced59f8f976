// Package types provides shared type definitions for the brandnexus engine.
//
// # Labels
//
// Label is the closed document taxonomy. Every indexed document carries
// exactly one label; LabelUnknown is valid and searchable:
//
//	l, err := types.ParseLabel("brand_guideline")
//	if err != nil {
//	    // errors.Is(err, types.ErrInvalidArgument)
//	}
//
// # Errors
//
// The error taxonomy is a set of sentinels wrapped by every component:
//
//	ErrNotFound               path or record absent
//	ErrInvalidArgument        bad filter or limit, rejected before I/O
//	ErrIngestion              per-file indexing failure, collected in batch results
//	ErrClassifierUnavailable  statistical fallback missing, rules still apply
//	ErrStoreUnavailable       index store unreachable
//	ErrTimeout                embedding call exceeded its deadline
//	ErrInsufficientData       too few labeled examples to train
//
// # Results
//
// SearchResult, DocumentContent, DocumentSummary, CorpusAnalysis and Stats are
// the shapes returned by the engine's external operations. They carry JSON
// tags so the tool layer can encode them directly.
package types
