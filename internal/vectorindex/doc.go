// Package vectorindex keeps document embeddings in memory for semantic
// scoring.
//
// An Index holds an immutable Snapshot of the fresh vectors for the active
// model version behind an atomic pointer. Rebuild loads a new snapshot from
// the store and swaps it in, so searches always score against a complete
// snapshot.
//
// A Refresher finds documents whose vectors are missing or stale (computed
// from older content or by another model), embeds them on an ants worker
// pool under a rate limit and a per-call timeout, stores the results and
// rebuilds the index. Failures leave the vector stale for the next cycle.
package vectorindex
