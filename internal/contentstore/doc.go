// Package contentstore abstracts the file tree that holds the corpus.
//
// A Store lists candidate files under configured roots, filtered by an
// extension allow-list and exclude globs, reads their bytes and modification
// time, and hashes content with a fixed, versioned scheme (HashScheme).
//
// Canonical document paths are slash-separated and relative to the root
// they were discovered under, so "brand/guidelines.md" is the same document
// regardless of where the corpus is mounted.
package contentstore
