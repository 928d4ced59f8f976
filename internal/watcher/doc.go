// Package watcher keeps the index current between full rescans.
//
// fsnotify reports changes under every content root. Notifications for
// paths the content store would not index are dropped. Each remaining path
// is debounced: a burst of writes becomes one event carrying the latest
// kind once the path has been quiet for Debounce.
//
// Debounced events run on a bounded ants pool. Work on one path is never
// concurrent; an event arriving while its path is running waits, and only
// the latest waiting event is kept. Different paths proceed in any order.
//
// IndexHandler connects the watcher to the indexer. Because the indexer
// reconciles each path with what is on disk, a repeated or stale event is
// harmless. Files inside a directory that is renamed out of a root produce
// no events; the next full rescan removes them.
package watcher
