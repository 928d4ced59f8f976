// Package engine wires the content store, classifier, extractor, index
// store, vector index, searcher and caches into one object and exposes the
// operations served over MCP and the command line.
//
//	e, err := engine.Open(ctx, cfg, engine.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer e.Close()
//
//	res, err := e.IndexCorpus(ctx, nil)          // configured roots
//	hits, err := e.Search(ctx, "logo", nil, "", 10)
//
// Start launches the background work enabled in the configuration: file
// watching, the vector refresher and the cron rescans. Every index write
// invalidates the search and stats caches.
package engine
