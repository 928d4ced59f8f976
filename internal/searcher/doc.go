// Package searcher ranks indexed documents for a free-text query.
//
// # Basic Usage
//
//	s := searcher.New(store,
//	    searcher.WithSemantic(emb, vectorIndex),
//	    searcher.WithCache(resultCache, 5*time.Minute))
//
//	results, err := s.Search(ctx, searcher.Request{
//	    Query: "logo clear space",
//	    Limit: 10,
//	})
//
// # Scoring
//
// Candidates come from the store's lexical search with label and category
// applied in SQL. Each candidate gets a lexical score:
//
//	lex = Σ_field weight × mean_term sat(tf)     sat(x) = x/(x+1)
//	weights: title 0.5, summary 0.3, full text 0.2
//
// normalized so the best candidate scores 1. When an embedder is configured
// the query is embedded and compared with the vector snapshot; documents
// with no lexical hit join when their similarity reaches MinSemanticScore.
// The final score is
//
//	score = w·semantic + (1−w)·lexical
//
// with w = 0.7 by default. w is 0 when no embedder is configured, when the
// query embedding fails, and for a document whose vector is missing or stale. Ties go to the most recently modified document,
// then to the lexically smaller path.
//
// # Caching
//
// With WithCache, identical requests are served from the result cache under
// "search:" + SHA-256 of the normalized request. The engine invalidates the
// cache whenever the index changes.
package searcher
