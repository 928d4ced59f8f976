// Package embedder generates vector embeddings for documents and queries.
//
// Three providers implement the Embedder interface: OpenAI (via go-openai),
// Jina AI (HTTP) and a local feature-hashing model that needs no network.
// Every provider serves repeated texts from an expiring LRU cache keyed by
// the SHA-256 of the text, and remote providers retry transient failures
// with exponential backoff.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local"})
//	if errors.Is(err, embedder.ErrNoProviderEnabled) {
//	    // run lexical-only
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "logo clear space and minimum size",
//	})
//
// # Model Versions
//
// ModelVersion returns "provider:model". Stored vectors carry the version
// they were produced with; vectors from another version are never compared
// against query vectors and are re-embedded by the vector refresher.
//
// Provider comparison:
//
//	local   256 dims   offline, deterministic, word and word-pair features
//	openai  1536 dims  text-embedding-3-small by default, OPENAI_API_KEY
//	jina    1024 dims  jina-embeddings-v3 by default, JINA_API_KEY
//
// # Error Handling
//
// Client errors (4xx other than 408 and 429) fail immediately. Other
// failures are retried and then reported wrapped in ErrProviderFailed.
package embedder
