package ingest

// Config tunes the ingestion pipeline.
//
// ChunkSize:    target characters per chunk.
// ChunkOverlap: characters carried over from the tail of one chunk into the
//               next for context bleed.
// EmbedDim:     embedding dimensionality the vector collections are created with.
// MaxAttempts:  queue deliveries before a retryable failure is logged as
//               permanent and the job is dropped.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	EmbedDim     int
	MaxAttempts  int
}

// DefaultConfig matches the retrieval design: ~900-character chunks with
// ~180 characters of overlap, split on line boundaries where possible.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:    900,
		ChunkOverlap: 180,
		EmbedDim:     768,
		MaxAttempts:  5,
	}
}
