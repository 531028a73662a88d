package model

// Canonical stream names. Each stage appends to exactly one of these under
// <data>/streams/<name>.jsonl.
const (
	StreamChats      = "chats"
	StreamChunks     = "chunks"
	StreamEmbeddings = "embeddings"
	StreamTags       = "tags"
	StreamClusters   = "clusters"
	StreamSummaries  = "summaries"
	StreamPositions  = "positions"
)
