// Package model defines the stream records produced by the pipeline stages.
// Records are immutable once written: enrichment stages attach new sibling
// records keyed by the same content hash rather than editing originals.
package model

import "time"

// Message is a single turn in a chat. Its id is always relative to its
// parent chat: <chat_id>_<position>.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user", "assistant" or "system"
	Content   string    `json:"content"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Chat is one conversation. Its id is a pure function of the normalized
// message content, so the same conversation arriving in two overlapping
// archives yields the same id.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Chunk is a contiguous run of one chat's messages treated as a single
// semantic/tagging unit. MessageHash is reproducible from
// {content, chat id, message ref, role} alone.
type Chunk struct {
	MessageHash string `json:"message_hash"`
	ChatID      string `json:"chat_id"`
	MessageRef  string `json:"message_ref"` // id of the first source message
	Role        string `json:"role"`
	Content     string `json:"content"`
	Position    int    `json:"position"` // chunk index within the chat
}

// EmbeddingRecord is the durable "produced" record for an embedded chunk.
// The vector itself lives in the vector store, keyed by the same hash.
type EmbeddingRecord struct {
	MessageHash string `json:"message_hash"`
	ChatID      string `json:"chat_id"`
	Model       string `json:"model"`
	Dim         int    `json:"dim"`
}

// TagRecord attaches tags and a category to a chunk.
type TagRecord struct {
	MessageHash string   `json:"message_hash"`
	ChatID      string   `json:"chat_id"`
	Tags        []string `json:"tags"`
	Category    string   `json:"category,omitempty"`
}

// ClusterAssignment maps a chunk to a topic cluster. ClusterID -1 means
// the clustering transform classified the chunk as noise.
type ClusterAssignment struct {
	MessageHash string `json:"message_hash"`
	ChatID      string `json:"chat_id"`
	ClusterID   int    `json:"cluster_id"`
}

// ClusterSummary is the generated summary for one topic cluster.
type ClusterSummary struct {
	ClusterID int      `json:"cluster_id"`
	Summary   string   `json:"summary"`
	Keywords  []string `json:"keywords,omitempty"`
	Size      int      `json:"size"`
}

// Position is a 2-D layout coordinate for a chunk, produced by the
// positioning transform.
type Position struct {
	MessageHash string  `json:"message_hash"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}
