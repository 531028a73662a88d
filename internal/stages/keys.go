// Package stages binds the enrichment transforms to the pipeline
// orchestrator: one key function and one transform per stage, each reading
// its upstream stream and appending to its own.
package stages

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rileylemm/chatmind/internal/model"
)

// Stage names, also the state-store and lock keys.
const (
	StageChunk     = "chunk"
	StageEmbed     = "embed"
	StageTag       = "tag"
	StageCluster   = "cluster"
	StageSummarize = "summarize"
	StagePosition  = "position"
)

// ChatKey keys a chats-stream record by its content-derived chat id.
func ChatKey(raw json.RawMessage) (string, error) {
	var chat model.Chat
	if err := json.Unmarshal(raw, &chat); err != nil {
		return "", fmt.Errorf("decode chat: %w", err)
	}
	if chat.ID == "" {
		return "", fmt.Errorf("chat record has no id")
	}
	return chat.ID, nil
}

// ChunkKey keys any chunk-shaped record by its message hash. It covers the
// chunks stream and every enrichment stream that carries message_hash.
func ChunkKey(raw json.RawMessage) (string, error) {
	var rec struct {
		MessageHash string `json:"message_hash"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	if rec.MessageHash == "" {
		return "", fmt.Errorf("record has no message_hash")
	}
	return rec.MessageHash, nil
}

// NoiseClusterKey collects every noise assignment under one key so the
// summarize stage records them once and emits nothing for them.
const NoiseClusterKey = "cluster_noise"

// ClusterKey keys a cluster assignment by its cluster id, so all members of
// one cluster collapse to a single summarization unit.
func ClusterKey(raw json.RawMessage) (string, error) {
	var a model.ClusterAssignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", fmt.Errorf("decode cluster assignment: %w", err)
	}
	if a.ClusterID < 0 {
		return NoiseClusterKey, nil
	}
	return "cluster_" + strconv.Itoa(a.ClusterID), nil
}
