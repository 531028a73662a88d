package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rileylemm/chatmind/internal/ingest"
	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

// ChunkTransform splits each chat into tagging-sized chunks. Pure and
// local: failures here are malformed chats, never transient.
type ChunkTransform struct {
	MaxChars int
}

func (t *ChunkTransform) Process(ctx context.Context, items []pipeline.Item) ([]pipeline.Result, error) {
	maxChars := t.MaxChars
	if maxChars <= 0 {
		maxChars = ingest.DefaultMaxChunkChars
	}

	results := make([]pipeline.Result, 0, len(items))
	for _, item := range items {
		var chat model.Chat
		if err := json.Unmarshal(item.Raw, &chat); err != nil {
			results = append(results, pipeline.Result{Hash: item.Hash, Err: fmt.Errorf("decode chat: %w", err)})
			continue
		}

		chunks, err := ingest.ChunkChat(chat, maxChars)
		if err != nil {
			results = append(results, pipeline.Result{Hash: item.Hash, Err: err})
			continue
		}

		outputs := make([]any, len(chunks))
		for i, c := range chunks {
			outputs[i] = c
		}
		results = append(results, pipeline.Result{Hash: item.Hash, Outputs: outputs})
	}
	return results, nil
}
