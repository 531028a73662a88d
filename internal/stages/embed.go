package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rileylemm/chatmind/internal/embedding"
	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
	"github.com/rileylemm/chatmind/internal/vector"
)

// Embedder is the slice of the embedding client the embed stage needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// VectorUpserter stores computed vectors keyed by chunk hash.
type VectorUpserter interface {
	Upsert(ctx context.Context, records []vector.Record) error
}

// EmbedTransform embeds each chunk's content and persists the vector in the
// vector store. The stream record it emits carries only the envelope (hash,
// model, dimensionality); the vector itself lives behind the store.
type EmbedTransform struct {
	Embedder Embedder
	Vectors  VectorUpserter
}

func (t *EmbedTransform) Process(ctx context.Context, items []pipeline.Item) ([]pipeline.Result, error) {
	chunks := make([]model.Chunk, 0, len(items))
	results := make([]pipeline.Result, 0, len(items))
	ok := make([]pipeline.Item, 0, len(items))

	for _, item := range items {
		var c model.Chunk
		if err := json.Unmarshal(item.Raw, &c); err != nil {
			results = append(results, pipeline.Result{Hash: item.Hash, Err: fmt.Errorf("decode chunk: %w", err)})
			continue
		}
		chunks = append(chunks, c)
		ok = append(ok, item)
	}
	if len(chunks) == 0 {
		return results, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := t.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, classifyExternal(err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(chunks), len(vectors))
	}

	records := make([]vector.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vector.Record{
			MessageHash: c.MessageHash,
			ChatID:      c.ChatID,
			Model:       t.Embedder.Model(),
			Embedding:   vectors[i],
		}
	}
	if err := t.Vectors.Upsert(ctx, records); err != nil {
		return nil, pipeline.Transient(fmt.Errorf("store vectors: %w", err))
	}

	for i := range ok {
		results = append(results, pipeline.Result{
			Hash: ok[i].Hash,
			Output: model.EmbeddingRecord{
				MessageHash: chunks[i].MessageHash,
				ChatID:      chunks[i].ChatID,
				Model:       t.Embedder.Model(),
				Dim:         len(vectors[i]),
			},
		})
	}
	return results, nil
}

// classifyExternal marks retryable service errors as transient so the
// stage's retry policy picks them up.
func classifyExternal(err error) error {
	var embErr *embedding.APIError
	if errors.As(err, &embErr) && embErr.Retryable() {
		return pipeline.Transient(err)
	}
	return err
}
