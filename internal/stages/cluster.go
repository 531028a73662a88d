package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rileylemm/chatmind/internal/clusterer"
	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

// VectorFetcher loads stored vectors for a set of chunk hashes.
type VectorFetcher interface {
	Fetch(ctx context.Context, hashes []string) (map[string][]float32, error)
}

// ClusterClient is the slice of the sidecar client the cluster stage needs.
type ClusterClient interface {
	Cluster(ctx context.Context, ids []string, vectors [][]float32) (map[string]int, error)
}

// PositionClient is the slice of the sidecar client the position stage needs.
type PositionClient interface {
	Position(ctx context.Context, ids []string, vectors [][]float32) (map[string][2]float64, error)
}

// ClusterTransform assigns each embedded chunk to a topic cluster. It runs
// best with a large stage batch size: the sidecar clusters whatever set it
// is handed.
type ClusterTransform struct {
	Vectors VectorFetcher
	Client  ClusterClient
}

func (t *ClusterTransform) Process(ctx context.Context, items []pipeline.Item) ([]pipeline.Result, error) {
	recs, results := decodeEmbeddingRecords(items)
	if len(recs) == 0 {
		return results, nil
	}

	ids, vectors, missing, err := t.fetchVectors(ctx, recs)
	if err != nil {
		return nil, err
	}
	for hash, reason := range missing {
		results = append(results, pipeline.Result{Hash: hash, Err: reason})
	}
	if len(ids) == 0 {
		return results, nil
	}

	labels, err := t.Client.Cluster(ctx, ids, vectors)
	if err != nil {
		return nil, classifySidecar(err)
	}

	byHash := recordsByHash(recs)
	for _, id := range ids {
		label, ok := labels[id]
		if !ok {
			results = append(results, pipeline.Result{Hash: id, Err: fmt.Errorf("no cluster label returned")})
			continue
		}
		results = append(results, pipeline.Result{
			Hash: id,
			Output: model.ClusterAssignment{
				MessageHash: id,
				ChatID:      byHash[id].ChatID,
				ClusterID:   label,
			},
		})
	}
	return results, nil
}

func (t *ClusterTransform) fetchVectors(ctx context.Context, recs []model.EmbeddingRecord) (ids []string, vectors [][]float32, missing map[string]error, err error) {
	hashes := make([]string, len(recs))
	for i, r := range recs {
		hashes[i] = r.MessageHash
	}
	stored, err := t.Vectors.Fetch(ctx, hashes)
	if err != nil {
		return nil, nil, nil, pipeline.Transient(fmt.Errorf("fetch vectors: %w", err))
	}

	missing = make(map[string]error)
	for _, h := range hashes {
		vec, ok := stored[h]
		if !ok {
			missing[h] = fmt.Errorf("no stored vector for hash")
			continue
		}
		ids = append(ids, h)
		vectors = append(vectors, vec)
	}
	return ids, vectors, missing, nil
}

// PositionTransform projects each embedded chunk to 2-D layout coordinates.
type PositionTransform struct {
	Vectors VectorFetcher
	Client  PositionClient
}

func (t *PositionTransform) Process(ctx context.Context, items []pipeline.Item) ([]pipeline.Result, error) {
	recs, results := decodeEmbeddingRecords(items)
	if len(recs) == 0 {
		return results, nil
	}

	ct := &ClusterTransform{Vectors: t.Vectors}
	ids, vectors, missing, err := ct.fetchVectors(ctx, recs)
	if err != nil {
		return nil, err
	}
	for hash, reason := range missing {
		results = append(results, pipeline.Result{Hash: hash, Err: reason})
	}
	if len(ids) == 0 {
		return results, nil
	}

	positions, err := t.Client.Position(ctx, ids, vectors)
	if err != nil {
		return nil, classifySidecar(err)
	}

	for _, id := range ids {
		p, ok := positions[id]
		if !ok {
			results = append(results, pipeline.Result{Hash: id, Err: fmt.Errorf("no position returned")})
			continue
		}
		results = append(results, pipeline.Result{
			Hash:   id,
			Output: model.Position{MessageHash: id, X: p[0], Y: p[1]},
		})
	}
	return results, nil
}

func decodeEmbeddingRecords(items []pipeline.Item) ([]model.EmbeddingRecord, []pipeline.Result) {
	recs := make([]model.EmbeddingRecord, 0, len(items))
	var results []pipeline.Result
	for _, item := range items {
		var r model.EmbeddingRecord
		if err := json.Unmarshal(item.Raw, &r); err != nil {
			results = append(results, pipeline.Result{Hash: item.Hash, Err: fmt.Errorf("decode embedding record: %w", err)})
			continue
		}
		recs = append(recs, r)
	}
	return recs, results
}

func recordsByHash(recs []model.EmbeddingRecord) map[string]model.EmbeddingRecord {
	byHash := make(map[string]model.EmbeddingRecord, len(recs))
	for _, r := range recs {
		byHash[r.MessageHash] = r
	}
	return byHash
}

func classifySidecar(err error) error {
	var apiErr *clusterer.APIError
	if errors.As(err, &apiErr) && apiErr.Retryable() {
		return pipeline.Transient(err)
	}
	return err
}
