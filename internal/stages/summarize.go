package stages

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

// ClusterSummarizer generates one summary per topic cluster.
type ClusterSummarizer interface {
	Summarize(ctx context.Context, clusterID int, members []model.Chunk) (model.ClusterSummary, error)
}

// SummarizeTransform produces one summary record per cluster. Upstream
// items are cluster assignments collapsed by ClusterKey, so each item
// stands for one whole cluster; membership is resolved from the streams on
// demand.
type SummarizeTransform struct {
	DataDir    string
	Summarizer ClusterSummarizer

	members map[int][]model.Chunk
}

func (t *SummarizeTransform) Process(ctx context.Context, items []pipeline.Item) ([]pipeline.Result, error) {
	if t.members == nil {
		if err := t.loadMembers(); err != nil {
			return nil, err
		}
	}

	results := make([]pipeline.Result, 0, len(items))
	for _, item := range items {
		if item.Hash == NoiseClusterKey {
			// Recorded so noise is not revisited, but never summarized.
			results = append(results, pipeline.Result{Hash: item.Hash})
			continue
		}

		clusterID, err := parseClusterKey(item.Hash)
		if err != nil {
			results = append(results, pipeline.Result{Hash: item.Hash, Err: err})
			continue
		}
		members := t.members[clusterID]
		if len(members) == 0 {
			results = append(results, pipeline.Result{Hash: item.Hash, Err: fmt.Errorf("cluster %d has no resolvable members", clusterID)})
			continue
		}

		summary, err := t.Summarizer.Summarize(ctx, clusterID, members)
		if err != nil {
			// Retryable service trouble aborts the batch so the stage
			// retry policy gets a shot; anything else skips one cluster.
			if pipeline.IsTransient(err) {
				return nil, err
			}
			results = append(results, pipeline.Result{Hash: item.Hash, Err: err})
			continue
		}
		results = append(results, pipeline.Result{Hash: item.Hash, Output: summary})
	}
	return results, nil
}

// loadMembers joins the clusters stream against the chunks stream once per
// run. Assignments whose chunk is missing are dropped here and surface as
// empty clusters.
func (t *SummarizeTransform) loadMembers() error {
	chunks := make(map[string]model.Chunk)
	err := pipeline.ReadStream(pipeline.StreamPath(t.DataDir, model.StreamChunks), func(c model.Chunk) error {
		chunks[c.MessageHash] = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("read chunks stream: %w", err)
	}

	t.members = make(map[int][]model.Chunk)
	err = pipeline.ReadStream(pipeline.StreamPath(t.DataDir, model.StreamClusters), func(a model.ClusterAssignment) error {
		if a.ClusterID < 0 {
			return nil
		}
		if c, ok := chunks[a.MessageHash]; ok {
			t.members[a.ClusterID] = append(t.members[a.ClusterID], c)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("read clusters stream: %w", err)
	}
	return nil
}

func parseClusterKey(key string) (int, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(key, "cluster_"))
	if err != nil {
		return 0, fmt.Errorf("malformed cluster key %q", key)
	}
	return id, nil
}
