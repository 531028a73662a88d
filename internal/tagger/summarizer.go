package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rileylemm/chatmind/internal/anthropic"
	"github.com/rileylemm/chatmind/internal/model"
)

// Summarizer generates a summary and representative keywords for one topic
// cluster from a sample of its member chunks.
type Summarizer struct {
	llm    *anthropic.Client
	logger *slog.Logger
}

func NewSummarizer(llm *anthropic.Client, logger *slog.Logger) *Summarizer {
	return &Summarizer{llm: llm, logger: logger}
}

// maxSampleChunks bounds the prompt: large clusters are summarized from a
// sample, not the full membership.
const maxSampleChunks = 12

type summaryResponse struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Summarize produces the cluster's summary record. members must all belong
// to clusterID; Size reflects the full cluster, not the sample.
func (s *Summarizer) Summarize(ctx context.Context, clusterID int, members []model.Chunk) (model.ClusterSummary, error) {
	if len(members) == 0 {
		return model.ClusterSummary{}, fmt.Errorf("cluster %d has no members", clusterID)
	}

	sample := members
	if len(sample) > maxSampleChunks {
		sample = sample[:maxSampleChunks]
	}

	var sb strings.Builder
	for _, c := range sample {
		fmt.Fprintf(&sb, "--- (%s)\n%s\n\n", c.Role, c.Content)
	}
	prompt := fmt.Sprintf(summaryUserPrompt, len(members), sb.String())

	raw, err := s.llm.Complete(ctx, summarySystemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, 1024)
	if err != nil {
		return model.ClusterSummary{}, classify(err)
	}

	var resp summaryResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		s.logger.Error("failed to parse summary response", "cluster_id", clusterID, "error", err, "raw", raw)
		return model.ClusterSummary{}, fmt.Errorf("parse summary response: %w", err)
	}
	if resp.Summary == "" {
		return model.ClusterSummary{}, fmt.Errorf("empty summary for cluster %d", clusterID)
	}

	return model.ClusterSummary{
		ClusterID: clusterID,
		Summary:   resp.Summary,
		Keywords:  resp.Keywords,
		Size:      len(members),
	}, nil
}
