// Package tagger attaches topic labels to chunks and generates cluster
// summaries via the LLM. Both transforms are idempotent by contract: the
// pipeline never re-sends content that was already labeled.
package tagger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rileylemm/chatmind/internal/anthropic"
	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

type Tagger struct {
	llm    *anthropic.Client
	logger *slog.Logger
}

func New(llm *anthropic.Client, logger *slog.Logger) *Tagger {
	return &Tagger{llm: llm, logger: logger}
}

type tagResponse struct {
	Results []struct {
		MessageHash string   `json:"message_hash"`
		Tags        []string `json:"tags"`
		Category    string   `json:"category"`
	} `json:"results"`
}

// Process implements pipeline.Transform for the tag stage: one LLM call per
// batch of chunks, results keyed back by message hash. A chunk missing from
// the response is a per-item failure; an API failure is systemic (transient
// when retryable).
func (t *Tagger) Process(ctx context.Context, items []pipeline.Item) ([]pipeline.Result, error) {
	chunks := make(map[string]model.Chunk, len(items))
	var sb strings.Builder
	for _, it := range items {
		var c model.Chunk
		if err := json.Unmarshal(it.Raw, &c); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		chunks[it.Hash] = c
		fmt.Fprintf(&sb, "--- segment %s (role: %s)\n%s\n\n", c.MessageHash, c.Role, c.Content)
	}

	prompt := fmt.Sprintf(tagUserPrompt, sb.String())
	raw, err := t.llm.Complete(ctx, tagSystemPrompt, []anthropic.Message{{Role: "user", Content: prompt}}, 4096)
	if err != nil {
		return nil, classify(err)
	}

	var resp tagResponse
	if err := json.Unmarshal([]byte(stripFences(raw)), &resp); err != nil {
		t.logger.Error("failed to parse tag response", "error", err, "raw", raw)
		return nil, fmt.Errorf("parse tag response: %w", err)
	}

	tagged := make(map[string]pipeline.Result, len(resp.Results))
	for _, r := range resp.Results {
		c, ok := chunks[r.MessageHash]
		if !ok {
			t.logger.Warn("tag result for unknown hash", "hash", r.MessageHash)
			continue
		}
		tagged[r.MessageHash] = pipeline.Result{
			Hash: r.MessageHash,
			Output: model.TagRecord{
				MessageHash: c.MessageHash,
				ChatID:      c.ChatID,
				Tags:        r.Tags,
				Category:    r.Category,
			},
		}
	}

	results := make([]pipeline.Result, 0, len(items))
	for _, it := range items {
		if res, ok := tagged[it.Hash]; ok {
			results = append(results, res)
			continue
		}
		results = append(results, pipeline.Result{
			Hash: it.Hash,
			Err:  fmt.Errorf("no tag result returned for %s", it.Hash),
		})
	}
	return results, nil
}

// classify maps retryable API errors onto the pipeline's transient marker so
// the stage retry policy applies.
func classify(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && apiErr.Retryable() {
		return pipeline.Transient(err)
	}
	return err
}

// stripFences tolerates models that wrap JSON in markdown fences despite the
// prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
