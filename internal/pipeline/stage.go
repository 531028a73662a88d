package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rileylemm/chatmind/internal/identity"
)

// Item is one upstream record handed to a transform, keyed by its content
// hash.
type Item struct {
	Hash   string
	Digest string // full-width digest of the raw record, for conflict detection
	Raw    json.RawMessage
}

// Result is a transform's per-item outcome. Output is appended to the stage's
// output stream on success; Outputs is for transforms that fan one input out
// into several records. Err marks a per-item failure that is logged and
// skipped without being recorded in state.
type Result struct {
	Hash    string
	Output  any
	Outputs []any
	Err     error
}

// Transform is the single capability interface an external enrichment must
// satisfy. Implementations are selected by configuration, never by branching
// in the orchestration code. A non-nil error from Process is systemic and
// aborts the batch; per-item failures go in Results.
type Transform interface {
	Process(ctx context.Context, items []Item) ([]Result, error)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(ctx context.Context, items []Item) ([]Result, error)

func (f TransformFunc) Process(ctx context.Context, items []Item) ([]Result, error) {
	return f(ctx, items)
}

// KeyFunc derives the content hash a stage records its output under.
type KeyFunc func(raw json.RawMessage) (string, error)

// Stage runs one pipeline step: read the upstream stream, filter out already
// processed hashes, invoke the transform on the remainder, append new output
// records, and update the state store.
type Stage struct {
	Name      string
	DataDir   string
	Upstream  string // upstream stream name
	Output    string // output stream name
	Key       KeyFunc
	Transform Transform

	BatchSize   int
	Retry       RetryPolicy
	MaxFailures int // consecutive item failures before escalating to systemic
	Force       bool

	Logger   *slog.Logger
	Notifier Notifier
}

// Notifier receives stage lifecycle events. A nil Notifier is valid.
type Notifier interface {
	StageEvent(ctx context.Context, stage, event string, fields map[string]any)
}

// RunStats summarizes one stage run.
type RunStats struct {
	RunID     string `json:"run_id"`
	Read      int    `json:"read"`
	Skipped   int    `json:"skipped"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

const (
	defaultBatchSize   = 20
	defaultMaxFailures = 5
)

// Run executes the stage to completion. Per-item failures are contained; a
// systemic failure aborts with SystemicError. State is flushed after every
// batch, so an interrupted run resumes from the last durable checkpoint.
func (s *Stage) Run(ctx context.Context) (RunStats, error) {
	stats := RunStats{RunID: uuid.NewString()}
	log := s.Logger.With("stage", s.Name, "run_id", stats.RunID)

	lock, err := AcquireRunLock(s.DataDir, s.Name)
	if err != nil {
		return stats, err
	}
	defer lock.Release()

	state, err := OpenState(s.DataDir, s.Name)
	if err != nil {
		return stats, err
	}
	if s.Force {
		state.ForceBypass()
		log.Info("force bypass enabled, prior state ignored")
	}

	reader, err := OpenStreamReader(StreamPath(s.DataDir, s.Upstream))
	if err != nil {
		return stats, fmt.Errorf("upstream stream for stage %s: %w", s.Name, err)
	}
	defer reader.Close()

	writer, err := OpenStreamWriter(StreamPath(s.DataDir, s.Output))
	if err != nil {
		return stats, err
	}
	defer writer.Close()

	s.notify(ctx, "started", map[string]any{"run_id": stats.RunID})
	log.Info("stage started", "force", s.Force)

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxFailures := s.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}

	var (
		batch       []Item
		seen        = make(map[string]bool) // duplicates within this run
		consecutive int
	)

	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}

		var results []Result
		err := s.Retry.Do(ctx, func() error {
			var perr error
			results, perr = s.Transform.Process(ctx, batch)
			return perr
		})
		if err != nil {
			s.failRun(ctx, log, &stats)
			return &SystemicError{Stage: s.Name, Err: err}
		}

		byHash := make(map[string]Item, len(batch))
		for _, it := range batch {
			byHash[it.Hash] = it
		}

		for _, res := range results {
			item, ok := byHash[res.Hash]
			if !ok {
				log.Warn("transform returned unknown hash, dropping", "hash", res.Hash)
				continue
			}
			if res.Err != nil {
				// Not recorded: a later run retries it.
				stats.Failed++
				consecutive++
				log.Warn("item failed, skipping",
					"hash", res.Hash,
					"error", res.Err,
				)
				if consecutive >= maxFailures {
					s.failRun(ctx, log, &stats)
					return &SystemicError{
						Stage: s.Name,
						Err:   fmt.Errorf("%d consecutive item failures, last: %w", consecutive, res.Err),
					}
				}
				continue
			}
			consecutive = 0

			if res.Output != nil {
				if err := writer.Append(res.Output); err != nil {
					return err
				}
			}
			for _, out := range res.Outputs {
				if err := writer.Append(out); err != nil {
					return err
				}
			}
			if err := state.Record(res.Hash, item.Digest, s.Output); err != nil {
				s.failRun(ctx, log, &stats)
				return err // StateConflict: fatal, signals a hashing bug
			}
			stats.Processed++
		}

		if err := writer.Flush(); err != nil {
			return err
		}
		if err := state.Flush(); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("stage interrupted", "processed", stats.Processed)
			return stats, ctx.Err()
		default:
		}

		raw, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Read++

		hash, err := s.Key(raw)
		if err != nil {
			// Malformed entity: fatal for this item, never defaulted.
			stats.Failed++
			log.Error("cannot derive content hash, item dropped", "error", err)
			continue
		}

		if seen[hash] || state.Has(hash) {
			stats.Skipped++
			continue
		}
		seen[hash] = true

		batch = append(batch, Item{
			Hash:   hash,
			Digest: identity.ContentDigest(raw),
			Raw:    raw,
		})
		if len(batch) >= batchSize {
			if err := flushBatch(); err != nil {
				return stats, err
			}
		}
	}

	if err := flushBatch(); err != nil {
		return stats, err
	}

	s.notify(ctx, "completed", map[string]any{
		"run_id":    stats.RunID,
		"read":      stats.Read,
		"skipped":   stats.Skipped,
		"processed": stats.Processed,
		"failed":    stats.Failed,
	})
	log.Info("stage complete",
		"read", stats.Read,
		"skipped", stats.Skipped,
		"processed", stats.Processed,
		"failed", stats.Failed,
	)
	return stats, nil
}

func (s *Stage) failRun(ctx context.Context, log *slog.Logger, stats *RunStats) {
	s.notify(ctx, "failed", map[string]any{
		"run_id":    stats.RunID,
		"processed": stats.Processed,
		"failed":    stats.Failed,
	})
	log.Error("stage aborting", "processed", stats.Processed, "failed", stats.Failed)
}

func (s *Stage) notify(ctx context.Context, event string, fields map[string]any) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.StageEvent(ctx, s.Name, event, fields)
}
