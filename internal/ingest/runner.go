package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rileylemm/chatmind/internal/identity"
	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

// StageName is the ingest stage's state-store and lock key.
const StageName = "ingest"

// ChatStream is the ingest stage's output stream name.
const ChatStream = model.StreamChats

// Runner reads export archives and appends each previously unseen chat to
// the chats stream. Archives are transient: read once per run, never
// persisted as state. Chat identity is content-derived, so the same
// conversation arriving in overlapping archives is ingested exactly once.
type Runner struct {
	DataDir     string
	ArchivePath string
	Force       bool
	Logger      *slog.Logger
	Notifier    pipeline.Notifier
}

// Run executes the ingest stage. A malformed archive file is logged and
// skipped; per-chat dedup state is flushed after every file so an
// interrupted run resumes cleanly.
func (r *Runner) Run(ctx context.Context) (pipeline.RunStats, error) {
	var stats pipeline.RunStats

	lock, err := pipeline.AcquireRunLock(r.DataDir, StageName)
	if err != nil {
		return stats, err
	}
	defer lock.Release()

	state, err := pipeline.OpenState(r.DataDir, StageName)
	if err != nil {
		return stats, err
	}
	if r.Force {
		state.ForceBypass()
	}

	files, err := DiscoverArchives(r.ArchivePath)
	if err != nil {
		return stats, err
	}
	if len(files) == 0 {
		return stats, fmt.Errorf("no archives found under %s", r.ArchivePath)
	}
	r.Logger.Info("archives discovered", "stage", StageName, "files", len(files))

	writer, err := pipeline.OpenStreamWriter(pipeline.StreamPath(r.DataDir, ChatStream))
	if err != nil {
		return stats, err
	}
	defer writer.Close()

	if r.Notifier != nil {
		r.Notifier.StageEvent(ctx, StageName, "started", map[string]any{"files": len(files)})
	}

	seen := make(map[string]bool)
	for _, path := range files {
		select {
		case <-ctx.Done():
			r.Logger.Info("ingest interrupted", "processed", stats.Processed)
			return stats, ctx.Err()
		default:
		}

		chats, err := ParseArchiveFile(path)
		if err != nil {
			stats.Failed++
			r.Logger.Warn("failed to parse archive, skipping", "path", path, "error", err)
			continue
		}

		for _, chat := range chats {
			stats.Read++
			if seen[chat.ID] || state.Has(chat.ID) {
				stats.Skipped++
				continue
			}
			seen[chat.ID] = true

			digest, err := chatDigest(chat)
			if err != nil {
				stats.Failed++
				r.Logger.Error("cannot digest chat, dropped", "chat_id", chat.ID, "error", err)
				continue
			}
			if err := writer.Append(chat); err != nil {
				return stats, err
			}
			if err := state.Record(chat.ID, digest, ChatStream); err != nil {
				return stats, err // StateConflict: fatal, signals a hashing bug
			}
			stats.Processed++
		}

		if err := writer.Flush(); err != nil {
			return stats, err
		}
		if err := state.Flush(); err != nil {
			return stats, err
		}
		r.Logger.Info("archive ingested", "path", path, "chats", len(chats))
	}

	if r.Notifier != nil {
		r.Notifier.StageEvent(ctx, StageName, "completed", map[string]any{
			"read":      stats.Read,
			"skipped":   stats.Skipped,
			"processed": stats.Processed,
			"failed":    stats.Failed,
		})
	}
	r.Logger.Info("ingest complete",
		"read", stats.Read,
		"skipped", stats.Skipped,
		"processed", stats.Processed,
		"failed", stats.Failed,
	)
	return stats, nil
}

// chatDigest fingerprints the normalized message content only, so the same
// conversation under different titles or timestamps digests identically.
func chatDigest(chat model.Chat) (string, error) {
	type pair struct {
		Content string `json:"content"`
		Role    string `json:"role"`
	}
	pairs := make([]pair, 0, len(chat.Messages))
	for _, m := range chat.Messages {
		content := identity.Normalize(m.Content)
		if content == "" {
			continue
		}
		pairs = append(pairs, pair{Content: content, Role: m.Role})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("marshal chat digest: %w", err)
	}
	return identity.ContentDigest(data), nil
}
