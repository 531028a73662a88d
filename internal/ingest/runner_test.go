package ingest

import (
	"context"
	"log/slog"
	"testing"

	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

func countChats(t *testing.T, dataDir string) int {
	t.Helper()
	n := 0
	err := pipeline.ReadStream(pipeline.StreamPath(dataDir, ChatStream), func(model.Chat) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("read chats stream: %v", err)
	}
	return n
}

func TestRunner_IngestsArchive(t *testing.T) {
	archiveDir := t.TempDir()
	writeFile(t, archiveDir, "export.jsonl", flatExport)
	dataDir := t.TempDir()

	r := &Runner{DataDir: dataDir, ArchivePath: archiveDir, Logger: slog.Default()}
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 2 {
		t.Errorf("processed = %d, want 2", stats.Processed)
	}
	if countChats(t, dataDir) != 2 {
		t.Errorf("chats stream has %d records, want 2", countChats(t, dataDir))
	}
}

func TestRunner_OverlappingArchivesNoDuplicates(t *testing.T) {
	archiveDir := t.TempDir()
	// The same conversation in both export formats, plus one extra chat.
	writeFile(t, archiveDir, "conversations.json", treeExport)
	writeFile(t, archiveDir, "export.jsonl", flatExport)
	dataDir := t.TempDir()

	r := &Runner{DataDir: dataDir, ArchivePath: archiveDir, Logger: slog.Default()}
	stats, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// 3 chats read, the deploy conversation appears twice: 2 unique.
	if stats.Processed != 2 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want 2 processed / 1 skipped", stats)
	}
	if countChats(t, dataDir) != 2 {
		t.Errorf("chats stream has %d records, want 2", countChats(t, dataDir))
	}
}

func TestRunner_RerunIsIdempotent(t *testing.T) {
	archiveDir := t.TempDir()
	writeFile(t, archiveDir, "export.jsonl", flatExport)
	dataDir := t.TempDir()

	r := &Runner{DataDir: dataDir, ArchivePath: archiveDir, Logger: slog.Default()}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	before := countChats(t, dataDir)

	r2 := &Runner{DataDir: dataDir, ArchivePath: archiveDir, Logger: slog.Default()}
	stats, err := r2.Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if stats.Processed != 0 {
		t.Errorf("second run processed = %d, want 0", stats.Processed)
	}
	if after := countChats(t, dataDir); after != before {
		t.Errorf("chats stream grew on re-run: %d -> %d", before, after)
	}

	state, _ := pipeline.OpenState(dataDir, StageName)
	if state.Len() != 2 {
		t.Errorf("state entries = %d after re-run, want 2", state.Len())
	}
}

func TestRunner_NoArchives(t *testing.T) {
	r := &Runner{DataDir: t.TempDir(), ArchivePath: t.TempDir(), Logger: slog.Default()}
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error for empty archive dir")
	}
}
