package ingest

import (
	"strings"
	"testing"

	"github.com/rileylemm/chatmind/internal/identity"
	"github.com/rileylemm/chatmind/internal/model"
)

func makeChat(t *testing.T, contents ...[2]string) model.Chat {
	t.Helper()
	msgs := make([]model.Message, len(contents))
	for i, c := range contents {
		msgs[i] = model.Message{Role: c[0], Content: c[1], Position: i}
	}
	id, err := identity.ChatID(msgs)
	if err != nil {
		t.Fatalf("ChatID failed: %v", err)
	}
	for i := range msgs {
		msgs[i].ID = identity.MessageID(id, i)
	}
	return model.Chat{ID: id, Title: "test", Messages: msgs}
}

func TestChunkChat_MergesSameRoleRuns(t *testing.T) {
	chat := makeChat(t,
		[2]string{"user", "First question"},
		[2]string{"user", "Follow-up detail"},
		[2]string{"assistant", "The answer"},
	)

	chunks, err := ChunkChat(chat, 0)
	if err != nil {
		t.Fatalf("ChunkChat failed: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2 (user run + assistant run)", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "First question") || !strings.Contains(chunks[0].Content, "Follow-up detail") {
		t.Errorf("user run content = %q", chunks[0].Content)
	}
	if chunks[0].MessageRef != chat.Messages[0].ID {
		t.Errorf("chunk 0 ref = %q, want first message of run %q", chunks[0].MessageRef, chat.Messages[0].ID)
	}
	if chunks[1].MessageRef != chat.Messages[2].ID {
		t.Errorf("chunk 1 ref = %q, want %q", chunks[1].MessageRef, chat.Messages[2].ID)
	}
}

func TestChunkChat_ReproducibleHashes(t *testing.T) {
	chat := makeChat(t,
		[2]string{"user", "A question"},
		[2]string{"assistant", "An answer"},
	)

	first, err := ChunkChat(chat, 0)
	if err != nil {
		t.Fatalf("ChunkChat failed: %v", err)
	}
	second, err := ChunkChat(chat, 0)
	if err != nil {
		t.Fatalf("ChunkChat failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].MessageHash != second[i].MessageHash {
			t.Errorf("chunk %d hash not reproducible: %q vs %q", i, first[i].MessageHash, second[i].MessageHash)
		}
	}
}

func TestChunkChat_SplitsLongRuns(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 40) // ~1080 chars
	chat := makeChat(t, [2]string{"assistant", long})

	chunks, err := ChunkChat(chat, 300)
	if err != nil {
		t.Fatalf("ChunkChat failed: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want several for a long run", len(chunks))
	}

	hashes := make(map[string]bool)
	for i, c := range chunks {
		if len(c.Content) > 300 {
			t.Errorf("chunk %d length %d exceeds limit", i, len(c.Content))
		}
		if c.MessageRef != chat.Messages[0].ID {
			t.Errorf("chunk %d ref = %q, want source message id", i, c.MessageRef)
		}
		if hashes[c.MessageHash] {
			t.Errorf("duplicate hash across split pieces: %q", c.MessageHash)
		}
		hashes[c.MessageHash] = true
		if c.Position != i {
			t.Errorf("chunk %d position = %d", i, c.Position)
		}
	}
}

func TestChunkChat_SkipsEmptyMessages(t *testing.T) {
	chat := model.Chat{
		ID: "chat_0123456789abcdef",
		Messages: []model.Message{
			{ID: "chat_0123456789abcdef_0", Role: "user", Content: "   "},
			{ID: "chat_0123456789abcdef_1", Role: "assistant", Content: "Real content"},
		},
	}

	chunks, err := ChunkChat(chat, 0)
	if err != nil {
		t.Fatalf("ChunkChat failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Role != "assistant" {
		t.Errorf("chunk role = %q", chunks[0].Role)
	}
}

func TestSplitText(t *testing.T) {
	pieces := splitText("aaa bbb ccc ddd", 7)
	if len(pieces) != 3 {
		t.Fatalf("got %d pieces: %v", len(pieces), pieces)
	}
	for _, p := range pieces {
		if len(p) > 7 {
			t.Errorf("piece %q exceeds limit", p)
		}
	}

	// Overlong single word is cut rather than dropped.
	pieces = splitText("abcdefghij", 4)
	if strings.Join(pieces, "") != "abcdefghij" {
		t.Errorf("overlong word mangled: %v", pieces)
	}
}
