package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/rileylemm/chatmind/internal/model"
)

func TestChatID_Deterministic(t *testing.T) {
	msgs := sampleMessages()

	id1, err := ChatID(msgs)
	if err != nil {
		t.Fatalf("ChatID failed: %v", err)
	}
	id2, err := ChatID(msgs)
	if err != nil {
		t.Fatalf("ChatID failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same content produced different ids: %q vs %q", id1, id2)
	}
	if !strings.HasPrefix(id1, "chat_") {
		t.Errorf("id missing chat_ prefix: %q", id1)
	}
	if len(id1) != len("chat_")+16 {
		t.Errorf("id length = %d, want %d", len(id1), len("chat_")+16)
	}
}

func TestChatID_IgnoresTimestamps(t *testing.T) {
	a := sampleMessages()
	b := sampleMessages()
	for i := range b {
		b[i].Timestamp = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	idA, _ := ChatID(a)
	idB, _ := ChatID(b)
	if idA != idB {
		t.Errorf("timestamps changed chat id: %q vs %q", idA, idB)
	}
}

func TestChatID_NormalizesWhitespace(t *testing.T) {
	a := []model.Message{{Role: "user", Content: "hello   world"}}
	b := []model.Message{{Role: "user", Content: " hello\nworld "}}

	idA, _ := ChatID(a)
	idB, _ := ChatID(b)
	if idA != idB {
		t.Errorf("whitespace variance changed chat id: %q vs %q", idA, idB)
	}
}

func TestChatID_ContentChangesID(t *testing.T) {
	a := []model.Message{{Role: "user", Content: "hello"}}
	b := []model.Message{{Role: "user", Content: "goodbye"}}

	idA, _ := ChatID(a)
	idB, _ := ChatID(b)
	if idA == idB {
		t.Error("different content produced identical chat ids")
	}
}

func TestChatID_Malformed(t *testing.T) {
	if _, err := ChatID(nil); err == nil {
		t.Error("expected error for empty message list")
	}
	_, err := ChatID([]model.Message{{Role: "user", Content: "   "}})
	if err == nil {
		t.Fatal("expected error for whitespace-only content")
	}
	if !IsMalformed(err) {
		t.Errorf("expected MalformedEntityError, got %T", err)
	}
}

func TestChunkHash_Reproducible(t *testing.T) {
	h1, err := ChunkHash("some content", "chat_abc123", "chat_abc123_0", "user")
	if err != nil {
		t.Fatalf("ChunkHash failed: %v", err)
	}
	h2, _ := ChunkHash("some content", "chat_abc123", "chat_abc123_0", "user")
	if h1 != h2 {
		t.Errorf("chunk hash not reproducible: %q vs %q", h1, h2)
	}
	if !strings.HasPrefix(h1, "chunk_") {
		t.Errorf("hash missing chunk_ prefix: %q", h1)
	}
}

func TestChunkHash_FieldSensitivity(t *testing.T) {
	base, _ := ChunkHash("content", "chat_a", "chat_a_0", "user")

	variants := [][4]string{
		{"other content", "chat_a", "chat_a_0", "user"},
		{"content", "chat_b", "chat_a_0", "user"},
		{"content", "chat_a", "chat_a_1", "user"},
		{"content", "chat_a", "chat_a_0", "assistant"},
	}
	for _, v := range variants {
		h, err := ChunkHash(v[0], v[1], v[2], v[3])
		if err != nil {
			t.Fatalf("ChunkHash(%v) failed: %v", v, err)
		}
		if h == base {
			t.Errorf("variant %v collided with base hash", v)
		}
	}
}

func TestChunkHash_MissingFields(t *testing.T) {
	cases := [][4]string{
		{"", "chat_a", "chat_a_0", "user"},
		{"content", "", "chat_a_0", "user"},
		{"content", "chat_a", "", "user"},
		{"content", "chat_a", "chat_a_0", ""},
	}
	for _, c := range cases {
		if _, err := ChunkHash(c[0], c[1], c[2], c[3]); !IsMalformed(err) {
			t.Errorf("ChunkHash(%v): expected MalformedEntityError, got %v", c, err)
		}
	}
}

func TestMessageID_RoundTrip(t *testing.T) {
	chatID := "chat_0123456789abcdef"
	ref := MessageID(chatID, 7)

	gotChat, gotPos, err := ParseMessageRef(ref)
	if err != nil {
		t.Fatalf("ParseMessageRef(%q) failed: %v", ref, err)
	}
	if gotChat != chatID {
		t.Errorf("chat id = %q, want %q", gotChat, chatID)
	}
	if gotPos != 7 {
		t.Errorf("position = %d, want 7", gotPos)
	}
}

func TestParseMessageRef_Invalid(t *testing.T) {
	for _, ref := range []string{
		"",
		"noseparator",
		"chat_abc_",
		"chat_abc_x",
		"chat_abc_-1",
		"abc_3", // missing chat_ prefix
	} {
		if _, _, err := ParseMessageRef(ref); err == nil {
			t.Errorf("ParseMessageRef(%q): expected error", ref)
		}
	}
}

func TestContentDigest_Stable(t *testing.T) {
	a := ContentDigest([]byte("payload"))
	b := ContentDigest([]byte("payload"))
	if a != b {
		t.Error("digest not stable")
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
	if a == ContentDigest([]byte("other")) {
		t.Error("different payloads produced identical digests")
	}
}

func sampleMessages() []model.Message {
	return []model.Message{
		{Role: "user", Content: "How do I deploy the auth service?", Position: 0},
		{Role: "assistant", Content: "Run the deploy script with the auth target.", Position: 1},
		{Role: "user", Content: "Thanks", Position: 2},
	}
}
