// Package identity derives stable, content-only ids for chats, messages and
// chunks. Volatile metadata (timestamps, file provenance) never feeds a hash,
// so reprocessing the same conversation from a different archive yields the
// same id.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rileylemm/chatmind/internal/model"
)

// idHexLen is the truncated length of human-facing ids. 64 bits of hash is a
// conscious trade-off: collision probability is negligible at expected corpus
// sizes, not a guarantee at unbounded scale.
const idHexLen = 16

const (
	chatPrefix  = "chat_"
	chunkPrefix = "chunk_"
)

// hashedMessage is the canonical form of a message for chat identity.
// Field order is fixed by the struct; json.Marshal emits keys in this order.
type hashedMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// Normalize collapses whitespace variance in message content so that
// formatting differences between export formats do not change identity.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ChatID derives a chat's id from its normalized message content.
// Returns MalformedEntityError if no message has non-empty content.
func ChatID(msgs []model.Message) (string, error) {
	canonical := make([]hashedMessage, 0, len(msgs))
	for _, m := range msgs {
		content := Normalize(m.Content)
		if content == "" {
			continue
		}
		canonical = append(canonical, hashedMessage{Content: content, Role: m.Role})
	}
	if len(canonical) == 0 {
		return "", &MalformedEntityError{Entity: "chat", Field: "messages"}
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal canonical messages: %w", err)
	}
	return chatPrefix + truncatedDigest(data), nil
}

// MessageID composes a message's id from its parent chat id and position.
// Message identity is always relative to the chat; messages are never hashed
// for global identity.
func MessageID(chatID string, position int) string {
	return chatID + "_" + strconv.Itoa(position)
}

// ChunkHash derives a chunk's fingerprint from {content, chat id, first
// source message id, role}. All four fields are required; no random or
// run-dependent component is permitted.
func ChunkHash(content, chatID, messageRef, role string) (string, error) {
	content = Normalize(content)
	switch {
	case content == "":
		return "", &MalformedEntityError{Entity: "chunk", Field: "content"}
	case chatID == "":
		return "", &MalformedEntityError{Entity: "chunk", Field: "chat_id"}
	case messageRef == "":
		return "", &MalformedEntityError{Entity: "chunk", Field: "message_ref"}
	case role == "":
		return "", &MalformedEntityError{Entity: "chunk", Field: "role"}
	}

	tuple := struct {
		ChatID     string `json:"chat_id"`
		Content    string `json:"content"`
		MessageRef string `json:"message_ref"`
		Role       string `json:"role"`
	}{chatID, content, messageRef, role}

	data, err := json.Marshal(tuple)
	if err != nil {
		return "", fmt.Errorf("marshal chunk tuple: %w", err)
	}
	return chunkPrefix + truncatedDigest(data), nil
}

// ContentDigest returns the full-width hex digest of raw bytes. The stage
// state store uses it to detect a hash recorded twice for different content.
func ContentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ParseMessageRef splits a composite message id back into its chat id and
// position. This is the single place the id-composition scheme is parsed;
// anything ambiguous fails with ReferenceError rather than a silent wrong
// match.
func ParseMessageRef(ref string) (chatID string, position int, err error) {
	idx := strings.LastIndex(ref, "_")
	if idx <= 0 || idx == len(ref)-1 {
		return "", 0, &ReferenceError{Ref: ref, Reason: "no position suffix"}
	}
	position, convErr := strconv.Atoi(ref[idx+1:])
	if convErr != nil || position < 0 {
		return "", 0, &ReferenceError{Ref: ref, Reason: "position is not a non-negative integer"}
	}
	chatID = ref[:idx]
	if !strings.HasPrefix(chatID, chatPrefix) {
		return "", 0, &ReferenceError{Ref: ref, Reason: "chat id prefix missing"}
	}
	return chatID, position, nil
}

func truncatedDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:idHexLen]
}
