package ingest

import (
	"strings"

	"github.com/rileylemm/chatmind/internal/identity"
	"github.com/rileylemm/chatmind/internal/model"
)

// DefaultMaxChunkChars bounds a chunk's content so a tagging unit stays
// inside a comfortable LLM context.
const DefaultMaxChunkChars = 2000

// ChunkChat splits a chat into tagging units: consecutive messages of the
// same role are merged into a run, and runs longer than maxChars are split
// on word boundaries. Every chunk's fingerprint is reproducible from its
// {content, chat id, first message id, role} tuple alone.
func ChunkChat(chat model.Chat, maxChars int) ([]model.Chunk, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}

	type run struct {
		role string
		ref  string // first source message id
		text string
	}

	var runs []run
	for _, m := range chat.Messages {
		content := identity.Normalize(m.Content)
		if content == "" {
			continue
		}
		if n := len(runs); n > 0 && runs[n-1].role == m.Role {
			runs[n-1].text += "\n\n" + content
			continue
		}
		runs = append(runs, run{role: m.Role, ref: m.ID, text: content})
	}

	var chunks []model.Chunk
	for _, r := range runs {
		for _, piece := range splitText(r.text, maxChars) {
			hash, err := identity.ChunkHash(piece, chat.ID, r.ref, r.role)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, model.Chunk{
				MessageHash: hash,
				ChatID:      chat.ID,
				MessageRef:  r.ref,
				Role:        r.role,
				Content:     piece,
				Position:    len(chunks),
			})
		}
	}
	return chunks, nil
}

// splitText cuts text into pieces of at most maxChars, preferring word
// boundaries. A single overlong word is cut mid-word rather than dropped.
func splitText(text string, maxChars int) []string {
	if len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	for len(text) > maxChars {
		cut := strings.LastIndexByte(text[:maxChars], ' ')
		if cut <= 0 {
			cut = maxChars
		}
		pieces = append(pieces, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}
