// Package ingest turns exported chat archives into normalized, content-
// addressed chat records. Two export shapes are supported: the ChatGPT
// conversations.json tree export and a flat one-chat-per-line JSONL export.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rileylemm/chatmind/internal/identity"
	"github.com/rileylemm/chatmind/internal/model"
)

// treeConversation is one conversation in a ChatGPT-style export: messages
// form a tree keyed by node id, linked by parent pointers.
type treeConversation struct {
	Title      string              `json:"title"`
	CreateTime float64             `json:"create_time"`
	Mapping    map[string]treeNode `json:"mapping"`
}

type treeNode struct {
	ID       string       `json:"id"`
	Parent   *string      `json:"parent"`
	Children []string     `json:"children"`
	Message  *treeMessage `json:"message"`
}

type treeMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	CreateTime float64 `json:"create_time"`
	Content    struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
}

// flatConversation is one line of a JSONL export: the whole chat inline.
type flatConversation struct {
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Messages  []struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"messages"`
}

// ParseArchiveFile parses a single archive file into chats. Chats with no
// usable content are dropped; a malformed conversation inside an otherwise
// valid archive is skipped, not fatal.
func ParseArchiveFile(path string) ([]model.Chat, error) {
	if strings.HasSuffix(path, ".jsonl") {
		return parseFlatFile(path)
	}
	return parseTreeFile(path)
}

// DiscoverArchives lists the archive files under root: conversations.json
// exports plus .jsonl exports. A file path is returned as-is.
func DiscoverArchives(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("archive path: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			return nil
		}
		name := info.Name()
		if name == "conversations.json" || strings.HasSuffix(name, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk archives: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func parseTreeFile(path string) ([]model.Chat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	var convos []treeConversation
	if err := json.Unmarshal(data, &convos); err != nil {
		// A single-conversation export is also valid.
		var one treeConversation
		if err2 := json.Unmarshal(data, &one); err2 != nil {
			return nil, fmt.Errorf("parse export: %w", err)
		}
		convos = []treeConversation{one}
	}

	var chats []model.Chat
	for _, c := range convos {
		chat, ok := buildChatFromTree(c)
		if !ok {
			continue
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// buildChatFromTree linearizes a conversation tree into message order by
// walking parent→child links from the roots, falling back to create_time
// order for orphaned nodes.
func buildChatFromTree(c treeConversation) (model.Chat, bool) {
	var roots []string
	firstChild := make(map[string]string)
	for id, node := range c.Mapping {
		if node.Parent == nil || *node.Parent == "" {
			roots = append(roots, id)
		}
		if len(node.Children) > 0 {
			firstChild[id] = node.Children[0]
		}
	}
	sort.Strings(roots)

	var ordered []treeNode
	visited := make(map[string]bool)
	for _, root := range roots {
		current := root
		for current != "" && !visited[current] {
			visited[current] = true
			if node, ok := c.Mapping[current]; ok {
				ordered = append(ordered, node)
			}
			current = firstChild[current]
		}
	}
	if len(visited) < len(c.Mapping) {
		var orphans []treeNode
		for id, node := range c.Mapping {
			if !visited[id] {
				orphans = append(orphans, node)
			}
		}
		sort.Slice(orphans, func(i, j int) bool {
			ti, tj := 0.0, 0.0
			if orphans[i].Message != nil {
				ti = orphans[i].Message.CreateTime
			}
			if orphans[j].Message != nil {
				tj = orphans[j].Message.CreateTime
			}
			return ti < tj
		})
		ordered = append(ordered, orphans...)
	}

	var msgs []model.Message
	for _, node := range ordered {
		if node.Message == nil {
			continue
		}
		role := node.Message.Author.Role
		if role != "user" && role != "assistant" && role != "system" {
			continue
		}
		text := identity.Normalize(treeText(node.Message))
		if text == "" {
			continue
		}
		var ts time.Time
		if node.Message.CreateTime > 0 {
			sec := int64(node.Message.CreateTime)
			ts = time.Unix(sec, 0).UTC()
		}
		msgs = append(msgs, model.Message{
			Role:      role,
			Content:   text,
			Position:  len(msgs),
			Timestamp: ts,
		})
	}
	if len(msgs) == 0 {
		return model.Chat{}, false
	}

	id, err := identity.ChatID(msgs)
	if err != nil {
		return model.Chat{}, false
	}
	for i := range msgs {
		msgs[i].ID = identity.MessageID(id, msgs[i].Position)
	}

	var created time.Time
	if c.CreateTime > 0 {
		created = time.Unix(int64(c.CreateTime), 0).UTC()
	}
	return model.Chat{ID: id, Title: c.Title, Messages: msgs, CreatedAt: created}, true
}

// treeText joins the string parts of a message, ignoring non-text parts
// (images and other multimodal payloads carry no taggable content).
func treeText(m *treeMessage) string {
	if m.Content.ContentType != "" && m.Content.ContentType != "text" && m.Content.ContentType != "multimodal_text" {
		return ""
	}
	var parts []string
	for _, raw := range m.Content.Parts {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func parseFlatFile(path string) ([]model.Chat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var chats []model.Chat
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024) // 10MB line buffer
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c flatConversation
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			continue // skip malformed lines
		}

		var msgs []model.Message
		for _, m := range c.Messages {
			text := identity.Normalize(m.Content)
			if text == "" {
				continue
			}
			msgs = append(msgs, model.Message{
				Role:      m.Role,
				Content:   text,
				Position:  len(msgs),
				Timestamp: m.Timestamp,
			})
		}
		if len(msgs) == 0 {
			continue
		}

		id, err := identity.ChatID(msgs)
		if err != nil {
			continue
		}
		for i := range msgs {
			msgs[i].ID = identity.MessageID(id, msgs[i].Position)
		}
		chats = append(chats, model.Chat{
			ID:        id,
			Title:     c.Title,
			Messages:  msgs,
			CreatedAt: c.CreatedAt,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return chats, nil
}
