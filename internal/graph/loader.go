package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

// DefaultLoadBatch bounds how many records go into one write transaction.
const DefaultLoadBatch = 200

// Loader pushes the enrichment streams into the graph. Every write is a
// keyed MERGE, so loading the same streams twice leaves the graph unchanged
// apart from refreshed properties.
type Loader struct {
	Client    *Client
	DataDir   string
	BatchSize int
}

// LoadStats counts merged records per entity kind.
type LoadStats struct {
	Chats     int
	Messages  int
	Chunks    int
	Tags      int
	Clusters  int
	Summaries int
	Positions int
}

// Run loads every stream in dependency order: chats and their messages
// first, then chunks, then the enrichment layers that attach to chunks.
// Missing streams are treated as empty, so a partially advanced pipeline
// can still be loaded.
func (l *Loader) Run(ctx context.Context) (LoadStats, error) {
	var stats LoadStats
	if err := l.Client.EnsureSchema(ctx); err != nil {
		return stats, err
	}

	if err := l.loadChats(ctx, &stats); err != nil {
		return stats, fmt.Errorf("load chats: %w", err)
	}
	if err := l.loadChunks(ctx, &stats); err != nil {
		return stats, fmt.Errorf("load chunks: %w", err)
	}
	if err := l.loadTags(ctx, &stats); err != nil {
		return stats, fmt.Errorf("load tags: %w", err)
	}
	if err := l.loadClusters(ctx, &stats); err != nil {
		return stats, fmt.Errorf("load clusters: %w", err)
	}
	if err := l.loadSummaries(ctx, &stats); err != nil {
		return stats, fmt.Errorf("load summaries: %w", err)
	}
	if err := l.loadPositions(ctx, &stats); err != nil {
		return stats, fmt.Errorf("load positions: %w", err)
	}
	return stats, nil
}

func (l *Loader) batchSize() int {
	if l.BatchSize > 0 {
		return l.BatchSize
	}
	return DefaultLoadBatch
}

func (l *Loader) streamPath(name string) string {
	return pipeline.StreamPath(l.DataDir, name)
}

func (l *Loader) loadChats(ctx context.Context, stats *LoadStats) error {
	var chats []map[string]any
	var msgs []map[string]any

	flush := func() error {
		if len(chats) > 0 {
			if err := l.Client.write(ctx, `
UNWIND $chats AS c
MERGE (chat:Chat {id: c.id})
SET chat.title = c.title, chat.created_at = c.created_at
`, map[string]any{"chats": chats}); err != nil {
				return err
			}
			stats.Chats += len(chats)
			chats = chats[:0]
		}
		if len(msgs) > 0 {
			if err := l.Client.write(ctx, `
UNWIND $msgs AS m
MATCH (chat:Chat {id: m.chat_id})
MERGE (msg:Message {id: m.id})
SET msg.role = m.role, msg.content = m.content, msg.position = m.position
MERGE (chat)-[:HAS_MESSAGE]->(msg)
`, map[string]any{"msgs": msgs}); err != nil {
				return err
			}
			stats.Messages += len(msgs)
			msgs = msgs[:0]
		}
		return nil
	}

	err := pipeline.ReadStream(l.streamPath(model.StreamChats), func(chat model.Chat) error {
		chats = append(chats, map[string]any{
			"id":         chat.ID,
			"title":      chat.Title,
			"created_at": chat.CreatedAt.UTC().Format(time.RFC3339),
		})
		for _, m := range chat.Messages {
			msgs = append(msgs, map[string]any{
				"id":       m.ID,
				"chat_id":  chat.ID,
				"role":     m.Role,
				"content":  m.Content,
				"position": m.Position,
			})
		}
		if len(msgs) >= l.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (l *Loader) loadChunks(ctx context.Context, stats *LoadStats) error {
	var rows []map[string]any

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := l.Client.write(ctx, `
UNWIND $chunks AS c
MERGE (ch:Chunk {message_hash: c.message_hash})
SET ch.chat_id = c.chat_id,
    ch.message_ref = c.message_ref,
    ch.role = c.role,
    ch.content = c.content,
    ch.position = c.position
`, map[string]any{"chunks": rows}); err != nil {
			return err
		}
		stats.Chunks += len(rows)
		rows = rows[:0]
		return nil
	}

	err := pipeline.ReadStream(l.streamPath(model.StreamChunks), func(c model.Chunk) error {
		rows = append(rows, map[string]any{
			"message_hash": c.MessageHash,
			"chat_id":      c.ChatID,
			"message_ref":  c.MessageRef,
			"role":         c.Role,
			"content":      c.Content,
			"position":     c.Position,
		})
		if len(rows) >= l.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (l *Loader) loadTags(ctx context.Context, stats *LoadStats) error {
	var rows []map[string]any

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := l.Client.write(ctx, `
UNWIND $tags AS t
MATCH (ch:Chunk {message_hash: t.message_hash})
SET ch.category = t.category
WITH ch, t
UNWIND t.tags AS name
MERGE (tag:Tag {name: name})
MERGE (ch)-[:TAGGED]->(tag)
`, map[string]any{"tags": rows}); err != nil {
			return err
		}
		stats.Tags += len(rows)
		rows = rows[:0]
		return nil
	}

	err := pipeline.ReadStream(l.streamPath(model.StreamTags), func(t model.TagRecord) error {
		if len(t.Tags) == 0 {
			return nil
		}
		rows = append(rows, map[string]any{
			"message_hash": t.MessageHash,
			"tags":         t.Tags,
			"category":     t.Category,
		})
		if len(rows) >= l.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (l *Loader) loadClusters(ctx context.Context, stats *LoadStats) error {
	var rows []map[string]any

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := l.Client.write(ctx, `
UNWIND $assignments AS a
MATCH (ch:Chunk {message_hash: a.message_hash})
MERGE (t:Topic {id: a.cluster_id})
MERGE (ch)-[:IN_TOPIC]->(t)
`, map[string]any{"assignments": rows}); err != nil {
			return err
		}
		stats.Clusters += len(rows)
		rows = rows[:0]
		return nil
	}

	err := pipeline.ReadStream(l.streamPath(model.StreamClusters), func(a model.ClusterAssignment) error {
		if a.ClusterID < 0 {
			// Noise chunks stay out of the topic graph.
			return nil
		}
		rows = append(rows, map[string]any{
			"message_hash": a.MessageHash,
			"cluster_id":   a.ClusterID,
		})
		if len(rows) >= l.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (l *Loader) loadSummaries(ctx context.Context, stats *LoadStats) error {
	var rows []map[string]any

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := l.Client.write(ctx, `
UNWIND $summaries AS s
MERGE (t:Topic {id: s.cluster_id})
SET t.summary = s.summary, t.keywords = s.keywords, t.size = s.size
`, map[string]any{"summaries": rows}); err != nil {
			return err
		}
		stats.Summaries += len(rows)
		rows = rows[:0]
		return nil
	}

	err := pipeline.ReadStream(l.streamPath(model.StreamSummaries), func(s model.ClusterSummary) error {
		rows = append(rows, map[string]any{
			"cluster_id": s.ClusterID,
			"summary":    s.Summary,
			"keywords":   s.Keywords,
			"size":       s.Size,
		})
		if len(rows) >= l.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

func (l *Loader) loadPositions(ctx context.Context, stats *LoadStats) error {
	var rows []map[string]any

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if err := l.Client.write(ctx, `
UNWIND $positions AS p
MATCH (ch:Chunk {message_hash: p.message_hash})
SET ch.x = p.x, ch.y = p.y
`, map[string]any{"positions": rows}); err != nil {
			return err
		}
		stats.Positions += len(rows)
		rows = rows[:0]
		return nil
	}

	err := pipeline.ReadStream(l.streamPath(model.StreamPositions), func(p model.Position) error {
		rows = append(rows, map[string]any{
			"message_hash": p.MessageHash,
			"x":            p.X,
			"y":            p.Y,
		})
		if len(rows) >= l.batchSize() {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}
