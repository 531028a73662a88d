package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rileylemm/chatmind/internal/identity"
)

// DefaultSimilarityThreshold is the minimum Jaccard overlap for a
// SIMILAR_TO edge.
const DefaultSimilarityThreshold = 0.25

// RelationshipBuilder derives the edges no single stage can produce:
// message→chunk containment and chat↔chat topic similarity. Both are fully
// recomputable from node state and written with merge semantics, so the
// builder can run after every load.
type RelationshipBuilder struct {
	Client    *Client
	Threshold float64
	BatchSize int
	Log       *slog.Logger
}

// LinkStats reports one LinkChunks pass.
type LinkStats struct {
	Linked  int
	Skipped int
}

// SimilarityStats reports one DeriveSimilarity pass.
type SimilarityStats struct {
	Chats int
	Edges int
}

type chunkRef struct {
	Hash string
	Ref  string
}

type chunkLink struct {
	MessageID string
	Hash      string
}

// LinkChunks connects every chunk to the message its reference names.
// Unresolvable references are logged and skipped; a bad ref never aborts
// the batch it rides in.
func (b *RelationshipBuilder) LinkChunks(ctx context.Context) (LinkStats, error) {
	var stats LinkStats

	var refs []chunkRef
	err := b.Client.readRows(ctx, `
MATCH (ch:Chunk)
WHERE ch.message_ref IS NOT NULL AND ch.message_ref <> ''
RETURN ch.message_hash AS hash, ch.message_ref AS ref
`, nil, func(rec *neo4j.Record) error {
		hash, _ := rec.Get("hash")
		ref, _ := rec.Get("ref")
		h, hok := hash.(string)
		r, rok := ref.(string)
		if !hok || !rok {
			return fmt.Errorf("unexpected chunk ref row: %v", rec.Values)
		}
		refs = append(refs, chunkRef{Hash: h, Ref: r})
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("read chunk refs: %w", err)
	}

	links := b.resolveRefs(refs, &stats)
	for _, batch := range batchLinks(links, b.batchSize()) {
		rows := make([]map[string]any, len(batch))
		for i, l := range batch {
			rows[i] = map[string]any{"message_id": l.MessageID, "message_hash": l.Hash}
		}
		if err := b.Client.write(ctx, `
UNWIND $links AS l
MATCH (m:Message {id: l.message_id})
MATCH (ch:Chunk {message_hash: l.message_hash})
MERGE (m)-[:HAS_CHUNK]->(ch)
`, map[string]any{"links": rows}); err != nil {
			return stats, fmt.Errorf("link batch: %w", err)
		}
		stats.Linked += len(batch)
	}
	return stats, nil
}

// resolveRefs parses each chunk's message reference back into a message id.
// The ref is itself the message id; parsing only validates its shape so a
// corrupted ref is caught here instead of silently matching nothing.
func (b *RelationshipBuilder) resolveRefs(refs []chunkRef, stats *LinkStats) []chunkLink {
	links := make([]chunkLink, 0, len(refs))
	for _, r := range refs {
		chatID, position, err := identity.ParseMessageRef(r.Ref)
		if err != nil {
			stats.Skipped++
			if b.Log != nil {
				b.Log.Warn("unresolvable message ref, skipping",
					"message_hash", r.Hash, "ref", r.Ref, "error", err)
			}
			continue
		}
		links = append(links, chunkLink{
			MessageID: identity.MessageID(chatID, position),
			Hash:      r.Hash,
		})
	}
	return links
}

func batchLinks(links []chunkLink, size int) [][]chunkLink {
	var batches [][]chunkLink
	for start := 0; start < len(links); start += size {
		end := start + size
		if end > len(links) {
			end = len(links)
		}
		batches = append(batches, links[start:end])
	}
	return batches
}

// similarityEdge is a derived chat↔chat edge. A is always the smaller id.
type similarityEdge struct {
	A            string
	B            string
	Score        float64
	SharedTopics int
}

// DeriveSimilarity recomputes the chat similarity graph from topic
// membership. Existing edges for pairs that still clear the threshold are
// refreshed in place.
func (b *RelationshipBuilder) DeriveSimilarity(ctx context.Context) (SimilarityStats, error) {
	var stats SimilarityStats

	chatTopics := make(map[string]map[int64]bool)
	err := b.Client.readRows(ctx, `
MATCH (ch:Chunk)-[:IN_TOPIC]->(t:Topic)
RETURN ch.chat_id AS chat, collect(DISTINCT t.id) AS topics
`, nil, func(rec *neo4j.Record) error {
		chat, _ := rec.Get("chat")
		topics, _ := rec.Get("topics")
		chatID, ok := chat.(string)
		if !ok || chatID == "" {
			return nil
		}
		set := make(map[int64]bool)
		if list, ok := topics.([]any); ok {
			for _, v := range list {
				if id, ok := v.(int64); ok {
					set[id] = true
				}
			}
		}
		if len(set) > 0 {
			chatTopics[chatID] = set
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("read topic membership: %w", err)
	}
	stats.Chats = len(chatTopics)

	edges := similarityEdges(chatTopics, b.threshold())
	for start := 0; start < len(edges); start += b.batchSize() {
		end := start + b.batchSize()
		if end > len(edges) {
			end = len(edges)
		}
		rows := make([]map[string]any, 0, end-start)
		for _, e := range edges[start:end] {
			rows = append(rows, map[string]any{
				"a":      e.A,
				"b":      e.B,
				"score":  e.Score,
				"shared": e.SharedTopics,
			})
		}
		if err := b.Client.write(ctx, `
UNWIND $edges AS e
MATCH (a:Chat {id: e.a})
MATCH (b:Chat {id: e.b})
MERGE (a)-[r:SIMILAR_TO]->(b)
SET r.score = e.score, r.shared_topics = e.shared
`, map[string]any{"edges": rows}); err != nil {
			return stats, fmt.Errorf("similarity batch: %w", err)
		}
		stats.Edges += len(rows)
	}
	return stats, nil
}

// similarityEdges computes threshold-passing Jaccard edges over every
// unordered chat pair. Pair order is canonical (smaller id first) so the
// same pair can never appear twice.
func similarityEdges(chatTopics map[string]map[int64]bool, threshold float64) []similarityEdge {
	ids := make([]string, 0, len(chatTopics))
	for id := range chatTopics {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var edges []similarityEdge
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := chatTopics[ids[i]], chatTopics[ids[j]]
			shared := 0
			for t := range a {
				if b[t] {
					shared++
				}
			}
			if shared == 0 {
				continue
			}
			score := float64(shared) / float64(len(a)+len(b)-shared)
			if score < threshold {
				continue
			}
			edges = append(edges, similarityEdge{
				A:            ids[i],
				B:            ids[j],
				Score:        score,
				SharedTopics: shared,
			})
		}
	}
	return edges
}

func (b *RelationshipBuilder) batchSize() int {
	if b.BatchSize > 0 {
		return b.BatchSize
	}
	return DefaultLoadBatch
}

func (b *RelationshipBuilder) threshold() float64 {
	if b.Threshold > 0 {
		return b.Threshold
	}
	return DefaultSimilarityThreshold
}
