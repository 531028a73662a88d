package stages

import (
	"log/slog"

	"github.com/rileylemm/chatmind/internal/model"
	"github.com/rileylemm/chatmind/internal/pipeline"
)

// Options carries the cross-stage settings every stage run shares.
type Options struct {
	DataDir   string
	BatchSize int
	Force     bool
	Retry     pipeline.RetryPolicy
	Logger    *slog.Logger
	Notifier  pipeline.Notifier
}

// globalBatchSize is used by the whole-corpus stages (cluster, position):
// the sidecar wants as much of the corpus in one call as possible.
const globalBatchSize = 10000

func (o Options) base(name, upstream, output string) *pipeline.Stage {
	return &pipeline.Stage{
		Name:      name,
		DataDir:   o.DataDir,
		Upstream:  upstream,
		Output:    output,
		BatchSize: o.BatchSize,
		Retry:     o.Retry,
		Force:     o.Force,
		Logger:    o.Logger,
		Notifier:  o.Notifier,
	}
}

// NewChunkStage splits chats into chunks.
func NewChunkStage(o Options, maxChars int) *pipeline.Stage {
	s := o.base(StageChunk, model.StreamChats, model.StreamChunks)
	s.Key = ChatKey
	s.Transform = &ChunkTransform{MaxChars: maxChars}
	return s
}

// NewEmbedStage embeds chunks and stores their vectors.
func NewEmbedStage(o Options, embedder Embedder, vectors VectorUpserter) *pipeline.Stage {
	s := o.base(StageEmbed, model.StreamChunks, model.StreamEmbeddings)
	s.Key = ChunkKey
	s.Transform = &EmbedTransform{Embedder: embedder, Vectors: vectors}
	return s
}

// NewTagStage tags chunks via the LLM.
func NewTagStage(o Options, transform pipeline.Transform) *pipeline.Stage {
	s := o.base(StageTag, model.StreamChunks, model.StreamTags)
	s.Key = ChunkKey
	s.Transform = transform
	return s
}

// NewClusterStage assigns embedded chunks to topic clusters.
func NewClusterStage(o Options, vectors VectorFetcher, client ClusterClient) *pipeline.Stage {
	s := o.base(StageCluster, model.StreamEmbeddings, model.StreamClusters)
	s.Key = ChunkKey
	s.Transform = &ClusterTransform{Vectors: vectors, Client: client}
	s.BatchSize = globalBatchSize
	return s
}

// NewSummarizeStage writes one summary per newly seen cluster.
func NewSummarizeStage(o Options, summarizer ClusterSummarizer) *pipeline.Stage {
	s := o.base(StageSummarize, model.StreamClusters, model.StreamSummaries)
	s.Key = ClusterKey
	s.Transform = &SummarizeTransform{DataDir: o.DataDir, Summarizer: summarizer}
	return s
}

// NewPositionStage projects embedded chunks to 2-D coordinates.
func NewPositionStage(o Options, vectors VectorFetcher, client PositionClient) *pipeline.Stage {
	s := o.base(StagePosition, model.StreamEmbeddings, model.StreamPositions)
	s.Key = ChunkKey
	s.Transform = &PositionTransform{Vectors: vectors, Client: client}
	s.BatchSize = globalBatchSize
	return s
}
