package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileylemm/chatmind/internal/anthropic"
	"github.com/rileylemm/chatmind/internal/api"
	"github.com/rileylemm/chatmind/internal/clusterer"
	"github.com/rileylemm/chatmind/internal/config"
	"github.com/rileylemm/chatmind/internal/embedding"
	"github.com/rileylemm/chatmind/internal/events"
	"github.com/rileylemm/chatmind/internal/graph"
	"github.com/rileylemm/chatmind/internal/ingest"
	"github.com/rileylemm/chatmind/internal/pipeline"
	"github.com/rileylemm/chatmind/internal/stages"
	"github.com/rileylemm/chatmind/internal/tagger"
	"github.com/rileylemm/chatmind/internal/vector"
)

var (
	cfg       config.Config
	flagData  string
	flagForce bool
	flagClear bool
	flagCheck bool
	flagArch  string
	notifier  *events.Publisher
)

func main() {
	cfg = config.Load()
	setupLogging(cfg.LogLevel)

	root := &cobra.Command{
		Use:   "chatmind",
		Short: "Incremental chat-archive enrichment pipeline",
		Long: `chatmind ingests exported chat archives and pushes each chat through
chunking, embedding, tagging, clustering, summarization, positioning and
graph loading. Every stage is content-addressed: re-running over
overlapping archives only processes what is new.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagData != "" {
				cfg.DataDir = flagData
			}
			if cfg.NatsURL != "" {
				pub, err := events.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
				if err != nil {
					slog.Warn("events disabled, NATS unreachable", "error", err)
				} else {
					notifier = pub
				}
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			notifier.Close()
		},
	}

	root.PersistentFlags().StringVar(&flagData, "data-dir", "", "pipeline data directory (default from CHATMIND_DATA_DIR)")
	root.PersistentFlags().BoolVar(&flagForce, "force", false, "reprocess all records, ignoring recorded state")
	root.PersistentFlags().BoolVar(&flagClear, "clear-state", false, "wipe the stage's recorded state before running")
	root.PersistentFlags().BoolVar(&flagCheck, "check-only", false, "verify external dependencies and exit")

	root.AddCommand(
		ingestCmd(),
		stageCmd(stages.StageChunk, "Split chats into chunks", runChunk),
		stageCmd(stages.StageEmbed, "Embed chunks and store vectors", runEmbed),
		stageCmd(stages.StageTag, "Tag chunks via the LLM", runTag),
		stageCmd(stages.StageCluster, "Assign chunks to topic clusters", runCluster),
		stageCmd(stages.StageSummarize, "Summarize topic clusters", runSummarize),
		stageCmd(stages.StagePosition, "Project chunks to 2-D coordinates", runPosition),
		loadCmd(),
		linkCmd(),
		similarityCmd(),
		runCmd(),
		serveCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func stageOptions() stages.Options {
	return stages.Options{
		DataDir:   cfg.DataDir,
		BatchSize: cfg.BatchSize,
		Force:     flagForce,
		Retry: pipeline.RetryPolicy{
			MaxAttempts: cfg.RetryAttempts,
			Delay:       cfg.RetryDelay,
			Multiplier:  2,
		},
		Logger:   slog.Default(),
		Notifier: stageNotifier(),
	}
}

// stageNotifier avoids handing a typed-nil *events.Publisher to an
// interface field.
func stageNotifier() pipeline.Notifier {
	if notifier == nil {
		return nil
	}
	return notifier
}

func clearState(stage string) error {
	if !flagClear {
		return nil
	}
	state, err := pipeline.OpenState(cfg.DataDir, stage)
	if err != nil {
		return err
	}
	if err := state.Clear(); err != nil {
		return err
	}
	slog.Info("stage state cleared", "stage", stage)
	return nil
}

func stageCmd(name, short string, run func(cmd *cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clearState(name); err != nil {
				return err
			}
			return run(cmd)
		},
	}
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read export archives into the chats stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagArch == "" {
				return errors.New("--archive is required")
			}
			if err := clearState(ingest.StageName); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			r := &ingest.Runner{
				DataDir:     cfg.DataDir,
				ArchivePath: flagArch,
				Force:       flagForce,
				Logger:      slog.Default(),
				Notifier:    stageNotifier(),
			}
			_, err := r.Run(ctx)
			return err
		},
	}
	cmd.Flags().StringVar(&flagArch, "archive", "", "archive file or directory to ingest")
	return cmd
}

func runChunk(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()
	_, err := stages.NewChunkStage(stageOptions(), cfg.MaxChunkChars).Run(ctx)
	return err
}

func runEmbed(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	emb := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	if flagCheck {
		return checkAll(ctx, check{"embedding service", emb.Ping}, check{"vector store", pingVectorStore})
	}

	store, err := openVectorStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = stages.NewEmbedStage(stageOptions(), emb, store).Run(ctx)
	return err
}

func runTag(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	llm, err := newLLM()
	if err != nil {
		return err
	}
	if flagCheck {
		slog.Info("anthropic client configured", "model", cfg.AnthropicModel)
		return nil
	}

	_, err = stages.NewTagStage(stageOptions(), tagger.New(llm, slog.Default())).Run(ctx)
	return err
}

func runCluster(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	sidecar := clusterer.NewClient(cfg.ClustererURL)
	if flagCheck {
		return checkAll(ctx, check{"clusterer sidecar", sidecar.Ping}, check{"vector store", pingVectorStore})
	}

	store, err := openVectorStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = stages.NewClusterStage(stageOptions(), store, sidecar).Run(ctx)
	return err
}

func runSummarize(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	llm, err := newLLM()
	if err != nil {
		return err
	}
	if flagCheck {
		slog.Info("anthropic client configured", "model", cfg.AnthropicModel)
		return nil
	}

	summarizer := tagger.NewSummarizer(llm, slog.Default())
	_, err = stages.NewSummarizeStage(stageOptions(), summarizer).Run(ctx)
	return err
}

func runPosition(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	sidecar := clusterer.NewClient(cfg.ClustererURL)
	if flagCheck {
		return checkAll(ctx, check{"clusterer sidecar", sidecar.Ping}, check{"vector store", pingVectorStore})
	}

	store, err := openVectorStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = stages.NewPositionStage(stageOptions(), store, sidecar).Run(ctx)
	return err
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Merge all streams into the graph database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			client, err := openGraph(ctx)
			if err != nil {
				return err
			}
			defer client.Close(ctx)
			if flagCheck {
				return client.Ping(ctx)
			}

			loader := &graph.Loader{Client: client, DataDir: cfg.DataDir}
			stats, err := loader.Run(ctx)
			if err != nil {
				return err
			}
			slog.Info("graph load complete",
				"chats", stats.Chats,
				"messages", stats.Messages,
				"chunks", stats.Chunks,
				"tags", stats.Tags,
				"clusters", stats.Clusters,
				"summaries", stats.Summaries,
				"positions", stats.Positions,
			)
			return nil
		},
	}
}

func linkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Link messages to their chunks in the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			client, err := openGraph(ctx)
			if err != nil {
				return err
			}
			defer client.Close(ctx)
			if flagCheck {
				return client.Ping(ctx)
			}

			builder := relationshipBuilder(client)
			stats, err := builder.LinkChunks(ctx)
			if err != nil {
				return err
			}
			slog.Info("structural linking complete", "linked", stats.Linked, "skipped", stats.Skipped)
			return nil
		},
	}
}

func similarityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "similarity",
		Short: "Derive chat similarity edges from shared topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			client, err := openGraph(ctx)
			if err != nil {
				return err
			}
			defer client.Close(ctx)
			if flagCheck {
				return client.Ping(ctx)
			}

			builder := relationshipBuilder(client)
			stats, err := builder.DeriveSimilarity(ctx)
			if err != nil {
				return err
			}
			slog.Info("similarity derivation complete", "chats", stats.Chats, "edges", stats.Edges)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagArch == "" {
				return errors.New("--archive is required")
			}
			ctx, cancel := signalContext()
			defer cancel()

			steps := []struct {
				name string
				fn   func() error
			}{
				{"ingest", func() error {
					r := &ingest.Runner{
						DataDir:     cfg.DataDir,
						ArchivePath: flagArch,
						Force:       flagForce,
						Logger:      slog.Default(),
						Notifier:    stageNotifier(),
					}
					_, err := r.Run(ctx)
					return err
				}},
				{"chunk", func() error { return runChunk(cmd) }},
				{"embed", func() error { return runEmbed(cmd) }},
				{"tag", func() error { return runTag(cmd) }},
				{"cluster", func() error { return runCluster(cmd) }},
				{"summarize", func() error { return runSummarize(cmd) }},
				{"position", func() error { return runPosition(cmd) }},
				{"load", func() error { return loadCmd().RunE(cmd, nil) }},
				{"link", func() error { return linkCmd().RunE(cmd, nil) }},
				{"similarity", func() error { return similarityCmd().RunE(cmd, nil) }},
			}
			for _, step := range steps {
				slog.Info("pipeline step starting", "step", step.name)
				if err := step.fn(); err != nil {
					return fmt.Errorf("step %s: %w", step.name, err)
				}
			}
			slog.Info("pipeline complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagArch, "archive", "", "archive file or directory to ingest")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := api.NewServer(cfg.Port, cfg.DataDir)
			return srv.Start()
		},
	}
}

func newLLM() (*anthropic.Client, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is required")
	}
	return anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
}

func openVectorStore(ctx context.Context) (*vector.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return vector.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDim)
}

func pingVectorStore(ctx context.Context) error {
	store, err := openVectorStore(ctx)
	if err != nil {
		return err
	}
	store.Close()
	return nil
}

func openGraph(ctx context.Context) (*graph.Client, error) {
	return graph.New(ctx, graph.Config{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
	}, slog.Default())
}

func relationshipBuilder(client *graph.Client) *graph.RelationshipBuilder {
	return &graph.RelationshipBuilder{
		Client:    client,
		Threshold: cfg.SimilarityThreshold,
		Log:       slog.Default(),
	}
}

type check struct {
	name string
	fn   func(context.Context) error
}

func checkAll(ctx context.Context, checks ...check) error {
	for _, c := range checks {
		if err := c.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		slog.Info("dependency reachable", "dependency", c.name)
	}
	return nil
}
