package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Lynn-1221/Agents/agent/batch"
	"github.com/Lynn-1221/Agents/agent/conversation"
	"github.com/Lynn-1221/Agents/agent/declarative"
	"github.com/Lynn-1221/Agents/agent/hitl"
	"github.com/Lynn-1221/Agents/agent/persistence"
	"github.com/Lynn-1221/Agents/llm/providers/openai"
	"github.com/Lynn-1221/Agents/rag"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 run 命令
// =============================================================================

func runConversation(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	defPath := fs.String("def", "", "Conversation definition (YAML or JSON)")
	seed := fs.String("seed", "", "Seed message")
	seedFile := fs.String("seed-file", "", "Read the seed message from a file")
	resumeID := fs.String("resume", "", "Resume an interrupted session from the session store")
	follow := fs.Bool("follow", true, "Print messages as they are appended")
	_ = fs.Parse(args)

	if *defPath == "" {
		return errors.New("--def is required")
	}
	if *seedFile != "" {
		data, err := os.ReadFile(*seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		*seed = strings.TrimSpace(string(data))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	def, err := declarative.NewYAMLLoader().LoadFile(*defPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	console := hitl.NewConsoleInput(in, out)
	plan, err := a.factory.Build(def, a.collaborators(console))
	if err != nil {
		return err
	}

	opts := append(a.routerOptions(),
		conversation.WithHumanInput(console),
		conversation.WithWindow(a.factory.Window(def, nil)),
		conversation.WithObserver(persistence.NewSessionRecorder(a.store, 0, logger)),
	)
	if *follow {
		opts = append(opts, conversation.WithObserver(transcriptPrinter(out)))
	}
	router := conversation.NewRouter(a.conversationConfig(), logger, opts...)

	var s *conversation.Session
	if *resumeID != "" {
		snap, err := a.store.Load(ctx, *resumeID)
		if err != nil {
			return fmt.Errorf("load session %s: %w", *resumeID, err)
		}
		if s, err = conversation.RestoreSession(plan, snap); err != nil {
			return err
		}
		err = router.Resume(ctx, s)
		printOutcome(out, s, !*follow)
		return err
	}

	if *seed == "" {
		return errors.New("--seed or --seed-file is required")
	}
	s, err = router.Start(ctx, plan, *seed)
	if s != nil {
		printOutcome(out, s, !*follow)
	}
	return err
}

// transcriptPrinter 把追加的消息逐条打印
func transcriptPrinter(out io.Writer) conversation.Observer {
	return conversation.ObserverFuncs{
		Message: func(_ string, msg conversation.Message) {
			fmt.Fprintf(out, "\n[%s]\n%s\n", msg.Sender, msg.Text())
		},
	}
}

func printOutcome(out io.Writer, s *conversation.Session, transcript bool) {
	if transcript {
		for _, msg := range s.Transcript() {
			fmt.Fprintf(out, "\n[%s]\n%s\n", msg.Sender, msg.Text())
		}
	}
	snap := s.Snapshot()
	fmt.Fprintf(out, "\n--- session %s: %s after %d rounds\n", snap.ID, snap.Status, snap.Round)
	if snap.Error != "" {
		fmt.Fprintf(out, "error: %s (%s)\n", snap.Error, snap.ErrorCode)
	}
	if snap.Summary != "" {
		fmt.Fprintf(out, "summary: %s\n", snap.Summary)
	}
}

// =============================================================================
// 📦 batch 命令
// =============================================================================

// entityParticipants 实体流水线在定义文件中需要的参与者
var entityParticipants = []string{"extractor", "generalizer", "classifier"}

func runBatch(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	defPath := fs.String("def", "", "Definition with extractor, generalizer and classifier participants")
	csvPath := fs.String("csv", "", "Input CSV with id, title and abstract columns")
	outDir := fs.String("out", "results", "Directory for per-unit JSON records")
	concurrency := fs.Int("concurrency", batch.DefaultConfig().Concurrency, "Units processed at the same time")
	skipExisting := fs.Bool("skip-existing", true, "Skip units that already have a record")
	unitTimeout := fs.Duration("unit-timeout", 0, "Timeout for a single unit (0 disables)")
	_ = fs.Parse(args)

	if *defPath == "" || *csvPath == "" {
		return errors.New("--def and --csv are required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	def, err := declarative.NewYAMLLoader().LoadFile(*defPath)
	if err != nil {
		return err
	}
	units, err := batch.ReadCSVFile(*csvPath)
	if err != nil {
		return err
	}
	writer, err := persistence.NewRecordWriter(*outDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	pipeline, err := entityPipeline(a, def)
	if err != nil {
		return err
	}

	runner := batch.NewRunner(batch.Config{
		Concurrency:  *concurrency,
		SkipExisting: *skipExisting,
		UnitTimeout:  *unitTimeout,
	}, writer, logger)
	report, err := runner.Run(ctx, units, pipeline.Unit)
	printReport(out, report)
	if err != nil {
		return err
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d units failed", len(report.Failed), report.Total)
	}
	return nil
}

// entityPipeline binds the three entity participants of def.
func entityPipeline(a *app, def *declarative.ConversationDefinition) (*batch.EntityPipeline, error) {
	plan, err := a.factory.Build(def, a.collaborators(nil))
	if err != nil {
		return nil, err
	}
	responders := make(map[string]conversation.Responder, len(plan.Participants))
	for _, p := range plan.Participants {
		responders[p.ID] = p.Responder
	}
	for _, id := range entityParticipants {
		if responders[id] == nil {
			return nil, fmt.Errorf("definition %q has no %s participant", def.Name, id)
		}
	}
	return batch.NewEntityPipeline(
		responders["extractor"], responders["generalizer"], responders["classifier"],
		a.logger,
		batch.WithMalformedRetries(a.cfg.Conversation.MalformedRetries),
	), nil
}

func printReport(out io.Writer, r *batch.Report) {
	if r == nil {
		return
	}
	fmt.Fprintf(out, "total %d, succeeded %d, skipped %d, failed %d in %s\n",
		r.Total, r.Succeeded, r.Skipped, len(r.Failed), r.Duration.Round(time.Millisecond))
	for _, f := range r.Failed {
		fmt.Fprintf(out, "  %s: %v\n", f.ID, f.Err)
	}
}

// =============================================================================
// 🔎 index 命令
// =============================================================================

func runIndex(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	dir := fs.String("dir", "", "Directory of documents to index")
	outPath := fs.String("out", "", "Index file to write (default: retrieval.index_path)")
	exts := fs.String("ext", ".md,.txt", "Comma separated file extensions")
	chunkSize := fs.Int("chunk-size", rag.DefaultChunkingConfig().ChunkSize, "Chunk size in characters")
	chunkOverlap := fs.Int("chunk-overlap", rag.DefaultChunkingConfig().ChunkOverlap, "Chunk overlap in characters")
	batchSize := fs.Int("batch", 64, "Documents per embedding request")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *outPath == "" {
		*outPath = cfg.Retrieval.IndexPath
	}
	if *dir == "" || *outPath == "" {
		return errors.New("--dir and --out (or retrieval.index_path) are required")
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	docs, err := rag.LoadDirectory(*dir, strings.Split(*exts, ","), rag.ChunkingConfig{
		ChunkSize:    *chunkSize,
		ChunkOverlap: *chunkOverlap,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder := openai.NewProvider(openai.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLM.Timeout,
	}, logger)
	store := rag.NewInMemoryVectorStore(logger)
	if err := rag.Index(ctx, embedder, store, docs, *batchSize); err != nil {
		return err
	}
	if err := rag.SaveIndex(*outPath, store); err != nil {
		return err
	}
	logger.Info("index written", zap.String("path", *outPath), zap.Int("chunks", len(docs)))
	fmt.Fprintf(out, "indexed %d chunks into %s\n", len(docs), *outPath)
	return nil
}
