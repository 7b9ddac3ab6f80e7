// Package main is the kotae CLI entry point.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/apperr"
	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/prompt"
	"github.com/hyperjump/kotae/internal/rag"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// tokenEncoding is the tiktoken encoding used when a context token budget is set.
const tokenEncoding = "cl100k_base"

// loadConfig loads config from path. When path is the default, a config.yaml in the
// current directory takes precedence; when neither exists, built-in defaults and the
// environment are used. Returns the config and the path that was loaded, or "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			} else if _, statErr := os.Stat(defaultConfigPath); errors.Is(statErr, os.ErrNotExist) {
				return config.Default(cwd), "", nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "delete":
		runDelete()
	case "clear":
		runClear()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// setup loads and validates config and creates the logger.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid config: %v", apperr.Message(err))
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (retrieval, watcher events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	debugMode := cfg.Debug || *debug
	cfg.Debug = debugMode
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchSvc := watcher.New(
		components.Indexer,
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger),
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go func() {
		stats := watchSvc.SyncExistingFiles()
		logger.Info("initial sync finished",
			zap.Int("indexed", stats.Indexed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed))
	}()

	srv := server.NewServer(components.Orchestrator, cfg, logger,
		server.WithWatch(watchSvc, resolvedConfigPath),
		server.WithVersion(version),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them. Go's flag package stops at
// the first non-flag argument, so "kotae ask \"question\" -k 3" would otherwise leave
// -k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins all positional args with spaces so multi-word questions work the
// same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	recursive := fs.Bool("recursive", false, "recurse into subdirectories")
	text := fs.String("text", "", "ingest raw text content")
	filename := fs.String("filename", "", "filename for --text content")
	clearAll := fs.Bool("clear", false, "remove every document from the knowledge base")
	stats := fs.Bool("stats", false, "show knowledge base statistics")
	verify := fs.Bool("verify", false, "check that a file's chunks rebuild its text, after ingesting it")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if !*clearAll && !*stats && *text == "" && fs.NArg() < 1 {
		fmt.Println("Usage: kotae ingest [flags] <file-or-directory>")
		fmt.Println("       kotae ingest --text \"content\" [--filename name]")
		fmt.Println("       kotae ingest --clear | --stats")
		os.Exit(1)
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", apperr.Message(err))
	}
	defer components.Close()
	ctx := context.Background()
	idx := components.Indexer

	switch {
	case *clearAll:
		fmt.Println("Clearing all documents from knowledge base...")
		if err := idx.Clear(ctx); err != nil {
			fatalf("Clear failed: %v", apperr.Message(err))
		}
		fmt.Println("Knowledge base cleared")
	case *stats:
		n, err := idx.Count(ctx)
		if err != nil {
			fatalf("Count failed: %v", apperr.Message(err))
		}
		docs, err := idx.Documents(ctx)
		if err != nil {
			fatalf("Listing failed: %v", apperr.Message(err))
		}
		fmt.Println("Knowledge base statistics:")
		fmt.Printf("  Total document chunks: %d\n", n)
		fmt.Printf("  Documents: %d\n", len(docs))
	case *text != "":
		res, err := idx.IngestText(ctx, *text, *filename)
		if err != nil {
			fatalf("Failed to ingest text: %v", apperr.Message(err))
		}
		fmt.Printf("Successfully ingested text: %s\n", res.Filename)
		fmt.Printf("  Created %d chunks\n", res.ChunksWritten)
	default:
		path := fs.Arg(0)
		info, err := os.Stat(path)
		if err != nil {
			fatalf("Error: %v", err)
		}
		if info.IsDir() {
			res, err := idx.IngestDirectory(ctx, path, *recursive)
			if err != nil {
				fatalf("Ingesting directory failed: %v", apperr.Message(err))
			}
			for _, f := range res.Files {
				if f.Error != "" {
					fmt.Printf("  failed  %s: %s\n", f.Filename, f.Error)
				} else {
					fmt.Printf("  ok      %s (%d chunks)\n", f.Filename, f.ChunksWritten)
				}
			}
			fmt.Printf("\nSummary: %d/%d files ingested, %d chunks\n",
				res.Processed, res.Processed+res.Failed, res.TotalChunks)
			if res.Processed == 0 {
				os.Exit(1)
			}
			return
		}
		res, err := idx.IngestFile(ctx, path)
		if err != nil {
			fatalf("Failed to ingest: %v", apperr.Message(err))
		}
		fmt.Printf("Successfully ingested: %s\n", res.Filename)
		fmt.Printf("  Created %d chunks\n", res.ChunksWritten)
		fmt.Printf("  File size: %d bytes\n", info.Size())
		if *verify {
			n, err := verifyChunking(components.Chunker, extract.NewExtractor(), path)
			if err != nil {
				fatalf("Verify failed: %v", err)
			}
			fmt.Printf("  Round trip ok: %d chunks rebuild the text\n", n)
		}
	}
}

// verifyChunking re-splits the file at path and checks that the chunks rebuild its
// normalized text exactly. Returns the chunk count.
func verifyChunking(chunker *indexer.Chunker, ex *extract.Extractor, path string) (int, error) {
	text, err := ex.Extract(path)
	if err != nil {
		return 0, err
	}
	text = indexer.Preprocess(text)
	chunks := chunker.Split(filepath.Base(path), text)
	if got := indexer.Reconstruct(chunks); got != text {
		return len(chunks), fmt.Errorf("rebuilt text differs: %d of %d runes", len([]rune(got)), len([]rune(text)))
	}
	return len(chunks), nil
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = run the pipeline in-process)")
	noStream := fs.Bool("no-stream", false, "print the answer only once it is complete")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	question := buildQuery(fs.Args())
	if question == "" {
		fmt.Println("Usage: kotae ask [flags] <question>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	stream := !*noStream && format == cli.OutputText
	req := models.ChatRequest{Message: question, Stream: &stream}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *serverURL != "" {
		if err := askViaHTTP(ctx, http.DefaultClient, *serverURL, req, os.Stdout, format); err != nil {
			fatalf("Ask failed: %v", err)
		}
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", apperr.Message(err))
	}
	defer components.Close()
	if err := askLocal(ctx, components.Orchestrator, req, os.Stdout, format); err != nil {
		fatalf("Ask failed: %v", apperr.Message(err))
	}
}

// askLocal runs one chat turn in-process. Streaming prints fragments as they arrive.
func askLocal(ctx context.Context, orch *rag.Orchestrator, req models.ChatRequest, w io.Writer, format cli.OutputFormat) error {
	events := orch.Ask(ctx, req)
	if !req.WantsStream() {
		resp, err := rag.Collect(ctx, events)
		if err != nil {
			return err
		}
		return cli.WriteAnswer(w, resp, format)
	}
	var sources []string
	for e := range events {
		switch e.Type {
		case rag.EventSources:
			sources = e.Sources
		case rag.EventContent:
			fmt.Fprint(w, e.Content)
		case rag.EventError:
			fmt.Fprintln(w)
			return e.Cause()
		case rag.EventDone:
			fmt.Fprintln(w)
			cli.WriteSources(w, sources)
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("answer ended early")
}

// streamEvent is one decoded "data:" payload of the chat stream.
type streamEvent struct {
	Sources []string `json:"sources"`
	Content *string  `json:"content"`
	Error   *string  `json:"error"`
}

// readSSE decodes data lines from a chat stream and calls fn for each event until
// [DONE]. An error event ends the stream with that error.
func readSSE(r io.Reader, fn func(streamEvent)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if ev.Error != nil {
			return errors.New(*ev.Error)
		}
		fn(ev)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("stream ended without [DONE]")
}

func askViaHTTP(ctx context.Context, client *http.Client, serverURL string, req models.ChatRequest, w io.Writer, format cli.OutputFormat) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if !req.WantsStream() {
		var answer models.ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return cli.WriteAnswer(w, &answer, format)
	}
	var sources []string
	err = readSSE(resp.Body, func(ev streamEvent) {
		if ev.Sources != nil {
			sources = ev.Sources
		}
		if ev.Content != nil {
			fmt.Fprint(w, *ev.Content)
		}
	})
	fmt.Fprintln(w)
	if err != nil {
		return err
	}
	cli.WriteSources(w, sources)
	return nil
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = search local indices)")
	k := fs.Int("k", 0, "number of chunks (0 = configured default)")
	kw := fs.Bool("keyword", false, "use the keyword index instead of vector search")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))

	query := buildQuery(fs.Args())
	if query == "" {
		fmt.Println("Usage: kotae search [flags] <query>")
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	ctx := context.Background()

	var result models.RetrievalResult
	if *serverURL != "" {
		result, err = searchViaHTTP(ctx, http.DefaultClient, *serverURL, query, *k)
		if err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fatalf("Failed to initialize: %v", apperr.Message(err))
		}
		defer components.Close()
		if *kw {
			result, err = keywordSearch(ctx, components.KeywordIndex, query, components.Retriever.ClampK(*k))
		} else {
			result, err = components.Retriever.Retrieve(ctx, query, *k)
		}
		if err != nil {
			fatalf("Search failed: %v", apperr.Message(err))
		}
	}
	if err := cli.WriteRetrieval(os.Stdout, query, result, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

// keywordSearch runs a bleve query and presents its hits as retrieval results.
func keywordSearch(ctx context.Context, idx keyword.Index, query string, k int) (models.RetrievalResult, error) {
	hits, err := idx.Search(ctx, query, k, nil)
	if err != nil {
		return nil, apperr.IndexUnavailable("keyword search", err)
	}
	out := make(models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.ScoredChunk{Filename: h.Filename, Index: h.Index, Text: h.Content, Score: h.Score})
	}
	return out, nil
}

func searchViaHTTP(ctx context.Context, client *http.Client, serverURL, query string, k int) (models.RetrievalResult, error) {
	body, err := json.Marshal(map[string]interface{}{"query": query, "k": k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(serverURL, "/")+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		Results models.RetrievalResult `json:"results"`
	}
	if err := doJSON(client, req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func doJSON(client *http.Client, req *http.Request, v interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fatalf("%v", err)
	}
	ctx := context.Background()

	var status *cli.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(ctx, http.DefaultClient, *serverURL)
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, _, logger := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fatalf("Failed to initialize: %v", apperr.Message(err))
		}
		defer components.Close()
		status, err = localStatus(ctx, cfg, components)
		if err != nil {
			fatalf("Status failed: %v", apperr.Message(err))
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func localStatus(ctx context.Context, cfg *config.Config, c *Components) (*cli.Status, error) {
	chunks, err := c.Indexer.Count(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := c.Indexer.Documents(ctx)
	if err != nil {
		return nil, err
	}
	status := &cli.Status{
		Chunks:    chunks,
		Documents: docs,
		Config: &cli.StatusConfig{
			VectorBackend:       cfg.Vector.Backend,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingModel:      cfg.Embedding.Model,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			CompletionProvider:  cfg.Completion.Provider,
			CompletionModel:     cfg.Completion.Model,
			ChunkSize:           cfg.Chunking.ChunkSize,
			ChunkOverlap:        cfg.Chunking.ChunkOverlap,
			Hybrid:              cfg.Retrieval.Hybrid,
			DatabasePath:        cfg.Storage.DatabasePath,
			KeywordIndexPath:    cfg.Storage.KeywordIndexPath,
			MemoryIndexPath:     cfg.Storage.MemoryIndexPath,
		},
	}
	if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.KeywordIndexPath, cfg.Storage.MemoryIndexPath); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func statusViaHTTP(ctx context.Context, client *http.Client, serverURL string) (*cli.Status, error) {
	base := strings.TrimRight(serverURL, "/")
	var count struct {
		Count int `json:"count"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/documents/count", nil)
	if err != nil {
		return nil, err
	}
	if err := doJSON(client, req, &count); err != nil {
		return nil, err
	}
	var docs struct {
		Documents []models.DocumentInfo `json:"documents"`
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, base+"/documents", nil)
	if err != nil {
		return nil, err
	}
	if err := doJSON(client, req, &docs); err != nil {
		return nil, err
	}
	return &cli.Status{Chunks: count.Count, Documents: docs.Documents}, nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae delete [flags] <filename>")
		os.Exit(1)
	}
	filename := fs.Arg(0)

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", apperr.Message(err))
	}
	defer components.Close()

	if err := components.Indexer.DeleteDocument(context.Background(), filename); err != nil {
		fatalf("Deletion failed: %v", apperr.Message(err))
	}
	fmt.Printf("Document deleted: %s\n", filename)
}

func runClear() {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", apperr.Message(err))
	}
	defer components.Close()

	if err := components.Indexer.Clear(context.Background()); err != nil {
		fatalf("Clear failed: %v", apperr.Message(err))
	}
	fmt.Println("Knowledge base cleared")
}

// Components holds initialized services.
type Components struct {
	Registry     storage.Registry
	Chunker      *indexer.Chunker
	Embedder     *embedding.Gateway
	Store        vector.Store
	KeywordIndex *keyword.BleveIndex
	Indexer      *indexer.Indexer
	Retriever    *search.Retriever
	Orchestrator *rag.Orchestrator

	snapshotPath string
	logger       *zap.Logger
}

// Close saves the memory index snapshot, when there is one, and releases every component.
func (c *Components) Close() {
	if mem, ok := c.Store.(*vector.MemoryStore); ok && c.snapshotPath != "" {
		if err := mem.Save(c.snapshotPath); err != nil {
			c.logger.Warn("memory index save failed", zap.String("path", c.snapshotPath), zap.Error(err))
		}
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Registry != nil {
		_ = c.Registry.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.snapshotPath = ""
			c.Close()
		}
	}()

	for _, p := range []string{cfg.Storage.DatabasePath, cfg.Storage.MemoryIndexPath} {
		if p != "" {
			if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	registry, err := storage.NewSQLiteRegistry(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document registry: %w", err)
	}
	c.Registry = registry

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	c.Embedder = embedder

	storeOpts := []vector.Option{vector.WithDatabasePath(cfg.Storage.DatabasePath)}
	if cfg.Vector.Backend == vector.BackendMemory {
		c.snapshotPath = cfg.Storage.MemoryIndexPath
		storeOpts = append(storeOpts, vector.WithSnapshot(cfg.Storage.MemoryIndexPath))
	}
	store, err := vector.NewStore(context.Background(), cfg.Vector, cfg.Embedding.Dimensions, storeOpts...)
	if err != nil {
		return nil, err
	}
	c.Store = store
	logger.Info("vector store initialized", zap.String("backend", cfg.Vector.Backend))

	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = keywordIndex

	chunker, err := indexer.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap, cfg.Chunking.BoundaryLookback)
	if err != nil {
		return nil, err
	}
	c.Chunker = chunker
	c.Indexer = indexer.New(chunker, embedder, store,
		indexer.WithKeywordIndex(keywordIndex),
		indexer.WithRegistry(registry),
		indexer.WithExtractor(extract.NewExtractor()),
		indexer.WithIngestConfig(cfg.Ingest),
		indexer.WithLogger(logger),
	)

	retrieverOpts := []search.Option{
		search.WithDefaultK(cfg.Retrieval.MaxRetrievedDocs),
		search.WithMaxK(cfg.Retrieval.MaxK),
		search.WithLogger(logger),
	}
	if cfg.Retrieval.Hybrid {
		retrieverOpts = append(retrieverOpts,
			search.WithKeywordIndex(keywordIndex, cfg.Retrieval.KeywordWeight, cfg.Retrieval.SemanticWeight))
	}
	c.Retriever = search.NewRetriever(embedder, store, retrieverOpts...)

	builderOpts := []prompt.Option{prompt.WithHistoryWindow(cfg.Retrieval.HistoryWindow)}
	if cfg.Retrieval.MaxContextTokens > 0 {
		counter, err := prompt.NewTokenCounter(tokenEncoding)
		if err != nil {
			logger.Warn("tiktoken unavailable, estimating token counts", zap.Error(err))
		}
		builderOpts = append(builderOpts, prompt.WithTokenBudget(counter, cfg.Retrieval.MaxContextTokens))
	}

	completer, err := llm.New(cfg.Completion)
	if err != nil {
		return nil, err
	}
	c.Orchestrator = rag.New(c.Retriever, prompt.NewBuilder(builderOpts...), completer,
		rag.WithIndexer(c.Indexer),
		rag.WithHealthTargets(embedder, store),
		rag.WithRetrievalK(cfg.Retrieval.MaxRetrievedDocs),
		rag.WithCompletionOptions(llm.Options{Temperature: cfg.Completion.Temperature, MaxTokens: cfg.Completion.MaxTokens}),
		rag.WithCompletionTimeout(cfg.Completion.Timeout),
		rag.WithLogger(logger),
	)
	ok = true
	return c, nil
}

func printUsage() {
	fmt.Println(`kotae - retrieval-augmented chat over your documents

Usage:
  kotae server [flags]                 Start the HTTP server and directory watcher
  kotae ingest [flags] <path>          Ingest a file or directory
  kotae ask [flags] <question>         Ask a question
  kotae search [flags] <query>         Show the chunks retrieved for a query
  kotae status [flags]                 Show chunk counts, documents and configuration
  kotae delete [flags] <filename>      Delete a document
  kotae clear [flags]                  Delete every document
  kotae version                        Show version
  kotae help                           Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --recursive        Recurse into subdirectories
  --text string      Ingest raw text content
  --filename string  Filename for --text content (default: manual_input)
  --clear            Remove every document
  --stats            Show knowledge base statistics
  --verify           Check that the file's chunks rebuild its text

Ask Flags:
  --server string    Server URL; empty runs the pipeline in-process
  --no-stream        Print the answer once complete
  --output string    Output format: text or json (default: text)

Search Flags:
  --server string    Server URL; empty searches local indices
  --k int            Number of chunks (default from config)
  --keyword          Use the keyword index instead of vector search
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL; empty reads local storage
  --output string    Output format: text or json (default: text)

Examples:
  kotae server
  kotae ingest --recursive ./docs
  kotae ingest --text "Cats purr when content." --filename cats.txt
  kotae ask "why do cats purr?"
  kotae ask --server http://localhost:8000 --output json "why do cats purr?"
  kotae search --keyword --k 10 purr
  kotae status --output json`)
}
