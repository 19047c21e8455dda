// ragd wires the retrieval-QA core and runs queries from the command line,
// emitting the pipeline event stream as JSON lines on stdout. The HTTP/SSE
// transport lives elsewhere; this binary exists for local operation and
// smoke-testing a deployment's configuration.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/henryperkins/agentic-rag/internal/cache"
	"github.com/henryperkins/agentic-rag/internal/classify"
	"github.com/henryperkins/agentic-rag/internal/config"
	"github.com/henryperkins/agentic-rag/internal/coordinator"
	"github.com/henryperkins/agentic-rag/internal/embedding"
	"github.com/henryperkins/agentic-rag/internal/events"
	"github.com/henryperkins/agentic-rag/internal/grade"
	"github.com/henryperkins/agentic-rag/internal/ingest"
	"github.com/henryperkins/agentic-rag/internal/llm"
	"github.com/henryperkins/agentic-rag/internal/logging"
	"github.com/henryperkins/agentic-rag/internal/metrics"
	"github.com/henryperkins/agentic-rag/internal/reconcile"
	"github.com/henryperkins/agentic-rag/internal/retrieve"
	"github.com/henryperkins/agentic-rag/internal/store"
	"github.com/henryperkins/agentic-rag/internal/websearch"
)

func main() {
	log.SetFlags(0)
	var (
		configPath = flag.String("config", "config.yaml", "path to YAML config")
		ingestPath = flag.String("ingest", "", "ingest a file then exit")
		title      = flag.String("title", "", "title for -ingest")
		source     = flag.String("source", "", "source for -ingest (inline path or s3://bucket/key)")
		query      = flag.String("query", "", "run a single query then exit; empty reads queries from stdin")
		useRAG     = flag.Bool("rag", true, "use the document knowledge base")
		useHybrid  = flag.Bool("hybrid", true, "fuse keyword retrieval with vector retrieval")
		useWeb     = flag.Bool("web", false, "allow web search")
		logLevel   = flag.String("log-level", "info", "zerolog level")
	)
	flag.Parse()

	if err := config.LoadDotEnv(""); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(*logLevel)
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewManualReader()),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", "ragd"))),
	))
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := build(ctx, cfg, logger, m)
	if err != nil {
		log.Fatalf("wire dependencies: %v", err)
	}
	defer cleanup()

	if *ingestPath != "" {
		data, err := os.ReadFile(*ingestPath)
		if err != nil {
			log.Fatalf("read %s: %v", *ingestPath, err)
		}
		res, err := deps.pipeline.Ingest(ctx, string(data), *title, *source)
		if err != nil {
			log.Fatalf("ingest: %v", err)
		}
		fmt.Printf("ingested document %s (%d chunks)\n", res.DocumentID, res.ChunksInserted)
		return
	}

	opts := coordinator.Options{UseRAG: *useRAG, UseHybrid: *useHybrid, UseWeb: *useWeb}
	sink := func(ev coordinator.Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			return true
		}
		fmt.Println(string(data))
		return true
	}

	if *query != "" {
		deps.coordinator.Run(ctx, *query, sink, opts)
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		deps.coordinator.Run(ctx, line, sink, opts)
		if ctx.Err() != nil {
			return
		}
	}
}

type wired struct {
	coordinator *coordinator.Coordinator
	pipeline    *ingest.Pipeline
}

// build constructs the dependency graph: Postgres/Qdrant-backed stores when
// a DSN is configured, in-memory stores otherwise (deterministic local use).
func build(ctx context.Context, cfg config.Config, logger logging.Logger, m metrics.Metrics) (*wired, func(), error) {
	cleanup := func() {}

	var (
		docs      store.DocStore
		primary   store.VectorStore
		keyword   store.KeywordStore
		secondary store.VectorStore
		persister classify.Persister
		primaryN  reconcile.PrimaryCounter
		secondN   reconcile.SecondaryCounter
	)

	if dsn := cfg.Store.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanup = pool.Close
		pdocs, err := store.NewPostgresDocStore(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		pvec, err := store.NewPostgresVector(ctx, pool, cfg.Embedding.Dimensions, cfg.Store.VectorMetric)
		if err != nil {
			return nil, nil, err
		}
		pkey, err := store.NewPostgresKeyword(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		prew, err := store.NewPostgresRewrites(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		docs, primary, keyword, persister, primaryN = pdocs, pvec, pkey, prew, pdocs

		if cfg.Store.UseDualVector {
			qdrant, err := store.NewQdrantVector(ctx, cfg.Store.QdrantDSN, cfg.Store.QdrantCollection, cfg.Embedding.Dimensions, cfg.Store.VectorMetric)
			if err != nil {
				return nil, nil, fmt.Errorf("connect qdrant: %w", err)
			}
			secondary, secondN = qdrant, qdrant
		}
	} else {
		mdocs := store.NewMemoryDocStore()
		docs, primary, keyword, primaryN = mdocs, store.NewMemoryVector(), store.NewMemoryKeyword(), mdocs
		if cfg.Store.UseDualVector {
			mvec := store.NewMemoryVector()
			secondary, secondN = mvec, mvec
		}
	}

	var embedder embedding.Embedder
	if cfg.Embedding.Deterministic {
		embedder = embedding.NewDeterministic(cfg.Embedding.Dimensions)
	} else {
		embedder = embedding.NewProvider(cfg.Embedding)
	}

	var provider llm.Provider
	if cfg.LLM.APIKey != "" {
		p, err := llm.Build(cfg.LLM)
		if err != nil {
			return nil, nil, err
		}
		provider = p
	}

	caches := &cache.Registry{
		Response:  cache.New[string]("response", 5*time.Minute, 200, m),
		Retrieval: cache.New[any]("retrieval", 2*time.Minute, 200, m),
		WebSearch: cache.New[any]("webSearch", 10*time.Minute, 100, m),
	}
	if mirror := cache.NewRedisMirror[string](cfg.Redis, "ragcache:resp:", logger); mirror != nil {
		caches.Response.WithMirror(mirror)
	}

	var web *websearch.Client
	if cfg.WebSearch.SearxngURL != "" {
		var fetcher websearch.PageFetcher
		if cfg.WebSearch.FetchPages {
			fetcher = websearch.NewReadabilityFetcher(cfg.WebSearch.HTTPTimeout)
		}
		web = websearch.New(
			websearch.NewSearXNGProvider(cfg.WebSearch.SearxngURL, cfg.WebSearch.HTTPTimeout),
			fetcher, caches.WebSearch, m, logger, cfg.WebSearch,
		)
	}

	var resolver ingest.ObjectResolver
	if cfg.ObjectStore.Enabled {
		r, err := ingest.NewS3Resolver(ctx, cfg.ObjectStore.Region, cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey, cfg.ObjectStore.Endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("object store: %w", err)
		}
		resolver = r
	}

	publisher := events.NewPublisher(cfg.Kafka, logger)

	pipeline := &ingest.Pipeline{
		Docs:      docs,
		Primary:   primary,
		Secondary: secondary,
		Keyword:   keyword,
		Embedder:  embedder,
		Chunker:   ingest.Chunker{Size: cfg.Chunking.ChunkSize, Overlap: cfg.Chunking.ChunkOverlap},
		Objects:   resolver,
		Events:    publisher,
		Metrics:   m,
		Log:       logger,
	}

	if secondN != nil {
		rec := &reconcile.Reconciler{
			Primary:   primaryN,
			Secondary: secondN,
			Events:    publisher,
			Metrics:   m,
			Log:       logger,
		}
		go rec.Run(ctx)
	}

	var reranker retrieve.Reranker
	if provider != nil {
		reranker = retrieve.ModelReranker{Completer: provider}
	}

	co := &coordinator.Coordinator{
		Cfg:    cfg,
		Caches: caches,
		Retriever: &retrieve.Retriever{
			Primary:   primary,
			Secondary: secondary,
			Keyword:   keyword,
			Embedder:  embedder,
			Reranker:  reranker,
			Hybrid:    cfg.Hybrid,
			Log:       logger,
		},
		Grader:   &grade.Grader{Embedder: embedder, Cfg: cfg.Grader},
		Verifier: &grade.Verifier{Cfg: cfg.Verifier},
		Rewriter: &classify.Rewriter{Persist: persister, Log: logger},
		LLM:      provider,
		Web:      web,
		Metrics:  m,
		Log:      logger,
	}
	return &wired{coordinator: co, pipeline: pipeline}, cleanup, nil
}
