// Package container wires the retrieval core's concrete dependencies —
// configuration, tracing, the relational store and its repositories, the
// dense/sparse store drivers, provider clients, the chunker registry, and
// the indexing layer's shared pool/broker/lock — into one Container the
// orchestrator (internal/orchestrator) and HTTP façade (internal/httpapi)
// build requests on top of. Grounded on the teacher's
// internal/container/container.go dig.Container + must()/logger.Debugf
// phased-registration style, adapted from the teacher's chat/RAG service
// graph to this core's ingestion/retrieval component graph (spec §3's
// component list C0-C9).
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/panjf2000/ants/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/kbretrieval/core/internal/chunking"
	"github.com/kbretrieval/core/internal/config"
	"github.com/kbretrieval/core/internal/indexing"
	"github.com/kbretrieval/core/internal/logger"
	"github.com/kbretrieval/core/internal/providers"
	"github.com/kbretrieval/core/internal/providers/ollama"
	"github.com/kbretrieval/core/internal/providers/openai"
	"github.com/kbretrieval/core/internal/store/dense"
	"github.com/kbretrieval/core/internal/store/dense/milvus"
	"github.com/kbretrieval/core/internal/store/dense/pgvector"
	"github.com/kbretrieval/core/internal/store/dense/qdrant"
	"github.com/kbretrieval/core/internal/store/dense/sqlitevec"
	"github.com/kbretrieval/core/internal/store/dense/weaviate"
	"github.com/kbretrieval/core/internal/store/relational"
	"github.com/kbretrieval/core/internal/store/sparse"
	"github.com/kbretrieval/core/internal/store/sparse/elasticsearch"
	"github.com/kbretrieval/core/internal/tracing"
	"github.com/kbretrieval/core/internal/types/interfaces"
)

// Container holds every process-wide singleton the orchestrator and HTTP
// façade need. Unlike the teacher's dig.Container (which resolves HTTP
// handlers with many transitive dependencies), this core's two entry
// points (ingest, retrieve) take only a handful of shared collaborators,
// so Build still uses dig to register and validate the construction graph
// (spec §3's wiring order) but returns a plain struct the caller pulls
// values out of, rather than invoking further handlers through dig.
type Container struct {
	Config *config.Config
	Tracer *tracing.Tracer
	DB     *gorm.DB

	Chunks     interfaces.ChunkRepository
	Documents  interfaces.DocumentRepository
	KBs        interfaces.KnowledgeBaseRepository
	Tenants    interfaces.TenantRepository
	Identities interfaces.IdentityRepository
	Hierarchy  interfaces.HierarchyRepository

	Dense  dense.Store
	Sparse sparse.Store

	Tokenizer *sparse.Tokenizer
	Resolver  *providers.Resolver
	Chunkers  *chunking.Registry

	Redis      *redis.Client
	Pool       *ants.Pool
	Locker     indexing.Locker
	Asynq      *asynq.Client
	Reconciler *indexing.Reconciler
}

// Build assembles a Container from cfg, validating the dig graph the same
// way the teacher's BuildContainer does (must() panics on a wiring bug
// caught at startup, never silently continuing with half the graph
// built).
func Build(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger.Debugf(ctx, "[Container] starting container initialization")

	c := dig.New()
	must(c.Provide(func() *config.Config { return cfg }))

	logger.Debugf(ctx, "[Container] registering tracing...")
	must(c.Provide(initTracer))

	logger.Debugf(ctx, "[Container] registering relational store...")
	must(c.Provide(initRelationalDB))
	must(c.Provide(initChunkRepo))
	must(c.Provide(initDocumentRepo))
	must(c.Provide(initKBRepo))
	must(c.Provide(initTenantRepo))
	must(c.Provide(initIdentityRepo))
	must(c.Provide(initHierarchyRepo))

	logger.Debugf(ctx, "[Container] registering dense/sparse stores...")
	must(c.Provide(initDenseStore))
	must(c.Provide(initSparseStore))
	must(c.Provide(initTokenizer))

	logger.Debugf(ctx, "[Container] registering provider resolver...")
	must(c.Provide(initResolver))

	logger.Debugf(ctx, "[Container] registering chunker registry...")
	must(c.Provide(chunking.NewRegistry))

	logger.Debugf(ctx, "[Container] registering indexing infrastructure...")
	must(c.Provide(initRedisClient))
	must(c.Provide(initAntsPool))
	must(c.Provide(initLocker))
	must(c.Provide(initAsynqClient))
	must(c.Provide(initReconciler))

	out := &Container{Config: cfg}
	err := c.Invoke(func(
		tr *tracing.Tracer,
		db *gorm.DB,
		chunks interfaces.ChunkRepository,
		docs interfaces.DocumentRepository,
		kbs interfaces.KnowledgeBaseRepository,
		tenants interfaces.TenantRepository,
		identities interfaces.IdentityRepository,
		hierarchy interfaces.HierarchyRepository,
		denseStore dense.Store,
		sparseStore sparse.Store,
		tok *sparse.Tokenizer,
		resolver *providers.Resolver,
		chunkers *chunking.Registry,
		rdb *redis.Client,
		pool *ants.Pool,
		locker indexing.Locker,
		aq *asynq.Client,
		rec *indexing.Reconciler,
	) {
		out.Tracer = tr
		out.DB = db
		out.Chunks = chunks
		out.Documents = docs
		out.KBs = kbs
		out.Tenants = tenants
		out.Identities = identities
		out.Hierarchy = hierarchy
		out.Dense = denseStore
		out.Sparse = sparseStore
		out.Tokenizer = tok
		out.Resolver = resolver
		out.Chunkers = chunkers
		out.Redis = rdb
		out.Pool = pool
		out.Locker = locker
		out.Asynq = aq
		out.Reconciler = rec
	})
	if err != nil {
		return nil, fmt.Errorf("container: invoking wiring graph: %w", err)
	}

	tracing.SetGlobal(out.Tracer)
	logger.Infof(ctx, "[Container] container initialization completed successfully")
	return out, nil
}

// Close releases every owned resource (Redis connection, asynq client,
// tokenizer's CGO handle, tracer) in reverse dependency order. Safe to
// call once at process shutdown.
func (c *Container) Close(ctx context.Context) {
	if c.Tokenizer != nil {
		c.Tokenizer.Close()
	}
	if c.Asynq != nil {
		_ = c.Asynq.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Tracer != nil {
		_ = c.Tracer.Shutdown(ctx)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func initTracer(cfg *config.Config) (*tracing.Tracer, error) {
	return tracing.InitTracer(cfg.Tracing)
}

func initRelationalDB(cfg *config.Config) (*gorm.DB, error) {
	rc := relational.Config{Driver: cfg.Relational.Driver, DSN: cfg.Relational.DSN}
	db, err := relational.Open(rc)
	if err != nil {
		return nil, fmt.Errorf("container: opening relational store: %w", err)
	}
	if err := relational.Migrate(rc); err != nil {
		return nil, fmt.Errorf("container: migrating relational store: %w", err)
	}
	return db, nil
}

func initChunkRepo(db *gorm.DB) interfaces.ChunkRepository         { return relational.NewChunkRepo(db) }
func initDocumentRepo(db *gorm.DB) interfaces.DocumentRepository   { return relational.NewDocumentRepo(db) }
func initKBRepo(db *gorm.DB) interfaces.KnowledgeBaseRepository    { return relational.NewKnowledgeBaseRepo(db) }
func initTenantRepo(db *gorm.DB) interfaces.TenantRepository       { return relational.NewTenantRepo(db) }
func initIdentityRepo(db *gorm.DB) interfaces.IdentityRepository  { return relational.NewIdentityRepo(db) }
func initHierarchyRepo(db *gorm.DB) interfaces.HierarchyRepository { return relational.NewHierarchyRepo(db) }

// initDenseStore selects the configured dense-store driver. sqlitevec and
// pgvector reuse the relational *gorm.DB's connection rather than opening
// a second one; qdrant/milvus/weaviate are standalone services addressed
// over the network.
func initDenseStore(cfg *config.Config, db *gorm.DB) (dense.Store, error) {
	switch cfg.DenseStore.Driver {
	case "qdrant":
		host, port := splitHostPort(cfg.DenseStore.Address, 6334)
		return qdrant.New(host, port, cfg.DenseStore.APIKey, cfg.DenseStore.APIKey != "")
	case "milvus":
		return milvus.New(context.Background(), cfg.DenseStore.Address)
	case "weaviate":
		host, _ := splitHostPort(cfg.DenseStore.Address, 0)
		return weaviate.New(host, "http", cfg.DenseStore.APIKey), nil
	case "pgvector":
		return pgvector.New(db), nil
	case "sqlitevec", "":
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("container: extracting *sql.DB for sqlitevec: %w", err)
		}
		return sqlitevec.New(sqlDB), nil
	default:
		return nil, fmt.Errorf("container: unknown dense store driver %q", cfg.DenseStore.Driver)
	}
}

func initSparseStore(cfg *config.Config) (sparse.Store, error) {
	switch cfg.SparseStore.Driver {
	case "elasticsearch":
		return elasticsearch.New([]string{cfg.SparseStore.Address}, "", "retrieval-core-chunks")
	case "bm25", "":
		return sparse.NewMemory(), nil
	default:
		return nil, fmt.Errorf("container: unknown sparse store driver %q", cfg.SparseStore.Driver)
	}
}

func initTokenizer() *sparse.Tokenizer { return sparse.NewTokenizer() }

// initResolver wires the openai/ollama constructors into
// providers.ProviderFactories (kept out of internal/providers itself to
// avoid an import cycle: openai/ollama both import internal/providers for
// RetryPolicy).
func initResolver(cfg *config.Config) *providers.Resolver {
	factories := providers.ProviderFactories{
		NewOpenAIEmbedder: func(e config.ModelEntry) (interfaces.Embedder, error) {
			return openai.New(openai.Config{APIKey: providers.APIKey(e), BaseURL: e.BaseURL, Model: e.Model, Dimension: e.Dimension})
		},
		NewOpenAILLM: func(e config.ModelEntry) (interfaces.LLM, error) {
			return openai.New(openai.Config{APIKey: providers.APIKey(e), BaseURL: e.BaseURL, Model: e.Model, Dimension: e.Dimension})
		},
		NewOpenAIReranker: func(e config.ModelEntry) (interfaces.Reranker, error) {
			return openai.New(openai.Config{APIKey: providers.APIKey(e), BaseURL: e.BaseURL, Model: e.Model, Dimension: e.Dimension})
		},
		NewOllamaEmbedder: func(e config.ModelEntry) (interfaces.Embedder, error) {
			return ollama.New(ollama.Config{BaseURL: e.BaseURL, Model: e.Model, Dimension: e.Dimension})
		},
		NewOllamaLLM: func(e config.ModelEntry) (interfaces.LLM, error) {
			return ollama.New(ollama.Config{BaseURL: e.BaseURL, Model: e.Model, Dimension: e.Dimension})
		},
	}
	return providers.NewResolver(cfg.Models, factories)
}

func initRedisClient(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("container: connecting to redis: %w", err)
	}
	return client, nil
}

func initAntsPool() (*ants.Pool, error) {
	return ants.NewPool(16, ants.WithPreAlloc(true))
}

func initLocker(rdb *redis.Client) indexing.Locker { return indexing.NewRedisLock(rdb) }

func initAsynqClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
}

func initReconciler(chunks interfaces.ChunkRepository, aq *asynq.Client) *indexing.Reconciler {
	return indexing.NewReconciler(chunks, aq, time.Now)
}

// splitHostPort is a tolerant "host:port" splitter for dense-store
// addresses that defaults the port when the config value carries none.
func splitHostPort(address string, defaultPort int) (string, int) {
	host, port := address, defaultPort
	for i := len(address) - 1; i >= 0; i-- {
		if address[i] == ':' {
			host = address[:i]
			if p, err := parsePort(address[i+1:]); err == nil {
				port = p
			}
			break
		}
	}
	return host, port
}

func parsePort(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("empty port")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid port %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
