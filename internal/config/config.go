// Package config loads the retrieval core's system and environment
// defaults — the two lowest layers of the resolved-configuration merge
// order (SPEC_FULL.md §C0): request overrides > KB config > tenant
// defaults > system defaults > environment defaults.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the application's total configuration tree.
type Config struct {
	Server        *ServerConfig        `yaml:"server"         json:"server"`
	Retrieval     *RetrievalConfig     `yaml:"retrieval"      json:"retrieval"`
	Tenant        *TenantConfig        `yaml:"tenant"         json:"tenant"`
	Relational    *RelationalConfig    `yaml:"relational"     json:"relational"`
	DenseStore    *DenseStoreConfig    `yaml:"dense_store"    json:"dense_store"`
	SparseStore   *SparseStoreConfig  `yaml:"sparse_store"   json:"sparse_store"`
	Redis         *RedisConfig         `yaml:"redis"          json:"redis"`
	Tracing       *TracingConfig       `yaml:"tracing"        json:"tracing"`
	Models        []ModelEntry         `yaml:"models"         json:"models"`
	PromptTemplates *PromptTemplatesConfig `yaml:"prompt_templates" json:"prompt_templates"`
}

// ServerConfig configures the thin demonstration HTTP façade.
type ServerConfig struct {
	Port            int           `yaml:"port"             json:"port"`
	Host            string        `yaml:"host"             json:"host"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// RetrievalConfig holds retrieval defaults loaded from the config file and
// environment. The orchestrator does not read these fields: a request's
// resolved configuration starts from types.DefaultResolvedConfig, so values
// set here (for example BM25SigmoidThreshold 10 or the 0.6/0.4 hybrid
// weights) do not reach retrieval.
type RetrievalConfig struct {
	DefaultTopK        int     `yaml:"default_top_k"         json:"default_top_k"`
	MaxTopK            int     `yaml:"max_top_k"             json:"max_top_k"`
	RRFK               int     `yaml:"rrf_k"                 json:"rrf_k"`
	HybridDenseWeight  float64 `yaml:"hybrid_dense_weight"   json:"hybrid_dense_weight"`
	HybridSparseWeight float64 `yaml:"hybrid_sparse_weight"  json:"hybrid_sparse_weight"`
	BM25SigmoidThreshold float64 `yaml:"bm25_sigmoid_threshold" json:"bm25_sigmoid_threshold"`
	ContextBefore      int     `yaml:"context_before"        json:"context_before"`
	ContextAfter       int     `yaml:"context_after"         json:"context_after"`
	ContextMaxChars    int     `yaml:"context_max_chars"     json:"context_max_chars"`
	RerankTopN         int     `yaml:"rerank_top_n"          json:"rerank_top_n"`
	StorageTimeout     time.Duration `yaml:"storage_timeout"     json:"storage_timeout"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"    json:"provider_timeout"`
	RetrieverLegTimeout time.Duration `yaml:"retriever_leg_timeout" json:"retriever_leg_timeout"`
	ProviderRetryAttempts int   `yaml:"provider_retry_attempts" json:"provider_retry_attempts"`
}

// TenantConfig carries system-wide tenant behavior defaults.
type TenantConfig struct {
	DefaultIsolationStrategy string `yaml:"default_isolation_strategy" json:"default_isolation_strategy"`
}

// RelationalConfig configures the gorm-backed relational store driver.
type RelationalConfig struct {
	Driver string `yaml:"driver" json:"driver"` // "postgres" or "sqlite"
	DSN    string `yaml:"dsn"    json:"dsn"`
}

// DenseStoreConfig configures which dense-store driver backs new KBs and
// its connection parameters.
type DenseStoreConfig struct {
	Driver  string `yaml:"driver"  json:"driver"` // qdrant|milvus|pgvector|weaviate|sqlitevec
	Address string `yaml:"address" json:"address"`
	APIKey  string `yaml:"api_key" json:"api_key"`
}

// SparseStoreConfig configures the lexical/BM25 store driver.
type SparseStoreConfig struct {
	Driver  string `yaml:"driver"  json:"driver"` // elasticsearch|bm25
	Address string `yaml:"address" json:"address"`
}

// RedisConfig configures the asynq broker and the rebuild exclusive lock
// (SPEC_FULL.md §4.4).
type RedisConfig struct {
	Address  string `yaml:"address"  json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db"       json:"db"`
}

// TracingConfig configures the OTel span exporter at storage/provider
// boundaries. Endpoint empty means "no collector configured": traces export
// to stdout instead of silently no-oping, mirroring the teacher's
// initTracer always returning a working tracer.
type TracingConfig struct {
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Endpoint    string  `yaml:"endpoint"     json:"endpoint"` // OTLP/gRPC collector address; empty = stdout exporter
	Insecure    bool    `yaml:"insecure"     json:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
}

// ModelEntry names one credentialed model provider client available to the
// core (embedding, LLM, or rerank capability).
type ModelEntry struct {
	Name       string                 `yaml:"name"       json:"name"`
	Capability string                 `yaml:"capability" json:"capability"` // embedding|llm|rerank
	Provider   string                 `yaml:"provider"   json:"provider"`   // openai|ollama
	BaseURL    string                 `yaml:"base_url"   json:"base_url"`
	Model      string                 `yaml:"model"      json:"model"`
	Dimension  int                    `yaml:"dimension"  json:"dimension"`
	Secondary  *ModelEntry            `yaml:"secondary"  json:"secondary,omitempty"` // failover credentials, spec §5
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters"`
}

// PromptTemplate is one named, overridable prompt used by an enricher or
// composite retriever (summarizer, chunk enricher, HyDE, multi-query,
// self-query).
type PromptTemplate struct {
	ID      string `yaml:"id"      json:"id"`
	Content string `yaml:"content" json:"content"`
}

// PromptTemplatesConfig groups the prompt templates the enrichment and
// retrieval layers resolve by ID, mirroring the teacher's externalized
// prompt-template convention (SPEC_FULL.md §4.3 expansion).
type PromptTemplatesConfig struct {
	DocumentSummary   []PromptTemplate `yaml:"document_summary"    json:"document_summary"`
	ChunkContext      []PromptTemplate `yaml:"chunk_context"       json:"chunk_context"`
	HyDE              []PromptTemplate `yaml:"hyde"                json:"hyde"`
	MultiQuery        []PromptTemplate `yaml:"multi_query"         json:"multi_query"`
	SelfQuery         []PromptTemplate `yaml:"self_query"          json:"self_query"`
	ClusterSummary    []PromptTemplate `yaml:"cluster_summary"     json:"cluster_summary"`
}

// resolve returns the first template's content with the given ID, falling
// back to def when no override is configured.
func (p *PromptTemplatesConfig) resolve(set []PromptTemplate, id, def string) string {
	for _, t := range set {
		if t.ID == id {
			return t.Content
		}
	}
	return def
}

// Default system/environment configuration, used when no config file is
// found and as the base every file/env override layers on top of via
// viper's merge semantics.
func defaults() *Config {
	return &Config{
		Server: &ServerConfig{Port: 8080, Host: "0.0.0.0", ShutdownTimeout: 15 * time.Second},
		Retrieval: &RetrievalConfig{
			DefaultTopK: 10, MaxTopK: 50, RRFK: 60,
			HybridDenseWeight: 0.6, HybridSparseWeight: 0.4,
			BM25SigmoidThreshold: 10,
			ContextBefore: 1, ContextAfter: 1, ContextMaxChars: 4000,
			RerankTopN: 20,
			StorageTimeout: 2 * time.Second, ProviderTimeout: 8 * time.Second,
			RetrieverLegTimeout: 5 * time.Second, ProviderRetryAttempts: 3,
		},
		Tenant:      &TenantConfig{DefaultIsolationStrategy: "shared"},
		Relational:  &RelationalConfig{Driver: "sqlite", DSN: "file:retrieval_core.db?cache=shared"},
		DenseStore:  &DenseStoreConfig{Driver: "sqlitevec"},
		SparseStore: &SparseStoreConfig{Driver: "bm25"},
		Redis:       &RedisConfig{Address: "127.0.0.1:6379"},
		Tracing:     &TracingConfig{ServiceName: "retrieval-core", SampleRatio: 1.0},
	}
}

// LoadConfig reads config.yaml (searched in the working directory, ./config,
// $HOME/.retrieval-core, and /etc/retrieval-core/), expands ${ENV_VAR}
// references, applies environment-variable overrides, and decodes the
// result on top of the compiled-in defaults.
func LoadConfig() (*Config, error) {
	cfg := defaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.retrieval-core")
	viper.AddConfigPath("/etc/retrieval-core/")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file: compiled-in defaults only; environment
			// variables are not applied on this path.
			return cfg, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	configFileContent, err := os.ReadFile(viper.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("error reading config file content: %w", err)
	}

	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	expanded := re.ReplaceAllStringFunc(string(configFileContent), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
	if err := viper.ReadConfig(strings.NewReader(expanded)); err != nil {
		return nil, fmt.Errorf("error re-reading expanded config: %w", err)
	}

	if err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return cfg, nil
}
