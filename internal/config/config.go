// Package config loads and validates the orchestrator's runtime configuration.
package config

import "time"

// StoreConfig configures the primary (Postgres/pgvector) and secondary
// (Qdrant) vector stores plus the dual-store toggle.
type StoreConfig struct {
	PostgresDSN      string `yaml:"postgres_dsn"`
	VectorMetric     string `yaml:"vector_metric"`      // cosine|l2|ip
	UseDualVector    bool   `yaml:"use_dual_vector_store"`
	QdrantDSN        string `yaml:"qdrant_dsn"`
	QdrantCollection string `yaml:"qdrant_collection"`
}

// EmbeddingConfig configures vector dimensionality and the embedding backend.
type EmbeddingConfig struct {
	Dimensions  int    `yaml:"embedding_dimensions"`
	Deterministic bool `yaml:"deterministic"`
	Model       string `yaml:"model"`
	Endpoint    string `yaml:"endpoint"`
	APIKey      string `yaml:"api_key"`
}

// ChunkingConfig controls ingestion windowing.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// HybridConfig controls fusion weights and final candidate count.
type HybridConfig struct {
	VectorWeight  float64 `yaml:"hybrid_vector_weight"`
	KeywordWeight float64 `yaml:"hybrid_keyword_weight"`
	TopK          int     `yaml:"rag_top_k"`
}

// GraderConfig controls grading thresholds and method selection.
type GraderConfig struct {
	UseSemanticGrading bool    `yaml:"use_semantic_grading"`
	HighThreshold      float64 `yaml:"grade_high_threshold"`
	MediumThreshold    float64 `yaml:"grade_medium_threshold"`
	AllowLowFallback   bool    `yaml:"allow_low_grade_fallback"`
}

// VerifierConfig controls grounding-verification behavior.
type VerifierConfig struct {
	Threshold       float64 `yaml:"verification_threshold"`
	MinTermLength   int     `yaml:"min_technical_term_length"`
}

// CoordinatorConfig controls the orchestration loop.
type CoordinatorConfig struct {
	MaxVerificationLoops int  `yaml:"max_verification_loops"`
	CacheFailures        bool `yaml:"cache_failures"`
	EnableQueryRewriting bool `yaml:"enable_query_rewriting"`
	UseLLMClassifier     bool `yaml:"use_llm_classifier"`
	DeterministicMock    bool `yaml:"deterministic_mock"`
}

// WebSearchConfig controls the web-search subsystem.
type WebSearchConfig struct {
	ConcurrentRequests int           `yaml:"web_search_concurrent_requests"`
	FailureThrottleMS  int64         `yaml:"web_search_failure_throttle_ms"`
	DefaultAllowlist   []string      `yaml:"web_search_allowlist"`
	ContextSize        int           `yaml:"web_search_context_size"`
	Location           string        `yaml:"web_search_location"`
	SearxngURL         string        `yaml:"web_search_searxng_url"`
	FetchPages         bool          `yaml:"web_search_fetch_pages"`
	HTTPTimeout        time.Duration `yaml:"web_search_http_timeout"`
}

// SQLAgentConfig gates the external SQL sub-agent.
type SQLAgentConfig struct {
	Enabled    bool `yaml:"enable_sql_agent"`
	RowCap     int  `yaml:"sql_agent_row_cap"`
	CostCap    int  `yaml:"sql_agent_cost_cap"`
}

// ObjectStoreConfig configures ingestion's s3:// source resolution.
type ObjectStoreConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint,omitempty"` // S3-compatible override
}

// RedisConfig configures the advisory cache mirror.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig configures fire-and-forget event publication.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LLMConfig selects and configures the chat-completion provider used by the
// optional LLM classifier path and the model-backed reranker.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai|anthropic|google
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
}

// Config is the root configuration object.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Hybrid      HybridConfig      `yaml:"hybrid"`
	Grader      GraderConfig      `yaml:"grader"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	WebSearch   WebSearchConfig   `yaml:"web_search"`
	SQLAgent    SQLAgentConfig    `yaml:"sql_agent"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	LLM         LLMConfig         `yaml:"llm"`
}

// Default returns the configuration with the standard defaults applied.
func Default() Config {
	return Config{
		Store: StoreConfig{
			VectorMetric: "cosine",
		},
		Embedding: EmbeddingConfig{
			Dimensions:    64,
			Deterministic: true,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 100,
		},
		Hybrid: HybridConfig{
			VectorWeight:  0.7,
			KeywordWeight: 0.3,
			TopK:          10,
		},
		Grader: GraderConfig{
			HighThreshold:   0.5,
			MediumThreshold: 0.2,
		},
		Verifier: VerifierConfig{
			Threshold:     0.5,
			MinTermLength: 4,
		},
		Coordinator: CoordinatorConfig{
			MaxVerificationLoops: 2, // + the initial pass = 3 passes total
		},
		WebSearch: WebSearchConfig{
			ConcurrentRequests: 3,
			FailureThrottleMS:  5000,
			ContextSize:        4000,
			HTTPTimeout:        12 * time.Second,
			DefaultAllowlist:   nil,
		},
		SQLAgent: SQLAgentConfig{
			RowCap:  1000,
			CostCap: 100,
		},
		LLM: LLMConfig{
			Provider: "openai",
		},
	}
}
