// memoryservice/internal/config/config.go
package config

// ObsConfig controls structured logging and OpenTelemetry wiring.
type ObsConfig struct {
	ServiceName    string `yaml:"service_name"`
	LogLevel       string `yaml:"log_level"`
	LogPath        string `yaml:"log_path"`
	OTelEnabled    bool   `yaml:"otel_enabled"`
	OTelEndpoint   string `yaml:"otel_endpoint"`
	OTelInsecure   bool   `yaml:"otel_insecure"`
}

// QueueConfig configures BoundedQueueCache (C1), the Redis sorted-set
// backed per-group accumulation buffer.
type QueueConfig struct {
	RedisAddr           string  `yaml:"redis_addr"`
	RedisDB             int     `yaml:"redis_db"`
	RedisPassword       string  `yaml:"redis_password"`
	MaxLength           int     `yaml:"max_length"`
	ExpireMinutes       int     `yaml:"expire_minutes"`
	CleanupProbability  float64 `yaml:"cleanup_probability"`
}

// DispatcherConfig configures GroupDispatcher (C2): hash-routed worker
// queues with a global in-flight cap.
type DispatcherConfig struct {
	NumQueues     int    `yaml:"num_queues"`
	QueueCapacity int    `yaml:"queue_capacity"`
	MaxInFlight   int    `yaml:"max_in_flight"`
	ShutdownMode  string `yaml:"shutdown_mode"` // "soft" | "hard"
	RetryAttempts int    `yaml:"retry_attempts"`
}

// BoundaryConfig configures BoundaryDetector (C3).
type BoundaryConfig struct {
	SilenceTimeoutSeconds int `yaml:"silence_timeout_seconds"`
	// HardCutMessageCount is 0 by default, meaning "use Queue.MaxLength";
	// set it explicitly to override that default.
	HardCutMessageCount int `yaml:"hard_cut_message_count"`
	RetryAttempts       int `yaml:"retry_attempts"`
	RetryBackoffMillis  int `yaml:"retry_backoff_millis"`
}

// EpisodeConfig configures MemCellExtractor/EpisodeExtractor (C4/C5).
type EpisodeConfig struct {
	MaxMemCellsPerEpisode int `yaml:"max_memcells_per_episode"`
	MinEpisodeMessages    int `yaml:"min_episode_messages"`
}

// RetrievalConfig configures HybridRetriever (C8).
type RetrievalConfig struct {
	DefaultMode string `yaml:"default_mode"` // "bm25" | "embedding" | "rrf"
	RRFK        int    `yaml:"rrf_k"`
	TopK        int    `yaml:"top_k"`
	CandidateK  int    `yaml:"candidate_k"` // per-leg candidate pool before fusion
}

// AgenticConfig configures AgenticRetriever (C9).
type AgenticConfig struct {
	MaxRounds          int    `yaml:"max_rounds"`
	MaxParallelQueries int    `yaml:"max_parallel_queries"`
	JudgeModel         string `yaml:"judge_model"`
}

// LLMConfig points at the single concrete chat-completion backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai" (only one wired currently)
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// EmbeddingConfig points at the embedding backend.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// SearchConfig selects the text-index backend.
type SearchConfig struct {
	Backend string `yaml:"backend"` // "memory" | "auto" | "postgres" | "none"
	DSN     string `yaml:"dsn"`
}

// VectorConfig selects the vector-index backend.
type VectorConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "auto" | "qdrant" | "none"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int     `yaml:"dimensions"`
	Metric     string  `yaml:"metric"` // cosine|l2|ip|manhattan
}

// DocsConfig selects the document-of-record backend.
type DocsConfig struct {
	Backend string `yaml:"backend"` // "memory" | "auto" | "postgres"
	DSN     string `yaml:"dsn"`
}

// DBConfig aggregates the three storage legs of the triple store.
type DBConfig struct {
	DefaultDSN string       `yaml:"default_dsn"`
	Search     SearchConfig `yaml:"search"`
	Vector     VectorConfig `yaml:"vector"`
	Docs       DocsConfig   `yaml:"docs"`
}

// BusConfig controls the optional Kafka front door.
type BusConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	GroupID       string   `yaml:"group_id"`
	CommandsTopic string   `yaml:"commands_topic"`
	Workers       int      `yaml:"workers"`
}

// Config is the root configuration for the memoryd service.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Obs        ObsConfig        `yaml:"obs"`
	Queue      QueueConfig      `yaml:"queue"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Boundary   BoundaryConfig   `yaml:"boundary"`
	Episode    EpisodeConfig    `yaml:"episode"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Agentic    AgenticConfig    `yaml:"agentic"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	DB         DBConfig         `yaml:"db"`
	Bus        BusConfig        `yaml:"bus"`
}
