package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// Load reads configuration from an optional YAML file (CONFIG_FILE, default
// "config.yaml" if present) and then applies environment variable overrides,
// following the teacher's env-overrides-YAML pattern. A local .env file is
// loaded first via godotenv so development overrides take effect before the
// process environment is read.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 8080,
		Obs: ObsConfig{
			ServiceName: "memoryservice",
			LogLevel:    "info",
			LogPath:     "memoryservice.log",
		},
		Queue: QueueConfig{
			RedisAddr:          "localhost:6379",
			MaxLength:          100,
			ExpireMinutes:      60,
			CleanupProbability: 0.1,
		},
		Dispatcher: DispatcherConfig{
			NumQueues:     8,
			QueueCapacity: 64,
			MaxInFlight:   16,
			ShutdownMode:  "soft",
			RetryAttempts: 3,
		},
		Boundary: BoundaryConfig{
			SilenceTimeoutSeconds: 300,
			HardCutMessageCount:   0, // 0 means "default to Queue.MaxLength", per hard_cut_count=max_length
			RetryAttempts:         2,
			RetryBackoffMillis:    200,
		},
		Episode: EpisodeConfig{
			MaxMemCellsPerEpisode: 20,
			MinEpisodeMessages:    1,
		},
		Retrieval: RetrievalConfig{
			DefaultMode: "rrf",
			RRFK:        60,
			TopK:        10,
			CandidateK:  50,
		},
		Agentic: AgenticConfig{
			MaxRounds:          2,
			MaxParallelQueries: 4,
			JudgeModel:         "",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		DB: DBConfig{
			Search: SearchConfig{Backend: "memory"},
			Vector: VectorConfig{Backend: "memory", Collection: "memory_records", Metric: "cosine"},
			Docs:   DocsConfig{Backend: "memory"},
		},
		Bus: BusConfig{
			Enabled:       false,
			GroupID:       "memoryservice",
			CommandsTopic: "memory.inbound",
			Workers:       4,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v := envInt("PORT"); v != 0 {
		cfg.Port = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.Obs.LogLevel = v
	}
	if v := env("LOG_PATH"); v != "" {
		cfg.Obs.LogPath = v
	}
	if v := env("OTEL_ENDPOINT"); v != "" {
		cfg.Obs.OTelEndpoint = v
		cfg.Obs.OTelEnabled = true
	}

	if v := env("REDIS_ADDR"); v != "" {
		cfg.Queue.RedisAddr = v
	}
	if v := env("REDIS_PASSWORD"); v != "" {
		cfg.Queue.RedisPassword = v
	}
	if v := envInt("QUEUE_MAX_LENGTH"); v != 0 {
		cfg.Queue.MaxLength = v
	}

	if v := env("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := env("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := env("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := env("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}

	if v := env("EMB_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := env("EMB_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := env("EMB_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := envInt("EMB_DIMENSIONS"); v != 0 {
		cfg.Embedding.Dimensions = v
	}

	if v := env("SEARCH_DSN"); v != "" {
		cfg.DB.Search.DSN = v
		cfg.DB.Search.Backend = "postgres"
	}
	if v := env("VECTOR_DSN"); v != "" {
		cfg.DB.Vector.DSN = v
		cfg.DB.Vector.Backend = "qdrant"
	}
	if v := env("DOCS_DSN"); v != "" {
		cfg.DB.Docs.DSN = v
		cfg.DB.Docs.Backend = "postgres"
	}
	if v := env("DEFAULT_DSN"); v != "" {
		cfg.DB.DefaultDSN = v
	}

	if v := env("BUS_BROKERS"); v != "" {
		cfg.Bus.Brokers = strings.Split(v, ",")
		cfg.Bus.Enabled = true
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string) int {
	v := env(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
