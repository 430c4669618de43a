package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Search backends selectable through SEARCH_BACKEND.
const (
	BackendOpenSearch = "opensearch"
	BackendMilvus     = "milvus"
	BackendPostgres   = "postgres"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Retrieval     RetrievalConfig
	OpenSearch    OpenSearchConfig
	Milvus        MilvusConfig
	Database      DatabaseConfig
	Embedding     EmbeddingConfig
	Providers     ProvidersConfig
	Models        ModelsConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Redis         RedisConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

// RetrievalConfig tunes the question pipeline.
type RetrievalConfig struct {
	Backend            string
	TopK               int
	ContextCharBudget  int
	SourceExcerptChars int
	EmbeddingTimeout   time.Duration
	SearchTimeout      time.Duration
	GenerationTimeout  time.Duration
	StartupMaxWait     time.Duration
}

// OpenSearchConfig holds the passage index and browse index settings
type OpenSearchConfig struct {
	Node               string
	Username           string
	Password           string
	InsecureSkipVerify bool
	EmbeddingIndex     string
	VectorField        string
	TextField          string
	DocumentIDField    string
	DocumentIndex      string
	ClusterIndex       string
	ClusterBrowseSize  int
}

// MilvusConfig holds Milvus connection settings
type MilvusConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	Collection string
}

// Address returns the Milvus gRPC address
func (c *MilvusConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	PassageTable     string
}

// Configured reports whether any database connection settings were supplied.
func (c *DatabaseConfig) Configured() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// EmbeddingConfig holds the embedding endpoint
type EmbeddingConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// ProvidersConfig holds generation provider configurations
type ProvidersConfig struct {
	OpenAI OpenAIConfig
	Local  LocalConfig
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// LocalConfig points at a self-hosted OpenAI-compatible server (vLLM, TGI, llama.cpp)
type LocalConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ModelsConfig holds the named model profiles and the active selection
type ModelsConfig struct {
	Profiles Profiles
	Active   string
}

// ActiveProfile returns the profile selected by MODEL_PROFILE
func (c *ModelsConfig) ActiveProfile() (Profile, error) {
	p, ok := c.Profiles.Get(c.Active)
	if !ok {
		return Profile{}, fmt.Errorf("model profile %q not found (available: %s)",
			c.Active, strings.Join(c.Profiles.Names(), ", "))
	}
	return p, nil
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	JWTIssuer string
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuditConfig holds query log recorder settings
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	Workers    int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	ServiceName       string
	LogLevel          string
	LogFormat         string // json or text
	LogPath           string
	MetricsEnabled    bool
	MetricsPort       int
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     env("SERVER_READ_TIMEOUT", 30*time.Second, time.ParseDuration),
			WriteTimeout:    env("SERVER_WRITE_TIMEOUT", 120*time.Second, time.ParseDuration),
			ShutdownTimeout: env("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration),
			RequestTimeout:  env("REQUEST_TIMEOUT", 90*time.Second, time.ParseDuration),
			AllowedOrigins:  env("CORS_ALLOWED_ORIGINS", []string{"*"}, parseList),
		},
		Retrieval: RetrievalConfig{
			Backend:            strings.ToLower(getEnv("SEARCH_BACKEND", BackendOpenSearch)),
			TopK:               env("RETRIEVAL_TOP_K", 10, strconv.Atoi),
			ContextCharBudget:  env("CONTEXT_CHAR_BUDGET", 6000, strconv.Atoi),
			SourceExcerptChars: env("SOURCE_EXCERPT_CHARS", 500, strconv.Atoi),
			EmbeddingTimeout:   env("EMBEDDING_TIMEOUT", 10*time.Second, time.ParseDuration),
			SearchTimeout:      env("SEARCH_TIMEOUT", 10*time.Second, time.ParseDuration),
			GenerationTimeout:  env("GENERATION_TIMEOUT", 60*time.Second, time.ParseDuration),
			StartupMaxWait:     env("STARTUP_MAX_WAIT", 30*time.Second, time.ParseDuration),
		},
		OpenSearch: OpenSearchConfig{
			Node:               getEnv("OPENSEARCH_NODE", ""),
			Username:           getEnv("OPENSEARCH_USERNAME", ""),
			Password:           getEnv("OPENSEARCH_PASSWORD", ""),
			InsecureSkipVerify: env("OPENSEARCH_INSECURE_SKIP_VERIFY", false, strconv.ParseBool),
			EmbeddingIndex:     getEnv("EMBEDDING_INDEX", "passages"),
			VectorField:        getEnv("OPENSEARCH_VECTOR_FIELD", "embedding"),
			TextField:          getEnv("OPENSEARCH_TEXT_FIELD", "text"),
			DocumentIDField:    getEnv("OPENSEARCH_DOCUMENT_ID_FIELD", "document_id"),
			DocumentIndex:      getEnv("OPENSEARCH_INDEX", "documents"),
			ClusterIndex:       getEnv("OPENSEARCH_CLUSTER_INDEX", "clusters"),
			ClusterBrowseSize:  env("CLUSTER_BROWSE_SIZE", 361, strconv.Atoi),
		},
		Milvus: MilvusConfig{
			Host:       getEnv("MILVUS_HOST", ""),
			Port:       env("MILVUS_PORT", 19530, strconv.Atoi),
			User:       getEnv("MILVUS_USER", ""),
			Password:   getEnv("MILVUS_PASSWORD", ""),
			Collection: getEnv("MILVUS_COLLECTION", "passages"),
		},
		Database: loadDatabaseConfig(),
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Timeout: env("OPENAI_TIMEOUT", 60*time.Second, time.ParseDuration),
			},
			Local: LocalConfig{
				BaseURL: getEnv("LOCAL_LLM_BASE_URL", ""),
				APIKey:  getEnv("LOCAL_LLM_API_KEY", ""),
				Timeout: env("LOCAL_LLM_TIMEOUT", 60*time.Second, time.ParseDuration),
			},
		},
		Auth: AuthConfig{
			Enabled:   env("AUTH_ENABLED", false, strconv.ParseBool),
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer: getEnv("AUTH_JWT_ISSUER", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled:  env("RATE_LIMIT_ENABLED", false, strconv.ParseBool),
			Requests: env("RATE_LIMIT_REQUESTS", 60, strconv.Atoi),
			Window:   env("RATE_LIMIT_WINDOW", time.Minute, time.ParseDuration),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       env("REDIS_DB", 0, strconv.Atoi),
		},
		Audit: AuditConfig{
			Enabled:    env("AUDIT_ENABLED", false, strconv.ParseBool),
			BufferSize: env("AUDIT_BUFFER_SIZE", 1000, strconv.Atoi),
			Workers:    env("AUDIT_WORKERS", 2, strconv.Atoi),
		},
		Observability: ObservabilityConfig{
			ServiceName:       getEnv("SERVICE_NAME", "clustertalk"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			LogPath:           getEnv("CLUSTER_TALK_LOG_PATH", ""),
			MetricsEnabled:    env("METRICS_ENABLED", true, strconv.ParseBool),
			MetricsPort:       env("METRICS_PORT", 9090, strconv.Atoi),
			TracingEnabled:    env("TRACING_ENABLED", false, strconv.ParseBool),
			TracingEndpoint:   getEnv("TRACING_ENDPOINT", ""),
			TracingSampleRate: env("TRACING_SAMPLE_RATE", 0.1, parseFloat),
		},
	}

	// The embedding endpoint falls back to the OpenAI settings.
	cfg.Embedding = EmbeddingConfig{
		Model:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		BaseURL: getEnv("EMBEDDING_BASE_URL", cfg.Providers.OpenAI.BaseURL),
		APIKey:  getEnv("EMBEDDING_API_KEY", cfg.Providers.OpenAI.APIKey),
	}

	profiles, err := loadProfiles(cfg.Embedding.Model)
	if err != nil {
		return nil, err
	}
	cfg.Models = ModelsConfig{
		Profiles: profiles,
		Active:   getEnv("MODEL_PROFILE", "mixtral7B"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadProfiles reads MODEL_CONFIGS_FILE when set, otherwise MODEL_CONFIGS
func loadProfiles(defaultEmbedding string) (Profiles, error) {
	if path := getEnv("MODEL_CONFIGS_FILE", ""); path != "" {
		return LoadProfilesFile(path, defaultEmbedding)
	}
	return ParseProfiles(getEnv("MODEL_CONFIGS", ""), defaultEmbedding)
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	switch c.Retrieval.Backend {
	case BackendOpenSearch:
		if c.OpenSearch.Node == "" {
			return fmt.Errorf("OPENSEARCH_NODE is required for the opensearch backend")
		}
		if c.OpenSearch.EmbeddingIndex == "" || c.OpenSearch.VectorField == "" {
			return fmt.Errorf("embedding index and vector field are required for the opensearch backend")
		}
	case BackendMilvus:
		if c.Milvus.Host == "" {
			return fmt.Errorf("MILVUS_HOST is required for the milvus backend")
		}
		if c.Milvus.Collection == "" {
			return fmt.Errorf("milvus collection is required")
		}
	case BackendPostgres:
		if err := c.validateDatabase(); err != nil {
			return fmt.Errorf("postgres backend: %w", err)
		}
		if c.Database.PassageTable == "" {
			return fmt.Errorf("passage table is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported search backend %q", c.Retrieval.Backend)
	}

	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top k must be at least 1")
	}

	profile, err := c.Models.ActiveProfile()
	if err != nil {
		return err
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	switch profile.Provider {
	case ProviderOpenAI:
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("profile %q uses openai but OPENAI_API_KEY is not set", profile.Name)
		}
	case ProviderLocal:
		if c.Providers.Local.BaseURL == "" {
			return fmt.Errorf("profile %q uses local but LOCAL_LLM_BASE_URL is not set", profile.Name)
		}
	}
	if c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding base URL is required")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required when auth is enabled")
	}

	if c.RateLimit.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when rate limiting is enabled")
		}
		if c.RateLimit.Requests < 1 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
	}

	if c.Audit.Enabled {
		if err := c.validateDatabase(); err != nil {
			return fmt.Errorf("query log: %w", err)
		}
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Configured() {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	return nil
}

// NeedsDatabase reports whether any enabled component uses PostgreSQL
func (c *Config) NeedsDatabase() bool {
	return c.Retrieval.Backend == BackendPostgres || c.Audit.Enabled
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    env("DB_MAX_OPEN_CONNS", 25, strconv.Atoi),
		MaxIdleConns:    env("DB_MAX_IDLE_CONNS", 5, strconv.Atoi),
		ConnMaxLifetime: env("DB_CONN_MAX_LIFETIME", 5*time.Minute, time.ParseDuration),
		PassageTable:    getEnv("PASSAGE_TABLE", "passages"),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = env("DB_PORT", 5432, strconv.Atoi)
	cfg.User = getEnv("DB_USER", "")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "clustertalk")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// getPort reads PORT, then SERVER_PORT
func getPort() int {
	return env("PORT", env("SERVER_PORT", 8000, strconv.Atoi), strconv.Atoi)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// env parses key with parse. Unset or unparsable values yield defaultValue.
func env[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := parse(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// parseList splits a comma separated list, dropping empty items.
func parseList(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}
