package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for evidence-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// CookieDomain is the domain for session cookies (optional).
	// If empty, it will be auto-derived from BaseURL.
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN" env-default:""`

	Auth        AuthConfig        `yaml:"auth"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
	OCR         OCRConfig         `yaml:"ocr"`

	// Database configuration (PostgreSQL). Leave host empty to keep the
	// catalog and audit log in process memory.
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for the embedding cache (optional).
	Redis RedisConfig `yaml:"redis"`
}

// AuthConfig holds official login and session settings.
type AuthConfig struct {
	// AllowedDomainsStr is a comma-separated list of email domains permitted to log in.
	AllowedDomainsStr string `yaml:"allowed_domains" env:"AUTH_ALLOWED_DOMAINS" env-default:"police.gov,cybercrime.gov"`

	// AllowedDomains is the parsed list from AllowedDomainsStr (not from config file).
	AllowedDomains []string `yaml:"-"`

	// RosterPath points at the YAML file listing officials and their password hashes.
	RosterPath string `yaml:"roster_path" env:"AUTH_ROSTER_PATH" env-default:"officials.yaml"`

	// SessionSecret signs session tokens and cookies. Secret - env only.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"`
}

// IngestConfig holds upload limits.
type IngestConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"INGEST_MAX_UPLOAD_BYTES" env-default:"10485760"`
	PreviewLength  int   `yaml:"preview_length" env:"INGEST_PREVIEW_LENGTH" env-default:"200"`
}

// EmbeddingConfig holds the OpenAI-compatible embedding provider settings.
// When BaseURL or Model is empty the deterministic hash fallback is used.
type EmbeddingConfig struct {
	BaseURL        string        `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	Model          string        `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey         string        `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	Dimension      int           `yaml:"dimension" env:"EMBEDDING_DIMENSION" env-default:"1536"`
	Timeout        time.Duration `yaml:"timeout" env:"EMBEDDING_TIMEOUT" env-default:"10s"`
	BreakerTrips   int           `yaml:"breaker_threshold" env:"EMBEDDING_BREAKER_THRESHOLD" env-default:"3"`
	BreakerResetAt time.Duration `yaml:"breaker_reset" env:"EMBEDDING_BREAKER_RESET" env-default:"30s"`
}

// IsAvailable returns true if an external embedding provider is configured.
func (c *EmbeddingConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// VectorStoreConfig selects the primary similarity index.
// Backend is one of "pinecone", "pgvector" or "memory".
type VectorStoreConfig struct {
	Backend        string        `yaml:"backend" env:"VECTOR_STORE_BACKEND" env-default:"memory"`
	APIKey         string        `yaml:"-" env:"PINECONE_API_KEY"` // Secret - not in YAML
	Region         string        `yaml:"region" env:"PINECONE_REGION" env-default:""`
	ProjectID      string        `yaml:"project_id" env:"PINECONE_PROJECT_ID" env-default:""`
	IndexName      string        `yaml:"index_name" env:"PINECONE_INDEX" env-default:"evidence"`
	Host           string        `yaml:"host" env:"PINECONE_HOST" env-default:""`
	ControllerURL  string        `yaml:"controller_url" env:"PINECONE_CONTROLLER_URL" env-default:"https://api.pinecone.io"`
	Timeout        time.Duration `yaml:"timeout" env:"VECTOR_STORE_TIMEOUT" env-default:"5s"`
	StickyFallback bool          `yaml:"sticky_fallback" env:"VECTOR_STORE_STICKY_FALLBACK" env-default:"false"`
}

// SummarizerConfig holds the Anthropic summarizer settings.
// When APIKey is empty the extractive summarizer is used.
type SummarizerConfig struct {
	Model        string        `yaml:"model" env:"SUMMARIZER_MODEL" env-default:"claude-3-5-haiku-latest"`
	APIKey       string        `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	MaxSentences int           `yaml:"max_sentences" env:"SUMMARIZER_MAX_SENTENCES" env-default:"3"`
	Timeout      time.Duration `yaml:"timeout" env:"SUMMARIZER_TIMEOUT" env-default:"15s"`
}

// OCRConfig points at the WebAssembly OCR plugin used for image evidence.
type OCRConfig struct {
	PluginPath string        `yaml:"plugin_path" env:"OCR_PLUGIN_PATH" env-default:""`
	Function   string        `yaml:"function" env:"OCR_FUNCTION" env-default:"recognize"`
	Timeout    time.Duration `yaml:"timeout" env:"OCR_TIMEOUT" env-default:"60s"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:""`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"evidence"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"evidence_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// IsConfigured returns true if a PostgreSQL host is set.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.Host != ""
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables and defaults apply.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.parseComplexFields()

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() {
	c.Auth.AllowedDomains = parseDomainList(c.Auth.AllowedDomainsStr)
	c.VectorStore.Backend = strings.ToLower(strings.TrimSpace(c.VectorStore.Backend))
}

// validate checks cross-field constraints that cleanenv cannot express.
func (c *Config) validate() error {
	switch c.VectorStore.Backend {
	case "memory", "pinecone", "pgvector":
	default:
		return fmt.Errorf("unknown vector_store.backend %q", c.VectorStore.Backend)
	}
	if c.VectorStore.Backend == "pgvector" && !c.Database.IsConfigured() {
		return fmt.Errorf("vector_store.backend=pgvector requires database.host")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		return fmt.Errorf("ingest.max_upload_bytes must be positive")
	}
	if len(c.Auth.AllowedDomains) == 0 {
		return fmt.Errorf("auth.allowed_domains must list at least one domain")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseDomainList splits a comma-separated domain list, lower-casing entries
// and dropping a leading "@" if present.
func parseDomainList(value string) []string {
	var domains []string
	for _, d := range strings.Split(value, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "@")
		if d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// URL returns the database as a postgres:// URL for the pool and migrations.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
