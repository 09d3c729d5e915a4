package config

// Config is the top-level abridge configuration.
type Config struct {
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// AIConfig configures the LLM completion client.
type AIConfig struct {
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`
	Model          string  `mapstructure:"model" yaml:"model"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelayMs   int     `mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
}

// PipelineConfig configures pipeline limits and excerpt sizes.
type PipelineConfig struct {
	MaxConcurrentChapters int   `mapstructure:"max_concurrent_chapters" yaml:"max_concurrent_chapters"`
	MinDocumentBytes      int64 `mapstructure:"min_document_bytes" yaml:"min_document_bytes"`
	MaxDocumentBytes      int64 `mapstructure:"max_document_bytes" yaml:"max_document_bytes"`
	MetadataExcerptChars  int   `mapstructure:"metadata_excerpt_chars" yaml:"metadata_excerpt_chars"`
	SegmentExcerptChars   int   `mapstructure:"segment_excerpt_chars" yaml:"segment_excerpt_chars"`
}

// StorageConfig configures the S3-compatible blob store.
type StorageConfig struct {
	Endpoint      string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey     string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey     string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket        string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	PresignTTLMin int    `mapstructure:"presign_ttl_minutes" yaml:"presign_ttl_minutes"`
}

// DatabaseConfig configures the job record store.
// An empty URL selects the in-memory store (single-process mode).
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			APIKey:         "${OPENROUTER_API_KEY}",
			Model:          "anthropic/claude-3.5-sonnet",
			Temperature:    0.3,
			MaxTokens:      8192,
			TimeoutSeconds: 120,
			MaxRetries:     3,
			RetryDelayMs:   1000,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentChapters: 10,
			MinDocumentBytes:      1024,
			MaxDocumentBytes:      100 * 1024 * 1024,
			MetadataExcerptChars:  3000,
			SegmentExcerptChars:   8000,
		},
		Storage: StorageConfig{
			Endpoint:      "localhost:9000",
			AccessKey:     "${MINIO_ACCESS_KEY}",
			SecretKey:     "${MINIO_SECRET_KEY}",
			Bucket:        "abridge",
			UseSSL:        false,
			PresignTTLMin: 60,
		},
		Database: DatabaseConfig{
			URL: "",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}
