package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Storage     StorageConfig  `toml:"storage"`
	Upstream    UpstreamConfig `toml:"upstream"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Crawler     CrawlerConfig  `toml:"crawler"`
	Download    DownloadConfig `toml:"download"`
	Extract     ExtractConfig  `toml:"extract"`
	Rename      RenameConfig   `toml:"rename"`
	Sync        SyncConfig     `toml:"sync"`
	Logging     LoggingConfig  `toml:"logging"`
	Gemini      GeminiConfig   `toml:"gemini"`
	Claude      ClaudeConfig   `toml:"claude"`
	LLM         LLMConfig      `toml:"llm"`
}

type StorageConfig struct {
	Badger  BadgerConfig `toml:"badger"`
	BlobDir string       `toml:"blob_dir" validate:"required"` // Directory for downloaded documents and reports
	TempDir string       `toml:"temp_dir"`                     // Scratch space for extraction (default: os temp)
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
	GCInterval     string `toml:"gc_interval"`              // Value log GC cadence (default: "10m")
}

// UpstreamConfig points at the read-only link source database
type UpstreamConfig struct {
	Path   string   `toml:"path" validate:"required"` // SQLite database file
	Tables []string `toml:"tables"`                   // Link tables to scan (default: graduate, undergraduate)
}

// PipelineConfig sizes the worker pools and stage gates
type PipelineConfig struct {
	CrawlWorkers    int    `toml:"crawl_workers" validate:"min=1"`
	DownloadWorkers int    `toml:"download_workers" validate:"min=1"`
	ExtractWorkers  int    `toml:"extract_workers" validate:"min=1"`
	RenameWorkers   int    `toml:"rename_workers" validate:"min=1"`
	PollInterval    string `toml:"poll_interval"`   // Dispatcher refill cadence (default: "2s")
	StaggerDelay    string `toml:"stagger_delay"`   // Worker startup stagger (default: "250ms")
	EnableDownload  bool   `toml:"enable_download"` // Gate stage 2; disabled leaves files pending
	EnableRename    bool   `toml:"enable_rename"`   // Gate stage 4; disabled leaves files pending
}

// CrawlerConfig controls browser-based tree discovery
type CrawlerConfig struct {
	PoolSize           int           `toml:"pool_size" validate:"min=1"` // Browser instances
	UserAgent          string        `toml:"user_agent"`
	Headless           bool          `toml:"headless"`
	MaxDepth           int           `toml:"max_depth" validate:"min=1"`
	MaxPages           int           `toml:"max_pages" validate:"min=1"`
	RequestTimeout     time.Duration `toml:"request_timeout"`
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"` // Render settle time per page
	AllowedHosts       []string      `toml:"allowed_hosts"`        // Extra hosts besides the seed's own
}

// DownloadConfig controls document fetching
type DownloadConfig struct {
	MaxFileSize      int64         `toml:"max_file_size"`     // Hard cap in bytes, enforced mid-stream (default: 50MiB)
	RequestTimeout   time.Duration `toml:"request_timeout"`   // Per-request timeout
	PerHostRate      float64       `toml:"per_host_rate"`     // Requests per second per host (default: 2)
	PerHostBurst     int           `toml:"per_host_burst"`    // Limiter burst (default: 1)
	FilenameOverride string        `toml:"filename_override"` // Force a base filename for every download
}

// ExtractConfig controls text extraction
type ExtractConfig struct {
	MaxChars int           `toml:"max_chars"` // Cap on extracted text kept for the rename prompt
	Timeout  time.Duration `toml:"timeout"`   // Per-file extraction deadline (default: 5m)
}

// RenameConfig controls LLM-based canonical naming
type RenameConfig struct {
	MaxContentChars int    `toml:"max_content_chars"` // Document text sent to the LLM (default: 8000)
	PromptFile      string `toml:"prompt_file"`       // Optional template override
}

// SyncConfig controls incremental sync runs
type SyncConfig struct {
	Schedule       string `toml:"schedule"`        // Cron expression for periodic sync ("" = startup only)
	IncludeFailed  bool   `toml:"include_failed"`  // Re-attempt previously failed tasks
	IncludeChanged bool   `toml:"include_changed"` // Re-crawl links whose URL changed upstream
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string
	Temperature float32 `toml:"temperature"` // Completion temperature
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the provider used for pruning and renaming
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider" validate:"oneof=gemini claude"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability;
// only user-facing settings belong in nyushi.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:       "./data/catalog",
				GCInterval: "10m",
			},
			BlobDir: "./data/blobs",
			TempDir: "",
		},
		Upstream: UpstreamConfig{
			Path:   "./data/links.db",
			Tables: []string{"graduate", "undergraduate"},
		},
		Pipeline: PipelineConfig{
			CrawlWorkers:    2,
			DownloadWorkers: 4,
			ExtractWorkers:  2,
			RenameWorkers:   4,
			PollInterval:    "2s",
			StaggerDelay:    "250ms",
			EnableDownload:  true,
			EnableRename:    true,
		},
		Crawler: CrawlerConfig{
			PoolSize:           2,
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:           true,
			MaxDepth:           3,
			MaxPages:           80,
			RequestTimeout:     30 * time.Second,
			JavaScriptWaitTime: 2 * time.Second,
		},
		Download: DownloadConfig{
			MaxFileSize:    50 * 1024 * 1024,
			RequestTimeout: 60 * time.Second,
			PerHostRate:    2,
			PerHostBurst:   1,
		},
		Extract: ExtractConfig{
			MaxChars: 20000,
			Timeout:  5 * time.Minute,
		},
		Rename: RenameConfig{
			MaxContentChars: 8000,
		},
		Sync: SyncConfig{
			Schedule:       "",
			IncludeFailed:  true,
			IncludeChanged: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Gemini: GeminiConfig{
			APIKey:      "",
			Model:       "gemini-2.0-flash",
			Timeout:     "5m",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
	}
}

// maxCrawlDepth is the hard ceiling on tree depth. Deeper trees explode
// the page count without surfacing more admissions documents.
const maxCrawlDepth = 10

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	// Oversized depth settings are clamped rather than rejected
	if config.Crawler.MaxDepth > maxCrawlDepth {
		config.Crawler.MaxDepth = maxCrawlDepth
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the assembled configuration
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.ParseDuration(c.Pipeline.PollInterval); err != nil {
		return fmt.Errorf("invalid pipeline.poll_interval %q: %w", c.Pipeline.PollInterval, err)
	}
	if _, err := time.ParseDuration(c.Pipeline.StaggerDelay); err != nil {
		return fmt.Errorf("invalid pipeline.stagger_delay %q: %w", c.Pipeline.StaggerDelay, err)
	}
	if c.Storage.Badger.GCInterval != "" {
		if _, err := time.ParseDuration(c.Storage.Badger.GCInterval); err != nil {
			return fmt.Errorf("invalid storage.badger.gc_interval %q: %w", c.Storage.Badger.GCInterval, err)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("NYUSHI_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Storage configuration
	if badgerPath := os.Getenv("NYUSHI_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if blobDir := os.Getenv("NYUSHI_BLOB_DIR"); blobDir != "" {
		config.Storage.BlobDir = blobDir
	}
	if upstreamPath := os.Getenv("NYUSHI_UPSTREAM_PATH"); upstreamPath != "" {
		config.Upstream.Path = upstreamPath
	}

	// Pipeline configuration
	if v := os.Getenv("NYUSHI_CRAWL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Pipeline.CrawlWorkers = n
		}
	}
	if v := os.Getenv("NYUSHI_DOWNLOAD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Pipeline.DownloadWorkers = n
		}
	}
	if v := os.Getenv("NYUSHI_EXTRACT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Pipeline.ExtractWorkers = n
		}
	}
	if v := os.Getenv("NYUSHI_RENAME_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Pipeline.RenameWorkers = n
		}
	}
	if v := os.Getenv("NYUSHI_ENABLE_DOWNLOAD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Pipeline.EnableDownload = b
		}
	}
	if v := os.Getenv("NYUSHI_ENABLE_RENAME"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Pipeline.EnableRename = b
		}
	}

	// Crawler configuration
	if userAgent := os.Getenv("NYUSHI_CRAWLER_USER_AGENT"); userAgent != "" {
		config.Crawler.UserAgent = userAgent
	}
	if v := os.Getenv("NYUSHI_CRAWLER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.PoolSize = n
		}
	}
	if v := os.Getenv("NYUSHI_CRAWLER_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.MaxDepth = n
		}
	}
	if v := os.Getenv("NYUSHI_CRAWLER_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Crawler.MaxPages = n
		}
	}
	if v := os.Getenv("NYUSHI_CRAWLER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Crawler.Headless = b
		}
	}

	// Logging configuration
	if level := os.Getenv("NYUSHI_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("NYUSHI_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// LLM configuration
	if apiKey := os.Getenv("NYUSHI_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("NYUSHI_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if apiKey := os.Getenv("NYUSHI_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	} else if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = apiKey
	}
	if provider := os.Getenv("NYUSHI_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}

	// Sync configuration
	if schedule := os.Getenv("NYUSHI_SYNC_SCHEDULE"); schedule != "" {
		config.Sync.Schedule = schedule
	}
	if v := os.Getenv("NYUSHI_SYNC_INCLUDE_FAILED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Sync.IncludeFailed = b
		}
	}
	if v := os.Getenv("NYUSHI_SYNC_INCLUDE_CHANGED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Sync.IncludeChanged = b
		}
	}
}

// PollInterval returns the parsed dispatcher poll interval
func (p *PipelineConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(p.PollInterval)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

// StaggerDelayDuration returns the parsed worker stagger delay
func (p *PipelineConfig) StaggerDelayDuration() time.Duration {
	d, err := time.ParseDuration(p.StaggerDelay)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}
