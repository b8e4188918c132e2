package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the service. Values come from config.json with
// environment variables (optionally via .env) taking precedence. Window sizing,
// frame sampling and retry bounds are policy parameters, never hardcoded at the
// call sites.
type Config struct {
	// Primary model provider.
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	ChatModel      string `json:"chat_model"`
	VisionEnabled  bool   `json:"vision_enabled"`
	EmbeddingModel string `json:"embedding_model"`
	EmbeddingDim   int    `json:"embedding_dim"`
	WhisperModel   string `json:"whisper_model"`

	// Fallback chat provider, invoked once when the primary fails.
	FallbackAPIKey    string `json:"fallback_api_key"`
	FallbackBaseURL   string `json:"fallback_base_url"`
	FallbackChatModel string `json:"fallback_chat_model"`

	// Storage.
	DataDir     string `json:"data_dir"`
	PostgresURL string `json:"postgres_url"`
	MilvusAddr  string `json:"milvus_addr"`

	// Ingestion policy.
	FrameIntervalSec     int `json:"frame_interval_sec"`
	MaxFrames            int `json:"max_frames"`
	ChunkWindowSec       int `json:"chunk_window_sec"`
	ChunkOverlapSec      int `json:"chunk_overlap_sec"`
	EmbedWorkers         int `json:"embed_workers"`
	EmbedRetries         int `json:"embed_retries"`
	MaxConcurrentIngests int `json:"max_concurrent_ingests"`

	// Chat policy.
	TopK               int     `json:"top_k"`
	TextWeight         float64 `json:"text_weight"`
	ImageWeight        float64 `json:"image_weight"`
	HistoryTokenBudget int     `json:"history_token_budget"`
	MaxUploadMB        int64   `json:"max_upload_mb"`

	// Per external call timeout, seconds.
	ProviderTimeoutSec int `json:"provider_timeout_sec"`
}

var (
	global *Config
	once   sync.Once
)

// Load reads config.json if present, applies environment overrides and caches
// the result. A missing file is not an error; env alone is enough.
func Load() (*Config, error) {
	var err error
	once.Do(func() {
		_ = godotenv.Load()
		cfg := defaults()
		if data, rerr := os.ReadFile("config.json"); rerr == nil {
			if jerr := json.Unmarshal(data, cfg); jerr != nil {
				err = fmt.Errorf("parse config.json: %w", jerr)
				return
			}
		}
		applyEnv(cfg)
		if verr := cfg.Validate(); verr != nil {
			err = verr
			return
		}
		global = cfg
	})
	if err != nil {
		return nil, err
	}
	if global == nil {
		return nil, fmt.Errorf("configuration failed to load")
	}
	return global, nil
}

func defaults() *Config {
	return &Config{
		BaseURL:              "https://api.openai.com/v1",
		ChatModel:            "gpt-4o",
		VisionEnabled:        true,
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingDim:         1536,
		WhisperModel:         "whisper-1",
		DataDir:              "./data",
		FrameIntervalSec:     5,
		MaxFrames:            300,
		ChunkWindowSec:       10,
		ChunkOverlapSec:      2,
		EmbedWorkers:         4,
		EmbedRetries:         2,
		MaxConcurrentIngests: 2,
		TopK:                 5,
		TextWeight:           1.0,
		ImageWeight:          0.8,
		HistoryTokenBudget:   2000,
		MaxUploadMB:          512,
		ProviderTimeoutSec:   120,
	}
}

func applyEnv(c *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setStr("API_KEY", &c.APIKey)
	setStr("BASE_URL", &c.BaseURL)
	setStr("CHAT_MODEL", &c.ChatModel)
	setStr("EMBEDDING_MODEL", &c.EmbeddingModel)
	setStr("WHISPER_MODEL", &c.WhisperModel)
	setStr("FALLBACK_API_KEY", &c.FallbackAPIKey)
	setStr("FALLBACK_BASE_URL", &c.FallbackBaseURL)
	setStr("FALLBACK_CHAT_MODEL", &c.FallbackChatModel)
	setStr("DATA_DIR", &c.DataDir)
	setStr("POSTGRES_URL", &c.PostgresURL)
	setStr("MILVUS_ADDR", &c.MilvusAddr)
	setInt("EMBEDDING_DIM", &c.EmbeddingDim)
	setInt("FRAME_INTERVAL_SEC", &c.FrameIntervalSec)
	setInt("MAX_FRAMES", &c.MaxFrames)
	setInt("CHUNK_WINDOW_SEC", &c.ChunkWindowSec)
	setInt("CHUNK_OVERLAP_SEC", &c.ChunkOverlapSec)
	setInt("EMBED_WORKERS", &c.EmbedWorkers)
	setInt("EMBED_RETRIES", &c.EmbedRetries)
	setInt("MAX_CONCURRENT_INGESTS", &c.MaxConcurrentIngests)
	setInt("TOP_K", &c.TopK)
	setInt("HISTORY_TOKEN_BUDGET", &c.HistoryTokenBudget)
	setInt("PROVIDER_TIMEOUT_SEC", &c.ProviderTimeoutSec)
	setFloat("TEXT_WEIGHT", &c.TextWeight)
	setFloat("IMAGE_WEIGHT", &c.ImageWeight)
	if v := os.Getenv("VISION_ENABLED"); v != "" {
		c.VisionEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadMB = n
		}
	}
}

// Validate checks internal consistency of the policy parameters.
func (c *Config) Validate() error {
	var problems []string
	if c.FrameIntervalSec <= 0 {
		problems = append(problems, "frame_interval_sec must be positive")
	}
	if c.MaxFrames <= 0 {
		problems = append(problems, "max_frames must be positive")
	}
	if c.ChunkWindowSec <= 0 {
		problems = append(problems, "chunk_window_sec must be positive")
	}
	if c.ChunkOverlapSec < 0 || c.ChunkOverlapSec >= c.ChunkWindowSec {
		problems = append(problems, "chunk_overlap_sec must be in [0, chunk_window_sec)")
	}
	if c.EmbeddingDim <= 0 {
		problems = append(problems, "embedding_dim must be positive")
	}
	if c.TopK < 1 {
		problems = append(problems, "top_k must be at least 1")
	}
	if c.EmbedWorkers < 1 {
		problems = append(problems, "embed_workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// HasValidAPI reports whether a real model provider is configured.
func (c *Config) HasValidAPI() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// HasFallback reports whether a distinct fallback chat provider is configured.
func (c *Config) HasFallback() bool {
	return strings.TrimSpace(c.FallbackChatModel) != ""
}
