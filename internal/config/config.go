package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/courseforge/courseforge-backend/internal/logger"
)

// GenerationProfile is the tunable surface of one completion call
// family: the fallback chain plus sampling parameters. The chain is
// tried in order; the first model to succeed wins.
type GenerationProfile struct {
	Models          []string `yaml:"models"`
	Temperature     float64  `yaml:"temperature"`
	TopK            int      `yaml:"top_k"`
	TopP            float64  `yaml:"top_p"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
}

type CreditCosts struct {
	Course      int `yaml:"course"`
	Section     int `yaml:"section"`
	ChatMessage int `yaml:"chat_message"`
}

type IndexConfig struct {
	ChunkSize          int           `yaml:"chunk_size"`
	EmbedConcurrency   int           `yaml:"embed_concurrency"`
	QueueSize          int           `yaml:"queue_size"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
}

type ChatConfig struct {
	RetrievalTopK int `yaml:"retrieval_top_k"`
	HistoryWindow int `yaml:"history_window"`
}

type Config struct {
	Outline GenerationProfile `yaml:"outline"`
	Section GenerationProfile `yaml:"section"`
	Chat    GenerationProfile `yaml:"chat"`

	Credits CreditCosts `yaml:"credits"`
	Index   IndexConfig `yaml:"index"`
	ChatOps ChatConfig  `yaml:"chat_ops"`

	// MinContentLength is the floor below which persisted section
	// content is treated as effectively empty and regenerated.
	MinContentLength int `yaml:"min_content_length"`

	GenerationTimeout time.Duration `yaml:"generation_timeout"`
}

func Default() Config {
	return Config{
		Outline: GenerationProfile{
			Models:          []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-1.5-pro"},
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 4096,
		},
		Section: GenerationProfile{
			Models:          []string{"gemini-2.5-flash", "gemini-2.0-flash"},
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 16384,
		},
		Chat: GenerationProfile{
			Models:          []string{"gemini-2.5-flash", "gemini-2.0-flash"},
			Temperature:     0.6,
			TopK:            40,
			TopP:            0.9,
			MaxOutputTokens: 2048,
		},
		Credits: CreditCosts{Course: 10, Section: 5, ChatMessage: 1},
		Index: IndexConfig{
			ChunkSize:         500,
			EmbedConcurrency:  4,
			QueueSize:         256,
			MaxAttempts:       3,
			RetryDelay:        15 * time.Second,
			ReconcileInterval: 10 * time.Minute,
		},
		ChatOps:           ChatConfig{RetrievalTopK: 5, HistoryWindow: 10},
		MinContentLength:  100,
		GenerationTimeout: 3 * time.Minute,
	}
}

// Load reads the YAML config at path over the defaults. A missing file
// is not an error; a malformed one is.
func Load(path string, log *logger.Logger) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if log != nil {
				log.Debug("Config file not found, using defaults", "path", path)
			}
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if len(cfg.Outline.Models) == 0 || len(cfg.Section.Models) == 0 || len(cfg.Chat.Models) == 0 {
		return fmt.Errorf("config: every generation profile needs at least one model")
	}
	if cfg.Credits.Course <= 0 || cfg.Credits.Section <= 0 || cfg.Credits.ChatMessage <= 0 {
		return fmt.Errorf("config: credit costs must be positive")
	}
	if cfg.Index.ChunkSize <= 0 {
		return fmt.Errorf("config: index.chunk_size must be positive")
	}
	return nil
}
