package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all surfacer configuration. Every numeric policy knob the
// engine uses (weights, bands, floors) lives here; none of them are
// protocol constants.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Gate      GateConfig      `yaml:"gate"`
	Stitch    StitchConfig    `yaml:"stitch"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Debug     bool            `yaml:"debug"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EmbeddingConfig struct {
	OllamaURL string `yaml:"ollama_url"`
	Model     string `yaml:"model"`
	MaxTerms  int    `yaml:"max_terms"` // tfidf fallback vocabulary size
}

type RetrievalConfig struct {
	K               int     `yaml:"k"`
	SimilarityFloor float64 `yaml:"similarity_floor"`
	TimeoutMs       int     `yaml:"timeout_ms"`
}

type ScoringConfig struct {
	SimilarityWeight float64 `yaml:"similarity_weight"`
	ContextWeight    float64 `yaml:"context_weight"`
	TimingWeight     float64 `yaml:"timing_weight"`
	AcceptRateFloor  float64 `yaml:"accept_rate_floor"` // below this, usage decay kicks in
	UsageDecayFactor float64 `yaml:"usage_decay_factor"`
}

type GateConfig struct {
	FullBand      float64 `yaml:"full_band"`      // surface with full content
	IndicatorBand float64 `yaml:"indicator_band"` // surface with confidence indicator
	RelatedBand   float64 `yaml:"related_band"`   // surface as related suggestion only
	MaxLower      float64 `yaml:"max_lower"`      // adaptive lowering cap
	MaxRaise      float64 `yaml:"max_raise"`      // adaptive raising cap
	ClampMin      float64 `yaml:"clamp_min"`
	ClampMax      float64 `yaml:"clamp_max"`
	CriticalFloor float64 `yaml:"critical_floor"` // security/legal classes never gate below this
}

type StitchConfig struct {
	MaxMemories int     `yaml:"max_memories"`
	SoloScore   float64 `yaml:"solo_score"` // a single candidate at or above this skips stitching
	GapRule     float64 `yaml:"gap_rule"`   // disambiguation score gap for a clear winner
	ClusterMax  int     `yaml:"cluster_max"`
}

type FeedbackConfig struct {
	EMAAlpha float64 `yaml:"ema_alpha"`
	Workers  int     `yaml:"workers"`
	QueueLen int     `yaml:"queue_len"`
}

// Default returns a Config with the canonical policy defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37710,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "nomic-embed-text",
			MaxTerms:  512,
		},
		Retrieval: RetrievalConfig{
			K:               20,
			SimilarityFloor: 0.45,
			TimeoutMs:       2000,
		},
		Scoring: ScoringConfig{
			SimilarityWeight: 0.6,
			ContextWeight:    0.3,
			TimingWeight:     0.1,
			AcceptRateFloor:  0.25,
			UsageDecayFactor: 0.7,
		},
		Gate: GateConfig{
			FullBand:      0.85,
			IndicatorBand: 0.65,
			RelatedBand:   0.45,
			MaxLower:      0.15,
			MaxRaise:      0.20,
			ClampMin:      0.30,
			ClampMax:      0.90,
			CriticalFloor: 0.45,
		},
		Stitch: StitchConfig{
			MaxMemories: 5,
			SoloScore:   0.85,
			GapRule:     0.10,
			ClusterMax:  3,
		},
		Feedback: FeedbackConfig{
			EMAAlpha: 0.1,
			Workers:  4,
			QueueLen: 256,
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configs that would break engine invariants.
func (c *Config) Validate() error {
	w := c.Scoring.SimilarityWeight + c.Scoring.ContextWeight + c.Scoring.TimingWeight
	if w < 0.99 || w > 1.01 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.3f", w)
	}
	if c.Retrieval.SimilarityFloor <= 0 || c.Retrieval.SimilarityFloor >= 1 {
		return fmt.Errorf("similarity floor %.2f out of (0,1)", c.Retrieval.SimilarityFloor)
	}
	if c.Gate.ClampMin >= c.Gate.ClampMax {
		return fmt.Errorf("gate clamp range [%.2f, %.2f] is empty", c.Gate.ClampMin, c.Gate.ClampMax)
	}
	if c.Stitch.MaxMemories < 2 {
		return fmt.Errorf("stitch max_memories must be at least 2")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
