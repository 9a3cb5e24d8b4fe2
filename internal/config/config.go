package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Pipeline struct {
		Mode        string  `yaml:"mode"` // cloud | fallback | disabled
		WindowS     float64 `yaml:"window_s"`
		HopS        float64 `yaml:"hop_s"`
		TimeoutS    float64 `yaml:"timeout_s"`
		MaxSpeakers int     `yaml:"max_speakers"`
		DiarizerURL string  `yaml:"diarizer_url"`
	} `yaml:"pipeline"`

	Identify struct {
		EmbedderURL         string  `yaml:"embedder_url"`
		EmbedTimeoutS       float64 `yaml:"embed_timeout_s"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
	} `yaml:"identify"`

	Coaching struct {
		SpeakingRateThreshold float64 `yaml:"speaking_rate_threshold"`
		OverlapRatioThreshold float64 `yaml:"overlap_ratio_threshold"`
		MonologueS            float64 `yaml:"monologue_s"`
		NudgeCooldownS        float64 `yaml:"nudge_cooldown_s"`
	} `yaml:"coaching"`

	Storage struct {
		ArtifactDir string `yaml:"artifact_dir"`
		Database    string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxChunkSizeKB int `yaml:"max_chunk_size_kb"`
	} `yaml:"limits"`
}

// Default returns a config populated with working defaults; a config file
// overrides individual fields.
func Default() *Config {
	c := &Config{}
	c.Server.Port = 8080
	c.Server.Host = "0.0.0.0"
	c.Pipeline.Mode = "fallback"
	c.Pipeline.WindowS = 12
	c.Pipeline.HopS = 2
	c.Pipeline.TimeoutS = 5
	c.Pipeline.MaxSpeakers = 4
	c.Identify.EmbedTimeoutS = 2
	c.Identify.SimilarityThreshold = 0.72
	c.Coaching.SpeakingRateThreshold = 3.0
	c.Coaching.OverlapRatioThreshold = 0.3
	c.Coaching.MonologueS = 45
	c.Coaching.NudgeCooldownS = 10
	c.Storage.ArtifactDir = "artifacts"
	c.Storage.Database = "voicecoach.db"
	c.Cleanup.IntervalMinutes = 30
	c.Cleanup.MaxAgeHours = 24
	c.Limits.MaxChunkSizeKB = 1024
	return c
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.WindowS <= 0 || c.Pipeline.HopS <= 0 {
		return fmt.Errorf("pipeline: window_s and hop_s must be positive (got %v, %v)",
			c.Pipeline.WindowS, c.Pipeline.HopS)
	}
	// Windows must overlap so every range gets a high-context pass and
	// "latest wins" replacement has something to replace.
	if c.Pipeline.HopS >= c.Pipeline.WindowS {
		return fmt.Errorf("pipeline: hop_s (%v) must be less than window_s (%v)",
			c.Pipeline.HopS, c.Pipeline.WindowS)
	}
	if c.Pipeline.TimeoutS <= 0 {
		return fmt.Errorf("pipeline: timeout_s must be positive (got %v)", c.Pipeline.TimeoutS)
	}
	if c.Pipeline.MaxSpeakers < 2 {
		return fmt.Errorf("pipeline: max_speakers must be at least 2 (got %d)", c.Pipeline.MaxSpeakers)
	}
	switch c.Pipeline.Mode {
	case "cloud", "fallback", "disabled":
	default:
		return fmt.Errorf("pipeline: unknown mode %q", c.Pipeline.Mode)
	}
	if c.Identify.SimilarityThreshold < 0 || c.Identify.SimilarityThreshold > 1 {
		return fmt.Errorf("identify: similarity_threshold must be in [0,1] (got %v)",
			c.Identify.SimilarityThreshold)
	}
	if c.Coaching.NudgeCooldownS <= 0 {
		return fmt.Errorf("coaching: nudge_cooldown_s must be positive (got %v)", c.Coaching.NudgeCooldownS)
	}
	return nil
}
