package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML with secrets
// overridable from the environment.
type Config struct {
	Server struct {
		Host          string `yaml:"host"`
		Port          int    `yaml:"port"`
		MaxFileSizeMB int    `yaml:"max_file_size_mb"`
	} `yaml:"server"`

	Workers struct {
		Count             int `yaml:"count"`
		JobTimeoutMinutes int `yaml:"job_timeout_minutes"`
	} `yaml:"workers"`

	Storage struct {
		Database string `yaml:"database"`
		// Backend is "local" or "gdrive".
		Backend  string `yaml:"backend"`
		LocalDir string `yaml:"local_dir"`

		GoogleDrive struct {
			CredentialsFile string `yaml:"credentials_file"`
			TokenFile       string `yaml:"token_file"`
			FolderName      string `yaml:"folder_name"`
		} `yaml:"google_drive"`
	} `yaml:"storage"`

	Transcription struct {
		BaseURL             string `yaml:"base_url"`
		APIKey              string `yaml:"api_key"`
		PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
		MaxPolls            int    `yaml:"max_polls"`
	} `yaml:"transcription"`

	Analysis struct {
		GatewayURL string `yaml:"gateway_url"`
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
	} `yaml:"analysis"`

	Redaction struct {
		Fields []string `yaml:"fields"`
	} `yaml:"redaction"`

	Vad struct {
		Enabled          bool    `yaml:"enabled"`
		SizeThresholdMB  int     `yaml:"size_threshold_mb"`
		NoiseDB          int     `yaml:"noise_db"`
		MinSilenceSec    float64 `yaml:"min_silence_sec"`
		MinSavingsPct    float64 `yaml:"min_savings_percent"`
		MinSegmentSec    float64 `yaml:"min_segment_sec"`
	} `yaml:"vad"`

	Segmenter struct {
		GapThresholdSeconds float64 `yaml:"gap_threshold_seconds"`
	} `yaml:"segmenter"`

	RateLimit struct {
		PerCaller     int `yaml:"per_caller"`
		WindowMinutes int `yaml:"window_minutes"`
	} `yaml:"rate_limit"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Ffmpeg struct {
		FFmpegPath  string `yaml:"ffmpeg_path"`
		FFprobePath string `yaml:"ffprobe_path"`
	} `yaml:"ffmpeg"`
}

// Load reads and validates the configuration file. API keys may come from
// TRANSCRIPTION_API_KEY and ANALYSIS_API_KEY instead of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if key := os.Getenv("TRANSCRIPTION_API_KEY"); key != "" {
		cfg.Transcription.APIKey = key
	}
	if key := os.Getenv("ANALYSIS_API_KEY"); key != "" {
		cfg.Analysis.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Server.MaxFileSizeMB = 200
	cfg.Workers.Count = 4
	cfg.Workers.JobTimeoutMinutes = 60
	cfg.Storage.Database = "data/callsight.db"
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalDir = "data/objects"
	cfg.Transcription.PollIntervalSeconds = 3
	cfg.Analysis.Model = "gpt-4o-mini"
	cfg.Redaction.Fields = []string{"all"}
	cfg.Vad.Enabled = false
	cfg.Vad.SizeThresholdMB = 100
	cfg.Vad.NoiseDB = -30
	cfg.Vad.MinSilenceSec = 2.0
	cfg.Vad.MinSavingsPct = 10.0
	cfg.Vad.MinSegmentSec = 1.0
	cfg.Segmenter.GapThresholdSeconds = 30
	cfg.RateLimit.PerCaller = 10
	cfg.RateLimit.WindowMinutes = 60
	cfg.Cleanup.IntervalMinutes = 30
	cfg.Cleanup.MaxAgeHours = 24
	cfg.Ffmpeg.FFmpegPath = "ffmpeg"
	cfg.Ffmpeg.FFprobePath = "ffprobe"
	return cfg
}

func (c *Config) validate() error {
	if c.Transcription.BaseURL == "" {
		return fmt.Errorf("transcription.base_url is required")
	}
	if c.Transcription.APIKey == "" {
		return fmt.Errorf("transcription.api_key is required (or set TRANSCRIPTION_API_KEY)")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1")
	}
	if c.Storage.Backend != "local" && c.Storage.Backend != "gdrive" {
		return fmt.Errorf("storage.backend must be local or gdrive, got %q", c.Storage.Backend)
	}
	return nil
}

// JobTimeout returns the per-job bound as a duration.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Workers.JobTimeoutMinutes) * time.Minute
}

// RateLimitWindow returns the limiter window as a duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMinutes) * time.Minute
}
