package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Model  string `yaml:"model"`
		Python string `yaml:"python"`
		// Language is passed to whisper; empty lets whisper auto-detect.
		Language string `yaml:"language"`
	} `yaml:"whisper"`

	STT struct {
		// Backend selects the transcription adapter: "whisper" or "openai".
		Backend     string `yaml:"backend"`
		OpenAIModel string `yaml:"openai_model"`
		OpenAIKey   string `yaml:"-"`
	} `yaml:"stt"`

	Diarization struct {
		Python           string `yaml:"python"`
		Model            string `yaml:"model"`
		HuggingFaceToken string `yaml:"-"`
	} `yaml:"diarization"`

	Alignment struct {
		OverlapTolerance time.Duration `yaml:"overlap_tolerance"`
		MergeGap         time.Duration `yaml:"merge_gap"`
		MinDuration      time.Duration `yaml:"min_duration"`
		DropEmptyLines   bool          `yaml:"drop_empty_lines"`
		Concurrency      int           `yaml:"concurrency"`
	} `yaml:"alignment"`

	Retry struct {
		Attempts       int           `yaml:"attempts"`
		BaseDelay      time.Duration `yaml:"base_delay"`
		STTTimeout     time.Duration `yaml:"stt_timeout"`
		DiarizeTimeout time.Duration `yaml:"diarize_timeout"`
		AnswerTimeout  time.Duration `yaml:"answer_timeout"`
	} `yaml:"retry"`

	Answering struct {
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
		APIKey      string  `yaml:"-"`
	} `yaml:"answering"`

	Sessions struct {
		IdleTimeout      time.Duration `yaml:"idle_timeout"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
		HistoryMaxTurns  int           `yaml:"history_max_turns"`
		HistoryMaxTokens int           `yaml:"history_max_tokens"`
	} `yaml:"sessions"`

	Workers struct {
		Count int `yaml:"count"`
	} `yaml:"workers"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
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
		MaxFileSizeMB      int `yaml:"max_file_size_mb"`
		MaxDurationMinutes int `yaml:"max_duration_minutes"`
	} `yaml:"limits"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	var c Config

	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8080

	c.Whisper.Model = "small"
	c.Whisper.Python = "python"

	c.STT.Backend = "whisper"
	c.STT.OpenAIModel = "gpt-4o-mini-transcribe"

	c.Diarization.Python = "python"
	c.Diarization.Model = "pyannote/speaker-diarization-3.1"

	c.Alignment.OverlapTolerance = 300 * time.Millisecond
	c.Alignment.MergeGap = 500 * time.Millisecond
	c.Alignment.MinDuration = 250 * time.Millisecond
	c.Alignment.Concurrency = 4

	c.Retry.Attempts = 3
	c.Retry.BaseDelay = 500 * time.Millisecond
	c.Retry.STTTimeout = 2 * time.Minute
	c.Retry.DiarizeTimeout = 30 * time.Minute
	c.Retry.AnswerTimeout = 90 * time.Second

	c.Answering.Model = "gemini-1.5-flash"
	c.Answering.Temperature = 0.7

	c.Sessions.IdleTimeout = 30 * time.Minute
	c.Sessions.SweepInterval = time.Minute
	c.Sessions.HistoryMaxTurns = 40
	c.Sessions.HistoryMaxTokens = 16000

	c.Workers.Count = 2

	c.Storage.TempDir = "temp"
	c.Storage.OutputDir = "outputs"
	c.Storage.Database = "transcripts.db"

	c.Cleanup.IntervalMinutes = 60
	c.Cleanup.MaxAgeHours = 24

	c.GoogleDrive.CredentialsFile = "config/credentials.json"
	c.GoogleDrive.TokenFile = "config/token.json"
	c.GoogleDrive.FolderName = "Transcripts"

	c.Limits.MaxFileSizeMB = 500
	c.Limits.MaxDurationMinutes = 180

	return &c
}

// Load reads the YAML file at path over the defaults and pulls secrets from
// the environment. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	config.STT.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	config.Diarization.HuggingFaceToken = os.Getenv("HUGGINGFACE_TOKEN")
	config.Answering.APIKey = os.Getenv("GEMINI_API_KEY")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Alignment.OverlapTolerance <= 0 {
		errs = append(errs, errors.New("alignment.overlap_tolerance must be positive"))
	}
	if c.Alignment.MergeGap <= 0 {
		errs = append(errs, errors.New("alignment.merge_gap must be positive"))
	}
	if c.Alignment.MinDuration <= 0 {
		errs = append(errs, errors.New("alignment.min_duration must be positive"))
	}
	if c.Alignment.Concurrency < 1 {
		errs = append(errs, errors.New("alignment.concurrency must be at least 1"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Workers.Count < 1 {
		errs = append(errs, errors.New("workers.count must be at least 1"))
	}
	if c.Sessions.IdleTimeout <= 0 {
		errs = append(errs, errors.New("sessions.idle_timeout must be positive"))
	}
	switch c.STT.Backend {
	case "whisper", "openai":
	default:
		errs = append(errs, fmt.Errorf("stt.backend %q is not one of whisper|openai", c.STT.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
