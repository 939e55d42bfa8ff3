package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/transcript-agent/internal/alignment"
	"github.com/codebuildervaibhav/transcript-agent/internal/config"
	"github.com/codebuildervaibhav/transcript-agent/internal/queue"
	"github.com/codebuildervaibhav/transcript-agent/internal/retrypolicy"
	"github.com/codebuildervaibhav/transcript-agent/internal/transcription"
)

var errNoInput = errors.New("--input is required")

type runOptions struct {
	input      string
	outputDir  string
	configPath string
	name       string
}

func newRunCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transcribe one media file",
		Long: `Transcribe one local audio or video file.

Writes <name>.srt and <name>.txt into the output directory, where <name>
defaults to the input file name without its extension.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.input == "" {
				return errNoInput
			}
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("loading .env: %w", err)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			paths, err := runTranscription(ctx, newPipeline(cfg), opts)
			if err != nil {
				return err
			}
			for _, p := range paths {
				cmd.Println(p)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Media file to transcribe")
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", ".", "Directory for the subtitle and document files")
	cmd.Flags().StringVar(&opts.configPath, "config", "config/config.yaml", "Path to the YAML config")
	cmd.Flags().StringVar(&opts.name, "name", "", "Base name of the written files")

	return cmd
}

// newPipeline builds the same pipeline the server runs.
func newPipeline(cfg *config.Config) *queue.Pipeline {
	retry := retrypolicy.Policy{Attempts: cfg.Retry.Attempts, BaseDelay: cfg.Retry.BaseDelay}

	var stt transcription.Transcriber
	if cfg.STT.Backend == "openai" {
		stt = transcription.NewOpenAITranscriber(cfg.STT.OpenAIKey, cfg.STT.OpenAIModel, os.TempDir())
	} else {
		stt = transcription.NewWhisperTranscriber(cfg.Whisper.Model, cfg.Whisper.Python, cfg.Whisper.Language, os.TempDir())
	}

	maxDuration := time.Duration(cfg.Limits.MaxDurationMinutes) * time.Minute
	normalizer := transcription.NewFFmpegNormalizer(os.TempDir())
	normalizer.MaxDuration = maxDuration

	return &queue.Pipeline{
		Normalizer: normalizer,
		Diarizer:   transcription.NewPyannoteDiarizer(cfg.Diarization.Python, cfg.Diarization.Model, cfg.Diarization.HuggingFaceToken, os.TempDir()),
		Aligner: alignment.New(stt, alignment.Options{
			OverlapTolerance: cfg.Alignment.OverlapTolerance,
			MergeGap:         cfg.Alignment.MergeGap,
			MinDuration:      cfg.Alignment.MinDuration,
			DropEmptyLines:   cfg.Alignment.DropEmptyLines,
			Concurrency:      cfg.Alignment.Concurrency,
			Retry:            retry.WithTimeout(cfg.Retry.STTTimeout),
		}),
		DiarizeRetry: retry.WithTimeout(cfg.Retry.DiarizeTimeout),
		MaxDuration:  maxDuration,
	}
}

// runTranscription processes opts.input and writes the artifacts, returning
// their paths.
func runTranscription(ctx context.Context, p *queue.Pipeline, opts runOptions) ([]string, error) {
	if _, err := os.Stat(opts.input); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	name := opts.name
	if name == "" {
		base := filepath.Base(opts.input)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	result, _, err := p.Run(ctx, name, opts.input, nil)
	if err != nil {
		return nil, fmt.Errorf("transcribing %s: %w", opts.input, err)
	}

	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	srtPath := filepath.Join(opts.outputDir, name+".srt")
	if err := os.WriteFile(srtPath, result.Subtitle, 0644); err != nil {
		return nil, fmt.Errorf("writing subtitles: %w", err)
	}
	docPath := filepath.Join(opts.outputDir, name+".txt")
	if err := os.WriteFile(docPath, []byte(result.Document), 0644); err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}
	return []string{srtPath, docPath}, nil
}
