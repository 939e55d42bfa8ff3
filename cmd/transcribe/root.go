package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Speaker-attributed transcripts from audio and video files",
		Long: `transcribe runs the transcription pipeline on a local media file.

The file is normalized with ffmpeg, split into speaker turns by the
diarization model, transcribed turn by turn, and written out as SRT
subtitles and a plain-text document.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("transcribe %s\n", version)
		},
	}
}

func execute() error {
	return newRootCommand().Execute()
}
