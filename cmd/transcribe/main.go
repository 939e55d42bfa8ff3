package main

import (
	"fmt"
	"os"

	"github.com/codebuildervaibhav/transcript-agent/internal/failure"
)

// Exit codes for different failure modes
const (
	ExitSuccess   = 0
	ExitError     = 1 // Configuration or runtime error
	ExitAlignment = 2 // Diarization output could not be aligned
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case failure.IsAlignment(err), failure.IsInvariant(err):
		return ExitAlignment
	}
	return ExitError
}
