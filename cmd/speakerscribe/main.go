// Package main provides the speakerscribe command-line tool, which runs the
// transcription pipeline on a local recording without the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the command tree.
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "speakerscribe",
		Short: "Speaker-attributed transcription of recorded conversations",
		Long: `speakerscribe turns a recording plus a few labelled speaker samples into a
transcript where every line names who said it.

Service settings (OPENAI_API_KEY, EMBEDDING_URL, chunking and silence
options, S3 publishing) are read from the environment, the same way the
HTTP server reads them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newParseTimeCommand())
	return root
}
