package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/maauso/speakerscribe/internal/audio"
	"github.com/maauso/speakerscribe/internal/bootstrap"
	"github.com/maauso/speakerscribe/internal/config"
	"github.com/maauso/speakerscribe/internal/job"
	"github.com/maauso/speakerscribe/internal/job/id"
	"github.com/maauso/speakerscribe/internal/pipeline"
	"github.com/maauso/speakerscribe/internal/sink"
	"github.com/maauso/speakerscribe/internal/speaker"
	"github.com/maauso/speakerscribe/internal/storage"
	"github.com/maauso/speakerscribe/internal/transcript"
)

// Output formats accepted by --format.
const (
	formatText        = "text"
	formatJSON        = "json"
	formatTimestamped = "timestamped"
)

var errUnknownFormat = errors.New("unknown output format")

type runOptions struct {
	audio     string
	speakers  string
	out       string
	recipient string
	format    string
	language  string
}

func (o runOptions) validate() error {
	switch o.format {
	case formatText, formatJSON, formatTimestamped:
	default:
		return fmt.Errorf("%w %q, expected text, json or timestamped", errUnknownFormat, o.format)
	}
	if !audio.IsSupported(o.audio) {
		return fmt.Errorf("unsupported audio file %s, expected one of %s", o.audio, strings.Join(audio.SupportedExtensions, " "))
	}
	if err := validator.New().Var(o.recipient, "omitempty,email"); err != nil {
		return fmt.Errorf("invalid recipient %q", o.recipient)
	}
	return nil
}

func newRunCommand() *cobra.Command {
	opts := runOptions{format: formatText}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Transcribe a recording and label every line with its speaker",
		Long: `Transcribe a recording and label every line with its speaker.

The speakers file lists a sample window for each person:

  speakers:
    - name: Alice
      start: "00:05"
      end: "00:20"
    - name: Bob
      start: "1:02:10"
      end: "1:02:30"

transcript.json and transcript.txt are written to <out>/<job id>/ and the
rendered transcript is printed to stdout.`,
		Example: `  speakerscribe run --audio meeting.m4a --speakers speakers.yaml --out ./transcripts
  speakerscribe run --audio call.wav --speakers s.yaml --format timestamped --language en`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.out != "" {
				cfg.OutputDir = opts.out
			}
			logger := cfg.NewLoggerTo(cmd.ErrOrStderr())

			store, err := bootstrap.NewStorage(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			runner, err := bootstrap.NewRunner(cfg, logger, nil, store.TempDir())
			if err != nil {
				return err
			}

			return transcribeFile(cmd.Context(), opts, runner, sink.NewStorageSink(store, logger),
				cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
		},
	}

	cmd.Flags().StringVar(&opts.audio, "audio", "", "Recording to transcribe")
	cmd.Flags().StringVar(&opts.speakers, "speakers", "", "YAML file with a sample time range per speaker")
	cmd.Flags().StringVar(&opts.out, "out", "", "Output directory (default: OUTPUT_DIR)")
	cmd.Flags().StringVar(&opts.recipient, "recipient", "", "Address the transcript is meant for")
	cmd.Flags().StringVar(&opts.format, "format", formatText, "Printed format: text, json or timestamped")
	cmd.Flags().StringVar(&opts.language, "language", "", "Language hint (default: LANGUAGE)")
	_ = cmd.MarkFlagRequired("audio")
	_ = cmd.MarkFlagRequired("speakers")

	return cmd
}

// transcribeFile runs one recording through the pipeline, delivers the
// artifacts and prints the transcript to stdout.
func transcribeFile(ctx context.Context, opts runOptions, runner job.Runner, out sink.Sink, stdout, stderr io.Writer, logger *slog.Logger) error {
	ef, err := speaker.LoadEnrollmentFile(opts.speakers)
	if err != nil {
		return err
	}
	enrollments, skipped := speaker.ParseEnrollments(ef.Speakers)
	for _, s := range skipped {
		logger.Warn("skipping speaker with invalid time range",
			slog.String("speaker", s.Name),
			slog.String("reason", s.Reason),
		)
	}

	hash, err := storage.FingerprintFile(opts.audio)
	if err != nil {
		return fmt.Errorf("fingerprint audio: %w", err)
	}

	result, err := runner.Run(ctx, pipeline.Input{
		AudioPath:   opts.audio,
		Enrollments: enrollments,
		Language:    opts.language,
		Progress:    progressPrinter(stderr),
	})
	if err != nil {
		return err
	}

	jobID := id.Generate()
	receipt, err := out.Deliver(ctx, sink.Delivery{
		JobID:        jobID,
		Recipient:    opts.recipient,
		AudioHash:    hash,
		Conversation: result.Conversation,
	})
	if err != nil {
		return err
	}

	rendered, err := render(result.Conversation, opts.format)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, rendered)

	st := result.Stats
	fmt.Fprintf(stderr, "%d segments from %d speakers, %d of %d chunks failed\n",
		st.Segments, st.SpeakersEnrolled, st.ChunksFailed, st.Chunks)
	if heard := result.Conversation.Speakers(); len(heard) > 0 {
		fmt.Fprintf(stderr, "speakers: %s\n", strings.Join(heard, ", "))
	}
	fmt.Fprintf(stderr, "wrote %s and %s\n", receipt.JSONPath, receipt.TextPath)
	if receipt.JSONURL != "" {
		fmt.Fprintf(stderr, "published %s\n", receipt.JSONURL)
	}
	return nil
}

func render(conv transcript.Conversation, format string) (string, error) {
	switch format {
	case formatText:
		return conv.RenderText(), nil
	case formatTimestamped:
		return conv.RenderTimestamped(), nil
	case formatJSON:
		data, err := conv.RenderJSON()
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("%w %q", errUnknownFormat, format)
	}
}

// progressPrinter reports pipeline progress on w. It is called from worker
// goroutines.
func progressPrinter(w io.Writer) pipeline.ProgressFunc {
	pw := &lockedWriter{w: w}
	return func(e pipeline.Event) {
		switch e.Kind {
		case pipeline.EventTrimming:
			fmt.Fprintln(pw, "trimming silence")
		case pipeline.EventEnrolling:
			fmt.Fprintln(pw, "enrolling speakers")
		case pipeline.EventChunksPlanned:
			fmt.Fprintf(pw, "transcribing %d chunks\n", e.Total)
		case pipeline.EventChunkDone:
			if e.Err != nil {
				fmt.Fprintf(pw, "chunk %d failed: %v\n", e.Chunk, e.Err)
				return
			}
			fmt.Fprintf(pw, "chunk %d done\n", e.Chunk)
		}
	}
}
