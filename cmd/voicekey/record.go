package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petems/voicekey/internal/audio"
	"github.com/petems/voicekey/internal/whisper"
)

func newRecordCmd() *cobra.Command {
	var (
		duration   time.Duration
		timestamps bool
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone and print the transcription",
		Long: `Record captures audio for the given duration (or until interrupted),
transcribes it, and prints the text to stdout. Useful for checking the
capture and model setup without the tray.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, duration, timestamps)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 5*time.Second, "how long to record")
	cmd.Flags().BoolVar(&timestamps, "timestamps", false, "print per-segment timestamps")

	return cmd
}

func runRecord(cmd *cobra.Command, duration time.Duration, timestamps bool) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	host, err := audio.NewHost(log)
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer host.Close()

	session := audio.NewSession(host, log, sessionOptions(cfg.Audio)...)

	// Loading the model first keeps a slow download out of the recording
	// window.
	transcriber, err := whisper.New(cfg.Whisper, log)
	if err != nil {
		return fmt.Errorf("init whisper: %w", err)
	}
	defer transcriber.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Recording for %s (Ctrl+C to stop early)...\n", duration)
	select {
	case <-time.After(duration):
	case <-ctx.Done():
	}

	res := session.Stop()
	if res.Reason != audio.ReasonOK {
		return fmt.Errorf("capture produced no audio: %s", res.Reason)
	}

	tr, err := transcriber.Transcribe(context.Background(), res.Samples)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	out := cmd.OutOrStdout()
	if timestamps {
		for _, seg := range tr.Segments {
			fmt.Fprintf(out, "[%8s -> %8s] %s\n",
				seg.Start.Truncate(time.Millisecond),
				seg.End.Truncate(time.Millisecond),
				seg.Text)
		}
		return nil
	}

	if tr.Text == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "No speech recognized")
		return nil
	}
	fmt.Fprintln(out, tr.Text)
	return nil
}
