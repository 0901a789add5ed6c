package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petems/voicekey/internal/app"
	"github.com/petems/voicekey/internal/audio"
	"github.com/petems/voicekey/internal/config"
	"github.com/petems/voicekey/internal/hotkey"
	"github.com/petems/voicekey/internal/inject"
	"github.com/petems/voicekey/internal/logging"
	"github.com/petems/voicekey/internal/observe"
	"github.com/petems/voicekey/internal/permissions"
	"github.com/petems/voicekey/internal/tray"
	"github.com/petems/voicekey/internal/whisper"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

// flagLogLevel overrides the configured log level when set.
var flagLogLevel string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voicekey",
		Short: "Local voice dictation from the system tray",
		Long: `VoiceKey captures microphone audio while a hotkey is held, transcribes
it locally with Whisper, and types the result into the focused application.
Audio never leaves the machine.

Run with no arguments to start the tray app.`,
		Args:          cobra.NoArgs,
		RunE:          runTray,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override configured log level (debug, info, warn, error)")

	cmd.AddCommand(newDevicesCmd())
	cmd.AddCommand(newRecordCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// loadConfigAndLogger is the shared setup for every subcommand: config from
// disk, logger at the configured (or overridden) level.
func loadConfigAndLogger() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return cfg, logging.NewWithLevel(level), nil
}

// sessionOptions translates the audio config into capture session options.
// Zero values are omitted so the session and device defaults apply.
func sessionOptions(cfg config.AudioConfig) []audio.Option {
	var opts []audio.Option
	if cfg.DeviceID != "" {
		opts = append(opts, audio.WithDevice(cfg.DeviceID))
	}
	if cfg.SampleRate > 0 || cfg.Channels > 0 {
		opts = append(opts, audio.WithFormat(audio.Format{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.Channels,
		}))
	}
	if cfg.FramesPerBuffer > 0 {
		opts = append(opts, audio.WithFramesPerBuffer(cfg.FramesPerBuffer))
	}
	return opts
}

func runTray(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfigAndLogger()
	if err != nil {
		return err
	}

	// macOS requires explicit microphone + accessibility approval before
	// capture or hotkeys work.
	if err := permissions.EnsurePermissions(log); err != nil {
		log.Error().Err(err).Msg("Required permissions not granted")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			log.Warn().Err(err).Msg("Metrics shutdown error")
		}
	}()

	host, err := audio.NewHost(log)
	if err != nil {
		return fmt.Errorf("init audio: %w", err)
	}
	defer host.Close()

	session := audio.NewSession(host, log, sessionOptions(cfg.Audio)...)

	transcriber, err := whisper.New(cfg.Whisper, log)
	if err != nil {
		return fmt.Errorf("init whisper: %w", err)
	}
	defer transcriber.Close()

	injector := inject.New(cfg.Inject)

	hkManager, err := hotkey.New()
	if err != nil {
		return fmt.Errorf("init hotkeys: %w", err)
	}
	defer hkManager.Close()

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, cfg, Version, Commit, log)

	application := app.New(app.Config{
		Recorder:      session,
		Devices:       host,
		Transcriber:   transcriber,
		Injector:      injector,
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})
	trayUI.SetApp(application)

	if err := hkManager.Register(cfg.PlatformHotkey(), application.OnHotkey); err != nil {
		return fmt.Errorf("register hotkey %q: %w", cfg.PlatformHotkey(), err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return observe.Serve(gctx, cfg.MetricsAddr, log)
		})
	}

	// Finish any in-flight dictation before the tray loop is torn down.
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("Shutdown error")
		}
		trayUI.Quit()
		return nil
	})

	log.Info().
		Str("version", Version).
		Str("hotkey", cfg.PlatformHotkey()).
		Str("mode", cfg.Mode).
		Msg("VoiceKey starting")

	// Tray UI must run on the main thread; blocks until quit.
	trayUI.Run()

	// A menu quit ends Run without cancelling the signal context; release the
	// supervised goroutines before waiting on them.
	stop()
	return g.Wait()
}
