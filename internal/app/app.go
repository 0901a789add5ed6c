package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/petems/voicekey/internal/audio"
	"github.com/petems/voicekey/internal/config"
	"github.com/petems/voicekey/internal/inject"
	"github.com/petems/voicekey/internal/observe"
	"github.com/petems/voicekey/internal/whisper"
)

const (
	// startTimeout bounds a capture start including its retry budget.
	startTimeout = 10 * time.Second

	transcribeTimeout = 2 * time.Minute
	injectTimeout     = 5 * time.Second
)

// Recorder is the capture session surface the app drives. *audio.Session is
// the production implementation.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() audio.CaptureResult
	Capturing() bool
	BestEffort() bool
	Level() float64
	SetDevice(id string)
}

// DeviceLister enumerates capture devices for the tray menu.
type DeviceLister interface {
	ListDevices() ([]audio.Device, error)
}

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetProcessing()
	SetError()
}

type Config struct {
	Recorder      Recorder
	Devices       DeviceLister
	Transcriber   whisper.Transcriber
	Injector      inject.Injector
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater    // Optional - can be nil
	Metrics       *observe.Metrics // Optional - defaults to observe.DefaultMetrics()
}

// App coordinates one dictation at a time: hotkey in, capture, transcribe,
// inject. All transitions run under one mutex, so a hotkey arriving while the
// previous dictation is still processing queues instead of interleaving.
type App struct {
	rec     Recorder
	devices DeviceLister
	stt     whisper.Transcriber
	inj     inject.Injector
	cfg     *config.Config
	log     zerolog.Logger
	status  StatusUpdater
	metrics *observe.Metrics

	mu        sync.Mutex
	dictating bool
}

func New(cfg Config) *App {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &App{
		rec:     cfg.Recorder,
		devices: cfg.Devices,
		stt:     cfg.Transcriber,
		inj:     cfg.Injector,
		cfg:     cfg.Config,
		log:     cfg.Logger,
		status:  cfg.StatusUpdater,
		metrics: metrics,
	}
}

// OnHotkey handles a hotkey transition. In push-to-talk mode press starts and
// release stops; in toggle mode only presses matter and they alternate.
func (a *App) OnHotkey(pressed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.cfg.Mode {
	case config.ModeToggle:
		if !pressed {
			return
		}
		if !a.dictating {
			a.startDictationLocked()
		} else {
			a.stopAndInjectLocked()
		}
	default: // push to talk
		if pressed {
			a.startDictationLocked()
		} else {
			a.stopAndInjectLocked()
		}
	}
}

func (a *App) startDictationLocked() {
	if a.dictating {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	if err := a.rec.Start(ctx); err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		if a.status != nil {
			a.status.SetError()
		}
		return
	}

	a.dictating = true
	a.metrics.ActiveDictations.Add(ctx, 1)
	a.log.Info().Bool("best_effort", a.rec.BestEffort()).Msg("Dictation started")
	if a.status != nil {
		a.status.SetRecording()
	}
}

func (a *App) stopAndInjectLocked() {
	if !a.dictating {
		return
	}
	a.dictating = false

	if a.status != nil {
		a.status.SetProcessing()
	}

	res := a.rec.Stop()

	ctx := context.Background()
	a.metrics.ActiveDictations.Add(ctx, -1)
	a.metrics.RecordStop(ctx, res.Reason.String(), res.BestEffort, res.Attempts, res.Dropped)

	switch {
	case res.Reason == audio.ReasonOK && len(res.Samples) > 0:
		a.metrics.CaptureDuration.Record(ctx, res.Duration().Seconds())
		a.transcribeAndInjectLocked(res)

	case res.Reason.Retriable():
		// The device went away mid-capture; the user just presses again.
		a.log.Warn().Stringer("reason", res.Reason).Msg("Capture interrupted by device change")
		if a.status != nil {
			a.status.SetIdle()
		}

	case res.Reason == audio.ReasonConversionFailed:
		a.log.Error().
			Int("frames", res.FrameCount).
			Int("source_rate", res.SourceRate).
			Msg("Captured audio could not be converted")
		if a.status != nil {
			a.status.SetError()
		}

	default:
		a.log.Info().
			Stringer("reason", res.Reason).
			Bool("tap_fired", res.TapFired).
			Msg("Nothing captured")
		if a.status != nil {
			a.status.SetIdle()
		}
	}
}

func (a *App) transcribeAndInjectLocked(res audio.CaptureResult) {
	ctx, cancel := context.WithTimeout(context.Background(), transcribeTimeout)
	defer cancel()

	started := time.Now()
	tr, err := a.stt.Transcribe(ctx, res.Samples)
	if err != nil {
		a.metrics.RecordTranscription(ctx, time.Since(started).Seconds(), "error")
		a.log.Error().Err(err).Msg("Transcription failed")
		if a.status != nil {
			a.status.SetError()
		}
		return
	}
	a.metrics.RecordTranscription(ctx, time.Since(started).Seconds(), "ok")

	text := applyFilters(tr.Text, a.cfg.Filters)
	if text == "" {
		a.log.Info().Dur("audio", res.Duration()).Msg("No speech recognized")
		if a.status != nil {
			a.status.SetIdle()
		}
		return
	}

	injectCtx, injectCancel := context.WithTimeout(context.Background(), injectTimeout)
	defer injectCancel()

	if err := a.inj.PasteOrType(injectCtx, text); err != nil {
		a.log.Error().Err(err).Msg("Inject error")
		if a.status != nil {
			a.status.SetError()
		}
		return
	}

	a.metrics.InjectedChars.Add(ctx, int64(utf8.RuneCountInString(text)))
	a.log.Info().
		Int("chars", utf8.RuneCountInString(text)).
		Dur("audio", res.Duration()).
		Int("segments", len(tr.Segments)).
		Msg("Injected")
	if a.status != nil {
		a.status.SetIdle()
	}
}

// applyFilters shapes recognized text for injection. Empty and
// whitespace-only text collapses to "".
func applyFilters(text string, f config.FilterConfig) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if f.CapitalizeFirst {
		r, size := utf8.DecodeRuneInString(text)
		text = string(unicode.ToUpper(r)) + text[size:]
	}
	if f.AppendSpace {
		text += " "
	}
	return text
}

// Shutdown finishes an in-flight dictation before the process exits.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dictating {
		a.stopAndInjectLocked()
	}
	return nil
}

// Tray actions

func (a *App) SetMode(mode string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Mode = mode
	a.cfg.Save()
}

func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dictating {
		return fmt.Errorf("cannot change while dictating")
	}

	a.rec.SetDevice(id)
	a.cfg.Audio.DeviceID = id
	return a.cfg.Save()
}

func (a *App) SetModel(model string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dictating {
		return fmt.Errorf("cannot change while dictating")
	}

	if err := a.stt.LoadModel(model); err != nil {
		return err
	}
	a.cfg.Whisper.Model = model
	return a.cfg.Save()
}

// SetPreferPaste switches between clipboard paste and keystroke typing for
// subsequent dictations.
func (a *App) SetPreferPaste(prefer bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.inj.SetPreferPaste(prefer)
	a.cfg.Inject.PreferPaste = prefer
	return a.cfg.Save()
}

// ToggleDictation starts or stops a dictation from the tray menu. Unlike
// OnHotkey it ignores the configured mode.
func (a *App) ToggleDictation() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dictating {
		a.stopAndInjectLocked()
	} else {
		a.startDictationLocked()
	}
}

func (a *App) IsDictating() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dictating
}

// Level exposes the live input level for the tray meter. Lock-free; safe to
// poll from the UI ticker.
func (a *App) Level() float64 {
	return a.rec.Level()
}

func (a *App) ListDevices() ([]audio.Device, error) {
	return a.devices.ListDevices()
}
