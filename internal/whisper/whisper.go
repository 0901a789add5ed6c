package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"github.com/petems/voicekey/internal/config"
)

// Segment is one timed span of recognized speech.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcript is the result of transcribing one captured clip.
type Transcript struct {
	Text     string
	Segments []Segment
}

// Transcriber turns mono 16 kHz float32 audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (Transcript, error)
	LoadModel(model string) error
	Close() error
}

type whisperTranscriber struct {
	mu        sync.Mutex
	model     whisper.Model
	modelPath string
	language  string
	threads   int
	log       zerolog.Logger
}

// New creates a Whisper transcriber, downloading the configured model on
// first use.
func New(cfg config.WhisperConfig, log zerolog.Logger) (Transcriber, error) {
	modelPath := filepath.Join(config.ModelsPath(), cfg.Model+".bin")

	// Check if model exists, download if needed
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := downloadModel(cfg.Model, modelPath); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	return &whisperTranscriber{
		model:     model,
		modelPath: modelPath,
		language:  cfg.Language,
		threads:   cfg.Threads,
		log:       log.With().Str("component", "whisper").Logger(),
	}, nil
}

// Transcribe runs the whole clip through the model in one pass. Whisper
// contexts are cheap relative to inference, so each call gets a fresh one;
// the transcriber mutex keeps calls off the model concurrently.
func (w *whisperTranscriber) Transcribe(ctx context.Context, samples []float32) (Transcript, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model == nil {
		return Transcript{}, errors.New("transcriber closed")
	}
	if len(samples) == 0 {
		return Transcript{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Transcript{}, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to create context: %w", err)
	}

	if w.threads > 0 {
		wctx.SetThreads(uint(w.threads))
	}
	if w.language != "" && w.language != "auto" {
		if err := wctx.SetLanguage(w.language); err != nil {
			w.log.Warn().Err(err).Str("language", w.language).Msg("Language not accepted, auto-detecting")
		}
	}
	wctx.SetTranslate(false)

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return Transcript{}, fmt.Errorf("whisper process failed: %w", err)
	}

	var tr Transcript
	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.log.Warn().Err(err).Msg("Segment iteration ended early")
			}
			break
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		tr.Segments = append(tr.Segments, Segment{
			Start: segment.Start,
			End:   segment.End,
			Text:  text,
		})
		parts = append(parts, text)
	}
	tr.Text = strings.Join(parts, " ")

	w.log.Debug().
		Int("samples", len(samples)).
		Int("segments", len(tr.Segments)).
		Dur("took", time.Since(start)).
		Msg("Transcription complete")

	return tr, nil
}

// LoadModel swaps the active model, downloading it if needed. The old model
// stays loaded until the new one is ready.
func (w *whisperTranscriber) LoadModel(model string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	modelPath := filepath.Join(config.ModelsPath(), model+".bin")

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := downloadModel(model, modelPath); err != nil {
			return fmt.Errorf("failed to download model: %w", err)
		}
	}

	newModel, err := whisper.New(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}

	if w.model != nil {
		w.model.Close()
	}
	w.model = newModel
	w.modelPath = modelPath
	w.log.Info().Str("model", model).Msg("Model loaded")
	return nil
}

func (w *whisperTranscriber) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.model != nil {
		w.model.Close()
		w.model = nil
	}
	return nil
}
