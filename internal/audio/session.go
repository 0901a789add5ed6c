package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultStartupAttempts = 3
	defaultRetryDelay      = 200 * time.Millisecond
	defaultFirstTapWait    = time.Second
	defaultPollInterval    = 50 * time.Millisecond
	defaultQueueSize       = 64

	// levelWindowSamples sizes the ring buffer backing the input level
	// meter: roughly 85 ms at 48 kHz.
	levelWindowSamples = 4096
)

// CaptureResult is the product of one Stop call. Zero-capture outcomes are
// reported through Reason, never as errors, so the caller can apply
// per-reason policy.
type CaptureResult struct {
	// Samples is the captured audio in canonical format. Empty for every
	// reason other than ReasonOK.
	Samples []float32

	// BufferCount is the number of raw batches drained at stop.
	BufferCount int

	// FrameCount is the total number of source frames concatenated.
	FrameCount int

	// TapFired reports whether any tap callback fired during the session.
	TapFired bool

	// SourceRate is the source sample rate, 0 if no usable batch revealed it.
	SourceRate int

	// Dropped counts batches discarded because the session fell behind.
	Dropped int

	// Attempts is the number of engine opens the preceding Start consumed.
	Attempts int

	// BestEffort reports whether the session ran without validated startup.
	BestEffort bool

	Reason StopReason
}

// Duration returns the audio duration of the converted samples.
func (r CaptureResult) Duration() time.Duration {
	return time.Duration(len(r.Samples)) * time.Second / CanonicalSampleRate
}

// Converter is the stop-time conversion collaborator. *SampleConverter is
// the production implementation.
type Converter interface {
	Convert(data [][]float32, src Format) ([]float32, error)
}

// lifecycleFlags records the asynchronous observations of one engine
// attempt. Written from engine callbacks, read by the controller; fresh per
// attempt.
type lifecycleFlags struct {
	tapFired      atomic.Bool
	configChanged atomic.Bool
}

// collector owns the raw batches of one engine attempt. The tap sends over
// the bounded channel and never blocks; the collector goroutine is the only
// writer of the batch slice.
type collector struct {
	ch      chan FrameBatch
	done    chan struct{}
	dropped atomic.Int64
	batches []FrameBatch

	closeOnce sync.Once
}

func newCollector(size int) *collector {
	if size < 1 {
		size = 1
	}
	c := &collector{
		ch:   make(chan FrameBatch, size),
		done: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *collector) run() {
	defer close(c.done)
	for b := range c.ch {
		c.batches = append(c.batches, b)
	}
}

// close shuts the intake down and waits for the collector goroutine. The
// engine must already be stopped so no tap can send afterwards.
func (c *collector) close() {
	c.closeOnce.Do(func() { close(c.ch) })
	<-c.done
}

// take drains the collected batches. Call after close; the collection is
// emptied exactly once.
func (c *collector) take() []FrameBatch {
	<-c.done
	b := c.batches
	c.batches = nil
	return b
}

// Session manages one hardware capture lifecycle at a time: Start opens an
// engine with bounded retries and a best-effort fallback, Stop tears the
// engine down and turns whatever was collected into a CaptureResult.
//
// Start and Stop are serialized by the session mutex; concurrent calls queue
// rather than interleave, since engine teardown and rebuild is not
// reentrant-safe. Engine callbacks never touch that mutex.
type Session struct {
	host Host
	log  zerolog.Logger
	ring *RingBuffer

	deviceID        string
	format          Format
	framesPerBuffer int
	attempts        int
	retryDelay      time.Duration
	firstTapWait    time.Duration
	pollInterval    time.Duration
	queueSize       int
	converter       Converter

	mu           sync.Mutex
	capturing    bool
	bestEffort   bool
	lastAttempts int
	id           string
	engine       Engine
	flags        *lifecycleFlags
	collector    *collector
}

// Option customises a Session.
type Option func(*Session)

// WithDevice selects the capture device for subsequent starts. Empty means
// the default input.
func WithDevice(id string) Option {
	return func(s *Session) { s.deviceID = id }
}

// WithFormat requests a capture format. Zero fields keep the device default.
func WithFormat(f Format) Option {
	return func(s *Session) { s.format = f }
}

// WithFramesPerBuffer overrides the tap delivery size.
func WithFramesPerBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.framesPerBuffer = n
		}
	}
}

// WithStartupAttempts bounds the validated startup attempts before the
// best-effort fallback.
func WithStartupAttempts(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithRetryDelay sets the fixed delay between startup attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// WithFirstTapWait bounds how long a startup attempt waits for the first tap.
func WithFirstTapWait(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.firstTapWait = d
		}
	}
}

// WithPollInterval sets the first-tap polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithQueueSize sets the tap-to-collector channel capacity.
func WithQueueSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithConverter replaces the stop-time format converter.
func WithConverter(c Converter) Option {
	return func(s *Session) { s.converter = c }
}

// NewSession creates a session over the given host. The session opens no
// engine until Start.
func NewSession(host Host, log zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		host:         host,
		log:          log.With().Str("component", "capture").Logger(),
		ring:         NewRingBuffer(levelWindowSamples),
		attempts:     defaultStartupAttempts,
		retryDelay:   defaultRetryDelay,
		firstTapWait: defaultFirstTapWait,
		pollInterval: defaultPollInterval,
		queueSize:    defaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDevice changes the capture device. Takes effect on the next Start.
func (s *Session) SetDevice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = id
}

// Capturing reports whether a capture is in flight.
func (s *Session) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing
}

// BestEffort reports whether the current capture runs without validated
// startup.
func (s *Session) BestEffort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capturing && s.bestEffort
}

// Level returns the RMS input level over the most recent tap deliveries.
// Zero when idle. Safe to poll from any goroutine, including during Start.
func (s *Session) Level() float64 {
	samples := s.ring.Read()
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Start opens a capture engine on the configured device. Up to the
// configured attempt bound, each attempt opens a fresh engine and waits
// briefly for the first tap to prove the device is delivering. Startup
// validation is advisory: when every attempt fails to validate, one more
// engine is opened best-effort and the true outcome is left to stop-time
// diagnostics. The only hard failure is that final open failing.
//
// No-op when already capturing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capturing {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.id = uuid.NewString()
	log := s.log.With().Str("capture_id", s.id).Logger()

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, s.retryDelay); err != nil {
				return err
			}
		}

		if err := s.openAttemptLocked(); err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("Engine open failed")
			continue
		}

		validated, err := s.awaitFirstTapLocked(ctx)
		if err != nil {
			s.teardownLocked()
			return err
		}
		if validated {
			s.capturing = true
			s.bestEffort = false
			s.lastAttempts = attempt
			log.Debug().
				Int("attempt", attempt).
				Stringer("format", s.engine.Format()).
				Bool("tap_fired", s.flags.tapFired.Load()).
				Msg("Capture started")
			return nil
		}

		lastErr = fmt.Errorf("no audio during startup validation (attempt %d)", attempt)
		log.Warn().Int("attempt", attempt).Msg("Startup validation failed, engine not delivering")
		s.teardownLocked()
	}

	// Real devices race at startup (Bluetooth negotiation, route changes),
	// so exhausted validation is not a hard failure: open once more and let
	// stop-time diagnostics report the true outcome.
	if err := s.openAttemptLocked(); err != nil {
		if lastErr != nil {
			return fmt.Errorf("best-effort open after %d failed attempts: %w", s.attempts, err)
		}
		return fmt.Errorf("best-effort open: %w", err)
	}
	s.capturing = true
	s.bestEffort = true
	s.lastAttempts = s.attempts + 1
	log.Warn().Int("attempts", s.attempts).Msg("Capturing best-effort after failed startup validation")
	return nil
}

// Stop halts the capture and converts whatever was collected. Teardown runs
// unconditionally before any result handling. Calling Stop with no capture
// in flight returns an empty result with ReasonNotCapturing and has no side
// effects.
func (s *Session) Stop() CaptureResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing {
		return CaptureResult{Reason: ReasonNotCapturing}
	}

	log := s.log.With().Str("capture_id", s.id).Logger()

	// Snapshot the observations teardown is about to invalidate.
	engineWasRunning := s.engine != nil && s.engine.Running()
	flags := s.flags
	col := s.collector

	res := CaptureResult{
		Attempts:   s.lastAttempts,
		BestEffort: s.bestEffort,
	}

	s.teardownLocked()
	s.capturing = false
	s.bestEffort = false

	batches := col.take()
	res.TapFired = flags.tapFired.Load()
	res.Dropped = int(col.dropped.Load())
	configChanged := flags.configChanged.Load()

	data, frames, srcRate, usable := concatenate(batches, log)
	res.BufferCount = len(batches)
	res.FrameCount = frames
	res.SourceRate = srcRate

	if usable == 0 {
		res.Reason = Classify(res.TapFired, engineWasRunning, configChanged)
		log.Info().
			Stringer("reason", res.Reason).
			Bool("tap_fired", res.TapFired).
			Bool("engine_was_running", engineWasRunning).
			Bool("config_changed", configChanged).
			Int("dropped", res.Dropped).
			Msg("Capture ended with no audio")
		return res
	}

	if frames == 0 {
		res.Reason = ReasonZeroFrames
		log.Warn().Int("buffers", res.BufferCount).Msg("Raw buffers held zero frames")
		return res
	}

	conv := s.converter
	if conv == nil {
		built, err := NewSampleConverter(CanonicalFormat())
		if err != nil {
			res.Reason = ReasonConversionFailed
			log.Error().Err(err).Msg("Converter construction failed")
			return res
		}
		conv = built
	}

	samples, err := conv.Convert(data, Format{SampleRate: srcRate, Channels: len(data)})
	if err != nil {
		res.Reason = ReasonConversionFailed
		log.Error().Err(err).
			Int("frames", frames).
			Int("source_rate", srcRate).
			Msg("Format conversion failed")
		return res
	}

	res.Samples = samples
	res.Reason = ReasonOK
	log.Info().
		Int("buffers", res.BufferCount).
		Int("frames", res.FrameCount).
		Int("source_rate", res.SourceRate).
		Int("dropped", res.Dropped).
		Dur("duration", res.Duration()).
		Msg("Capture complete")
	return res
}

// openAttemptLocked builds the per-attempt state and opens a fresh engine:
// new flags, new collector, tap and reconfiguration callbacks scoped to this
// attempt. On failure nothing is left open.
func (s *Session) openAttemptLocked() error {
	flags := &lifecycleFlags{}
	col := newCollector(s.queueSize)
	s.ring.Reset()
	ring := s.ring

	cfg := EngineConfig{
		DeviceID:        s.deviceID,
		Format:          s.format,
		FramesPerBuffer: s.framesPerBuffer,
		Tap: func(b FrameBatch) {
			// Runs on the engine goroutine. Record the tap, keep the level
			// meter fed, and hand the batch off without ever blocking.
			flags.tapFired.Store(true)
			if b.Frames() == 0 {
				return
			}
			ring.Write(b.Data[0])
			select {
			case col.ch <- b:
			default:
				col.dropped.Add(1)
			}
		},
		OnConfigChange: func() {
			// Only record the event. Teardown is the controller's job;
			// running it here would race the controller's own teardown.
			flags.configChanged.Store(true)
		},
	}

	eng, err := s.host.OpenEngine(cfg)
	if err != nil {
		col.close()
		return fmt.Errorf("open engine: %w", err)
	}
	if err := eng.Start(); err != nil {
		eng.Stop()
		col.close()
		return fmt.Errorf("start engine: %w", err)
	}

	s.flags = flags
	s.collector = col
	s.engine = eng
	return nil
}

// awaitFirstTapLocked polls until the first tap fires or the wait budget
// runs out. A quiet engine that is still running with a stable device
// configuration passes validation; some devices take a while to deliver.
// The returned error is only ever a context error.
func (s *Session) awaitFirstTapLocked(ctx context.Context) (bool, error) {
	deadline := time.Now().Add(s.firstTapWait)
	for {
		if s.flags.tapFired.Load() {
			return true, nil
		}
		changed := s.flags.configChanged.Load()
		if changed && !s.engine.Running() {
			return false, nil
		}
		if !time.Now().Before(deadline) {
			return s.engine.Running() && !changed, nil
		}
		if err := sleepCtx(ctx, s.pollInterval); err != nil {
			return false, err
		}
	}
}

// teardownLocked releases the engine and collector of the current attempt.
// Idempotent and never raises; safe with nothing open. Stopping the engine
// first guarantees no tap fires after the collector channel closes.
func (s *Session) teardownLocked() {
	if s.engine != nil {
		s.engine.Stop()
		s.engine = nil
	}
	if s.collector != nil {
		s.collector.close()
		s.collector = nil
	}
	s.flags = nil
	s.ring.Reset()
}

// concatenate merges drained batches channel-wise in arrival order. The
// first usable batch fixes the reference format; batches that disagree are
// skipped. Returns the planar block, total frames, source rate (0 when no
// usable batch) and the number of usable batches.
func concatenate(batches []FrameBatch, log zerolog.Logger) (data [][]float32, frames, srcRate, usable int) {
	var ref Format
	for _, b := range batches {
		if !b.usable() {
			log.Debug().Int("frames", b.Frames()).Msg("Skipping batch with unrecognizable format")
			continue
		}
		if usable == 0 {
			ref = b.Format
			data = make([][]float32, ref.Channels)
		} else if b.Format != ref {
			log.Debug().
				Stringer("batch_format", b.Format).
				Stringer("session_format", ref).
				Msg("Skipping batch with mismatched format")
			continue
		}
		for ch := range data {
			data[ch] = append(data[ch], b.Data[ch]...)
		}
		frames += b.Frames()
		usable++
	}
	return data, frames, ref.SampleRate, usable
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
