package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockEngine is scripted per test. Batches in emitOnStart are delivered to
// the tap synchronously from Start, standing in for the platform goroutine;
// everything a test emits later happens strictly before it calls Stop, which
// preserves the real engine's no-tap-after-Stop guarantee.
type mockEngine struct {
	cfg      EngineConfig
	format   Format
	startErr error

	// dieAfterStart simulates an engine that starts and immediately goes
	// silent without a reconfiguration event.
	dieAfterStart bool

	// configChangeOnStart simulates the device topology changing right as
	// the engine comes up.
	configChangeOnStart bool

	emitOnStart []FrameBatch

	running   atomic.Bool
	stopCalls atomic.Int32
}

func (e *mockEngine) Start() error {
	if e.startErr != nil {
		return e.startErr
	}
	e.running.Store(!e.dieAfterStart && !e.configChangeOnStart)
	if e.configChangeOnStart && e.cfg.OnConfigChange != nil {
		e.cfg.OnConfigChange()
	}
	for _, b := range e.emitOnStart {
		e.cfg.Tap(b)
	}
	return nil
}

func (e *mockEngine) Stop() {
	e.running.Store(false)
	e.stopCalls.Add(1)
}

func (e *mockEngine) Running() bool { return e.running.Load() }
func (e *mockEngine) Format() Format {
	return e.format
}

// emit drives the tap from the test goroutine.
func (e *mockEngine) emit(b FrameBatch) {
	e.cfg.Tap(b)
}

// fireConfigChange simulates a hardware reconfiguration killing the engine.
func (e *mockEngine) fireConfigChange() {
	e.running.Store(false)
	if e.cfg.OnConfigChange != nil {
		e.cfg.OnConfigChange()
	}
}

type mockHost struct {
	mu      sync.Mutex
	opens   int
	openErr map[int]error // 1-based open index -> error
	prepare func(*mockEngine)
	engines []*mockEngine
}

func (h *mockHost) OpenEngine(cfg EngineConfig) (Engine, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opens++
	if err := h.openErr[h.opens]; err != nil {
		return nil, err
	}
	e := &mockEngine{cfg: cfg, format: Format{SampleRate: 48000, Channels: 1}}
	if h.prepare != nil {
		h.prepare(e)
	}
	h.engines = append(h.engines, e)
	return e, nil
}

func (h *mockHost) ListDevices() ([]Device, error) {
	return []Device{{ID: "default", Name: "Default", Default: true}}, nil
}

func (h *mockHost) Close() error { return nil }

func (h *mockHost) openCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens
}

// activeEngines counts engines still delivering; at most one must ever be
// live, and zero after teardown.
func (h *mockHost) activeEngines() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.engines {
		if e.running.Load() {
			n++
		}
	}
	return n
}

func fastOpts() []Option {
	return []Option{
		WithRetryDelay(time.Millisecond),
		WithFirstTapWait(30 * time.Millisecond),
		WithPollInterval(time.Millisecond),
	}
}

func newTestSession(host Host, opts ...Option) *Session {
	return NewSession(host, zerolog.Nop(), append(fastOpts(), opts...)...)
}

func monoBatch(rate int, samples ...float32) FrameBatch {
	return FrameBatch{
		Data:   [][]float32{samples},
		Format: Format{SampleRate: rate, Channels: 1},
	}
}

func constantFrames(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestStopWhileIdle(t *testing.T) {
	host := &mockHost{}
	s := newTestSession(host)

	res := s.Stop()
	if res.Reason != ReasonNotCapturing {
		t.Fatalf("expected not_capturing, got %s", res.Reason)
	}
	if len(res.Samples) != 0 || res.BufferCount != 0 || res.TapFired {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if host.openCount() != 0 {
		t.Fatalf("idle stop must not touch the host, saw %d opens", host.openCount())
	}

	// Idempotent: a second stop reports the same.
	if res := s.Stop(); res.Reason != ReasonNotCapturing {
		t.Fatalf("expected not_capturing on repeat stop, got %s", res.Reason)
	}
}

func TestCaptureProducesConvertedSamples(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{
			monoBatch(48000, constantFrames(2400, 0.5)...),
			monoBatch(48000, constantFrames(2400, 0.5)...),
		}
	}}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Capturing() {
		t.Fatal("expected session to be capturing")
	}
	if s.BestEffort() {
		t.Fatal("validated start must not be best-effort")
	}

	res := s.Stop()
	if res.Reason != ReasonOK {
		t.Fatalf("expected ok, got %s", res.Reason)
	}
	if res.BufferCount != 2 || res.FrameCount != 4800 {
		t.Fatalf("expected 2 buffers / 4800 frames, got %d / %d", res.BufferCount, res.FrameCount)
	}
	if !res.TapFired {
		t.Fatal("expected tap fired")
	}
	if res.SourceRate != 48000 {
		t.Fatalf("expected source rate 48000, got %d", res.SourceRate)
	}
	// 4800 frames at 48 kHz resample to 1600 at 16 kHz.
	if len(res.Samples) != 1600 {
		t.Fatalf("expected 1600 converted samples, got %d", len(res.Samples))
	}
	if res.Duration() != 100*time.Millisecond {
		t.Fatalf("expected 100ms of audio, got %s", res.Duration())
	}
	if s.Capturing() {
		t.Fatal("expected session idle after stop")
	}
}

func TestStartWhileCapturingIsNoop(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{monoBatch(48000, constantFrames(480, 0.1)...)}
	}}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if host.openCount() != 1 {
		t.Fatalf("second Start must not open a new engine, saw %d opens", host.openCount())
	}
	s.Stop()
}

func TestQuietHealthyEngineValidates(t *testing.T) {
	// No data during the wait, but the engine is running and the device
	// configuration is stable: startup latency, not failure.
	host := &mockHost{}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.BestEffort() {
		t.Fatal("quiet-but-healthy start must not be best-effort")
	}
	if host.openCount() != 1 {
		t.Fatalf("expected a single open, got %d", host.openCount())
	}

	res := s.Stop()
	if res.Reason != ReasonNoRawBuffers {
		t.Fatalf("expected no_raw_buffers, got %s", res.Reason)
	}
}

func TestConfigChangeBeforeDataClassifies(t *testing.T) {
	host := &mockHost{}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	host.engines[0].fireConfigChange()

	res := s.Stop()
	if res.Reason != ReasonConfigChanged {
		t.Fatalf("expected config_changed, got %s", res.Reason)
	}
	if res.TapFired || res.BufferCount != 0 || len(res.Samples) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if !res.Reason.Retriable() {
		t.Fatal("config_changed should be retriable")
	}
}

func TestEngineDiedWithoutTapClassifies(t *testing.T) {
	host := &mockHost{}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Engine goes silent after validated startup, no reconfiguration event.
	host.engines[0].running.Store(false)

	res := s.Stop()
	if res.Reason != ReasonEngineStopped {
		t.Fatalf("expected engine_stopped_before_first_tap, got %s", res.Reason)
	}
}

func TestZeroLengthTapsClassifyAsNoRawBuffers(t *testing.T) {
	// A tap can fire with a zero-length buffer; it marks the tap as received
	// but stores nothing, so the session drains zero batches.
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{monoBatch(48000)}
	}}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := s.Stop()
	if res.Reason != ReasonNoRawBuffers {
		t.Fatalf("expected no_raw_buffers, got %s", res.Reason)
	}
	if !res.TapFired {
		t.Fatal("zero-length tap must still mark the tap as fired")
	}
	if res.BufferCount != 0 {
		t.Fatalf("expected no stored buffers, got %d", res.BufferCount)
	}
}

func TestUnrecognizableBatchesClassify(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{{
			Data:   [][]float32{constantFrames(100, 0.2)},
			Format: Format{}, // no rate, no channels
		}}
	}}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := s.Stop()
	if res.Reason != ReasonNoRawBuffers {
		t.Fatalf("expected no_raw_buffers, got %s", res.Reason)
	}
	if res.BufferCount != 1 {
		t.Fatalf("expected the unusable buffer to be counted as drained, got %d", res.BufferCount)
	}
	if res.SourceRate != 0 {
		t.Fatalf("expected unknown source rate, got %d", res.SourceRate)
	}
}

func TestMismatchedFormatBatchesSkipped(t *testing.T) {
	host := &mockHost{}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	eng := host.engines[0]
	eng.emit(monoBatch(48000, constantFrames(2400, 0.3)...))
	eng.emit(monoBatch(44100, constantFrames(999, 0.3)...))
	eng.emit(monoBatch(48000, constantFrames(2400, 0.3)...))

	res := s.Stop()
	if res.Reason != ReasonOK {
		t.Fatalf("expected ok, got %s", res.Reason)
	}
	if res.BufferCount != 3 {
		t.Fatalf("expected 3 drained buffers, got %d", res.BufferCount)
	}
	if res.FrameCount != 4800 {
		t.Fatalf("expected 4800 frames from matching batches, got %d", res.FrameCount)
	}
	if len(res.Samples) != 1600 {
		t.Fatalf("expected 1600 converted samples, got %d", len(res.Samples))
	}
}

func TestConversionFailureReported(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{monoBatch(48000, constantFrames(480, 0.1)...)}
	}}
	s := newTestSession(host, WithConverter(failingConverter{}))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res := s.Stop()
	if res.Reason != ReasonConversionFailed {
		t.Fatalf("expected conversion_failed, got %s", res.Reason)
	}
	if len(res.Samples) != 0 {
		t.Fatalf("expected no samples, got %d", len(res.Samples))
	}
	if res.FrameCount != 480 {
		t.Fatalf("expected the raw frame count to survive, got %d", res.FrameCount)
	}
}

type failingConverter struct{}

func (failingConverter) Convert([][]float32, Format) ([]float32, error) {
	return nil, errors.New("scripted conversion failure")
}

func TestStartRetriesAfterOpenFailure(t *testing.T) {
	host := &mockHost{
		openErr: map[int]error{1: errors.New("device busy")},
		prepare: func(e *mockEngine) {
			e.emitOnStart = []FrameBatch{monoBatch(48000, constantFrames(480, 0.1)...)}
		},
	}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start should recover from one failed open: %v", err)
	}
	if host.openCount() != 2 {
		t.Fatalf("expected 2 opens, got %d", host.openCount())
	}

	res := s.Stop()
	if res.Attempts != 2 {
		t.Fatalf("expected attempts recorded as 2, got %d", res.Attempts)
	}
	if res.BestEffort {
		t.Fatal("validated retry must not be best-effort")
	}
}

func TestFailedValidationFallsBackToBestEffort(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.dieAfterStart = true
	}}
	s := newTestSession(host)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("best-effort fallback must not fail Start: %v", err)
	}
	if !s.Capturing() {
		t.Fatal("expected session capturing in best-effort mode")
	}
	if !s.BestEffort() {
		t.Fatal("expected best-effort mode")
	}
	// Three validated attempts plus the best-effort open.
	if host.openCount() != 4 {
		t.Fatalf("expected 4 opens, got %d", host.openCount())
	}

	res := s.Stop()
	if !res.BestEffort {
		t.Fatal("result should record best-effort mode")
	}
	if res.Attempts != 4 {
		t.Fatalf("expected 4 attempts recorded, got %d", res.Attempts)
	}
	if res.Reason != ReasonEngineStopped {
		t.Fatalf("expected engine_stopped_before_first_tap, got %s", res.Reason)
	}
}

func TestConfigChangeDuringValidationFailsFast(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.configChangeOnStart = true
	}}
	s := newTestSession(host, WithFirstTapWait(5*time.Second))

	start := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A dead engine plus a reconfiguration event must short-circuit the
	// wait instead of burning the full first-tap budget per attempt.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("validation should fail fast on config change, took %s", elapsed)
	}
	if !s.BestEffort() {
		t.Fatal("expected best-effort fallback")
	}

	res := s.Stop()
	if res.Reason != ReasonConfigChanged {
		t.Fatalf("expected config_changed, got %s", res.Reason)
	}
}

func TestStartHardFailsOnlyWhenBestEffortOpenFails(t *testing.T) {
	openErr := errors.New("no input device")
	host := &mockHost{openErr: map[int]error{1: openErr, 2: openErr, 3: openErr, 4: openErr}}
	s := newTestSession(host)

	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("expected hard failure when even the best-effort open fails")
	}
	if !errors.Is(err, openErr) {
		t.Fatalf("expected wrapped open error, got %v", err)
	}
	if s.Capturing() {
		t.Fatal("failed start must leave the session idle")
	}
	if res := s.Stop(); res.Reason != ReasonNotCapturing {
		t.Fatalf("expected not_capturing after failed start, got %s", res.Reason)
	}
}

func TestStartHonorsCancelledContext(t *testing.T) {
	host := &mockHost{}
	s := newTestSession(host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if host.openCount() != 0 {
		t.Fatalf("cancelled start must not open engines, saw %d", host.openCount())
	}
}

func TestRepeatedCyclesLeakNoEngines(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{monoBatch(48000, constantFrames(480, 0.1)...)}
	}}
	s := newTestSession(host)

	const cycles = 5
	for i := 0; i < cycles; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("cycle %d Start: %v", i, err)
		}
		if host.activeEngines() != 1 {
			t.Fatalf("cycle %d: expected exactly one live engine, got %d", i, host.activeEngines())
		}
		if res := s.Stop(); res.Reason != ReasonOK {
			t.Fatalf("cycle %d: expected ok, got %s", i, res.Reason)
		}
		if host.activeEngines() != 0 {
			t.Fatalf("cycle %d: engine leaked past stop", i)
		}
	}

	if host.openCount() != cycles {
		t.Fatalf("expected %d opens, got %d", cycles, host.openCount())
	}
	for i, e := range host.engines {
		if e.stopCalls.Load() != 1 {
			t.Fatalf("engine %d stopped %d times, expected exactly once", i, e.stopCalls.Load())
		}
	}
}

func TestLevelTracksTapAndClearsOnStop(t *testing.T) {
	host := &mockHost{prepare: func(e *mockEngine) {
		e.emitOnStart = []FrameBatch{monoBatch(48000, constantFrames(1024, 0.5)...)}
	}}
	s := newTestSession(host)

	if s.Level() != 0 {
		t.Fatalf("expected zero level while idle, got %f", s.Level())
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if lvl := s.Level(); lvl < 0.49 || lvl > 0.51 {
		t.Fatalf("expected RMS near 0.5, got %f", lvl)
	}

	s.Stop()
	if s.Level() != 0 {
		t.Fatalf("expected level cleared after stop, got %f", s.Level())
	}
}
