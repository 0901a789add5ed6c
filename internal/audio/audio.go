// Package audio implements microphone capture lifecycle management: a
// retrying capture session over an abstract hardware host, a stop-reason
// classifier for sessions that produced no audio, format conversion to the
// canonical transcription format, and a ring buffer of recent samples.
//
// The hardware side is modelled by [Host] and [Engine] so the session logic
// can be driven by the PortAudio implementation in production and by mocks in
// tests. Tap callbacks run on the engine's own goroutine and must never block
// on the session; batches are handed off over a bounded channel and dropped
// when the session falls behind.
package audio

import "fmt"

// CanonicalSampleRate is the sample rate consumed by the transcriber.
const CanonicalSampleRate = 16000

// Format describes the shape of a block of samples.
type Format struct {
	SampleRate int
	Channels   int
}

// CanonicalFormat returns the fixed format expected downstream:
// mono, 16 kHz, 32-bit float samples.
func CanonicalFormat() Format {
	return Format{SampleRate: CanonicalSampleRate, Channels: 1}
}

func (f Format) valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dch@%dHz", f.Channels, f.SampleRate)
}

// FrameBatch is one tap delivery: planar sample data, one slice per channel,
// all channel slices the same length. The data is owned by the receiver; the
// producer must copy out of any platform-owned memory before building a batch.
type FrameBatch struct {
	Data   [][]float32
	Format Format
}

// Frames returns the number of frames in the batch (samples per channel).
func (b FrameBatch) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// usable reports whether the batch carries a recognizable format: a valid
// rate/channel pair whose channel count matches the planar data.
func (b FrameBatch) usable() bool {
	if !b.Format.valid() || len(b.Data) != b.Format.Channels {
		return false
	}
	for _, ch := range b.Data {
		if len(ch) != len(b.Data[0]) {
			return false
		}
	}
	return true
}

// Device identifies an audio input device.
type Device struct {
	ID      string
	Name    string
	Default bool
}

// EngineConfig configures a capture engine opened by a [Host].
type EngineConfig struct {
	// DeviceID selects the input device. Empty means the default input.
	DeviceID string

	// Format is the requested capture format. Zero fields mean the device
	// default; the engine reports the format it actually opened with.
	Format Format

	// FramesPerBuffer is the tap delivery size. Zero means a host default.
	FramesPerBuffer int

	// Tap receives every captured batch. Invoked on the engine's goroutine;
	// must not block.
	Tap func(FrameBatch)

	// OnConfigChange is invoked when the device topology changes under the
	// engine (route switch, hot-plug, stream death). Invoked asynchronously;
	// must only record the event, never tear anything down.
	OnConfigChange func()
}

// Engine is one live capture graph. Exactly one engine is open per session
// at any time.
type Engine interface {
	// Start begins delivering batches to the tap.
	Start() error

	// Stop halts capture and releases the graph. Idempotent. When Stop
	// returns, the tap will not be invoked again.
	Stop()

	// Running reports whether the engine is still delivering audio.
	Running() bool

	// Format returns the format the engine actually captures in.
	Format() Format
}

// Host opens capture engines against the platform audio API.
type Host interface {
	OpenEngine(cfg EngineConfig) (Engine, error)
	ListDevices() ([]Device, error)
	Close() error
}
