package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

const defaultFramesPerBuffer = 512

// paHost is the PortAudio-backed Host. One Initialize/Terminate pair brackets
// the host's lifetime; engines are opened and torn down within it.
type paHost struct {
	log zerolog.Logger
}

// NewHost initializes PortAudio and returns the production capture host.
// Close terminates the library, so keep exactly one host per process.
func NewHost(log zerolog.Logger) (Host, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &paHost{log: log.With().Str("component", "portaudio").Logger()}, nil
}

func (h *paHost) OpenEngine(cfg EngineConfig) (Engine, error) {
	dev, err := resolveDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	format := pickFormat(cfg.Format, dev.MaxInputChannels, dev.DefaultSampleRate)
	frames := cfg.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}

	// Non-interleaved stream: one buffer per channel, matching FrameBatch.
	buf := make([][]float32, format.Channels)
	for ch := range buf {
		buf[ch] = make([]float32, frames)
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: frames,
	}, buf)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", dev.Name, err)
	}

	h.log.Debug().
		Str("device", dev.Name).
		Stringer("format", format).
		Int("frames_per_buffer", frames).
		Msg("Stream opened")

	return &paEngine{
		stream: stream,
		buf:    buf,
		format: format,
		cfg:    cfg,
		log:    h.log,
	}, nil
}

func (h *paHost) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}
	return result, nil
}

func (h *paHost) Close() error {
	return portaudio.Terminate()
}

func resolveDevice(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == id && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", id)
}

// pickFormat fills zero fields of the requested format from the device
// defaults and clamps the channel count to what the device can open.
func pickFormat(req Format, maxChannels int, defaultRate float64) Format {
	f := req
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if maxChannels > 0 && f.Channels > maxChannels {
		f.Channels = maxChannels
	}
	if f.SampleRate <= 0 {
		f.SampleRate = int(defaultRate)
	}
	return f
}

// paEngine is one open PortAudio input stream driven by a blocking read loop.
type paEngine struct {
	stream *portaudio.Stream
	buf    [][]float32
	format Format
	cfg    EngineConfig
	log    zerolog.Logger

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

func (e *paEngine) Start() error {
	if err := e.stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	e.running.Store(true)
	e.done = make(chan struct{})
	go e.readLoop()
	return nil
}

func (e *paEngine) readLoop() {
	defer close(e.done)
	for e.running.Load() {
		err := e.stream.Read()
		if err != nil && !recoverableReadError(err) {
			// A read error on a stream we did not stop ourselves means the
			// device went away under us. Report it as a topology change and
			// leave teardown to the session.
			if e.running.CompareAndSwap(true, false) {
				e.log.Warn().Err(err).Msg("Input stream died")
				if e.cfg.OnConfigChange != nil {
					e.cfg.OnConfigChange()
				}
			}
			return
		}
		if err != nil {
			e.log.Debug().Err(err).Msg("Input overflow, device dropped samples")
		}
		if !e.running.Load() {
			return
		}
		if e.cfg.Tap != nil {
			e.cfg.Tap(FrameBatch{Data: clonePlanar(e.buf), Format: e.format})
		}
	}
}

// Stop aborts the stream and joins the read loop, so no tap fires after it
// returns. Safe to call on a never-started engine and safe to call twice.
func (e *paEngine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		// Abort rather than Stop: Stop waits for pending buffers while Read
		// holds the stream, Abort unblocks the reader immediately.
		_ = e.stream.Abort()
		if e.done != nil {
			<-e.done
		}
		_ = e.stream.Close()
	})
}

func (e *paEngine) Running() bool { return e.running.Load() }

func (e *paEngine) Format() Format { return e.format }

// recoverableReadError reports whether a stream read still filled the buffer
// with valid samples. Input overflow means the device discarded audio while
// the reader was behind, not that the stream is dead.
func recoverableReadError(err error) bool {
	return errors.Is(err, portaudio.InputOverflowed)
}

// clonePlanar deep-copies the stream buffer so the tap receives memory
// PortAudio will never rewrite.
func clonePlanar(src [][]float32) [][]float32 {
	out := make([][]float32, len(src))
	for ch := range src {
		out[ch] = append([]float32(nil), src[ch]...)
	}
	return out
}
