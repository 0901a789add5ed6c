package audio

// StopReason explains the outcome of a capture session at stop time. A
// session either produced samples (ReasonOK) or carries one of the
// zero-capture reasons; zero-capture outcomes are values, never errors.
type StopReason int

const (
	// ReasonOK means the session produced converted samples.
	ReasonOK StopReason = iota

	// ReasonNotCapturing means Stop was called with no capture in flight.
	ReasonNotCapturing

	// ReasonNoRawBuffers means the engine ran but no raw batches were
	// collected.
	ReasonNoRawBuffers

	// ReasonConfigChanged means a hardware reconfiguration event fired
	// during the session. Usually transient and worth a silent retry.
	ReasonConfigChanged

	// ReasonEngineStopped means no tap ever fired and the engine was no
	// longer running at stop time. Typically a permission or startup race.
	ReasonEngineStopped

	// ReasonZeroFrames means raw batches were collected but concatenation
	// produced no frames.
	ReasonZeroFrames

	// ReasonConversionFailed means conversion to the canonical format
	// failed.
	ReasonConversionFailed
)

func (r StopReason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonNotCapturing:
		return "not_capturing"
	case ReasonNoRawBuffers:
		return "no_raw_buffers"
	case ReasonConfigChanged:
		return "config_changed"
	case ReasonEngineStopped:
		return "engine_stopped_before_first_tap"
	case ReasonZeroFrames:
		return "zero_frames"
	case ReasonConversionFailed:
		return "conversion_failed"
	default:
		return "unknown"
	}
}

// Retriable reports whether the outcome is transient enough that the caller
// should retry silently instead of surfacing an error to the user.
func (r StopReason) Retriable() bool {
	return r == ReasonConfigChanged
}

// Classify maps end-of-session observations to the reason nothing was
// captured. Only meaningful when zero raw batches were drained; a session
// with at least one usable batch proceeds to conversion instead.
//
// First match wins: a reconfiguration event trumps everything because the
// device changing under us invalidates the other signals; an engine that
// never got going (no tap, not running) is distinguished from an engine that
// ran fine yet produced nothing we collected.
func Classify(didReceiveTap, engineWasRunning, configChanged bool) StopReason {
	switch {
	case configChanged:
		return ReasonConfigChanged
	case !didReceiveTap && !engineWasRunning:
		return ReasonEngineStopped
	default:
		return ReasonNoRawBuffers
	}
}
