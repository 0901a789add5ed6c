package audio

import "fmt"

// SampleConverter converts planar capture blocks to a fixed target format.
// Conversion is ratio-based linear interpolation; good enough for speech
// headed into a transcription model. Create one per use; the zero value is
// not valid.
type SampleConverter struct {
	target Format
}

// NewSampleConverter builds a converter for the given target format. Only
// mono targets are supported; the capture pipeline always converts to
// [CanonicalFormat].
func NewSampleConverter(target Format) (*SampleConverter, error) {
	if !target.valid() {
		return nil, fmt.Errorf("invalid target format %s", target)
	}
	if target.Channels != 1 {
		return nil, fmt.Errorf("unsupported target format %s: only mono targets are supported", target)
	}
	return &SampleConverter{target: target}, nil
}

// Convert turns a planar source block into target-format samples. Channels
// are averaged down to mono first so only a single channel is resampled.
// The output length is proportional to frames * targetRate / sourceRate.
//
// An empty source block converts to an empty output with a nil error;
// a malformed block (bad format, ragged channels) is an error.
func (c *SampleConverter) Convert(data [][]float32, src Format) ([]float32, error) {
	if !src.valid() {
		return nil, fmt.Errorf("invalid source format %s", src)
	}
	if len(data) != src.Channels {
		return nil, fmt.Errorf("source format %s does not match %d data channels", src, len(data))
	}
	frames := len(data[0])
	for i, ch := range data {
		if len(ch) != frames {
			return nil, fmt.Errorf("ragged source block: channel 0 has %d frames, channel %d has %d", frames, i, len(ch))
		}
	}
	if frames == 0 {
		return []float32{}, nil
	}

	mono := downmix(data)
	if src.SampleRate == c.target.SampleRate {
		return mono, nil
	}
	return resample(mono, src.SampleRate, c.target.SampleRate), nil
}

// downmix averages planar channels into a single mono channel. Mono input is
// copied so the caller never aliases tap-owned memory.
func downmix(data [][]float32) []float32 {
	frames := len(data[0])
	out := make([]float32, frames)
	if len(data) == 1 {
		copy(out, data[0])
		return out
	}
	scale := 1.0 / float32(len(data))
	for i := 0; i < frames; i++ {
		var sum float32
		for _, ch := range data {
			sum += ch[i]
		}
		out[i] = sum * scale
	}
	return out
}

// resample converts mono samples from srcRate to dstRate using linear
// interpolation. Both rates must be positive; equal rates return the input
// unchanged.
func resample(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	dstSamples := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return []float32{}
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := in[srcIdx]
		s1 := s0
		if srcIdx+1 < len(in) {
			s1 = in[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
