package audio

import (
	"math"
	"testing"
)

func newTestConverter(t *testing.T) *SampleConverter {
	t.Helper()
	conv, err := NewSampleConverter(CanonicalFormat())
	if err != nil {
		t.Fatalf("NewSampleConverter: %v", err)
	}
	return conv
}

func TestNewSampleConverterRejectsBadTargets(t *testing.T) {
	if _, err := NewSampleConverter(Format{SampleRate: 0, Channels: 1}); err == nil {
		t.Error("expected error for zero sample rate")
	}
	if _, err := NewSampleConverter(Format{SampleRate: 16000, Channels: 2}); err == nil {
		t.Error("expected error for non-mono target")
	}
}

func TestConvertMonoPassthrough(t *testing.T) {
	conv := newTestConverter(t)
	src := []float32{0.1, 0.2, 0.3, 0.4}

	got, err := conv.Convert([][]float32{src}, Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	assertSamples(t, got, src)

	if &got[0] == &src[0] {
		t.Fatal("expected converted samples to be copied into a new slice")
	}
}

func TestConvertStereoAverage(t *testing.T) {
	conv := newTestConverter(t)
	left := []float32{0.0, 0.5, 1.0, -0.5}
	right := []float32{1.0, 0.5, 0.0, 0.5}

	got, err := conv.Convert([][]float32{left, right}, Format{SampleRate: 16000, Channels: 2})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	assertSamples(t, got, []float32{0.5, 0.5, 0.5, 0.0})
}

func TestConvertThreeChannelAverage(t *testing.T) {
	conv := newTestConverter(t)
	data := [][]float32{
		{1, 2},
		{3, 4},
		{5, 6},
	}

	got, err := conv.Convert(data, Format{SampleRate: 16000, Channels: 3})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	assertSamples(t, got, []float32{3, 4})
}

func TestConvertDownsamplesProportionally(t *testing.T) {
	conv := newTestConverter(t)

	// One second of a constant signal at 48 kHz should become one second
	// at 16 kHz with the value preserved.
	src := make([]float32, 48000)
	for i := range src {
		src[i] = 0.25
	}

	got, err := conv.Convert([][]float32{src}, Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(got) != 16000 {
		t.Fatalf("expected 16000 output samples, got %d", len(got))
	}
	for i, s := range got {
		if math.Abs(float64(s)-0.25) > 1e-6 {
			t.Fatalf("sample %d: expected 0.25, got %f", i, s)
		}
	}
}

func TestConvertUpsamplesProportionally(t *testing.T) {
	conv := newTestConverter(t)
	src := make([]float32, 8000)

	got, err := conv.Convert([][]float32{src}, Format{SampleRate: 8000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(got) != 16000 {
		t.Fatalf("expected 16000 output samples, got %d", len(got))
	}
}

func TestConvertInterpolatesBetweenSamples(t *testing.T) {
	conv := newTestConverter(t)

	// Halving 32 kHz to 16 kHz picks every other source position exactly.
	src := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	got, err := conv.Convert([][]float32{src}, Format{SampleRate: 32000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	assertSamples(t, got, []float32{0, 2, 4, 6})
}

func TestConvertEmptyInputIsNotAnError(t *testing.T) {
	conv := newTestConverter(t)

	got, err := conv.Convert([][]float32{{}}, Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("expected nil error for empty input, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d samples", len(got))
	}
}

func TestConvertRejectsMalformedInput(t *testing.T) {
	conv := newTestConverter(t)

	tests := []struct {
		name string
		data [][]float32
		src  Format
	}{
		{
			name: "zero sample rate",
			data: [][]float32{{0.1}},
			src:  Format{SampleRate: 0, Channels: 1},
		},
		{
			name: "zero channels",
			data: [][]float32{},
			src:  Format{SampleRate: 48000, Channels: 0},
		},
		{
			name: "channel count mismatch",
			data: [][]float32{{0.1}},
			src:  Format{SampleRate: 48000, Channels: 2},
		},
		{
			name: "ragged channels",
			data: [][]float32{{0.1, 0.2}, {0.1}},
			src:  Format{SampleRate: 48000, Channels: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := conv.Convert(tt.data, tt.src); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
