package engine

import (
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// engineSampleRate is the only sample rate whisper accepts. Inputs are
// expected to be preprocessed to 16 kHz mono PCM upstream.
const engineSampleRate = 16000

// loadWAV decodes a WAV file into normalized mono float32 samples and
// returns the audio duration in seconds.
func loadWAV(path string) ([]float32, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid WAV file", path)
	}

	dur, err := dec.Duration()
	if err != nil {
		return nil, 0, fmt.Errorf("read audio duration: %w", err)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode audio: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 || buf.Format.SampleRate != engineSampleRate {
		return nil, 0, fmt.Errorf(
			"audio must be mono %d Hz PCM, got %v (preprocess the input first)",
			engineSampleRate, buf.Format,
		)
	}

	// Normalize integer PCM into [-1, 1].
	scale := float32(int(1) << (buf.SourceBitDepth - 1))
	if buf.SourceBitDepth == 0 {
		scale = 1 << 15
	}
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}

	return samples, dur.Seconds(), nil
}
