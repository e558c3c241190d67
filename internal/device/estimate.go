package device

import "strings"

// Real-time factors: how many seconds of audio each model transcribes per
// wall-clock second. Rough numbers measured on a recent desktop GPU and a
// recent desktop CPU.
var (
	rtfCUDA = map[string]float64{
		"tiny":     50.0,
		"base":     40.0,
		"small":    30.0,
		"medium":   20.0,
		"large-v2": 15.0,
		"large-v3": 15.0,
	}
	rtfCPU = map[string]float64{
		"tiny":     5.0,
		"base":     3.0,
		"small":    1.5,
		"medium":   0.5,
		"large-v2": 0.2,
		"large-v3": 0.2,
	}
)

// EstimateTranscriptionTime returns a rough wall-clock estimate, in
// seconds, for transcribing audioDuration seconds of audio.
func EstimateTranscriptionTime(audioDuration float64, model, dev string) float64 {
	table := rtfCPU
	if dev == DeviceCUDA {
		table = rtfCUDA
	}
	// "base.en" uses the "base" factor.
	key, _, _ := strings.Cut(model, ".")
	rtf, ok := table[key]
	if !ok {
		rtf = 10.0
	}
	return audioDuration / rtf
}
