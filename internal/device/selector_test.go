package device

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestSelect_CPUOnlyPreference(t *testing.T) {
	probeCalled := false
	s := NewSelector(func() ([]string, error) {
		probeCalled = true
		return []string{PrecisionFloat16}, nil
	}, zerolog.Nop())

	sel := s.Select(PreferenceCPUOnly)
	if sel.Device != DeviceCPU || sel.Precision != PrecisionInt8 {
		t.Errorf("Expected cpu/int8 for cpu-only preference, got %s", sel)
	}
	if probeCalled {
		t.Error("Expected cpu-only preference to skip the probe")
	}
}

func TestSelect_ProbeErrorFallsBackToCPU(t *testing.T) {
	s := NewSelector(func() ([]string, error) {
		return nil, errors.New("no driver")
	}, zerolog.Nop())

	sel := s.Select(PreferenceAuto)
	if sel.Device != DeviceCPU || sel.Precision != PrecisionInt8 {
		t.Errorf("Expected cpu/int8 fallback on probe error, got %s", sel)
	}
}

func TestSelect_EmptyProbeFallsBackToCPU(t *testing.T) {
	s := NewSelector(func() ([]string, error) {
		return nil, nil
	}, zerolog.Nop())

	sel := s.Select(PreferenceAccelerated)
	if sel.Device != DeviceCPU || sel.Precision != PrecisionInt8 {
		t.Errorf("Expected cpu/int8 fallback on empty probe, got %s", sel)
	}
}

func TestSelect_PrefersFloat16(t *testing.T) {
	s := NewSelector(func() ([]string, error) {
		return []string{PrecisionInt8, PrecisionFloat16}, nil
	}, zerolog.Nop())

	sel := s.Select(PreferenceAuto)
	if sel.Device != DeviceCUDA || sel.Precision != PrecisionFloat16 {
		t.Errorf("Expected cuda/float16, got %s", sel)
	}
}

func TestSelect_Int8OnlyAccelerator(t *testing.T) {
	s := NewSelector(func() ([]string, error) {
		return []string{PrecisionInt8}, nil
	}, zerolog.Nop())

	sel := s.Select(PreferenceAuto)
	if sel.Device != DeviceCUDA || sel.Precision != PrecisionInt8 {
		t.Errorf("Expected cuda/int8, got %s", sel)
	}
}

func TestSelect_AlwaysResolves(t *testing.T) {
	s := NewSelector(func() ([]string, error) {
		return nil, errors.New("boom")
	}, zerolog.Nop())
	for _, pref := range []Preference{PreferenceAuto, PreferenceAccelerated, PreferenceCPUOnly} {
		sel := s.Select(pref)
		if sel.Device == "" || sel.Precision == "" {
			t.Errorf("Expected a concrete selection for %q, got %s", pref, sel)
		}
	}
}

func TestParsePreference(t *testing.T) {
	tests := []struct {
		raw  string
		want Preference
	}{
		{"auto", PreferenceAuto},
		{"cuda", PreferenceAccelerated},
		{"GPU", PreferenceAccelerated},
		{"cpu", PreferenceCPUOnly},
		{"cpu_only", PreferenceCPUOnly},
		{"nonsense", PreferenceAuto},
		{"", PreferenceAuto},
	}
	for _, tt := range tests {
		if got := ParsePreference(tt.raw); got != tt.want {
			t.Errorf("ParsePreference(%q): expected %q, got %q", tt.raw, tt.want, got)
		}
	}
}

func TestEstimateTranscriptionTime(t *testing.T) {
	// 150s of audio on cuda with large-v3 (15x realtime) is 10s.
	if got := EstimateTranscriptionTime(150, "large-v3", DeviceCUDA); got != 10.0 {
		t.Errorf("Expected 10s estimate, got %.1f", got)
	}
	// "base.en" uses the "base" factor.
	if got := EstimateTranscriptionTime(120, "base.en", DeviceCPU); got != 40.0 {
		t.Errorf("Expected 40s estimate for base.en on cpu, got %.1f", got)
	}
	// Unknown models fall back to a conservative factor.
	if got := EstimateTranscriptionTime(100, "mystery", DeviceCPU); got != 10.0 {
		t.Errorf("Expected fallback estimate 10s, got %.1f", got)
	}
}
