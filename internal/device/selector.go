// Package device probes available compute backends and picks a
// (device, precision) pair for the speech engine.
package device

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Preference is the caller-requested device policy.
type Preference string

const (
	PreferenceAuto        Preference = "auto"
	PreferenceAccelerated Preference = "cuda"
	PreferenceCPUOnly     Preference = "cpu"
)

// ParsePreference maps a CLI/config string onto a Preference, defaulting
// to auto for anything unrecognized.
func ParsePreference(raw string) Preference {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cuda", "gpu", "accelerated":
		return PreferenceAccelerated
	case "cpu", "cpu_only":
		return PreferenceCPUOnly
	default:
		return PreferenceAuto
	}
}

const (
	DeviceCUDA = "cuda"
	DeviceCPU  = "cpu"

	PrecisionFloat16 = "float16"
	PrecisionInt8    = "int8"
)

// Selection is a resolved (device, precision) pair.
type Selection struct {
	Device    string
	Precision string
}

func (s Selection) String() string {
	return fmt.Sprintf("%s/%s", s.Device, s.Precision)
}

// cpuFloor is the guaranteed fallback when no accelerator is usable.
var cpuFloor = Selection{Device: DeviceCPU, Precision: PrecisionInt8}

// Probe reports the precision formats supported by the accelerated
// backend. An error or an empty list means no accelerator is usable.
type Probe func() ([]string, error)

// DefaultProbe detects an NVIDIA accelerator through nvidia-smi. Modern
// GPUs reachable that way all support reduced-precision float inference.
func DefaultProbe() ([]string, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil, fmt.Errorf("no accelerator tooling found: %w", err)
	}
	out, err := exec.Command(path, "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return nil, fmt.Errorf("accelerator probe failed: %w", err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return nil, fmt.Errorf("no accelerator devices reported")
	}
	return []string{PrecisionFloat16, PrecisionInt8}, nil
}

// Selector resolves a device preference into a concrete selection.
type Selector struct {
	probe Probe
	log   zerolog.Logger
}

// NewSelector creates a selector. A nil probe uses DefaultProbe.
func NewSelector(probe Probe, log zerolog.Logger) *Selector {
	if probe == nil {
		probe = DefaultProbe
	}
	return &Selector{probe: probe, log: log}
}

// Select picks the best available (device, precision) pair. It never
// fails: probe errors are expected on machines without accelerator
// hardware, so they are logged and resolved to the CPU floor.
func (s *Selector) Select(pref Preference) Selection {
	if pref == PreferenceCPUOnly {
		return cpuFloor
	}

	precisions, err := s.probe()
	if err != nil {
		s.log.Debug().Err(err).Msg("accelerator probe failed, falling back to CPU")
		return cpuFloor
	}
	if len(precisions) == 0 {
		s.log.Debug().Msg("accelerator reports no usable precision, falling back to CPU")
		return cpuFloor
	}

	for _, p := range precisions {
		if p == PrecisionFloat16 {
			return Selection{Device: DeviceCUDA, Precision: PrecisionFloat16}
		}
	}
	return Selection{Device: DeviceCUDA, Precision: PrecisionInt8}
}
