//go:build !whispercpp

package engine

import "github.com/rs/zerolog"

// NativeAvailable reports whether the whisper.cpp backend is compiled in.
func NativeAvailable() bool { return false }

// NewWhisperEngine returns ErrEngineUnavailable when the native backend
// is not built (build with -tags whispercpp to enable it).
func NewWhisperEngine(modelPath string, log zerolog.Logger) (Engine, error) {
	return nil, ErrEngineUnavailable
}
