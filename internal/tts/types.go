package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/hermes-tts/internal/config"
)

// FormatMP3 is the compressed format requested from every backend.
const FormatMP3 = "mp3"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	Text   string
	Voice  string
	Format string
}

// Synthesizer is the contract for producing compressed audio for a text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
}

// New builds the synthesizer selected by cfg.Mode.
func New(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "polly":
		return NewPollySynth(ctx, cfg)
	case "exec":
		return NewExecSynth(cfg.Command)
	case "mock":
		return NewMockSynth(), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
