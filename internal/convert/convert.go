// Package convert turns the compressed audio returned by a synthesis backend
// into WAV that Hermes audio servers can play.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/hermes-tts/internal/config"
)

var ErrConversionFailed = errors.New("audio conversion failed")

// Converter reads compressed audio from src and writes playable audio to dst.
// Implementations must not leave dst behind on failure.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

func New(cfg config.ConverterConfig) (Converter, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecConverter(cfg.Command)
	case "native":
		return NativeConverter{}, nil
	default:
		return nil, fmt.Errorf("unknown converter mode %q", cfg.Mode)
	}
}
