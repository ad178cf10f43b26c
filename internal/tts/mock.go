package tts

import (
	"context"
	"errors"
)

// mockSynth echoes the request back as "audio". Pair it with a copying
// converter (cp {input} {output}) for dry runs without cloud access.
type mockSynth struct{}

func NewMockSynth() Synthesizer {
	return mockSynth{}
}

func (mockSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewSynthesisError("mock", req.Voice, err)
	}
	if req.Text == "" {
		return nil, NewSynthesisError("mock", req.Voice, errors.New("empty text"))
	}
	return []byte(req.Voice + ":" + req.Text), nil
}
