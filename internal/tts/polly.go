package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/loqalabs/hermes-tts/internal/config"
)

// speechAPI is the slice of the Polly client used here.
type speechAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type pollySynth struct {
	api        speechAPI
	engine     string
	sampleRate string
}

// NewPollySynth uses the default AWS credential chain (environment, shared
// config, instance role).
func NewPollySynth(ctx context.Context, cfg config.TTSConfig) (Synthesizer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newPollySynth(polly.NewFromConfig(awsCfg), cfg), nil
}

func newPollySynth(api speechAPI, cfg config.TTSConfig) *pollySynth {
	return &pollySynth{api: api, engine: cfg.Engine, sampleRate: cfg.SampleRate}
}

func (p *pollySynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	format := req.Format
	if format == "" {
		format = FormatMP3
	}
	input := &polly.SynthesizeSpeechInput{
		OutputFormat: types.OutputFormat(format),
		Text:         aws.String(req.Text),
		VoiceId:      types.VoiceId(req.Voice),
	}
	if p.engine != "" {
		input.Engine = types.Engine(p.engine)
	}
	if p.sampleRate != "" {
		input.SampleRate = aws.String(p.sampleRate)
	}

	out, err := p.api.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, NewSynthesisError("polly", req.Voice, err)
	}
	if out.AudioStream == nil {
		return nil, NewSynthesisError("polly", req.Voice, errors.New("empty audio stream"))
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, NewSynthesisError("polly", req.Voice, fmt.Errorf("read audio stream: %w", err))
	}
	if len(data) == 0 {
		return nil, NewSynthesisError("polly", req.Voice, errors.New("empty audio stream"))
	}
	return data, nil
}
