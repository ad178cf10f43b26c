package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execSynth runs a local command that reads an execRequest as JSON on stdin
// and writes the encoded audio to stdout.
type execSynth struct {
	cmd []string
}

type execRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	format := req.Format
	if format == "" {
		format = FormatMP3
	}
	data, err := json.Marshal(execRequest{Text: req.Text, Voice: req.Voice, Format: format})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, NewSynthesisError("exec", req.Voice, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	if stdout.Len() == 0 {
		return nil, NewSynthesisError("exec", req.Voice, errors.New("command produced no audio"))
	}
	return stdout.Bytes(), nil
}
