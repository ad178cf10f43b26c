package convert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// ExecConverter runs an external tool such as mpg123. The command template
// must contain the {input} and {output} placeholders.
type ExecConverter struct {
	args []string
}

func NewExecConverter(command string) (*ExecConverter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse converter command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("converter command empty")
	}
	return &ExecConverter{args: args}, nil
}

func (e *ExecConverter) Convert(ctx context.Context, src, dst string) error {
	args := make([]string, len(e.args))
	for i, a := range e.args {
		a = strings.ReplaceAll(a, "{input}", src)
		args[i] = strings.ReplaceAll(a, "{output}", dst)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("%w: %s: %v: %s", ErrConversionFailed, args[0], err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		os.Remove(dst)
		return fmt.Errorf("%w: %s produced no output", ErrConversionFailed, args[0])
	}
	return nil
}
