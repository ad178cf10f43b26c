package convert

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to interleaved 16-bit little-endian stereo.
const (
	mp3Channels = 2
	bitDepth    = 16
	readSize    = 16 * 1024
)

// NativeConverter decodes MP3 in-process, so no mpg123 binary is needed.
type NativeConverter struct{}

func (NativeConverter) Convert(ctx context.Context, src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrConversionFailed, src, err)
	}
	defer in.Close()

	dec, err := mp3.NewDecoder(in)
	if err != nil {
		return fmt.Errorf("%w: decode mp3: %v", ErrConversionFailed, err)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrConversionFailed, dst, err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(dst)
		}
	}()

	if err := writeWAV(ctx, out, dec, dec.SampleRate(), mp3Channels); err != nil {
		return fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	return nil
}

// writeWAV streams 16-bit little-endian PCM from r into a WAV container.
func writeWAV(ctx context.Context, w io.WriteSeeker, r io.Reader, sampleRate, channels int) error {
	enc := wav.NewEncoder(w, sampleRate, bitDepth, channels, 1)
	format := &audio.Format{NumChannels: channels, SampleRate: sampleRate}

	buf := make([]byte, readSize)
	var total int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := io.ReadFull(r, buf)
		n -= n % 2
		if n > 0 {
			samples := make([]int, n/2)
			for i := range samples {
				samples[i] = int(int16(binary.LittleEndian.Uint16(buf[i*2:])))
			}
			if err := enc.Write(&audio.IntBuffer{Format: format, Data: samples, SourceBitDepth: bitDepth}); err != nil {
				return fmt.Errorf("write wav: %w", err)
			}
			total += len(samples)
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read pcm: %w", readErr)
		}
	}
	if total == 0 {
		return errors.New("no audio frames decoded")
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
