// Package audiocache stores synthesized utterances as playable WAV files
// addressed by voice and text. Entries are never evicted.
package audiocache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/hermes-tts/internal/convert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	compressedExt = ".mp3"
	playableExt   = ".wav"
)

type Cache struct {
	dir       string
	converter convert.Converter
	log       *slog.Logger
	hits      metric.Int64Counter
	misses    metric.Int64Counter
}

func New(dir string, converter convert.Converter, log *slog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:       dir,
		converter: converter,
		log:       log.With(slog.String("component", "audio-cache")),
	}

	meter := otel.Meter("github.com/loqalabs/hermes-tts/audiocache")
	var err error
	if c.hits, err = meter.Int64Counter("hermes_tts.cache.hits", metric.WithDescription("Utterances served from the audio cache")); err != nil {
		return nil, err
	}
	if c.misses, err = meter.Int64Counter("hermes_tts.cache.misses", metric.WithDescription("Utterances not found in the audio cache")); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the playable file location for key.
func (c *Cache) Path(key Key) string {
	return filepath.Join(c.dir, string(key)+playableExt)
}

func (c *Cache) Exists(ctx context.Context, key Key) bool {
	info, err := os.Stat(c.Path(key))
	ok := err == nil && info.Mode().IsRegular() && info.Size() > 0
	if ok {
		c.hits.Add(ctx, 1)
	} else {
		c.misses.Add(ctx, 1)
	}
	return ok
}

func (c *Cache) Read(key Key) ([]byte, error) {
	data, err := os.ReadFile(c.Path(key))
	if err != nil {
		return nil, fmt.Errorf("read cached audio: %w", err)
	}
	return data, nil
}

// Write stores compressed audio under key, converts it to the playable
// format and returns the playable path. The compressed file never outlives
// the call, and the playable file only appears once conversion succeeded.
func (c *Cache) Write(ctx context.Context, key Key, compressed []byte) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	src := filepath.Join(c.dir, string(key)+compressedExt)
	defer os.Remove(src)
	if err := os.WriteFile(src, compressed, 0o644); err != nil {
		return "", fmt.Errorf("write compressed audio: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, string(key)+"-*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := c.converter.Convert(ctx, src, tmpPath); err != nil {
		return "", err
	}

	dst := c.Path(key)
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("publish cached audio: %w", err)
	}
	c.log.Debug("cached utterance", slog.String("key", string(key)), slog.String("path", dst))
	return dst, nil
}
