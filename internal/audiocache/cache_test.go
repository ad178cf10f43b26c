package audiocache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/hermes-tts/internal/convert"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// upperConverter "plays" audio by upper-casing the compressed bytes.
type upperConverter struct {
	fail bool
}

func (u upperConverter) Convert(_ context.Context, src, dst string) error {
	if u.fail {
		// leave a half-written file like a crashing decoder would
		_ = os.WriteFile(dst, []byte("partial"), 0o644)
		return convert.ErrConversionFailed
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, []byte(strings.ToUpper(string(data))), 0o644)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey("Marlene", "hello")
	b := DeriveKey("Marlene", "hello")
	if a != b {
		t.Fatalf("expected identical keys, got %s and %s", a, b)
	}
	if a != "Marlene-5d41402abc4b2a76b9719d911017c592" {
		t.Fatalf("unexpected key %s", a)
	}
	if DeriveKey("Marlene", "hello!") == a {
		t.Fatal("expected different text to yield a different key")
	}
	if DeriveKey("Hans", "hello") == a {
		t.Fatal("expected different voice to yield a different key")
	}
}

func TestDeriveKeyEscapesVoice(t *testing.T) {
	key := DeriveKey("../etc", "hello")
	if strings.ContainsAny(string(key), "./") {
		t.Fatalf("expected path-safe key, got %s", key)
	}
	if key != "%2E%2E%2Fetc-5d41402abc4b2a76b9719d911017c592" {
		t.Fatalf("unexpected escaped key %s", key)
	}
}

func TestDeriveKeyVoicePunctuationDistinct(t *testing.T) {
	voices := []string{"Marlene.", "Marlene/", "Marlene_", "Marlene%2E", "Marlene"}
	seen := make(map[Key]string)
	for _, v := range voices {
		key := DeriveKey(v, "hello")
		if prev, ok := seen[key]; ok {
			t.Fatalf("voices %q and %q share key %s", prev, v, key)
		}
		seen[key] = v
	}
}

func TestWriteThenRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tts")
	c, err := New(dir, upperConverter{}, newLogger())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	key := DeriveKey("Marlene", "hello")

	if c.Exists(ctx, key) {
		t.Fatal("expected empty cache")
	}
	path, err := c.Write(ctx, key, []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != filepath.Join(dir, string(key)+".wav") {
		t.Fatalf("unexpected path %s", path)
	}
	if !c.Exists(ctx, key) {
		t.Fatal("expected cache hit after write")
	}
	data, err := c.Read(key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "MP3-BYTES" {
		t.Fatalf("unexpected data %q", data)
	}
	assertOnlyFiles(t, dir, string(key)+".wav")
}

func TestWriteConversionFailure(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, upperConverter{fail: true}, newLogger())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	key := DeriveKey("Marlene", "hello")

	_, err = c.Write(ctx, key, []byte("mp3-bytes"))
	if !errors.Is(err, convert.ErrConversionFailed) {
		t.Fatalf("expected ErrConversionFailed, got %v", err)
	}
	if c.Exists(ctx, key) {
		t.Fatal("expected no playable file after failed conversion")
	}
	assertOnlyFiles(t, dir)
}

func TestWriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, upperConverter{}, newLogger())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	key := DeriveKey("Marlene", "hello")
	if _, err := c.Write(ctx, key, []byte("first")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.Write(ctx, key, []byte("second")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := c.Read(key)
	if err != nil || string(data) != "SECOND" {
		t.Fatalf("expected last writer to win, got %q, %v", data, err)
	}
}

func assertOnlyFiles(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected cache contents %v, want %v", got, want)
	}
}
