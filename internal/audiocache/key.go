package audiocache

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key names a cached utterance. It doubles as the file name stem.
type Key string

// DeriveKey returns "{voice}-{md5(text)}". The digest matches the naming used
// by existing Snips TTS caches so their files are picked up as hits.
func DeriveKey(voice, text string) Key {
	sum := md5.Sum([]byte(text))
	return Key(escapeVoice(voice) + "-" + hex.EncodeToString(sum[:]))
}

// escapeVoice keeps [A-Za-z0-9_-] and percent-encodes every other byte, so
// distinct voices always yield distinct, path-safe stems.
func escapeVoice(voice string) string {
	var b strings.Builder
	for i := 0; i < len(voice); i++ {
		c := voice[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
