// Package correlation maps playback IDs handed to the audio server back to
// the say request that caused them.
package correlation

import (
	"sync"
	"time"
)

// Entry describes the request behind an issued playback.
type Entry struct {
	RequestID string
	SessionID string
	SiteID    string
	IssuedAt  time.Time
}

// Table is safe for concurrent use. Entries whose playFinished never arrives
// stay for the life of the process.
type Table struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Record registers playbackID. An ID that is already present is left as is.
func (t *Table) Record(playbackID string, e Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[playbackID]; ok {
		return false
	}
	t.entries[playbackID] = e
	return true
}

// Resolve removes and returns the entry for playbackID. A second call for
// the same ID reports false.
func (t *Table) Resolve(playbackID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[playbackID]
	if ok {
		delete(t.entries, playbackID)
	}
	return e, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
