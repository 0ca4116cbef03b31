// Package history keeps the in-session sequence of HTML snapshots for one document.
package history

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned by Current when no snapshot has been recorded yet.
var ErrEmpty = errors.New("history is empty")

// Entry is an immutable (version, snapshot) pair.
type Entry struct {
	ID   int    `json:"id"`
	HTML string `json:"html"`
}

// History is an append-only, linear sequence of entries with a pointer to the current one.
// Ids are strictly increasing by 1. It is not safe for concurrent use; Session serialises access.
type History struct {
	entries []Entry
	current int // index into entries, -1 when empty
}

func New() *History {
	return &History{current: -1}
}

// Append records html as the next version and makes it current.
// After an undo the new entry still follows the highest id; earlier entries are kept.
func (h *History) Append(html string) int {
	id := 1
	if n := len(h.entries); n > 0 {
		id = h.entries[n-1].ID + 1
	}
	h.entries = append(h.entries, Entry{ID: id, HTML: html})
	h.current = len(h.entries) - 1
	return id
}

func (h *History) Current() (Entry, error) {
	if h.current < 0 {
		return Entry{}, ErrEmpty
	}
	return h.entries[h.current], nil
}

// Undo steps the pointer back one entry. It reports false and leaves state untouched
// when the pointer is already at the first entry.
func (h *History) Undo() (Entry, bool) {
	if h.current <= 0 {
		return Entry{}, false
	}
	h.current--
	return h.entries[h.current], true
}

// ReplaceAll re-initialises the sequence from externally loaded state.
func (h *History) ReplaceAll(entries []Entry, currentID int) error {
	if len(entries) == 0 {
		return errors.New("replace history: no entries")
	}
	idx := -1
	for i, e := range entries {
		if e.ID <= 0 {
			return fmt.Errorf("replace history: invalid version id %d", e.ID)
		}
		if i > 0 && e.ID != entries[i-1].ID+1 {
			return fmt.Errorf("replace history: version %d does not follow %d", e.ID, entries[i-1].ID)
		}
		if e.ID == currentID {
			idx = i
		}
	}
	if idx < 0 {
		return fmt.Errorf("replace history: current version %d not in entries", currentID)
	}

	h.entries = append(h.entries[:0:0], entries...)
	h.current = idx
	return nil
}

func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of the sequence in ascending id order.
func (h *History) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
