package playback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"kiosk/internal/fileutil"
)

// Item is one entry in the playback rotation. Path always points at a
// verified file under the media root; AssetID is empty for items resolved
// from bare file references.
type Item struct {
	AssetID        string  `json:"assetId,omitempty"`
	Path           string  `json:"path"`
	Title          string  `json:"title,omitempty"`
	DurationSec    float64 `json:"durationSec,omitempty"`
	VolumeOverride *int    `json:"volumeOverride,omitempty"`
}

// Queue is the ordered rotation plus the cursor into it. The cursor may sit
// one past the last item, which marks a non-looping rotation as exhausted.
// Queue is not safe for concurrent use; the scheduler goroutine owns it.
type Queue struct {
	items   []Item
	current int
	loop    bool
}

// NewQueue returns an empty rotation with the given loop mode.
func NewQueue(loop bool) *Queue {
	return &Queue{loop: loop}
}

// Len returns the number of items in the rotation.
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns a copy of the rotation in order.
func (q *Queue) Items() []Item {
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// CurrentIndex returns the cursor position.
func (q *Queue) CurrentIndex() int {
	return q.current
}

// Current returns the item under the cursor, or false when the rotation is
// empty or exhausted.
func (q *Queue) Current() (Item, bool) {
	if q.current < 0 || q.current >= len(q.items) {
		return Item{}, false
	}
	return q.items[q.current], true
}

// Exhausted reports whether the cursor has run past the last item.
func (q *Queue) Exhausted() bool {
	return q.current >= len(q.items)
}

// Loop returns the rotation's loop mode.
func (q *Queue) Loop() bool {
	return q.loop
}

// SetLoop switches the loop mode.
func (q *Queue) SetLoop(loop bool) {
	q.loop = loop
}

// Append adds an item at the end and returns its index. Appending to an
// exhausted rotation leaves the cursor on the new item, so fresh content
// starts playing without rewinding finished entries.
func (q *Queue) Append(item Item) int {
	q.items = append(q.items, item)
	return len(q.items) - 1
}

// RemoveAt drops the item at the given index. The cursor keeps pointing at
// the same logical position: removing an earlier item shifts it back by
// one, removing the current item leaves it on the successor.
func (q *Queue) RemoveAt(index int) bool {
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.items = append(q.items[:index], q.items[index+1:]...)
	if index < q.current {
		q.current--
	}
	if q.current > len(q.items) {
		q.current = len(q.items)
	}
	return true
}

// RemoveAsset drops every item referencing the given asset id and reports
// whether anything was removed.
func (q *Queue) RemoveAsset(assetID string) bool {
	if assetID == "" {
		return false
	}
	removed := false
	for i := len(q.items) - 1; i >= 0; i-- {
		if q.items[i].AssetID == assetID {
			q.RemoveAt(i)
			removed = true
		}
	}
	return removed
}

// Find locates the first item whose asset id or path matches ref.
func (q *Queue) Find(ref string) (int, bool) {
	for i, item := range q.items {
		if (item.AssetID != "" && item.AssetID == ref) || item.Path == ref {
			return i, true
		}
	}
	return 0, false
}

// JumpTo moves the cursor to the given index.
func (q *Queue) JumpTo(index int) bool {
	if index < 0 || index >= len(q.items) {
		return false
	}
	q.current = index
	return true
}

// Advance moves the cursor to the next item. A looping rotation wraps to
// the start; otherwise the cursor parks one past the end and Advance
// reports exhaustion.
func (q *Queue) Advance() bool {
	if len(q.items) == 0 {
		q.current = 0
		return false
	}
	q.current++
	if q.current >= len(q.items) {
		if q.loop {
			q.current = 0
			return true
		}
		q.current = len(q.items)
		return false
	}
	return true
}

// Rewind moves the cursor back to the first item.
func (q *Queue) Rewind() {
	q.current = 0
}

type queueSnapshot struct {
	Items        []Item `json:"items"`
	CurrentIndex int    `json:"currentIndex"`
	Loop         bool   `json:"loop"`
}

// Save writes the rotation to path atomically, so a crash mid-write leaves
// the previous snapshot intact.
func (q *Queue) Save(path string) error {
	data, err := json.MarshalIndent(queueSnapshot{
		Items:        q.items,
		CurrentIndex: q.current,
		Loop:         q.loop,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue snapshot: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write queue snapshot: %w", err)
	}
	return nil
}

// LoadQueue restores a rotation from a snapshot. Items whose file vanished
// since the snapshot was taken are pruned and counted; the cursor is
// adjusted so it still points at the same surviving item. A missing
// snapshot yields an empty rotation with the fallback loop mode, and a
// corrupt one does the same alongside the decode error so the caller can
// log it without dying.
func LoadQueue(path string, fallbackLoop bool) (*Queue, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewQueue(fallbackLoop), 0, nil
		}
		return NewQueue(fallbackLoop), 0, fmt.Errorf("read queue snapshot: %w", err)
	}

	var snap queueSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return NewQueue(fallbackLoop), 0, fmt.Errorf("decode queue snapshot: %w", err)
	}

	queue := NewQueue(snap.Loop)
	pruned := 0
	cursor := snap.CurrentIndex
	for i, item := range snap.Items {
		if _, statErr := os.Stat(item.Path); statErr != nil {
			pruned++
			if i < snap.CurrentIndex {
				cursor--
			}
			continue
		}
		queue.items = append(queue.items, item)
	}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(queue.items) {
		cursor = len(queue.items)
	}
	queue.current = cursor
	return queue, pruned, nil
}
