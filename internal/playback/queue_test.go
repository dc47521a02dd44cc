package playback

import (
	"os"
	"path/filepath"
	"testing"

	"kiosk/internal/testsupport"
)

func TestQueueAdvanceWrapsWhenLooping(t *testing.T) {
	q := NewQueue(true)
	q.Append(Item{Path: "/a.mp4"})
	q.Append(Item{Path: "/b.mp4"})

	if !q.Advance() {
		t.Fatal("advance to second item failed")
	}
	if q.CurrentIndex() != 1 {
		t.Fatalf("index = %d, want 1", q.CurrentIndex())
	}
	if !q.Advance() {
		t.Fatal("looping advance should wrap, not exhaust")
	}
	if q.CurrentIndex() != 0 {
		t.Fatalf("index after wrap = %d, want 0", q.CurrentIndex())
	}
}

func TestQueueAdvanceReportsExhaustion(t *testing.T) {
	q := NewQueue(false)
	q.Append(Item{Path: "/a.mp4"})

	if q.Advance() {
		t.Fatal("advance past the last item should report exhaustion")
	}
	if !q.Exhausted() {
		t.Fatal("queue should be exhausted")
	}
	if _, ok := q.Current(); ok {
		t.Fatal("exhausted queue has no current item")
	}

	// New content lands under the parked cursor, so the rotation resumes
	// with the fresh item rather than replaying finished ones.
	index := q.Append(Item{Path: "/b.mp4"})
	if index != q.CurrentIndex() {
		t.Fatalf("appended index %d should match cursor %d", index, q.CurrentIndex())
	}
	item, ok := q.Current()
	if !ok || item.Path != "/b.mp4" {
		t.Fatalf("current = %#v, want /b.mp4", item)
	}
}

func TestQueueRemoveAdjustsCursor(t *testing.T) {
	q := NewQueue(false)
	q.Append(Item{AssetID: "a", Path: "/a.mp4"})
	q.Append(Item{AssetID: "b", Path: "/b.mp4"})
	q.Append(Item{AssetID: "c", Path: "/c.mp4"})
	q.JumpTo(1)

	// Removing an earlier item shifts the cursor back with it.
	if !q.RemoveAt(0) {
		t.Fatal("RemoveAt(0) failed")
	}
	if item, _ := q.Current(); item.AssetID != "b" {
		t.Fatalf("current = %s, want b", item.AssetID)
	}

	// Removing the current item leaves the cursor on its successor.
	if !q.RemoveAt(q.CurrentIndex()) {
		t.Fatal("RemoveAt(current) failed")
	}
	if item, _ := q.Current(); item.AssetID != "c" {
		t.Fatalf("current = %s, want c", item.AssetID)
	}

	if !q.RemoveAsset("c") {
		t.Fatal("RemoveAsset(c) failed")
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty, has %d items", q.Len())
	}
	if q.RemoveAsset("c") {
		t.Fatal("removing an absent asset should report false")
	}
}

func TestQueueFind(t *testing.T) {
	q := NewQueue(false)
	q.Append(Item{AssetID: "a", Path: "/media/a.mp4"})
	q.Append(Item{Path: "/media/b.mp4"})

	if index, ok := q.Find("a"); !ok || index != 0 {
		t.Fatalf("Find by asset id = (%d, %v), want (0, true)", index, ok)
	}
	if index, ok := q.Find("/media/b.mp4"); !ok || index != 1 {
		t.Fatalf("Find by path = (%d, %v), want (1, true)", index, ok)
	}
	if _, ok := q.Find("missing"); ok {
		t.Fatal("Find should miss unknown refs")
	}
}

func TestQueueSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.mp4")
	second := filepath.Join(dir, "b.mp4")
	testsupport.WriteFile(t, first, 16)
	testsupport.WriteFile(t, second, 16)

	q := NewQueue(true)
	q.Append(Item{AssetID: "a", Path: first, Title: "A"})
	q.Append(Item{AssetID: "b", Path: second, Title: "B"})
	q.JumpTo(1)

	snapshotPath := filepath.Join(dir, "queue.json")
	if err := q.Save(snapshotPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored, pruned, err := LoadQueue(snapshotPath, false)
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("pruned = %d, want 0", pruned)
	}
	if restored.Len() != 2 || restored.CurrentIndex() != 1 || !restored.Loop() {
		t.Fatalf("restored queue mismatch: len=%d index=%d loop=%v", restored.Len(), restored.CurrentIndex(), restored.Loop())
	}
}

func TestLoadQueuePrunesVanishedItems(t *testing.T) {
	dir := t.TempDir()
	gone := filepath.Join(dir, "gone.mp4")
	kept := filepath.Join(dir, "kept.mp4")
	testsupport.WriteFile(t, gone, 16)
	testsupport.WriteFile(t, kept, 16)

	q := NewQueue(false)
	q.Append(Item{Path: gone})
	q.Append(Item{Path: kept})
	q.JumpTo(1)

	snapshotPath := filepath.Join(dir, "queue.json")
	if err := q.Save(snapshotPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatalf("remove fixture: %v", err)
	}

	restored, pruned, err := LoadQueue(snapshotPath, false)
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	item, ok := restored.Current()
	if !ok || item.Path != kept {
		t.Fatalf("cursor should follow the surviving item, got %#v ok=%v", item, ok)
	}
}

func TestLoadQueueMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	q, pruned, err := LoadQueue(filepath.Join(dir, "absent.json"), true)
	if err != nil || pruned != 0 {
		t.Fatalf("missing snapshot should be clean: pruned=%d err=%v", pruned, err)
	}
	if q.Len() != 0 || !q.Loop() {
		t.Fatalf("missing snapshot should yield empty queue with fallback loop, got len=%d loop=%v", q.Len(), q.Loop())
	}

	corrupt := filepath.Join(dir, "queue.json")
	if err := os.WriteFile(corrupt, []byte("{nope"), 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}
	q, _, err = LoadQueue(corrupt, false)
	if err == nil {
		t.Fatal("corrupt snapshot should surface the decode error")
	}
	if q == nil || q.Len() != 0 {
		t.Fatal("corrupt snapshot must still yield a usable empty queue")
	}
}
