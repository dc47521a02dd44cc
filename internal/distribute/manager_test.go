package distribute

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kiosk/internal/command"
	"kiosk/internal/config"
	"kiosk/internal/faults"
	"kiosk/internal/library"
	"kiosk/internal/logging"
	"kiosk/internal/store"
	"kiosk/internal/testsupport"
)

// eventRecorder captures pipeline outcomes for assertions.
type eventRecorder struct {
	mu        sync.Mutex
	completed map[string]int
	assets    map[string]int
	failed    map[string]error
	expired   map[string]int
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		completed: make(map[string]int),
		assets:    make(map[string]int),
		failed:    make(map[string]error),
		expired:   make(map[string]int),
	}
}

func (r *eventRecorder) TaskCompleted(task *store.Task, assets []*store.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[task.ID]++
	r.assets[task.ID] = len(assets)
}

func (r *eventRecorder) TaskFailed(task *store.Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[task.ID] = err
}

func (r *eventRecorder) TaskExpired(task *store.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired[task.ID]++
}

func (r *eventRecorder) completedCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed[id]
}

func (r *eventRecorder) assetCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assets[id]
}

func (r *eventRecorder) failedErr(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[id]
}

func (r *eventRecorder) expiredCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired[id]
}

// scriptedFetcher counts calls and delegates to a test-provided function.
type scriptedFetcher struct {
	calls atomic.Int64
	fetch func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error
}

func (f *scriptedFetcher) Fetch(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
	f.calls.Add(1)
	return f.fetch(ctx, uri, dest, progress)
}

func (f *scriptedFetcher) callCount() int {
	return int(f.calls.Load())
}

func writeDest(dest string, content []byte) error {
	return os.WriteFile(dest, content, 0o644)
}

func newPipeline(t *testing.T, events Events, mutate func(cfg *config.Config), opts ...Option) (*Manager, *store.Store, *config.Config) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	lib := library.New(st, cfg, logging.NewNop())

	all := append([]Option{WithEvents(events), WithPollInterval(25 * time.Millisecond)}, opts...)
	mgr := NewManager(cfg, st, lib, logging.NewNop(), all...)
	return mgr, st, cfg
}

func startPipeline(t *testing.T, mgr *Manager) {
	t.Helper()
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("manager.Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPipelineDeliversHTTPPayload(t *testing.T) {
	payload := []byte("kiosk clip payload")
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer server.Close()

	events := newEventRecorder()
	mgr, st, cfg := newPipeline(t, events, nil)
	startPipeline(t, mgr)
	ctx := context.Background()

	spec := command.TaskSpec{
		ID:       "task-http",
		URI:      server.URL + "/clip.mp4",
		Checksum: "sha256:" + testsupport.SHA256Hex(payload),
		DestName: "clip.mp4",
	}
	task, created, err := mgr.Submit(ctx, spec, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !created || task.ID != "task-http" {
		t.Fatalf("expected new task task-http, got %+v created=%v", task, created)
	}

	waitFor(t, 5*time.Second, func() bool { return events.completedCount("task-http") > 0 }, "task never completed")

	final := filepath.Join(cfg.MediaRoot(), "clip.mp4")
	content, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read delivered file: %v", err)
	}
	if string(content) != string(payload) {
		t.Fatalf("delivered content mismatch")
	}

	stored, err := st.TaskByID(ctx, "task-http")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if stored.FinalPath != final {
		t.Fatalf("expected final path %s, got %s", final, stored.FinalPath)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("clean delivery should not retry, count %d", stored.RetryCount)
	}

	asset, err := st.AssetByPath(ctx, final)
	if err != nil {
		t.Fatalf("AssetByPath: %v", err)
	}
	if asset.SourceTaskID != "task-http" {
		t.Fatalf("asset not linked to task: %+v", asset)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", hits.Load())
	}
	if events.completedCount("task-http") != 1 {
		t.Fatalf("completion reported %d times", events.completedCount("task-http"))
	}

	entries, err := os.ReadDir(cfg.StagingDir())
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging not cleaned, %d entries left", len(entries))
	}
}

func TestChecksumMismatchFailsWithoutRetry(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("delivered bytes"))
	}))
	defer server.Close()

	events := newEventRecorder()
	mgr, st, _ := newPipeline(t, events, nil)
	startPipeline(t, mgr)
	ctx := context.Background()

	spec := command.TaskSpec{
		ID:       "task-corrupt",
		URI:      server.URL + "/clip.mp4",
		Checksum: "sha256:" + testsupport.SHA256Hex([]byte("expected bytes")),
		DestName: "clip.mp4",
	}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return events.failedErr("task-corrupt") != nil }, "task never failed")

	if err := events.failedErr("task-corrupt"); !errors.Is(err, faults.ErrCorruptPayload) {
		t.Fatalf("expected corrupt payload classification, got %v", err)
	}
	stored, err := st.TaskByID(ctx, "task-corrupt")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("corrupt content must not retry, count %d", stored.RetryCount)
	}
	if !strings.Contains(stored.ErrorMessage, "mismatch") {
		t.Fatalf("expected mismatch detail, got %q", stored.ErrorMessage)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", hits.Load())
	}
}

func TestTransientFailureRetriesOnBackoff(t *testing.T) {
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			return faults.Wrap(faults.ErrTransientNetwork, "distribute", "fetch", "origin unreachable", nil)
		},
	}

	events := newEventRecorder()
	mgr, st, _ := newPipeline(t, events, func(cfg *config.Config) {
		cfg.Download.RetryLimit = 1
		cfg.Download.RetryBackoff = []int{1}
	}, WithFetcher("http", fetcher))
	startPipeline(t, mgr)
	ctx := context.Background()

	started := time.Now()
	spec := command.TaskSpec{ID: "task-flaky", URI: "http://origin.invalid/clip.mp4", DestName: "clip.mp4"}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 10*time.Second, func() bool { return events.failedErr("task-flaky") != nil }, "task never failed")

	if elapsed := time.Since(started); elapsed < 900*time.Millisecond {
		t.Fatalf("retry skipped the backoff wait, failed after %s", elapsed)
	}
	if got := fetcher.callCount(); got != 2 {
		t.Fatalf("expected initial attempt plus one retry, got %d attempts", got)
	}
	stored, err := st.TaskByID(ctx, "task-flaky")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("expected one recorded retry, got %d", stored.RetryCount)
	}
}

func TestRetryDelaySchedule(t *testing.T) {
	schedule := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 30 * time.Second,
	}

	cases := []struct {
		name       string
		retryCount int
		retryLimit int
		schedule   []time.Duration
		want       time.Duration
	}{
		{"first retry", 0, 3, schedule, 1 * time.Second},
		{"second retry", 1, 3, schedule, 2 * time.Second},
		{"third retry", 2, 3, schedule, 4 * time.Second},
		{"index clamps at limit", 5, 3, schedule, 4 * time.Second},
		{"schedule shorter than limit", 2, 5, []time.Duration{5 * time.Second}, 5 * time.Second},
		{"empty schedule", 1, 3, nil, 0},
		{"zero limit still indexes", 0, 0, schedule, 1 * time.Second},
	}
	for _, tc := range cases {
		if got := retryDelay(tc.retryCount, tc.retryLimit, tc.schedule); got != tc.want {
			t.Errorf("%s: retryDelay(%d, %d) = %s, want %s", tc.name, tc.retryCount, tc.retryLimit, got, tc.want)
		}
	}
}

func TestExpiredTaskIsSweptBeforeDispatch(t *testing.T) {
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			return writeDest(dest, []byte("late"))
		},
	}

	events := newEventRecorder()
	mgr, st, _ := newPipeline(t, events, nil, WithFetcher("http", fetcher))
	startPipeline(t, mgr)
	ctx := context.Background()

	spec := command.TaskSpec{
		ID:       "task-stale",
		URI:      "http://origin.invalid/old.mp4",
		DestName: "old.mp4",
		ExpireAt: time.Now().Add(-time.Second),
	}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return events.expiredCount("task-stale") > 0 }, "task never expired")

	if fetcher.callCount() != 0 {
		t.Fatalf("expired task must not be fetched, got %d attempts", fetcher.callCount())
	}
	stored, err := st.TaskByID(ctx, "task-stale")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusExpired {
		t.Fatalf("expected expired, got %s", stored.Status)
	}
}

func TestExpiryMidDownloadCancelsAttempt(t *testing.T) {
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	events := newEventRecorder()
	mgr, st, _ := newPipeline(t, events, nil, WithFetcher("http", fetcher))
	startPipeline(t, mgr)
	ctx := context.Background()

	spec := command.TaskSpec{
		ID:       "task-deadline",
		URI:      "http://origin.invalid/slow.mp4",
		DestName: "slow.mp4",
		ExpireAt: time.Now().Add(400 * time.Millisecond),
	}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return fetcher.callCount() == 1 }, "download never started")

	waitFor(t, 5*time.Second, func() bool { return events.expiredCount("task-deadline") > 0 }, "task never expired")

	if fetcher.callCount() != 1 {
		t.Fatalf("expected one interrupted attempt, got %d", fetcher.callCount())
	}
	stored, err := st.TaskByID(ctx, "task-deadline")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusExpired {
		t.Fatalf("deadline overrun must expire, not fail; got %s", stored.Status)
	}
	if events.failedErr("task-deadline") != nil {
		t.Fatalf("expired task must not also report failure")
	}
}

func TestRedeliveryKeepsAttemptInFlight(t *testing.T) {
	release := make(chan struct{})
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			select {
			case <-release:
				return writeDest(dest, []byte("payload"))
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	events := newEventRecorder()
	mgr, st, _ := newPipeline(t, events, nil, WithFetcher("http", fetcher))
	startPipeline(t, mgr)
	ctx := context.Background()

	spec := command.TaskSpec{ID: "task-dup", URI: "http://origin.invalid/clip.mp4", DestName: "clip.mp4"}
	if _, created, err := mgr.Submit(ctx, spec, ""); err != nil || !created {
		t.Fatalf("first Submit: created=%v err=%v", created, err)
	}
	waitFor(t, 2*time.Second, func() bool { return fetcher.callCount() == 1 }, "download never started")

	again, created, err := mgr.Submit(ctx, spec, "")
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if created {
		t.Fatal("re-delivery must not create a second task")
	}
	if again.Status != store.StatusDownloading {
		t.Fatalf("expected in-flight status on re-delivery, got %s", again.Status)
	}

	close(release)
	waitFor(t, 5*time.Second, func() bool { return events.completedCount("task-dup") > 0 }, "task never completed")

	if fetcher.callCount() != 1 {
		t.Fatalf("re-delivery spawned an extra attempt, got %d", fetcher.callCount())
	}
	if events.completedCount("task-dup") != 1 {
		t.Fatalf("expected exactly one completion, got %d", events.completedCount("task-dup"))
	}
	stored, err := st.TaskByID(ctx, "task-dup")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}

func TestStartRecoversInterruptedTask(t *testing.T) {
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			return writeDest(dest, []byte("recovered payload"))
		},
	}

	events := newEventRecorder()
	mgr, st, cfg := newPipeline(t, events, nil, WithFetcher("http", fetcher))
	ctx := context.Background()

	// Simulate a crash mid-download: an in-flight row plus stale staging files.
	task := testsupport.NewTask(t, st, "task-crashed", "http://origin.invalid/clip.mp4", "clip.mp4")
	if err := st.MarkInFlight(ctx, task.ID, store.StatusDownloading); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	stalePart := filepath.Join(cfg.StagingDir(), "task-crashed.part")
	testsupport.WriteFileContent(t, stalePart, []byte("partial"))

	startPipeline(t, mgr)

	waitFor(t, 5*time.Second, func() bool { return events.completedCount("task-crashed") > 0 }, "recovered task never completed")

	if _, err := os.Stat(stalePart); !os.IsNotExist(err) {
		t.Fatalf("stale staging file survived the sweep, stat err %v", err)
	}
	stored, err := st.TaskByID(ctx, "task-crashed")
	if err != nil {
		t.Fatalf("TaskByID: %v", err)
	}
	if stored.Status != store.StatusCompleted {
		t.Fatalf("expected completed after recovery, got %s", stored.Status)
	}
}

func TestDispatchOrdersByPriority(t *testing.T) {
	var mu sync.Mutex
	var order []string
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			mu.Lock()
			order = append(order, filepath.Base(uri.Path))
			mu.Unlock()
			return writeDest(dest, []byte("x"))
		},
	}

	events := newEventRecorder()
	mgr, _, _ := newPipeline(t, events, func(cfg *config.Config) {
		cfg.Download.MaxConcurrent = 1
	}, WithFetcher("http", fetcher))
	ctx := context.Background()

	specs := []command.TaskSpec{
		{ID: "low", URI: "http://origin.invalid/low.mp4", DestName: "low.mp4", Priority: 1},
		{ID: "high", URI: "http://origin.invalid/high.mp4", DestName: "high.mp4", Priority: 5},
		{ID: "mid", URI: "http://origin.invalid/mid.mp4", DestName: "mid.mp4", Priority: 3},
	}
	for _, spec := range specs {
		if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
			t.Fatalf("Submit %s: %v", spec.ID, err)
		}
	}

	startPipeline(t, mgr)
	waitFor(t, 5*time.Second, func() bool {
		return events.completedCount("low") > 0 && events.completedCount("high") > 0 && events.completedCount("mid") > 0
	}, "tasks never completed")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high.mp4", "mid.mp4", "low.mp4"}
	if len(order) != len(want) {
		t.Fatalf("expected %d dispatches, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", order, want)
		}
	}
}

func TestSnapshotTracksAttemptProgress(t *testing.T) {
	release := make(chan struct{})
	fetcher := &scriptedFetcher{
		fetch: func(ctx context.Context, uri *url.URL, dest string, progress func(int64)) error {
			progress(7)
			select {
			case <-release:
				return writeDest(dest, []byte("payload"))
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}

	events := newEventRecorder()
	mgr, _, _ := newPipeline(t, events, nil, WithFetcher("http", fetcher))
	startPipeline(t, mgr)
	ctx := context.Background()

	spec := command.TaskSpec{ID: "task-progress", URI: "http://origin.invalid/clip.mp4", DestName: "clip.mp4"}
	if _, _, err := mgr.Submit(ctx, spec, ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return fetcher.callCount() == 1 }, "download never started")

	waitFor(t, 2*time.Second, func() bool {
		views, err := mgr.Snapshot(ctx)
		if err != nil || len(views) != 1 {
			return false
		}
		return views[0].Task.ID == "task-progress" && views[0].BytesFetched == 7
	}, "snapshot never reflected attempt progress")

	close(release)
	waitFor(t, 5*time.Second, func() bool { return events.completedCount("task-progress") > 0 }, "task never completed")

	views, err := mgr.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("terminal tasks must drop out of the snapshot, got %d", len(views))
	}
}
