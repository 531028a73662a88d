package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
)

type upstreamRecord struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

type outputRecord struct {
	ID string `json:"id"`
}

// countingTransform records invocations and echoes successes, with optional
// per-item failures.
type countingTransform struct {
	calls     int
	itemsSeen int
	failIDs   map[string]bool
}

func (c *countingTransform) Process(_ context.Context, items []Item) ([]Result, error) {
	c.calls++
	c.itemsSeen += len(items)

	results := make([]Result, 0, len(items))
	for _, it := range items {
		var rec upstreamRecord
		if err := json.Unmarshal(it.Raw, &rec); err != nil {
			return nil, err
		}
		if c.failIDs[rec.ID] {
			results = append(results, Result{Hash: it.Hash, Err: errors.New("injected failure")})
			continue
		}
		results = append(results, Result{Hash: it.Hash, Output: outputRecord{ID: rec.ID}})
	}
	return results, nil
}

func writeUpstream(t *testing.T, dir string, n int) {
	t.Helper()
	w, err := OpenStreamWriter(StreamPath(dir, "in"))
	if err != nil {
		t.Fatalf("open upstream: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := w.Append(upstreamRecord{ID: fmt.Sprintf("item-%03d", i), Body: "content"}); err != nil {
			t.Fatalf("append upstream: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close upstream: %v", err)
	}
}

func testStage(dir string, tr Transform) *Stage {
	return &Stage{
		Name:     "test",
		DataDir:  dir,
		Upstream: "in",
		Output:   "out",
		Key: func(raw json.RawMessage) (string, error) {
			var rec upstreamRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return "", err
			}
			if rec.ID == "" {
				return "", errors.New("missing id")
			}
			return "hash_" + rec.ID, nil
		},
		Transform: tr,
		BatchSize: 10,
		Logger:    slog.Default(),
	}
}

func countOutput(t *testing.T, dir string) int {
	t.Helper()
	n := 0
	if err := ReadStream(StreamPath(dir, "out"), func(outputRecord) error {
		n++
		return nil
	}); err != nil {
		t.Fatalf("read output: %v", err)
	}
	return n
}

func TestStage_ProcessesAllItems(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 25)

	tr := &countingTransform{}
	stats, err := testStage(dir, tr).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Read != 25 || stats.Processed != 25 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if tr.itemsSeen != 25 {
		t.Errorf("transform saw %d items, want 25", tr.itemsSeen)
	}
	if got := countOutput(t, dir); got != 25 {
		t.Errorf("output records = %d, want 25", got)
	}
}

func TestStage_SecondRunIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 10)

	tr := &countingTransform{}
	if _, err := testStage(dir, tr).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	stats, err := testStage(dir, tr).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if stats.Processed != 0 || stats.Skipped != 10 {
		t.Errorf("second run stats = %+v, want all skipped", stats)
	}
	if tr.itemsSeen != 10 {
		t.Errorf("transform saw %d items across two runs, want 10", tr.itemsSeen)
	}
	// No output growth either.
	if got := countOutput(t, dir); got != 10 {
		t.Errorf("output records = %d after second run, want 10", got)
	}

	state, _ := OpenState(dir, "test")
	if state.Len() != 10 {
		t.Errorf("state entries = %d after second run, want 10", state.Len())
	}
}

func TestStage_DeltaOnly(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 4)

	tr := &countingTransform{}
	if _, err := testStage(dir, tr).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Superset upstream: 4 seen + 6 new.
	writeUpstream(t, dir, 10)

	stats, err := testStage(dir, tr).Run(context.Background())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	// N=14 read (4 old + 10 re-appended), M=4 unique already recorded; the
	// transform is invoked for exactly the 6 unseen hashes.
	if stats.Processed != 6 {
		t.Errorf("processed = %d, want 6", stats.Processed)
	}
	if tr.itemsSeen != 10 {
		t.Errorf("transform saw %d items total, want 10 (4 first run + 6 delta)", tr.itemsSeen)
	}
}

func TestStage_PartialFailureIsolation(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 100)

	tr := &countingTransform{failIDs: map[string]bool{"item-042": true}}
	st := testStage(dir, tr)
	st.BatchSize = 100
	st.MaxFailures = 5

	stats, err := st.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 99 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 99 processed / 1 failed", stats)
	}

	state, _ := OpenState(dir, "test")
	if state.Has("hash_item-042") {
		t.Error("failed item must not be recorded in state")
	}
	if state.Len() != 99 {
		t.Errorf("state entries = %d, want 99", state.Len())
	}

	// Next run retries only the failed item.
	tr.failIDs = nil
	stats, err = testStage(dir, tr).Run(context.Background())
	if err != nil {
		t.Fatalf("retry run failed: %v", err)
	}
	if stats.Processed != 1 || stats.Skipped != 99 {
		t.Errorf("retry stats = %+v, want 1 processed / 99 skipped", stats)
	}
}

func TestStage_ConsecutiveFailuresEscalate(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 20)

	fail := make(map[string]bool)
	for i := 0; i < 20; i++ {
		fail[fmt.Sprintf("item-%03d", i)] = true
	}
	st := testStage(dir, &countingTransform{failIDs: fail})
	st.MaxFailures = 5

	_, err := st.Run(context.Background())
	if err == nil {
		t.Fatal("expected systemic abort")
	}
	if !IsSystemic(err) {
		t.Errorf("expected SystemicError, got %T: %v", err, err)
	}
}

func TestStage_TransformErrorIsSystemic(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 5)

	st := testStage(dir, TransformFunc(func(context.Context, []Item) ([]Result, error) {
		return nil, errors.New("service unreachable")
	}))

	_, err := st.Run(context.Background())
	if !IsSystemic(err) {
		t.Fatalf("expected SystemicError, got %v", err)
	}
}

func TestStage_ForceReprocessesWithoutStateGrowth(t *testing.T) {
	dir := t.TempDir()
	writeUpstream(t, dir, 8)

	tr := &countingTransform{}
	if _, err := testStage(dir, tr).Run(context.Background()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	forced := testStage(dir, tr)
	forced.Force = true
	stats, err := forced.Run(context.Background())
	if err != nil {
		t.Fatalf("forced run failed: %v", err)
	}
	if stats.Processed != 8 || stats.Skipped != 0 {
		t.Errorf("forced stats = %+v, want all reprocessed", stats)
	}

	state, _ := OpenState(dir, "test")
	if state.Len() != 8 {
		t.Errorf("state entries = %d after force, want 8 (no growth)", state.Len())
	}
}

func TestStage_MalformedItemDropped(t *testing.T) {
	dir := t.TempDir()

	w, _ := OpenStreamWriter(StreamPath(dir, "in"))
	_ = w.Append(upstreamRecord{ID: "item-000", Body: "ok"})
	_ = w.Append(upstreamRecord{ID: "", Body: "no id"})
	_ = w.Append(upstreamRecord{ID: "item-001", Body: "ok"})
	_ = w.Close()

	tr := &countingTransform{}
	stats, err := testStage(dir, tr).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 2 processed / 1 failed", stats)
	}
}

func TestStage_UpstreamDuplicatesCollapse(t *testing.T) {
	dir := t.TempDir()

	w, _ := OpenStreamWriter(StreamPath(dir, "in"))
	for i := 0; i < 3; i++ {
		_ = w.Append(upstreamRecord{ID: "item-000", Body: "same"})
	}
	_ = w.Close()

	tr := &countingTransform{}
	stats, err := testStage(dir, tr).Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Processed != 1 || stats.Skipped != 2 {
		t.Errorf("stats = %+v, want 1 processed / 2 skipped", stats)
	}
}

func TestStage_LockSerializesRuns(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireRunLock(dir, "test")
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer lock.Release()

	writeUpstream(t, dir, 1)
	if _, err := testStage(dir, &countingTransform{}).Run(context.Background()); err == nil {
		t.Fatal("expected run to fail while lock is held")
	}
}
