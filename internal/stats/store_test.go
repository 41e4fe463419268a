// internal/stats/store_test.go
package stats

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

const testStatsPath = "/data/.mmse-stats.json"

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func TestStore_RecordCounters(t *testing.T) {
	store, err := Open(afero.NewMemMapFs(), testStatsPath, nil, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	store.Record("reddit", "api", types.MethodOutcome{Success: true, FilesDownloaded: 3, ExecutionSeconds: 2})
	store.Record("reddit", "api", types.MethodOutcome{Success: false, ExecutionSeconds: 4})
	store.Record("reddit", "api", types.MethodOutcome{Success: true, FilesDownloaded: 1, ExecutionSeconds: 6})

	st := store.Get("reddit", "api")
	if st.Attempts != 3 || st.Successes != 2 || st.Failures != 1 {
		t.Errorf("Unexpected counters: %+v", st)
	}
	if st.Attempts != st.Successes+st.Failures {
		t.Error("Expected attempts = successes + failures")
	}
	if st.TotalFiles != 4 {
		t.Errorf("Expected 4 total files, got %d", st.TotalFiles)
	}
	if math.Abs(st.MeanExecutionSeconds-4) > 1e-9 {
		t.Errorf("Expected mean 4, got %v", st.MeanExecutionSeconds)
	}
	if st.LastSuccessAt == nil || !st.LastSuccessAt.Equal(fixedClock()) {
		t.Errorf("Expected last success stamp, got %v", st.LastSuccessAt)
	}
	if math.Abs(st.SuccessRate()-2.0/3.0) > 1e-9 {
		t.Errorf("Expected success rate 2/3, got %v", st.SuccessRate())
	}
}

func TestStore_GetAbsentIsZero(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "", nil)
	st := store.Get("nope", "none")
	if st.Attempts != 0 || st.SuccessRate() != 0 || st.LastSuccessAt != nil {
		t.Errorf("Expected zero record, got %+v", st)
	}
}

func TestStore_FlushLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, _ := Open(fs, testStatsPath, nil, WithClock(fixedClock))
	store.Record("imgur", "html_dom", types.MethodOutcome{Success: true, FilesDownloaded: 5, ExecutionSeconds: 1.25})
	store.Record("imgur", "headless", types.MethodOutcome{Success: false, ExecutionSeconds: 0.1})

	if !store.Dirty() {
		t.Error("Expected store to be dirty before flush")
	}
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if store.Dirty() {
		t.Error("Expected store to be clean after flush")
	}

	entries, _ := afero.ReadDir(fs, "/data")
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("Expected no temp files left, found %s", e.Name())
		}
	}

	reloaded, err := Open(fs, testStatsPath, nil)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	got := reloaded.Get("imgur", "html_dom")
	want := store.Get("imgur", "html_dom")
	if got.Attempts != want.Attempts || got.TotalFiles != want.TotalFiles ||
		math.Abs(got.MeanExecutionSeconds-want.MeanExecutionSeconds) > 1e-9 {
		t.Errorf("Round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.LastSuccessAt == nil || !got.LastSuccessAt.Equal(*want.LastSuccessAt) {
		t.Errorf("Expected last_success_at to survive, got %v", got.LastSuccessAt)
	}
	if reloaded.Get("imgur", "headless").LastSuccessAt != nil {
		t.Error("Expected null last_success_at to stay null")
	}
}

func TestStore_MalformedFileDiscarded(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, testStatsPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(fs, testStatsPath, nil)
	if err != nil {
		t.Fatalf("Expected malformed file to be tolerated, got %v", err)
	}
	if len(store.Snapshot()) != 0 {
		t.Error("Expected a fresh store")
	}

	store.Record("x", "y", types.MethodOutcome{Success: true, FilesDownloaded: 1})
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	raw, _ := afero.ReadFile(fs, testStatsPath)
	if !strings.Contains(string(raw), `"attempts": 1`) {
		t.Errorf("Expected malformed file replaced, got %s", raw)
	}
}

func TestStore_UnreadableFileDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}

	store, err := Open(afero.NewOsFs(), path, nil)
	if err != nil {
		t.Fatalf("Expected unreadable file to be tolerated, got %v", err)
	}
	if store == nil {
		t.Fatal("Expected a store, got nil")
	}
	if len(store.Snapshot()) != 0 {
		t.Errorf("Expected empty snapshot, got %d sources", len(store.Snapshot()))
	}
}

func TestStore_ConcurrentRecords(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Record("s", "m", types.MethodOutcome{Success: i%2 == 0, ExecutionSeconds: 1})
		}(i)
	}
	wg.Wait()

	st := store.Get("s", "m")
	if st.Attempts != 50 || st.Successes != 25 || st.Failures != 25 {
		t.Errorf("Unexpected counters after concurrent records: %+v", st)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	store, _ := Open(afero.NewMemMapFs(), "", nil)
	store.Record("a", "m", types.MethodOutcome{Success: true, FilesDownloaded: 1})

	snap := store.Snapshot()
	st := snap["a"]["m"]
	st.Attempts = 99
	snap["a"]["m"] = st

	if store.Get("a", "m").Attempts != 1 {
		t.Error("Expected snapshot mutation not to affect the store")
	}
	if got := store.Sources(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Expected sources [a], got %v", got)
	}
}
