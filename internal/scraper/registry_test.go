// internal/scraper/registry_test.go
package scraper

import (
	"reflect"
	"testing"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

func names(methods []Method) []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = m.Name()
	}
	return out
}

func TestRegistry_OrdersByPriorityWithoutStats(t *testing.T) {
	reg := NewRegistry(openMemStore(t))
	reg.Register(NewCustomMethod("c", 2, producer(1)))
	reg.Register(NewCustomMethod("b", 1, producer(1)))
	reg.Register(NewCustomMethod("a", 1, producer(1)))

	got := names(reg.MethodsFor(types.Source{ID: "s"}, types.ContentAny))
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestRegistry_LearnedOrdering(t *testing.T) {
	store := openMemStore(t)
	reg := NewRegistry(store)
	reg.Register(NewCustomMethod("M1", 0, producer(1)))
	reg.Register(NewCustomMethod("M2", 1, producer(1)))

	for i := 0; i < 10; i++ {
		store.Record("s", "M1", types.MethodOutcome{Success: i < 2, FilesDownloaded: 1})
		store.Record("s", "M2", types.MethodOutcome{Success: i < 8, FilesDownloaded: 1})
	}

	got := names(reg.MethodsFor(types.Source{ID: "s"}, types.ContentAny))
	want := []string{"M2", "M1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	// another source has no history and falls back to priority
	got = names(reg.MethodsFor(types.Source{ID: "other"}, types.ContentAny))
	if !reflect.DeepEqual(got, []string{"M1", "M2"}) {
		t.Errorf("Expected priority order for untried source, got %v", got)
	}
}

func TestRegistry_UntriedAheadOfFailedAtZero(t *testing.T) {
	store := openMemStore(t)
	reg := NewRegistry(store)
	reg.Register(NewCustomMethod("tried", 0, producer(1)))
	reg.Register(NewCustomMethod("fresh", 5, producer(1)))

	store.Record("s", "tried", types.MethodOutcome{ErrorKind: types.ErrNetwork})

	got := names(reg.MethodsFor(types.Source{ID: "s"}, types.ContentAny))
	want := []string{"fresh", "tried"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestRegistry_DoubleRegistration(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("m", 0, producer(1)))
	reg.SetEnabled("m", false)
	reg.Register(NewCustomMethod("m", 3, producer(2)))

	if len(reg.Names()) != 1 {
		t.Fatalf("Expected one entry, got %v", reg.Names())
	}
	m, ok := reg.Get("m")
	if !ok || m.Priority() != 3 {
		t.Errorf("Expected replacement with priority 3, got %v", m)
	}
	if len(reg.MethodsFor(types.Source{ID: "s"}, types.ContentAny)) != 0 {
		t.Error("Expected replaced method to stay disabled")
	}
}

func TestRegistry_Filters(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(NewCustomMethod("only-reddit", 0, producer(1), "reddit"))
	reg.Register(NewCustomMethod("videos", 0, producer(1)).WithContentTypes(types.ContentVideo))
	reg.Register(NewCustomMethod("any", 0, producer(1)))

	tests := []struct {
		source string
		ct     types.ContentType
		want   []string
	}{
		{"reddit", types.ContentAny, []string{"any", "only-reddit", "videos"}},
		{"imgur", types.ContentAny, []string{"any", "videos"}},
		{"imgur", types.ContentImage, []string{"any"}},
		{"reddit", types.ContentVideo, []string{"any", "only-reddit", "videos"}},
	}
	for _, tt := range tests {
		got := names(reg.MethodsFor(types.Source{ID: tt.source}, tt.ct))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s/%s: expected %v, got %v", tt.source, tt.ct, tt.want, got)
		}
	}

	if reg.SetEnabled("missing", true) {
		t.Error("Expected SetEnabled on unknown method to report false")
	}
}
