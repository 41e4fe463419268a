// internal/storage/layout_test.go
package storage

import (
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cat photo.jpg", "cat_photo.jpg"},
		{"Café Crème.png", "Cafe_Creme.png"},
		{"../../etc/passwd", "etc_passwd"},
		{"a//b??c.mp4", "a_b_c.mp4"},
		{"...", "file"},
		{"", "file"},
		{"clip.part", "clip_part"},
		{"日本語.gif", "gif"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestSanitizeFilename_Concurrent(t *testing.T) {
	inputs := []string{"Café Ñandú.jpg", "Crème brûlée.png", "Straße über.gif", "naïve façade.mp4"}
	want := make([]string, len(inputs))
	for i, in := range inputs {
		want[i] = SanitizeFilename(in)
	}

	var wg sync.WaitGroup
	var mismatches atomic.Int64
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				i := n % len(inputs)
				if SanitizeFilename(inputs[i]) != want[i] {
					mismatches.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if got := mismatches.Load(); got != 0 {
		t.Errorf("Expected 0 mismatched names, got %d", got)
	}
}

func TestSanitizeFilename_LengthCap(t *testing.T) {
	long := strings.Repeat("x", 500) + ".jpeg"
	got := SanitizeFilename(long)
	if len(got) > MaxFilenameBytes {
		t.Errorf("Expected at most %d bytes, got %d", MaxFilenameBytes, len(got))
	}
	if !strings.HasSuffix(got, ".jpeg") {
		t.Errorf("Expected extension preserved, got %q", got[len(got)-10:])
	}
}

func TestLayout_CreateCommitAndCollisions(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := NewLayout(fs, "/downloads")

	dir, err := layout.SourceDir("job-1", "reddit")
	if err != nil {
		t.Fatalf("SourceDir failed: %v", err)
	}
	if dir != filepath.Join("/downloads", "job-1", "reddit") {
		t.Errorf("Unexpected source dir %s", dir)
	}

	var paths []string
	for i := 0; i < 3; i++ {
		pf, err := layout.Create(dir, "photo.jpg")
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if _, err := pf.Write(pngHeader); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		p, err := pf.Commit()
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		paths = append(paths, filepath.Base(p))
	}

	want := []string{"photo.jpg", "photo_1.jpg", "photo_2.jpg"}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("File %d: expected %s, got %s", i, want[i], paths[i])
		}
	}

	files, err := layout.ListFiles(dir)
	if err != nil || len(files) != 3 {
		t.Errorf("Expected 3 files, got %v (%v)", files, err)
	}
}

func TestLayout_PendingPartReservesName(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := NewLayout(fs, "/d")
	dir, _ := layout.SourceDir("j", "s")

	first, err := layout.Create(dir, "a.mp4")
	if err != nil {
		t.Fatal(err)
	}
	second, err := layout.Create(dir, "a.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if first.FinalPath() == second.FinalPath() {
		t.Error("Expected an in-flight download to reserve its name")
	}
	first.Abort()
	second.Abort()
}

func TestLayout_AbortAndEmptyCommitLeaveNothing(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := NewLayout(fs, "/d")
	dir, _ := layout.SourceDir("j", "s")

	pf, _ := layout.Create(dir, "x.jpg")
	pf.Write([]byte("partial"))
	pf.Abort()

	empty, _ := layout.Create(dir, "y.jpg")
	if _, err := empty.Commit(); err == nil {
		t.Error("Expected committing an empty file to fail")
	}

	entries, _ := afero.ReadDir(fs, dir)
	if len(entries) != 0 {
		t.Errorf("Expected empty directory, found %d entries", len(entries))
	}
}

func TestLayout_RemovePartials(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := NewLayout(fs, "/d")
	dir, _ := layout.SourceDir("job", "youtube")

	afero.WriteFile(fs, filepath.Join(dir, "video.mp4.part"), []byte("x"), 0o644)
	afero.WriteFile(fs, filepath.Join(dir, "video.mp4.ytdl"), []byte("x"), 0o644)
	afero.WriteFile(fs, filepath.Join(dir, "done.mp4"), []byte("x"), 0o644)

	removed, err := layout.RemovePartials(layout.JobDir("job"))
	if err != nil {
		t.Fatalf("RemovePartials failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 partials removed, got %d", removed)
	}
	if ok, _ := afero.Exists(fs, filepath.Join(dir, "done.mp4")); !ok {
		t.Error("Expected completed file to survive")
	}

	if n, err := layout.RemovePartials("/missing"); n != 0 || err != nil {
		t.Errorf("Expected missing dir to be a no-op, got %d, %v", n, err)
	}
}

func TestLayout_InspectAndHash(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := NewLayout(fs, "/d")
	afero.WriteFile(fs, "/d/a.png", pngHeader, 0o644)
	afero.WriteFile(fs, "/d/b.png", pngHeader, 0o644)

	info, err := layout.Inspect("/d/a.png")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Size != int64(len(pngHeader)) || info.ContentType != "image/png" {
		t.Errorf("Unexpected info %+v", info)
	}

	h1, _ := layout.ContentHash("/d/a.png")
	h2, _ := layout.ContentHash("/d/b.png")
	if h1 == "" || h1 != h2 {
		t.Errorf("Expected identical hashes, got %q and %q", h1, h2)
	}
}

func TestNameFromURL(t *testing.T) {
	if got := NameFromURL("https://i.example.com/gallery/Sunset%20Beach.jpg?w=800", ""); got != "Sunset_Beach.jpg" {
		t.Errorf("Expected Sunset_Beach.jpg, got %q", got)
	}
	if got := NameFromURL("https://example.com/media/12345", ".mp4"); got != "12345.mp4" {
		t.Errorf("Expected 12345.mp4, got %q", got)
	}
	got := NameFromURL("https://example.com/", ".jpg")
	if !strings.HasSuffix(got, ".jpg") || len(got) != 16 {
		t.Errorf("Expected hashed name with extension, got %q", got)
	}
}
