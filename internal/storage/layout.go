// internal/storage/layout.go

// Package storage owns the on-disk downloads layout:
// <root>/<job_id>/<source>/<filename>. Files are written to <name>.part and
// renamed into place on completion.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// PartSuffix marks an incomplete download
	PartSuffix = ".part"
	// MaxFilenameBytes caps a sanitised filename
	MaxFilenameBytes = 200

	maxExtensionBytes = 16
	fallbackName      = "file"
)

// Layout resolves and creates paths under the downloads root
type Layout struct {
	fs   afero.Fs
	root string
	// mu serialises name reservation so concurrent downloads into the same
	// directory never pick the same name
	mu sync.Mutex
}

// NewLayout creates a layout rooted at root on fs
func NewLayout(fs afero.Fs, root string) *Layout {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Layout{fs: fs, root: filepath.Clean(root)}
}

// Fs returns the filesystem the layout writes to
func (l *Layout) Fs() afero.Fs {
	return l.fs
}

// Root returns the downloads root
func (l *Layout) Root() string {
	return l.root
}

// JobDir returns <root>/<job_id>
func (l *Layout) JobDir(jobID string) string {
	return filepath.Join(l.root, SanitizeFilename(jobID))
}

// SourceDir returns <root>/<job_id>/<source>, creating it
func (l *Layout) SourceDir(jobID, source string) (string, error) {
	dir := filepath.Join(l.JobDir(jobID), SanitizeFilename(source))
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create source directory %s: %w", dir, err)
	}
	return dir, nil
}

// PartialFile is a download in progress
type PartialFile struct {
	layout    *Layout
	file      afero.File
	finalPath string
	partPath  string
	written   int64
	done      bool
}

// Create reserves a unique sanitised name in dir and opens <name>.part for
// writing. Collisions get _<n> before the extension.
func (l *Layout) Create(dir, name string) (*PartialFile, error) {
	name = SanitizeFilename(name)
	base, ext := splitExt(name)

	l.mu.Lock()
	defer l.mu.Unlock()

	for n := 0; n < 10000; n++ {
		candidate := name
		if n > 0 {
			suffix := "_" + strconv.Itoa(n)
			candidate = truncateBytes(base, MaxFilenameBytes-len(suffix)-len(ext)) + suffix + ext
		}
		finalPath := filepath.Join(dir, candidate)
		if taken, err := l.taken(finalPath); err != nil {
			return nil, err
		} else if taken {
			continue
		}

		partPath := finalPath + PartSuffix
		f, err := l.fs.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to create %s: %w", partPath, err)
		}
		return &PartialFile{layout: l, file: f, finalPath: finalPath, partPath: partPath}, nil
	}
	return nil, fmt.Errorf("no free filename for %s in %s", name, dir)
}

func (l *Layout) taken(finalPath string) (bool, error) {
	for _, p := range []string{finalPath, finalPath + PartSuffix} {
		exists, err := afero.Exists(l.fs, p)
		if err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

// Write appends to the partial file
func (p *PartialFile) Write(b []byte) (int, error) {
	n, err := p.file.Write(b)
	p.written += int64(n)
	return n, err
}

// Written returns bytes written so far
func (p *PartialFile) Written() int64 {
	return p.written
}

// FinalPath is where the file lands on Commit
func (p *PartialFile) FinalPath() string {
	return p.finalPath
}

// Commit closes the partial file and renames it into place. An empty file
// is discarded and reported as an error.
func (p *PartialFile) Commit() (string, error) {
	if p.done {
		return "", fmt.Errorf("partial file %s already finished", p.partPath)
	}
	p.done = true

	if err := p.file.Sync(); err != nil {
		p.file.Close()
		p.layout.fs.Remove(p.partPath)
		return "", fmt.Errorf("failed to sync %s: %w", p.partPath, err)
	}
	if err := p.file.Close(); err != nil {
		p.layout.fs.Remove(p.partPath)
		return "", fmt.Errorf("failed to close %s: %w", p.partPath, err)
	}
	if p.written == 0 {
		p.layout.fs.Remove(p.partPath)
		return "", fmt.Errorf("refusing to keep empty file %s", p.finalPath)
	}
	if err := p.layout.fs.Rename(p.partPath, p.finalPath); err != nil {
		p.layout.fs.Remove(p.partPath)
		return "", fmt.Errorf("failed to rename %s: %w", p.partPath, err)
	}
	return p.finalPath, nil
}

// Abort closes and deletes the partial file. Safe after Commit.
func (p *PartialFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	p.file.Close()
	p.layout.fs.Remove(p.partPath)
}

// RemovePartials deletes every *.part file (and yt-dlp's *.ytdl sidecars)
// below dir, returning how many were removed.
func (l *Layout) RemovePartials(dir string) (int, error) {
	exists, err := afero.DirExists(l.fs, dir)
	if err != nil || !exists {
		return 0, err
	}

	var stale []string
	err = afero.Walk(l.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && isPartial(info.Name()) {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	removed := 0
	for _, p := range stale {
		if err := l.fs.Remove(p); err == nil {
			removed++
		}
	}
	return removed, nil
}

// ListFiles returns the completed regular files directly inside dir
func (l *Layout) ListFiles(dir string) ([]string, error) {
	entries, err := afero.ReadDir(l.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || isPartial(e.Name()) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}

// FileInfo is what the pipeline needs to know about a finished file
type FileInfo struct {
	Size        int64
	ContentType string
}

// Inspect stats a file and sniffs its content type from the leading bytes
func (l *Layout) Inspect(p string) (FileInfo, error) {
	f, err := l.fs.Open(p)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	info := FileInfo{Size: st.Size()}
	if info.Size == 0 {
		return info, nil
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return info, fmt.Errorf("failed to sniff %s: %w", p, err)
	}
	info.ContentType = mt.String()
	return info, nil
}

// ContentHash returns the hex sha256 of a file
func (l *Layout) ContentHash(p string) (string, error) {
	f, err := l.fs.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Remove deletes a file, ignoring absence
func (l *Layout) Remove(p string) error {
	if err := l.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// foldDiacritics builds a fresh chain per call; chains are not safe for
// concurrent use
func foldDiacritics(name string) (string, error) {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	return folded, err
}

// SanitizeFilename folds diacritics, replaces anything outside
// [A-Za-z0-9._-] with '_' and caps the result at MaxFilenameBytes.
func SanitizeFilename(name string) string {
	if folded, err := foldDiacritics(name); err == nil {
		name = folded
	}

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_'
		if !ok {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "._-")
	if strings.HasSuffix(out, PartSuffix) {
		out = strings.TrimSuffix(out, PartSuffix) + "_part"
	}
	if out == "" {
		out = fallbackName
	}
	if len(out) > MaxFilenameBytes {
		base, ext := splitExt(out)
		out = truncateBytes(base, MaxFilenameBytes-len(ext)) + ext
	}
	return out
}

// NameFromURL derives a filename from the last path segment of rawURL,
// adding fallbackExt when the segment has no extension.
func NameFromURL(rawURL, fallbackExt string) string {
	name := ""
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	}
	if name == "" || name == "/" || name == "." {
		sum := sha256.Sum256([]byte(rawURL))
		name = hex.EncodeToString(sum[:6])
	}
	if _, ext := splitExt(name); ext == "" && fallbackExt != "" {
		if !strings.HasPrefix(fallbackExt, ".") {
			fallbackExt = "." + fallbackExt
		}
		name += fallbackExt
	}
	return SanitizeFilename(name)
}

func splitExt(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name || len(ext) > maxExtensionBytes || len(ext) <= 1 {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

func truncateBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func isPartial(name string) bool {
	return strings.HasSuffix(name, PartSuffix) || strings.HasSuffix(name, ".ytdl")
}
