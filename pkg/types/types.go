// pkg/types/types.go
package types

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the terminal state of a scraping job
type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is one a job can end in
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MediaKind classifies a downloaded file
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
	MediaOther MediaKind = "other"
)

// MediaKindFromContentType maps a MIME type to a MediaKind
func MediaKindFromContentType(contentType string) MediaKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return MediaImage
	case strings.HasPrefix(ct, "video/"):
		return MediaVideo
	case strings.HasPrefix(ct, "audio/"):
		return MediaAudio
	default:
		return MediaOther
	}
}

// ContentType is the kind of media a job or method asks for
type ContentType string

const (
	ContentAny   ContentType = "any"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
)

// ParseContentType parses a content type name, empty meaning any
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ContentAny:
		return ContentAny, nil
	case ContentImage:
		return ContentImage, nil
	case ContentVideo:
		return ContentVideo, nil
	case ContentAudio:
		return ContentAudio, nil
	}
	return "", fmt.Errorf("unknown content type: %q", s)
}

// Matches reports whether a file of the given kind satisfies the content type
func (c ContentType) Matches(kind MediaKind) bool {
	switch c {
	case "", ContentAny:
		return true
	case ContentImage:
		return kind == MediaImage
	case ContentVideo:
		return kind == MediaVideo
	case ContentAudio:
		return kind == MediaAudio
	}
	return false
}

// Source is a content source known to the engine. Sources are immutable
// once registered.
type Source struct {
	ID                     string  `yaml:"id" json:"id"`
	Category               string  `yaml:"category" json:"category"`
	NSFW                   bool    `yaml:"nsfw" json:"nsfw"`
	RequiresAuth           bool    `yaml:"requires_auth" json:"requires_auth"`
	DefaultRateLimitPerMin float64 `yaml:"rate_limit_per_min" json:"rate_limit_per_min"`
}

// MediaFile describes one file written under the downloads root. LocalPath
// is authoritative; ownership passes to the consumer once emitted.
type MediaFile struct {
	LocalPath    string    `json:"local_path"`
	Kind         MediaKind `json:"kind"`
	Source       string    `json:"source"`
	OriginURL    string    `json:"origin_url"`
	ByteSize     int64     `json:"byte_size"`
	ContentType  string    `json:"content_type"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// MethodKind identifies the technique a method uses
type MethodKind string

const (
	KindUniversalExtractor MethodKind = "UNIVERSAL_EXTRACTOR"
	KindHTMLJSONExtraction MethodKind = "HTML_JSON_EXTRACTION"
	KindHTMLDOMScrape      MethodKind = "HTML_DOM_SCRAPE"
	KindSiteAPI            MethodKind = "SITE_API"
	KindDirectHTTP         MethodKind = "DIRECT_HTTP"
	KindHeadlessBrowser    MethodKind = "HEADLESS_BROWSER"
	KindCustom             MethodKind = "CUSTOM"
)

// ValidMethodKinds returns all method kinds
func ValidMethodKinds() []MethodKind {
	return []MethodKind{
		KindUniversalExtractor, KindHTMLJSONExtraction, KindHTMLDOMScrape,
		KindSiteAPI, KindDirectHTTP, KindHeadlessBrowser, KindCustom,
	}
}

// IsValid checks if the kind is a known method kind
func (k MethodKind) IsValid() bool {
	for _, valid := range ValidMethodKinds() {
		if k == valid {
			return true
		}
	}
	return false
}

// MethodOutcome is the result of one executor run of a method, retries included
type MethodOutcome struct {
	Success          bool        `json:"success"`
	FilesDownloaded  int         `json:"files_downloaded"`
	Files            []MediaFile `json:"files,omitempty"`
	ErrorKind        ErrorKind   `json:"error_kind,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	ExecutionSeconds float64     `json:"execution_seconds"`
	RetryCount       int         `json:"retry_count"`
}

// Productive reports whether the outcome succeeded with at least one file
func (o MethodOutcome) Productive() bool {
	return o.Success && o.FilesDownloaded > 0
}
