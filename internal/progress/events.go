// internal/progress/events.go

// Package progress defines the events a job emits and the per-job bus that
// carries them to the host.
package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/valpere/MediaScrapexter/pkg/types"
)

// EventType names a progress event
type EventType string

const (
	JobStarted     EventType = "job_started"
	SourceStarted  EventType = "source_started"
	SourceProgress EventType = "source_progress"
	FileDownloaded EventType = "file_downloaded"
	SourceFinished EventType = "source_finished"
	JobFinished    EventType = "job_finished"
)

// Totals summarises downloads for a job
type Totals struct {
	Downloaded int            `json:"downloaded"`
	PerSource  map[string]int `json:"per_source"`
}

// Event is one record on the bus. Only the fields relevant to Type are set.
type Event struct {
	ID    string    `json:"id"`
	Type  EventType `json:"type"`
	JobID string    `json:"job_id"`
	Time  time.Time `json:"time"`

	// job_started
	Query        string     `json:"query,omitempty"`
	Sources      []string   `json:"sources,omitempty"`
	MaxPerSource int        `json:"max_per_source,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`

	// per-source events
	Source string `json:"source,omitempty"`

	// source_progress
	Message         string `json:"message,omitempty"`
	ScannedSoFar    *int   `json:"scanned_so_far,omitempty"`
	DownloadedSoFar *int   `json:"downloaded_so_far,omitempty"`

	// file_downloaded
	File *types.MediaFile `json:"media_file,omitempty"`

	// source_finished; success and downloaded are always written
	Success    bool            `json:"success"`
	Downloaded int             `json:"downloaded"`
	ErrorKind  types.ErrorKind `json:"error_kind,omitempty"`

	// job_finished
	Status     types.JobStatus `json:"status,omitempty"`
	Totals     *Totals         `json:"totals,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// At returns the job_started or job_finished stamp, falling back to the
// event time
func (e Event) At() time.Time {
	switch {
	case e.Type == JobStarted && e.StartedAt != nil:
		return *e.StartedAt
	case e.Type == JobFinished && e.FinishedAt != nil:
		return *e.FinishedAt
	}
	return e.Time
}

func newEvent(t EventType, jobID string) Event {
	return Event{ID: uuid.NewString(), Type: t, JobID: jobID, Time: time.Now().UTC()}
}

// NewJobStarted builds a job_started event
func NewJobStarted(jobID, query string, sources []string, maxPerSource int, startedAt time.Time) Event {
	ev := newEvent(JobStarted, jobID)
	ev.Query = query
	ev.Sources = append([]string(nil), sources...)
	ev.MaxPerSource = maxPerSource
	ev.StartedAt = &startedAt
	return ev
}

// NewSourceStarted builds a source_started event
func NewSourceStarted(jobID, source string) Event {
	ev := newEvent(SourceStarted, jobID)
	ev.Source = source
	return ev
}

// NewSourceProgress builds a source_progress event; negative counts are omitted
func NewSourceProgress(jobID, source, message string, scanned, downloaded int) Event {
	ev := newEvent(SourceProgress, jobID)
	ev.Source = source
	ev.Message = message
	if scanned >= 0 {
		ev.ScannedSoFar = &scanned
	}
	if downloaded >= 0 {
		ev.DownloadedSoFar = &downloaded
	}
	return ev
}

// NewFileDownloaded builds a file_downloaded event
func NewFileDownloaded(jobID, source string, file types.MediaFile) Event {
	ev := newEvent(FileDownloaded, jobID)
	ev.Source = source
	ev.File = &file
	return ev
}

// NewSourceFinished builds a source_finished event
func NewSourceFinished(jobID, source string, success bool, downloaded int, kind types.ErrorKind) Event {
	ev := newEvent(SourceFinished, jobID)
	ev.Source = source
	ev.Success = success
	ev.Downloaded = downloaded
	ev.ErrorKind = kind
	return ev
}

// NewJobFinished builds a job_finished event
func NewJobFinished(jobID string, status types.JobStatus, totals Totals, kind types.ErrorKind, finishedAt time.Time) Event {
	ev := newEvent(JobFinished, jobID)
	ev.Status = status
	ev.Totals = &totals
	ev.ErrorKind = kind
	ev.FinishedAt = &finishedAt
	return ev
}
