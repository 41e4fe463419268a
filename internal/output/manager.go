// internal/output/manager.go
package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"

	"github.com/valpere/MediaScrapexter/internal/config"
	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/internal/utils"
)

// Options selects the outputs a Manager drives
type Options struct {
	// EventsFile receives the NDJSON event log; empty disables it
	EventsFile string
	Fs         afero.Fs
	Catalog    *CatalogOptions
}

// OptionsFromConfig builds options from the catalog config and an events path
func OptionsFromConfig(cfg *config.EngineConfig, eventsFile string) Options {
	opts := Options{EventsFile: eventsFile, Fs: afero.NewOsFs()}
	if cfg != nil && cfg.Catalog.Driver != "" {
		opts.Catalog = &CatalogOptions{
			Driver:      cfg.Catalog.Driver,
			DSN:         cfg.Catalog.DSN,
			TablePrefix: cfg.Catalog.TablePrefix,
		}
	}
	return opts
}

// Manager fans progress events out to every configured writer
type Manager struct {
	writers []Writer
	names   []string
	logger  utils.Logger
}

// NewManager opens the configured outputs
func NewManager(ctx context.Context, opts Options, logger utils.Logger) (*Manager, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	m := &Manager{logger: logger}

	if opts.EventsFile != "" {
		fs := opts.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		w, err := NewNDJSONFile(fs, opts.EventsFile)
		if err != nil {
			return nil, err
		}
		m.Add("events", w)
	}

	if opts.Catalog != nil {
		c, err := OpenCatalog(ctx, *opts.Catalog)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		m.Add("catalog", c)
	}
	return m, nil
}

// Add registers another writer
func (m *Manager) Add(name string, w Writer) {
	m.writers = append(m.writers, w)
	m.names = append(m.names, name)
}

// Len returns the number of writers
func (m *Manager) Len() int {
	return len(m.writers)
}

// WriteEvent hands ev to every writer. A failing writer does not stop the
// others; the errors are joined.
func (m *Manager) WriteEvent(ev progress.Event) error {
	var errs []error
	for i, w := range m.writers {
		if err := w.WriteEvent(ev); err != nil {
			m.logger.WithField("output", m.names[i]).WithField("event", string(ev.Type)).Warnf("output write failed: %v", err)
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	return errors.Join(errs...)
}

// Consume writes events until the channel closes and returns how many
// were seen
func (m *Manager) Consume(events <-chan progress.Event) int {
	n := 0
	for ev := range events {
		n++
		m.WriteEvent(ev)
	}
	return n
}

// Close closes every writer
func (m *Manager) Close() error {
	var errs []error
	for i, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.names[i], err))
		}
	}
	m.writers = nil
	m.names = nil
	return errors.Join(errs...)
}
