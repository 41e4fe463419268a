// internal/output/catalog.go
package output

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/valpere/MediaScrapexter/internal/progress"
	"github.com/valpere/MediaScrapexter/pkg/types"
)

const catalogWriteTimeout = 10 * time.Second

// CatalogOptions configures a SQL asset catalog
type CatalogOptions struct {
	Driver      string
	DSN         string
	TablePrefix string
}

// JobRecord is a job row in the catalog
type JobRecord struct {
	JobID        string
	Query        string
	Sources      []string
	MaxPerSource int
	Status       types.JobStatus
	Downloaded   int
	ErrorKind    types.ErrorKind
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Catalog records jobs and the files they downloaded in a SQL database
type Catalog struct {
	db      *sql.DB
	dialect Dialect
	jobs    string
	assets  string
}

// OpenCatalog connects to the database and creates the catalog tables
func OpenCatalog(ctx context.Context, options CatalogOptions) (*Catalog, error) {
	dialect, err := ParseDialect(options.Driver)
	if err != nil {
		return nil, err
	}
	if options.DSN == "" {
		return nil, fmt.Errorf("catalog DSN is required")
	}
	prefix := options.TablePrefix
	if prefix == "" {
		prefix = DefaultTablePrefix
	}
	for _, table := range []string{prefix + "_jobs", prefix + "_assets"} {
		if err := ValidateSQLIdentifier(table, dialect); err != nil {
			return nil, fmt.Errorf("invalid table prefix: %w", err)
		}
	}

	dsn, err := connectionString(dialect, options.DSN)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// SQLite works best with a single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		for _, pragma := range []string{"PRAGMA synchronous = NORMAL", "PRAGMA temp_store = memory"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to set pragma: %w", err)
			}
		}
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	c := &Catalog{
		db:      db,
		dialect: dialect,
		jobs:    prefix + "_jobs",
		assets:  prefix + "_assets",
	}
	if err := c.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// connectionString applies driver defaults to a DSN
func connectionString(dialect Dialect, dsn string) (string, error) {
	switch dialect {
	case DialectSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_foreign_keys=on"
		}
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid mysql DSN: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	}
	return dsn, nil
}

func (c *Catalog) quote(name string) string {
	switch c.dialect {
	case DialectPostgres:
		return pq.QuoteIdentifier(name)
	case DialectMySQL:
		return "`" + name + "`"
	default:
		return "[" + name + "]"
	}
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (c *Catalog) rebind(query string) string {
	if c.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insertIgnore builds an INSERT that skips rows violating a unique key
func (c *Catalog) insertIgnore(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	body := fmt.Sprintf("INTO %s (%s) VALUES (%s)", c.quote(table), strings.Join(columns, ", "), marks)
	switch c.dialect {
	case DialectPostgres:
		return c.rebind("INSERT " + body + " ON CONFLICT DO NOTHING")
	case DialectMySQL:
		return "INSERT IGNORE " + body
	default:
		return "INSERT OR IGNORE " + body
	}
}

func (c *Catalog) createTables(ctx context.Context) error {
	var jobs, assets string
	switch c.dialect {
	case DialectPostgres:
		jobs = `(
			job_id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			sources TEXT,
			max_per_source INTEGER,
			status TEXT,
			downloaded INTEGER DEFAULT 0,
			error_kind TEXT,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		)`
		assets = `(
			id BIGSERIAL PRIMARY KEY,
			job_id TEXT NOT NULL,
			source TEXT NOT NULL,
			local_path TEXT NOT NULL,
			kind TEXT,
			origin_url TEXT,
			byte_size BIGINT,
			content_type TEXT,
			discovered_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (job_id, local_path)
		)`
	case DialectMySQL:
		jobs = `(
			job_id VARCHAR(64) PRIMARY KEY,
			query TEXT NOT NULL,
			sources TEXT,
			max_per_source INT,
			status VARCHAR(16),
			downloaded INT DEFAULT 0,
			error_kind VARCHAR(32),
			started_at DATETIME(6) NULL,
			finished_at DATETIME(6) NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
		assets = `(
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			job_id VARCHAR(64) NOT NULL,
			source VARCHAR(64) NOT NULL,
			local_path VARCHAR(700) NOT NULL,
			kind VARCHAR(16),
			origin_url TEXT,
			byte_size BIGINT,
			content_type VARCHAR(255),
			discovered_at DATETIME(6) NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY job_path (job_id, local_path)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	default:
		jobs = `(
			job_id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			sources TEXT,
			max_per_source INTEGER,
			status TEXT,
			downloaded INTEGER DEFAULT 0,
			error_kind TEXT,
			started_at DATETIME,
			finished_at DATETIME
		)`
		assets = `(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			source TEXT NOT NULL,
			local_path TEXT NOT NULL,
			kind TEXT,
			origin_url TEXT,
			byte_size INTEGER,
			content_type TEXT,
			discovered_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (job_id, local_path)
		)`
	}

	for table, def := range map[string]string{c.jobs: jobs, c.assets: assets} {
		query := "CREATE TABLE IF NOT EXISTS " + c.quote(table) + " " + def
		if _, err := c.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create table '%s': %w", table, err)
		}
	}
	return nil
}

// StartJob records a job; a job already recorded is left alone
func (c *Catalog) StartJob(ctx context.Context, rec JobRecord) error {
	query := c.insertIgnore(c.jobs, []string{"job_id", "query", "sources", "max_per_source", "status", "started_at"})
	_, err := c.db.ExecContext(ctx, query,
		rec.JobID, rec.Query, strings.Join(rec.Sources, ","), rec.MaxPerSource, string(types.StatusRunning), rec.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record job %s: %w", rec.JobID, err)
	}
	return nil
}

// FinishJob stores a job's terminal state, creating the row if the start
// was never recorded
func (c *Catalog) FinishJob(ctx context.Context, jobID string, status types.JobStatus, downloaded int, kind types.ErrorKind, finishedAt time.Time) error {
	update := c.rebind("UPDATE " + c.quote(c.jobs) +
		" SET status = ?, downloaded = ?, error_kind = ?, finished_at = ? WHERE job_id = ?")
	res, err := c.db.ExecContext(ctx, update, string(status), downloaded, string(kind), finishedAt.UTC(), jobID)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	insert := c.insertIgnore(c.jobs, []string{"job_id", "query", "status", "downloaded", "error_kind", "finished_at"})
	if _, err := c.db.ExecContext(ctx, insert, jobID, "", string(status), downloaded, string(kind), finishedAt.UTC()); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}
	return nil
}

// RecordAsset stores a downloaded file. Recording the same path twice for
// a job is a no-op.
func (c *Catalog) RecordAsset(ctx context.Context, jobID string, file types.MediaFile) error {
	query := c.insertIgnore(c.assets, []string{
		"job_id", "source", "local_path", "kind", "origin_url", "byte_size", "content_type", "discovered_at",
	})
	_, err := c.db.ExecContext(ctx, query,
		jobID, file.Source, file.LocalPath, string(file.Kind), file.OriginURL, file.ByteSize, file.ContentType, file.DiscoveredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record asset %s: %w", file.LocalPath, err)
	}
	return nil
}

// Assets lists the files recorded for a job in insertion order
func (c *Catalog) Assets(ctx context.Context, jobID string) ([]types.MediaFile, error) {
	query := c.rebind("SELECT source, local_path, kind, origin_url, byte_size, content_type, discovered_at FROM " +
		c.quote(c.assets) + " WHERE job_id = ? ORDER BY id")
	rows, err := c.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var out []types.MediaFile
	for rows.Next() {
		var (
			f          types.MediaFile
			kind       sql.NullString
			origin     sql.NullString
			size       sql.NullInt64
			ctype      sql.NullString
			discovered sql.NullTime
		)
		if err := rows.Scan(&f.Source, &f.LocalPath, &kind, &origin, &size, &ctype, &discovered); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		f.Kind = types.MediaKind(kind.String)
		f.OriginURL = origin.String
		f.ByteSize = size.Int64
		f.ContentType = ctype.String
		if discovered.Valid {
			f.DiscoveredAt = discovered.Time.UTC()
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ErrJobNotFound is returned by Job for an unknown job id
var ErrJobNotFound = errors.New("job not found in catalog")

// Job reads one job row
func (c *Catalog) Job(ctx context.Context, jobID string) (*JobRecord, error) {
	query := c.rebind("SELECT job_id, query, sources, max_per_source, status, downloaded, error_kind, started_at, finished_at FROM " +
		c.quote(c.jobs) + " WHERE job_id = ?")

	var (
		rec      JobRecord
		sources  sql.NullString
		maxPer   sql.NullInt64
		status   sql.NullString
		down     sql.NullInt64
		kind     sql.NullString
		started  sql.NullTime
		finished sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, query, jobID).Scan(
		&rec.JobID, &rec.Query, &sources, &maxPer, &status, &down, &kind, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	if sources.String != "" {
		rec.Sources = strings.Split(sources.String, ",")
	}
	rec.MaxPerSource = int(maxPer.Int64)
	rec.Status = types.JobStatus(status.String)
	rec.Downloaded = int(down.Int64)
	rec.ErrorKind = types.ErrorKind(kind.String)
	if started.Valid {
		rec.StartedAt = started.Time.UTC()
	}
	if finished.Valid {
		t := finished.Time.UTC()
		rec.FinishedAt = &t
	}
	return &rec, nil
}

// WriteEvent records job_started, file_downloaded and job_finished events
func (c *Catalog) WriteEvent(ev progress.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), catalogWriteTimeout)
	defer cancel()

	switch ev.Type {
	case progress.JobStarted:
		return c.StartJob(ctx, JobRecord{
			JobID:        ev.JobID,
			Query:        ev.Query,
			Sources:      ev.Sources,
			MaxPerSource: ev.MaxPerSource,
			StartedAt:    ev.At(),
		})
	case progress.FileDownloaded:
		if ev.File == nil {
			return nil
		}
		return c.RecordAsset(ctx, ev.JobID, *ev.File)
	case progress.JobFinished:
		downloaded := 0
		if ev.Totals != nil {
			downloaded = ev.Totals.Downloaded
		}
		return c.FinishJob(ctx, ev.JobID, ev.Status, downloaded, ev.ErrorKind, ev.At())
	}
	return nil
}

// Close closes the database connection
func (c *Catalog) Close() error {
	return c.db.Close()
}
