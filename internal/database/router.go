package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/yeardb/yeardb/internal/config"
	"github.com/yeardb/yeardb/internal/fiscal"
)

var (
	// ErrInvalidLabel is returned when a caller-supplied fiscal year label
	// fails format validation.
	ErrInvalidLabel = errors.New("invalid fiscal year label")

	// ErrClosed is returned for any operation attempted after Shutdown.
	ErrClosed = errors.New("database router is closed")
)

// Router lifecycle states. Only stateConnected permits handle resolution.
type state int

const (
	stateUninitialized state = iota
	stateConnected
	stateShuttingDown
	stateClosed
)

// Config carries the construction-time parameters for a Router.
type Config struct {
	// DataDir holds the catalog database and one file per fiscal year.
	DataDir string

	// ConnectTimeout bounds the initial connect/ping. Zero means the
	// global timeout configuration.
	ConnectTimeout time.Duration

	// Clock supplies "now" for current-fiscal-year resolution. Nil means
	// time.Now. Always evaluated in UTC.
	Clock func() time.Time
}

// Router resolves fiscal-year-partitioned logical databases over a single
// shared SQLite connection. Each fiscal year lives in its own database file
// ATTACHed on demand under a schema named after its label. ATTACH is
// per-connection in SQLite, so the pool is pinned to exactly one connection;
// every handle returned by the router is a view over that connection.
type Router struct {
	dataDir string
	clock   func() time.Time

	mu      sync.RWMutex
	state   state
	conn    *sql.DB
	handles map[fiscal.Year]*Handle

	// group collapses concurrent first-access for the same fiscal year so
	// attach + migration runs exactly once per label.
	group singleflight.Group
}

// Open connects to the catalog database in cfg.DataDir and returns a
// connected Router. The directory is created if missing.
func Open(cfg Config) (*Router, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = config.GetTimeouts().Connect
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// WAL for concurrent readers on the year files; busy timeout so a
	// second process fails fast instead of hanging.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on",
		filepath.Join(cfg.DataDir, "catalog.db"))

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	// The whole partition scheme rides on ATTACH state, which is
	// per-connection. One connection, shared by all handles.
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	r := &Router{
		dataDir: cfg.DataDir,
		clock:   cfg.Clock,
		state:   stateConnected,
		conn:    conn,
		handles: make(map[fiscal.Year]*Handle),
	}

	if err := r.migrateCatalog(ctx); err != nil {
		conn.Close()
		r.state = stateClosed
		return nil, err
	}

	log.Debug().Str("data_dir", cfg.DataDir).Msg("Database router connected")
	return r, nil
}

// Current resolves the logical database for the fiscal year containing the
// router clock's current time.
func (r *Router) Current(ctx context.Context) (*Handle, error) {
	return r.handleFor(ctx, fiscal.YearOf(r.clock()))
}

// ForYear resolves the logical database for an explicitly supplied fiscal
// year label, independent of the current date.
func (r *Router) ForYear(ctx context.Context, label string) (*Handle, error) {
	year, err := fiscal.Parse(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLabel, err)
	}
	return r.handleFor(ctx, year)
}

// Shutdown closes the shared connection. It is idempotent and safe to call
// concurrently from a signal handler and the normal shutdown path; only the
// first caller performs the close.
func (r *Router) Shutdown() error {
	r.mu.Lock()
	if r.state != stateConnected {
		r.mu.Unlock()
		return nil
	}
	r.state = stateShuttingDown
	conn := r.conn
	r.mu.Unlock()

	err := conn.Close()

	r.mu.Lock()
	r.state = stateClosed
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close shared connection: %w", err)
	}
	log.Debug().Msg("Database router closed")
	return nil
}

// DataDir returns the directory holding the catalog and year files.
func (r *Router) DataDir() string {
	return r.dataDir
}

// acquire returns the shared connection if the router is still connected.
func (r *Router) acquire() (*sql.DB, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != stateConnected {
		return nil, ErrClosed
	}
	return r.conn, nil
}

// handleFor returns the memoized handle for year, attaching and migrating
// the partition on first access.
func (r *Router) handleFor(ctx context.Context, year fiscal.Year) (*Handle, error) {
	r.mu.RLock()
	if r.state != stateConnected {
		r.mu.RUnlock()
		return nil, ErrClosed
	}
	if h, ok := r.handles[year]; ok {
		r.mu.RUnlock()
		return h, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(year.Label(), func() (any, error) {
		return r.attach(ctx, year)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// attach brings the partition for year onto the shared connection and runs
// its migrations. Runs under singleflight; rechecks the memo so a duplicate
// flight after a cache miss race stays idempotent.
func (r *Router) attach(ctx context.Context, year fiscal.Year) (*Handle, error) {
	r.mu.Lock()
	if r.state != stateConnected {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if h, ok := r.handles[year]; ok {
		r.mu.Unlock()
		return h, nil
	}
	conn := r.conn
	r.mu.Unlock()

	schema := SchemaName(year)
	path := filepath.Join(r.dataDir, PartitionFile(year))

	// Schema names derive from validated labels; the file path is the only
	// free value and is bound as a parameter.
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("ATTACH DATABASE ? AS %s", schema), path); err != nil {
		return nil, fmt.Errorf("failed to attach fiscal year %s: %w", year, err)
	}

	if err := r.migratePartition(ctx, schema); err != nil {
		// Detach so the next access can retry from a clean slate; a
		// half-migrated schema stays on disk and the migrations are
		// idempotent.
		if _, detachErr := conn.ExecContext(ctx, "DETACH DATABASE "+schema); detachErr != nil {
			log.Warn().Err(detachErr).Str("fiscal_year", year.Label()).Msg("Failed to detach partition after migration failure")
		}
		return nil, err
	}

	h := &Handle{router: r, year: year, schema: schema}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateConnected {
		return nil, ErrClosed
	}
	r.handles[year] = h

	log.Info().Str("fiscal_year", year.Label()).Str("file", path).Msg("Fiscal year partition attached")
	return h, nil
}

// SchemaName returns the SQLite schema name a fiscal year is attached under.
func SchemaName(year fiscal.Year) string {
	return "fy_" + year.Label()
}

// PartitionFile returns the database filename for a fiscal year.
func PartitionFile(year fiscal.Year) string {
	return "fy_" + year.Label() + ".db"
}

// ParsePartitionFile recovers the fiscal year from a partition filename.
// Returns false for anything that is not a well-formed partition file.
func ParsePartitionFile(name string) (fiscal.Year, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "fy_") || !strings.HasSuffix(base, ".db") {
		return 0, false
	}
	label := strings.TrimSuffix(strings.TrimPrefix(base, "fy_"), ".db")
	year, err := fiscal.Parse(label)
	if err != nil {
		return 0, false
	}
	return year, true
}
