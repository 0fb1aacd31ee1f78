// Package dirwatch keeps an inventory of the fiscal-year partition files in
// the data directory. Partitions can appear or vanish out-of-band (restores
// from backup, archival moves); the watcher notices and keeps the
// availability registry the status command reports from.
package dirwatch

import (
	"context"
	"os"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/yeardb/yeardb/internal/database"
	"github.com/yeardb/yeardb/internal/fiscal"
)

// Watcher watches the data directory for partition files.
type Watcher struct {
	dir     string
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	available map[fiscal.Year]struct{}
	running   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher over the given data directory.
func New(dir string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		dir:       dir,
		watcher:   fsWatcher,
		available: make(map[fiscal.Year]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start scans existing partition files and begins watching for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := w.scanLocked(); err != nil {
		return err
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	w.running = true
	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("dir", w.dir).Int("partitions", len(w.available)).Msg("Partition watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.cancel()
	w.watcher.Close()
	w.wg.Wait()

	log.Info().Msg("Partition watcher stopped")
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Available returns the fiscal years with a partition file on disk, oldest
// first.
func (w *Watcher) Available() []fiscal.Year {
	w.mu.RLock()
	defer w.mu.RUnlock()

	years := make([]fiscal.Year, 0, len(w.available))
	for y := range w.available {
		years = append(years, y)
	}
	slices.Sort(years)
	return years
}

// scanLocked seeds the registry from the files already on disk.
// Caller must hold w.mu.
func (w *Watcher) scanLocked() error {
	dirEntries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if year, ok := database.ParsePartitionFile(de.Name()); ok {
			w.available[year] = struct{}{}
		}
	}
	return nil
}

// eventLoop processes filesystem events.
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Partition watcher error")
		}
	}
}

// handleEvent updates the registry for a single filesystem event.
// SQLite sidecar files (-wal, -shm) never parse as partition names and fall
// through silently.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	year, ok := database.ParsePartitionFile(event.Name)
	if !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		w.mu.Lock()
		_, known := w.available[year]
		w.available[year] = struct{}{}
		w.mu.Unlock()
		if !known {
			log.Info().Str("fiscal_year", year.Label()).Msg("Partition file appeared")
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.mu.Lock()
		_, known := w.available[year]
		delete(w.available, year)
		w.mu.Unlock()
		if known {
			log.Warn().Str("fiscal_year", year.Label()).Msg("Partition file removed")
		}
	}
}
