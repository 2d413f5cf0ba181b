// Package daemon runs the background worker behind `pk serve`: it watches
// the inbox directory for dropped candidate files, imports them, and
// periodically drains the sync queue when a remote is configured.
//
// The daemon:
// 1. Watches .placekeep/inbox/ for new *.json candidate files
// 2. Imports settled files and archives them out of the inbox
// 3. Periodically drains the sync queue against the configured remote
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/placekeep/placekeep/internal/importer"
	"github.com/placekeep/placekeep/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a dropped file must sit unchanged before
	// it is imported. Batches partially written files together.
	DebounceInterval time.Duration

	// DrainInterval is how often to drain the sync queue. Zero disables
	// periodic draining (no remote configured).
	DrainInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		DrainInterval:    30 * time.Second,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Events receives notifications about daemon activity. All methods are
// optional; a nil Events drops them. The dashboard is the usual subscriber.
type Events interface {
	OnImport(stats importer.Stats, file string)
	OnDrain(stats sync.DrainStats)
}

// Daemon orchestrates inbox watching, imports, and queue draining.
type Daemon struct {
	inboxDir  string
	curatorID string
	importer  *importer.Importer
	engine    *sync.Engine // nil when no remote is configured
	events    Events
	config    *Config

	watcher     *fsnotify.Watcher
	dropQueue   map[string]time.Time // filepath -> last event time
	dropQueueMu stdsync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Daemon instance.
//
// engine may be nil (no remote configured); the daemon then only imports.
// events may be nil.
func New(inboxDir, curatorID string, im *importer.Importer, engine *sync.Engine, events Events, config *Config) (*Daemon, error) {
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if im == nil {
		return nil, fmt.Errorf("importer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		inboxDir:  inboxDir,
		curatorID: curatorID,
		importer:  im,
		engine:    engine,
		events:    events,
		config:    config,
		watcher:   watcher,
		dropQueue: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// On startup any candidate files already sitting in the inbox are imported,
// then the watcher takes over. This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := os.MkdirAll(d.inboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	d.config.Logger.Printf("Starting daemon, inbox=%s", d.inboxDir)

	// Import whatever was dropped while we weren't running.
	d.sweepInbox()

	if err := d.watcher.Add(d.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processDropQueue()

	if d.engine != nil && d.config.DrainInterval > 0 {
		d.wg.Add(1)
		go d.drainLoop()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()
	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.wg.Wait()
	d.config.Logger.Println("Daemon stopped")
	return nil
}

// sweepInbox imports every candidate file already present in the inbox.
func (d *Daemon) sweepInbox() {
	entries, err := os.ReadDir(d.inboxDir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.config.Logger.Printf("Warning: failed to read inbox: %v", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		d.importDroppedFile(filepath.Join(d.inboxDir, entry.Name()))
	}
}

// watchFileEvents monitors filesystem events and queues dropped files.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			d.dropQueueMu.Lock()
			d.dropQueue[event.Name] = time.Now()
			d.dropQueueMu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processDropQueue imports files once they have settled for the debounce
// interval. Writers that stream a large candidate file in several chunks
// keep resetting the timer until they finish.
func (d *Daemon) processDropQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.processSettledFiles()
		}
	}
}

func (d *Daemon) processSettledFiles() {
	d.dropQueueMu.Lock()
	var settled []string
	now := time.Now()
	for path, queuedAt := range d.dropQueue {
		if now.Sub(queuedAt) >= d.config.DebounceInterval {
			settled = append(settled, path)
			delete(d.dropQueue, path)
		}
	}
	d.dropQueueMu.Unlock()

	for _, path := range settled {
		d.importDroppedFile(path)
	}
}

// importDroppedFile imports one candidate file and archives it. Failed files
// are renamed aside rather than retried forever.
func (d *Daemon) importDroppedFile(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}

	stats, err := d.importer.ImportFile(d.ctx, path, d.curatorID)
	if err != nil {
		d.config.Logger.Printf("Error importing %s: %v", filepath.Base(path), err)
		if renameErr := os.Rename(path, path+".failed"); renameErr != nil {
			d.config.Logger.Printf("Warning: failed to set aside %s: %v", path, renameErr)
		}
		return
	}

	d.config.Logger.Printf("Imported %s: %d new, %d duplicates",
		filepath.Base(path), stats.Imported, stats.Duplicates)
	if err := os.Remove(path); err != nil {
		d.config.Logger.Printf("Warning: failed to remove %s: %v", path, err)
	}
	if d.events != nil {
		d.events.OnImport(stats, filepath.Base(path))
	}
}

// drainLoop periodically pushes pending operations to the remote.
func (d *Daemon) drainLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			stats, err := d.engine.Drain(d.ctx)
			if err != nil {
				d.config.Logger.Printf("Drain error: %v", err)
			}
			if d.events != nil && (stats.Pushed > 0 || stats.Conflicts > 0 || stats.Failed > 0) {
				d.events.OnDrain(stats)
			}
		}
	}
}
