package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ManifestFileName is the descriptor each tool unit must carry.
const ManifestFileName = "tool.json"

// DirLoader discovers tool units under a directory and registers them.
// Each unit is a subdirectory containing tool.json; its command entry
// point runs as a subprocess with parameters passed as JSON on stdin.
// Malformed units are skipped with a warning, never a hard failure.
type DirLoader struct {
	registry *Registry
	dir      string
	loader   *ManifestLoader
	logger   zerolog.Logger

	mu      sync.Mutex
	loaded  []string
	dirty   bool
	watcher *Watcher
}

// NewDirLoader creates a loader for the given tools directory
func NewDirLoader(registry *Registry, dir string, logger zerolog.Logger) *DirLoader {
	return &DirLoader{
		registry: registry,
		dir:      dir,
		loader:   NewManifestLoader(logger),
		logger:   logger.With().Str("component", "tool-discovery").Logger(),
	}
}

// Load scans the tools directory and registers every valid unit
func (d *DirLoader) Load() error {
	info, err := os.Stat(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("dir", d.dir).Msg("Tools directory does not exist, skipping")
			return nil
		}
		return fmt.Errorf("failed to stat tools directory %s: %w", d.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", d.dir)
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("failed to read tools directory %s: %w", d.dir, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		unitDir := filepath.Join(d.dir, entry.Name())
		manifestPath := filepath.Join(unitDir, ManifestFileName)

		if _, err := os.Stat(manifestPath); err != nil {
			d.logger.Debug().Str("dir", unitDir).Msg("No tool.json, skipping")
			continue
		}

		manifest, err := d.loader.LoadManifest(manifestPath)
		if err != nil {
			d.logger.Warn().Err(err).Str("dir", unitDir).Msg("Skipping malformed tool unit")
			continue
		}

		def := Definition{
			Name:        manifest.Name,
			Description: manifest.Description,
			Parameters:  manifest.Parameters,
			Handler:     subprocessHandler(unitDir, manifest.Command),
		}

		if err := d.registry.Register(def); err != nil {
			d.logger.Warn().Err(err).Str("tool", manifest.Name).Msg("Skipping tool unit")
			continue
		}

		d.loaded = append(d.loaded, manifest.Name)
		count++
	}

	d.logger.Info().Int("count", count).Str("dir", d.dir).Msg("Tool discovery completed")
	return nil
}

// MarkDirty flags the directory as changed. The next ReloadIfDirty call
// picks the changes up; a running task is never disturbed.
func (d *DirLoader) MarkDirty() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = true
}

// Dirty reports whether the tools directory changed since the last load
func (d *DirLoader) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// ReloadIfDirty re-scans the tools directory when it changed. Previously
// discovered tools are unregistered first so removals take effect.
func (d *DirLoader) ReloadIfDirty() error {
	d.mu.Lock()
	if !d.dirty {
		d.mu.Unlock()
		return nil
	}
	d.dirty = false
	loaded := d.loaded
	d.loaded = nil
	d.mu.Unlock()

	for _, name := range loaded {
		d.registry.Unregister(name)
	}

	d.logger.Info().Msg("Reloading tool units")
	return d.Load()
}

// Watch starts watching the tools directory for changes
func (d *DirLoader) Watch() error {
	watcher, err := NewWatcher(d.logger, d.MarkDirty)
	if err != nil {
		return err
	}
	if err := watcher.Watch(d.dir); err != nil {
		watcher.Stop()
		return err
	}

	d.mu.Lock()
	d.watcher = watcher
	d.mu.Unlock()

	return nil
}

// Close stops the directory watcher
func (d *DirLoader) Close() error {
	d.mu.Lock()
	watcher := d.watcher
	d.watcher = nil
	d.mu.Unlock()

	if watcher != nil {
		return watcher.Stop()
	}
	return nil
}

// subprocessHandler builds a Handler that runs the unit's entry point.
// Parameters are serialized as JSON on stdin; stdout is the result.
func subprocessHandler(dir string, command []string) Handler {
	return func(ctx context.Context, params map[string]interface{}) (string, error) {
		input, err := json.Marshal(params)
		if err != nil {
			return "", fmt.Errorf("failed to encode parameters: %w", err)
		}

		argv := make([]string, len(command))
		copy(argv, command)
		// Relative entry points resolve inside the unit directory.
		if !filepath.IsAbs(argv[0]) && strings.ContainsRune(argv[0], os.PathSeparator) {
			argv[0] = filepath.Join(dir, argv[0])
		}

		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = dir
		cmd.Stdin = bytes.NewReader(input)

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if stderr.Len() > 0 {
				return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
			}
			return "", err
		}

		return strings.TrimSpace(stdout.String()), nil
	}
}
