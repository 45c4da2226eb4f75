package toolregistry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeToolUnit(t *testing.T, dir, name, manifest string) {
	t.Helper()
	unitDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(unitDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(unitDir, ManifestFileName), []byte(manifest), 0644))
}

func TestDirLoaderLoad(t *testing.T) {
	t.Run("registers valid units and skips malformed ones", func(t *testing.T) {
		toolsDir := t.TempDir()

		writeToolUnit(t, toolsDir, "greeter", `{
			"name": "greeter",
			"description": "Prints a greeting",
			"command": ["echo", "hello"]
		}`)
		writeToolUnit(t, toolsDir, "broken", `{"name": "broken"}`)

		// A subdirectory without a manifest is ignored.
		require.NoError(t, os.MkdirAll(filepath.Join(toolsDir, "not-a-tool"), 0755))

		registry := New(testLogger(), time.Second)
		loader := NewDirLoader(registry, toolsDir, testLogger())

		require.NoError(t, loader.Load())

		assert.Equal(t, []string{"greeter"}, registry.List())
	})

	t.Run("missing directory is not an error", func(t *testing.T) {
		registry := New(testLogger(), time.Second)
		loader := NewDirLoader(registry, filepath.Join(t.TempDir(), "absent"), testLogger())

		assert.NoError(t, loader.Load())
		assert.Equal(t, 0, registry.Count())
	})

	t.Run("duplicate of a static tool is skipped", func(t *testing.T) {
		toolsDir := t.TempDir()
		writeToolUnit(t, toolsDir, "echo", `{
			"name": "echo",
			"description": "Shadows the static echo tool",
			"command": ["echo"]
		}`)

		registry := New(testLogger(), time.Second)
		require.NoError(t, registry.Register(echoDefinition("echo")))

		loader := NewDirLoader(registry, toolsDir, testLogger())
		require.NoError(t, loader.Load())

		// The static registration wins.
		assert.Equal(t, 1, registry.Count())
	})
}

func TestDirLoaderReload(t *testing.T) {
	toolsDir := t.TempDir()
	writeToolUnit(t, toolsDir, "first", `{
		"name": "first",
		"description": "First tool",
		"command": ["echo", "one"]
	}`)

	registry := New(testLogger(), time.Second)
	loader := NewDirLoader(registry, toolsDir, testLogger())
	require.NoError(t, loader.Load())
	assert.Equal(t, []string{"first"}, registry.List())

	t.Run("clean loader does not reload", func(t *testing.T) {
		require.NoError(t, loader.ReloadIfDirty())
		assert.Equal(t, []string{"first"}, registry.List())
	})

	t.Run("dirty loader picks up added and removed units", func(t *testing.T) {
		writeToolUnit(t, toolsDir, "second", `{
			"name": "second",
			"description": "Second tool",
			"command": ["echo", "two"]
		}`)
		require.NoError(t, os.RemoveAll(filepath.Join(toolsDir, "first")))

		loader.MarkDirty()
		assert.True(t, loader.Dirty())

		require.NoError(t, loader.ReloadIfDirty())
		assert.Equal(t, []string{"second"}, registry.List())
		assert.False(t, loader.Dirty())
	})
}

func TestSubprocessHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("passes parameters on stdin and returns stdout", func(t *testing.T) {
		handler := subprocessHandler(t.TempDir(), []string{"sh", "-c", "cat"})

		result, err := handler(ctx, map[string]interface{}{"city": "Lima"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"city": "Lima"}`, result)
	})

	t.Run("trims trailing newline from output", func(t *testing.T) {
		handler := subprocessHandler(t.TempDir(), []string{"echo", "done"})

		result, err := handler(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "done", result)
	})

	t.Run("surfaces stderr on failure", func(t *testing.T) {
		handler := subprocessHandler(t.TempDir(), []string{"sh", "-c", "echo oops >&2; exit 3"})

		_, err := handler(ctx, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oops")
	})

	t.Run("relative entry point resolves inside the unit directory", func(t *testing.T) {
		unitDir := t.TempDir()
		script := filepath.Join(unitDir, "run.sh")
		require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho from-script\n"), 0755))

		handler := subprocessHandler(unitDir, []string{"./run.sh"})

		result, err := handler(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "from-script", result)
	})
}

func TestDirLoaderWatch(t *testing.T) {
	toolsDir := t.TempDir()

	registry := New(testLogger(), time.Second)
	loader := NewDirLoader(registry, toolsDir, testLogger())
	require.NoError(t, loader.Load())

	require.NoError(t, loader.Watch())
	defer loader.Close()

	writeToolUnit(t, toolsDir, "late", `{
		"name": "late",
		"description": "Added after startup",
		"command": ["echo", "late"]
	}`)

	// Debounced dirty marking.
	require.Eventually(t, loader.Dirty, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, loader.ReloadIfDirty())
	assert.Contains(t, registry.List(), "late")
}
