package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates the log file", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "agent.log")

		w, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(logFile)
		assert.NoError(t, err)
	})

	t.Run("creates parent directories", func(t *testing.T) {
		tmpDir := t.TempDir()
		logFile := filepath.Join(tmpDir, "logs", "agent.log")

		w, err := NewRotatingWriter(logFile, 10, 7, false)
		require.NoError(t, err)
		defer w.Close()

		_, err = os.Stat(filepath.Dir(logFile))
		assert.NoError(t, err)
	})
}

func TestRotatingWriterWrite(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "agent.log")

	w, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	data := []byte("task submitted\n")
	n, err := w.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "task submitted")
}

func TestRotatingWriterRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "agent.log")

	w, err := NewRotatingWriter(logFile, 1, 7, false)
	require.NoError(t, err)
	defer w.Close()

	w.maxSize = 64

	_, err = w.Write(make([]byte, 60))
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 60))
	require.NoError(t, err)

	files, err := filepath.Glob(logFile + ".*")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	// The active file starts fresh after rotation.
	info, err := os.Stat(logFile)
	require.NoError(t, err)
	assert.Equal(t, int64(60), info.Size())
}

func TestCompressFile(t *testing.T) {
	tmpDir := t.TempDir()
	rotated := filepath.Join(tmpDir, "agent.log.20260101-000000")

	err := os.WriteFile(rotated, []byte("old entries"), 0644)
	require.NoError(t, err)

	err = compressFile(rotated)
	require.NoError(t, err)

	_, err = os.Stat(rotated + ".gz")
	assert.NoError(t, err)

	_, err = os.Stat(rotated)
	assert.True(t, os.IsNotExist(err))
}

func TestPrune(t *testing.T) {
	tmpDir := t.TempDir()
	logFile := filepath.Join(tmpDir, "agent.log")

	oldFile := logFile + ".20200101-120000"
	err := os.WriteFile(oldFile, []byte("old log"), 0644)
	require.NoError(t, err)

	oldTime := time.Now().AddDate(0, 0, -10)
	err = os.Chtimes(oldFile, oldTime, oldTime)
	require.NoError(t, err)

	w, err := NewRotatingWriter(logFile, 10, 7, false)
	require.NoError(t, err)
	defer w.Close()

	w.prune()

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
}
