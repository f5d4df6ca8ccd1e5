package training

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestIsDatasetChange(t *testing.T) {
	target := filepath.Join(t.TempDir(), "train.csv")
	other := filepath.Join(filepath.Dir(target), "other.csv")

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write", fsnotify.Event{Name: target, Op: fsnotify.Write}, true},
		{"create", fsnotify.Event{Name: target, Op: fsnotify.Create}, true},
		{"rename", fsnotify.Event{Name: target, Op: fsnotify.Rename}, true},
		{"chmod", fsnotify.Event{Name: target, Op: fsnotify.Chmod}, false},
		{"remove", fsnotify.Event{Name: target, Op: fsnotify.Remove}, false},
		{"other file", fsnotify.Event{Name: other, Op: fsnotify.Write}, false},
		{"unclean name", fsnotify.Event{Name: filepath.Dir(target) + "/./train.csv", Op: fsnotify.Write}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDatasetChange(tt.event, target))
		})
	}
}

func TestWatchFileRetriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "train.csv")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(target, []byte(header), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, target, 20*time.Millisecond, zaptest.NewLogger(t), func(context.Context) {
			calls.Add(1)
		})
	}()

	// siblings in the watched directory are ignored
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())

	assert.Eventually(t, func() bool {
		if err := os.WriteFile(target, []byte(header), 0o644); err != nil {
			return false
		}
		return calls.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchFileMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent", "train.csv")
	err := WatchFile(context.Background(), path, DefaultSettle, zaptest.NewLogger(t), func(context.Context) {})
	assert.Error(t, err)
}
