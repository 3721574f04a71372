package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) handle(event ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) get() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) contents() []string {
	var out []string
	for _, e := range r.get() {
		if e.Type != EventTypeDeleted {
			out = append(out, e.Content)
		}
	}
	return out
}

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(9), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcherValidation(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileWatcher(filepath.Join(dir, "notes.txt"), nil)
	assert.Error(t, err)

	_, err = NewFileWatcher("../../flow.mmd", nil)
	assert.Error(t, err)

	fw, err := NewFileWatcher(filepath.Join(dir, "flow.mmd"), nil)
	require.NoError(t, err)
	defer fw.Stop()
	assert.True(t, filepath.IsAbs(fw.Path()))
}

func startWatcher(t *testing.T, path string) (*FileWatcher, *recorder) {
	t.Helper()
	fw, err := NewFileWatcher(path, nil)
	require.NoError(t, err)

	rec := &recorder{}
	fw.AddHandler(rec.handle)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, fw.Start(ctx))
	t.Cleanup(func() {
		cancel()
		fw.Stop()
	})
	return fw, rec
}

func TestFileWatcherDeliversInitialContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.mmd")
	require.NoError(t, os.WriteFile(path, []byte("graph TD\nA-->B"), 0o644))

	_, rec := startWatcher(t, path)

	events := rec.get()
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeCreated, events[0].Type)
	assert.Equal(t, "graph TD\nA-->B", events[0].Content)
}

func TestFileWatcherFollowsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.mmd")
	require.NoError(t, os.WriteFile(path, []byte("graph TD"), 0o644))

	fw, rec := startWatcher(t, path)

	require.NoError(t, os.WriteFile(path, []byte("graph TD\nA-->B"), 0o644))
	require.Eventually(t, func() bool {
		c := rec.contents()
		return len(c) > 0 && c[len(c)-1] == "graph TD\nA-->B"
	}, 2*time.Second, 10*time.Millisecond)

	// Seeing identical content again is not a change.
	n := len(rec.contents())
	info, err := os.Stat(path)
	require.NoError(t, err)
	fw.emit(context.Background(), EventTypeModified, info)
	assert.Len(t, rec.contents(), n)
}

func TestFileWatcherFollowsAtomicSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.mmd")
	require.NoError(t, os.WriteFile(path, []byte("graph TD"), 0o644))

	_, rec := startWatcher(t, path)

	tmp := filepath.Join(dir, ".flow.mmd.swp")
	require.NoError(t, os.WriteFile(tmp, []byte("graph LR\nX-->Y"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		c := rec.contents()
		return len(c) > 0 && c[len(c)-1] == "graph LR\nX-->Y"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.mmd")
	require.NoError(t, os.WriteFile(path, []byte("graph TD"), 0o644))

	_, rec := startWatcher(t, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.mmd"), []byte("pie"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"graph TD"}, rec.contents())
}

func TestFileWatcherReportsDeletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.mmd")
	require.NoError(t, os.WriteFile(path, []byte("graph TD"), 0o644))

	_, rec := startWatcher(t, path)
	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		events := rec.get()
		return len(events) > 0 && events[len(events)-1].Type == EventTypeDeleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcherHandlerErrorsDoNotStopDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.mmd")
	require.NoError(t, os.WriteFile(path, []byte("graph TD"), 0o644))

	fw, err := NewFileWatcher(path, nil)
	require.NoError(t, err)
	defer fw.Stop()

	rec := &recorder{}
	fw.AddHandler(func(ChangeEvent) error { return errors.New("pipeline stopped") })
	fw.AddHandler(rec.handle)

	require.NoError(t, fw.Start(context.Background()))
	assert.Len(t, rec.get(), 1)
}

func TestReadSourceLimit(t *testing.T) {
	dir := t.TempDir()
	small := filepath.Join(dir, "small.mmd")
	big := filepath.Join(dir, "big.mmd")
	require.NoError(t, os.WriteFile(small, []byte("graph TD"), 0o644))
	require.NoError(t, os.WriteFile(big, []byte(strings.Repeat("x", MaxSourceSize+1)), 0o644))

	content, err := ReadSource(small)
	require.NoError(t, err)
	assert.Equal(t, "graph TD", content)

	_, err = ReadSource(big)
	assert.Error(t, err)

	_, err = ReadSource(filepath.Join(dir, "missing.mmd"))
	assert.Error(t, err)
}
