// Package watcher turns a diagram file on disk into an editor text source:
// every time the file's content changes, registered handlers receive the
// full new text.
package watcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/mermaidlive/internal/logging"
	"github.com/conneroisu/mermaidlive/internal/validation"
)

// MaxSourceSize bounds how much of a diagram file is read.
const MaxSourceSize = 1 << 20

// FileWatcher watches a single diagram file. The parent directory is
// watched rather than the file itself so editors that save by renaming a
// temporary file over the original are still followed.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	handlers []ChangeHandler
	logger   logging.Logger
	last     string
	seen     bool
	mutex    sync.RWMutex
	done     chan struct{}
}

// ChangeEvent represents a change of the watched file
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
	Content string
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// ChangeHandler handles a change of the watched file
type ChangeHandler func(event ChangeEvent) error

// NewFileWatcher creates a watcher for the diagram file at path.
func NewFileWatcher(path string, logger logging.Logger) (*FileWatcher, error) {
	if err := validation.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if err := validation.ValidateFileExtension(path, validation.DiagramExtensions); err != nil {
		return nil, fmt.Errorf("invalid diagram file: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &FileWatcher{
		watcher: watcher,
		path:    absPath,
		logger:  logger.WithComponent("watcher"),
		done:    make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the watched file.
func (fw *FileWatcher) Path() string {
	return fw.path
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// Read returns the current content of the watched file.
func (fw *FileWatcher) Read() (string, error) {
	return ReadSource(fw.path)
}

// ReadSource reads a diagram file, refusing files over MaxSourceSize.
func ReadSource(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxSourceSize+1))
	if err != nil {
		return "", err
	}
	if len(data) > MaxSourceSize {
		return "", fmt.Errorf("%s is larger than %d bytes", path, MaxSourceSize)
	}
	return string(data), nil
}

// Start begins watching. The current content, if the file exists, is
// delivered to the handlers before Start returns.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(fw.path), err)
	}

	if info, err := os.Stat(fw.path); err == nil {
		fw.emit(ctx, EventTypeCreated, info)
	}

	go fw.watchLoop(ctx)

	return nil
}

// Stop stops the file watcher and cleans up resources
func (fw *FileWatcher) Stop() error {
	return fw.watcher.Close()
}

// Done is closed when the watch loop exits.
func (fw *FileWatcher) Done() <-chan struct{} {
	return fw.done
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer close(fw.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	if filepath.Clean(event.Name) != fw.path {
		return
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		return
	}

	info, err := os.Stat(fw.path)
	if err != nil {
		if eventType == EventTypeDeleted || eventType == EventTypeRenamed {
			fw.dispatch(ctx, ChangeEvent{Type: EventTypeDeleted, Path: fw.path})
		}
		return
	}

	fw.emit(ctx, eventType, info)
}

// emit reads the file and notifies handlers when the content differs from
// the last delivered content.
func (fw *FileWatcher) emit(ctx context.Context, eventType EventType, info os.FileInfo) {
	content, err := fw.Read()
	if err != nil {
		fw.logger.Warn(ctx, err, "Failed to read diagram source", "path", fw.path)
		return
	}

	fw.mutex.Lock()
	if fw.seen && content == fw.last {
		fw.mutex.Unlock()
		return
	}
	fw.last = content
	fw.seen = true
	fw.mutex.Unlock()

	fw.dispatch(ctx, ChangeEvent{
		Type:    eventType,
		Path:    fw.path,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Content: content,
	})
}

func (fw *FileWatcher) dispatch(ctx context.Context, event ChangeEvent) {
	fw.mutex.RLock()
	handlers := make([]ChangeHandler, len(fw.handlers))
	copy(handlers, fw.handlers)
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(event); err != nil {
			// Log error but continue processing
			fw.logger.Warn(ctx, err, "File watcher handler error", "event", event.Type.String())
		}
	}
}
