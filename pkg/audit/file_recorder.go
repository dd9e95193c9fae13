package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileRecorderConfig configures the file sink
type FileRecorderConfig struct {
	// Path of the active JSON-lines file
	Path string
	// MaxSize in bytes before rotation, 0 disables rotation
	MaxSize int64
	// MaxFiles rotated files to keep
	MaxFiles int
}

// FileRecorder appends entries as JSON lines to a local file. It keeps an
// operational copy of the trail next to the document store.
type FileRecorder struct {
	config FileRecorderConfig
	mu     sync.Mutex
	file   *os.File
	size   int64
	now    func() time.Time
}

// NewFileRecorder opens (or creates) the audit file
func NewFileRecorder(config FileRecorderConfig) (*FileRecorder, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = 10
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	r := &FileRecorder{config: config, now: time.Now}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// Record appends one line
func (r *FileRecorder) Record(ctx context.Context, entry *Entry) error {
	if !entry.Action.Valid() {
		return &RecordError{Entry: entry, Err: fmt.Errorf("%w: %q", ErrInvalidAction, entry.Action)}
	}
	prepare(ctx, entry, r.now)

	line, err := json.Marshal(entry)
	if err != nil {
		return &RecordError{Entry: entry, Err: err}
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return &RecordError{Entry: entry, Err: fmt.Errorf("audit file is closed")}
	}

	if r.config.MaxSize > 0 && r.size+int64(len(line)) > r.config.MaxSize && r.size > 0 {
		if err := r.rotate(); err != nil {
			return &RecordError{Entry: entry, Err: err}
		}
	}

	n, err := r.file.Write(line)
	r.size += int64(n)
	if err != nil {
		return &RecordError{Entry: entry, Err: fmt.Errorf("failed to write audit file: %w", err)}
	}
	return nil
}

// Close closes the active file
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *FileRecorder) open() error {
	file, err := os.OpenFile(r.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	return nil
}

func (r *FileRecorder) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log file: %w", err)
	}
	r.file = nil

	ext := filepath.Ext(r.config.Path)
	base := r.config.Path[:len(r.config.Path)-len(ext)]
	rotated := fmt.Sprintf("%s-%s%s", base, r.now().UTC().Format("20060102T150405.000000000"), ext)
	if err := os.Rename(r.config.Path, rotated); err != nil {
		return fmt.Errorf("failed to rotate audit log file: %w", err)
	}

	if err := r.prune(base, ext); err != nil {
		return err
	}
	return r.open()
}

// prune removes the oldest rotated files beyond MaxFiles
func (r *FileRecorder) prune(base, ext string) error {
	files, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return fmt.Errorf("failed to list rotated audit files: %w", err)
	}
	if len(files) <= r.config.MaxFiles {
		return nil
	}

	sort.Strings(files)
	for _, f := range files[:len(files)-r.config.MaxFiles] {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove rotated audit file %s: %w", f, err)
		}
	}
	return nil
}
