package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/julesfleet/julesfleet/internal/common/logger"
	v1 "github.com/julesfleet/julesfleet/pkg/api/v1"
)

const (
	activitiesFile = "activities.jsonl"
	metadataFile   = "metadata.json"
	tailChunkSize  = 8 * 1024
)

type activityMetadata struct {
	ActivityCount int `json:"activityCount"`
}

// FileActivityLog is the newline-delimited JSON implementation of
// ActivityLog. An in-memory id index is rebuilt from the log on Init; the
// file remains the source of truth.
type FileActivityLog struct {
	dir    string
	logger *logger.Logger

	mu       sync.RWMutex
	inited   bool
	order    []string
	byID     map[string]*v1.Activity
	latestID string
	file     *os.File
}

// NewFileActivityLog creates a log rooted at dir (one directory per session).
func NewFileActivityLog(dir string, log *logger.Logger) *FileActivityLog {
	return &FileActivityLog{
		dir:    dir,
		logger: log.WithFields(zap.String("component", "activity_log")),
		byID:   make(map[string]*v1.Activity),
	}
}

func (l *FileActivityLog) path() string     { return filepath.Join(l.dir, activitiesFile) }
func (l *FileActivityLog) metaPath() string { return filepath.Join(l.dir, metadataFile) }

// Init creates the session directory and rebuilds the id index from the log.
func (l *FileActivityLog) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inited {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.Open(l.path())
	if err == nil {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var a v1.Activity
			if err := json.Unmarshal(line, &a); err != nil {
				l.logger.Warn("skipping corrupt activity record", zap.Error(err))
				continue
			}
			if _, dup := l.byID[a.ID]; !dup {
				l.order = append(l.order, a.ID)
			}
			l.byID[a.ID] = &a
			l.latestID = a.ID
		}
		_ = f.Close()
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("scan activity log: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	w, err := os.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = w
	l.inited = true
	return nil
}

// Close releases the underlying file handle.
func (l *FileActivityLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		l.inited = false
		return err
	}
	return nil
}

// Append writes the activity to the log. A duplicate id replaces the stored
// record in place; its original position is preserved.
func (l *FileActivityLog) Append(a *v1.Activity) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inited {
		return fmt.Errorf("activity log not initialised")
	}

	if _, exists := l.byID[a.ID]; exists {
		l.byID[a.ID] = a
		l.latestID = a.ID
		return l.rewriteLocked()
	}

	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	l.order = append(l.order, a.ID)
	l.byID[a.ID] = a
	l.latestID = a.ID
	return l.writeMetadataLocked()
}

// rewriteLocked rebuilds the log file after an in-place update.
func (l *FileActivityLog) rewriteLocked() error {
	tmp := l.path() + ".tmp"
	var buf bytes.Buffer
	for _, id := range l.order {
		line, err := json.Marshal(l.byID[id])
		if err != nil {
			return err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	if err := os.Rename(tmp, l.path()); err != nil {
		return err
	}
	w, err := os.OpenFile(l.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = w
	return l.writeMetadataLocked()
}

func (l *FileActivityLog) writeMetadataLocked() error {
	meta, err := json.Marshal(activityMetadata{ActivityCount: len(l.order)})
	if err != nil {
		return err
	}
	return os.WriteFile(l.metaPath(), meta, 0o644)
}

func (l *FileActivityLog) Get(id string) (*v1.Activity, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.byID[id]
	return a, ok, nil
}

func (l *FileActivityLog) Latest() (*v1.Activity, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.latestID == "" {
		return nil, false, nil
	}
	a, ok := l.byID[l.latestID]
	return a, ok, nil
}

func (l *FileActivityLog) Scan() ([]*v1.Activity, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*v1.Activity, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out, nil
}

func (l *FileActivityLog) Count() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order), nil
}

// TailLatest reads the last n records by walking the file backwards in fixed
// 8 KiB chunks, so recent-N queries do not scan the whole log.
func (l *FileActivityLog) TailLatest(n int) ([]*v1.Activity, error) {
	if n <= 0 {
		return nil, nil
	}
	lines, err := tailLines(l.path(), n)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]*v1.Activity, 0, len(lines))
	for _, line := range lines {
		var a v1.Activity
		if err := json.Unmarshal(line, &a); err != nil {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

// tailLines returns the last n non-empty lines of a file in file order.
func tailLines(path string, n int) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	var pending []byte
	var lines [][]byte
	offset := size
	for offset > 0 && len(lines) < n {
		chunk := int64(tailChunkSize)
		if offset < chunk {
			chunk = offset
		}
		offset -= chunk
		buf := make([]byte, chunk)
		if _, err := f.ReadAt(buf, offset); err != nil {
			return nil, err
		}
		buf = append(buf, pending...)
		parts := bytes.Split(buf, []byte{'\n'})
		// First part may be a partial line continued in the previous chunk.
		pending = parts[0]
		for i := len(parts) - 1; i >= 1 && len(lines) < n; i-- {
			line := bytes.TrimSpace(parts[i])
			if len(line) > 0 {
				lines = append(lines, line)
			}
		}
	}
	if offset == 0 && len(lines) < n {
		if line := bytes.TrimSpace(pending); len(line) > 0 {
			lines = append(lines, line)
		}
	}
	// Reverse into file order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
