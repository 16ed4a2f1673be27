package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentFileName = "decisions.log"

// FileSinkConfig configures the JSON-lines file sink
type FileSinkConfig struct {
	Dir string
	// MaxSize in bytes before the current file is rotated
	MaxSize int64
	// MaxFiles rotated files kept; older ones are removed
	MaxFiles int
}

// FileSink appends decisions as JSON lines and rotates by size
type FileSink struct {
	cfg  FileSinkConfig
	now  func() time.Time
	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileSink opens (or creates) the current decision log in cfg.Dir
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit directory is required")
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	s := &FileSink{cfg: cfg, now: time.Now}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) path() string {
	return filepath.Join(s.cfg.Dir, currentFileName)
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// Write appends one JSON line, rotating first when the file is full
func (s *FileSink) Write(ctx context.Context, d Decision) error {
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit file sink closed")
	}
	if s.size > 0 && s.size+int64(len(line)) > s.cfg.MaxSize {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write decision: %w", err)
	}
	return nil
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit file: %w", err)
	}
	s.file = nil

	rotated := filepath.Join(s.cfg.Dir,
		fmt.Sprintf("decisions-%s.log", s.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(s.path(), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit file: %w", err)
	}
	if err := s.prune(); err != nil {
		return err
	}
	return s.open()
}

// prune keeps the newest MaxFiles rotated files. Names sort by time.
func (s *FileSink) prune() error {
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "decisions-*.log"))
	if err != nil {
		return err
	}
	if len(files) <= s.cfg.MaxFiles {
		return nil
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-s.cfg.MaxFiles] {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove rotated audit file: %w", err)
		}
	}
	return nil
}

// Read returns up to n decisions from the current file, oldest first. n <= 0
// reads everything.
func (s *FileSink) Read(n int) ([]Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var out []Decision
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var d Decision
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			return nil, fmt.Errorf("failed to decode decision: %w", err)
		}
		out = append(out, d)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out, scanner.Err()
}

// Close closes the current file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
