// Package storage archives position updates to daily JSON-lines files.
// When the UTC date changes the previous day's file is gzip-compressed.
package storage

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/saviobatista/flightpath/internal/types"
)

const dateLayout = "2006-01-02"

// Storage handles writing position updates to files
type Storage struct {
	outputDir string
	now       func() time.Time

	mu   sync.Mutex
	file *os.File
	date string
}

// New creates the output directory and returns a Storage writing into it
func New(outputDir string) (*Storage, error) {
	return NewWithClock(outputDir, time.Now)
}

// NewWithClock is New with an injectable clock
func NewWithClock(outputDir string, now func() time.Time) (*Storage, error) {
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Storage{outputDir: outputDir, now: now}, nil
}

// FileName returns the archive file name for a day
func FileName(day time.Time) string {
	return fileName(day.UTC().Format(dateLayout))
}

func fileName(date string) string {
	return "positions_" + date + ".jsonl"
}

// WritePosition appends one update as a JSON line
func (s *Storage) WritePosition(update *types.PositionUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}
	return s.WriteMessage(data)
}

// WriteMessage appends a raw line to the current file, rotating first if the
// UTC day changed since the last write
func (s *Storage) WriteMessage(message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.now().UTC().Format(dateLayout)
	if s.file == nil || s.date != today {
		if err := s.rotate(today); err != nil {
			return err
		}
	}

	if len(message) == 0 || message[len(message)-1] != '\n' {
		message = append(message, '\n')
	}
	if _, err := s.file.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// CurrentPath returns the file being written, or "" before the first write
func (s *Storage) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ""
	}
	return s.file.Name()
}

// Close closes the current file
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// rotate closes the current file, compresses it when its day is over and
// opens the file for today
func (s *Storage) rotate(today string) error {
	if s.file != nil {
		prev := s.file.Name()
		if err := s.file.Close(); err != nil {
			log.Printf("Warning: failed to close %s: %v", prev, err)
		}
		s.file = nil
		if s.date != today {
			if err := compressFile(prev); err != nil {
				log.Printf("Warning: failed to compress %s: %v", prev, err)
			}
		}
	}

	path := filepath.Join(s.outputDir, fileName(today))
	//nolint:gosec // path is built from the configured directory and a date
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	s.file = file
	s.date = today
	return nil
}

// compressFile gzips path into path.gz and removes the original
func compressFile(path string) error {
	//nolint:gosec // path is controlled by the storage
	source, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer source.Close()

	//nolint:gosec // path is controlled by the storage
	target, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("failed to create compressed file: %w", err)
	}
	defer target.Close()

	gz := gzip.NewWriter(target)
	gz.Name = filepath.Base(path)
	if _, err := io.Copy(gz, source); err != nil {
		return fmt.Errorf("failed to compress file: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish compressed file: %w", err)
	}

	return os.Remove(path)
}
