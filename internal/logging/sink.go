// internal/logging/sink.go
package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const defaultFlushInterval = 5 * time.Second

// FileSink provides thread-safe file writing with buffering and periodic flush.
// It satisfies zapcore.WriteSyncer so a zap core can log through it directly.
type FileSink struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	filePath string

	writtenLines uint64
	flushCount   uint64
}

// NewFileSink opens the file in append mode, creating parent directories
// as needed, and starts a periodic flush goroutine.
func NewFileSink(filePath string, flushInterval time.Duration) (*FileSink, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fs := &FileSink{
		writer:   bufio.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		filePath: filePath,
	}

	go fs.periodicFlush()

	return fs, nil
}

// Write writes data to the file in a thread-safe manner.
func (fs *FileSink) Write(data []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, err := fs.writer.Write(data)
	if err != nil {
		return n, fmt.Errorf("failed to write data: %w", err)
	}

	fs.writtenLines++
	return n, nil
}

// Sync forces a write of any buffered data.
func (fs *FileSink) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}

	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	fs.flushCount++
	return nil
}

func (fs *FileSink) periodicFlush() {
	for {
		select {
		case <-fs.ticker.C:
			// Best effort; a failed flush is retried on the next tick.
			_ = fs.Sync()
		case <-fs.done:
			return
		}
	}
}

// Close flushes remaining data and closes the underlying file.
func (fs *FileSink) Close() error {
	close(fs.done)
	fs.ticker.Stop()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush on close: %w", err)
	}

	if err := fs.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	return nil
}

// Stats returns written line and flush counters.
func (fs *FileSink) Stats() (lines, flushes uint64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writtenLines, fs.flushCount
}
