package source

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/crawlpool/internal/crawl"
)

// File streams URLs from a newline-delimited file without loading it all
// into memory. Blank lines and lines starting with '#' are skipped but still
// advance the cursor, so a Seek lands on the same line after a restart.
type File struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	scanner *bufio.Scanner
	cursor  int64
}

// Open builds a File source over path. The file is opened lazily on the
// first Next call.
func Open(path string) *File {
	return &File{path: path}
}

// Next implements crawl.Source.
func (f *File) Next(_ context.Context) (*crawl.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureOpen(); err != nil {
		return nil, err
	}
	for f.scanner.Scan() {
		f.cursor++
		line := strings.TrimSpace(f.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return &crawl.WorkItem{Payload: crawl.Payload{URL: line}}, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	f.closeLocked()
	return nil, crawl.ErrSourceDrained
}

// Cursor implements crawl.Source; it is the number of lines consumed.
func (f *File) Cursor() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// Seek implements crawl.Source. The file is re-read from the top and the
// first cursor lines are skipped on the next read.
func (f *File) Seek(cursor int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cursor < 0 {
		cursor = 0
	}
	f.closeLocked()
	f.cursor = cursor
}

// Close releases the underlying file handle.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked()
	return nil
}

func (f *File) ensureOpen() error {
	if f.scanner != nil {
		return nil
	}
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open source file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for i := int64(0); i < f.cursor; i++ {
		if !scanner.Scan() {
			break
		}
	}
	f.file = file
	f.scanner = scanner
	return nil
}

func (f *File) closeLocked() {
	if f.file != nil {
		_ = f.file.Close()
	}
	f.file = nil
	f.scanner = nil
}
