package device

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpratama/fieldtrack-server/internal/protocol"
)

// Queue is the device-side durable upload queue: accepted points are appended
// to a local JSONL file before any network attempt, and removed only after
// the server has answered for them. The file, not the upload, is the
// durability boundary; a relaunch resumes from whatever the file holds.
type Queue struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	entries []protocol.PointUpload
}

// OpenQueue opens (or creates) the queue file and loads its pending entries.
// A torn trailing line from a crash mid-append is dropped.
func OpenQueue(path string) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	entries, err := loadEntries(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue file: %w", err)
	}

	return &Queue{path: path, file: file, entries: entries}, nil
}

func loadEntries(path string) ([]protocol.PointUpload, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}
	defer f.Close()

	var entries []protocol.PointUpload
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p protocol.PointUpload
		if err := json.Unmarshal(line, &p); err != nil {
			// Torn write at the tail; everything before it is intact.
			break
		}
		entries = append(entries, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan queue file: %w", err)
	}

	return entries, nil
}

// Enqueue appends a point and syncs it to disk before returning.
func (q *Queue) Enqueue(p protocol.PointUpload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal point: %w", err)
	}
	data = append(data, '\n')

	if _, err := q.file.Write(data); err != nil {
		return fmt.Errorf("failed to append to queue: %w", err)
	}
	if err := q.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync queue: %w", err)
	}

	q.entries = append(q.entries, p)
	return nil
}

// Peek returns up to n pending points, oldest first, without removing them.
func (q *Queue) Peek(n int) []protocol.PointUpload {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.entries) {
		n = len(q.entries)
	}
	batch := make([]protocol.PointUpload, n)
	copy(batch, q.entries[:n])
	return batch
}

// Ack removes the first n points after the server has answered for them. The
// remaining entries are rewritten to a temp file which atomically replaces
// the queue file.
func (q *Queue) Ack(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 {
		return nil
	}
	if n > len(q.entries) {
		n = len(q.entries)
	}
	remaining := q.entries[n:]

	tmpPath := q.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp queue: %w", err)
	}

	writer := bufio.NewWriter(tmp)
	for _, p := range remaining {
		data, err := json.Marshal(p)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to marshal point: %w", err)
		}
		data = append(data, '\n')
		if _, err := writer.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write temp queue: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush temp queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp queue: %w", err)
	}

	if err := os.Rename(tmpPath, q.path); err != nil {
		return fmt.Errorf("failed to replace queue file: %w", err)
	}

	// Reopen the append handle against the new file. The old handle points at
	// the replaced inode, so a close failure costs nothing but the handle.
	if err := q.file.Close(); err != nil {
		log.Printf("Failed to close replaced queue handle: %v", err)
	}
	file, err := os.OpenFile(q.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen queue file: %w", err)
	}
	q.file = file

	q.entries = append([]protocol.PointUpload(nil), remaining...)
	return nil
}

// Len returns the number of pending points.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close closes the queue file. Pending entries stay on disk.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.file.Close()
}
