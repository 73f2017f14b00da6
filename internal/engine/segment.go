package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// segmentPath returns the on-disk path for generation id within dir, named
// exactly <generation>.log per the on-disk layout contract.
func segmentPath(dir string, generation uint64) string {
	return filepath.Join(dir, strconv.FormatUint(generation, 10)+".log")
}

// parseSegmentFileName returns the generation encoded in a <decimal>.log
// filename, or ok=false if name doesn't match that shape.
func parseSegmentFileName(name string) (generation uint64, ok bool) {
	const suffix = ".log"
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(name, suffix)
	if digits == "" {
		return 0, false
	}
	g, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return g, true
}

// segmentWriter is the active segment: append-only, position-tracked.
// The current position is kept in pos; the writer has no seek method.
type segmentWriter struct {
	generation uint64
	file       *os.File
	pos        int64 // logical end of file, updated on every append
}

func createSegmentWriter(dir string, generation uint64) (*segmentWriter, error) {
	f, err := os.OpenFile(segmentPath(dir, generation), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create segment %d: %w", generation, err)
	}
	return &segmentWriter{generation: generation, file: f}, nil
}

// append writes kind/key/val and returns the byte range it occupies.
func (w *segmentWriter) append(kind recordKind, key, val string) (start, length int64, err error) {
	start = w.pos
	n, err := writeCommand(w.file, kind, key, val)
	if err != nil {
		return 0, 0, fmt.Errorf("append to segment %d: %w", w.generation, err)
	}
	w.pos += n
	return start, n, nil
}

func (w *segmentWriter) sync() error {
	return w.file.Sync()
}

func (w *segmentWriter) close() error {
	return w.file.Close()
}

// segmentReader is a random-access reader over an immutable segment file.
// Readers never share a segmentReader across goroutines; each goroutine's
// reader cache (see reader.go) holds its own.
type segmentReader struct {
	generation uint64
	file       *os.File
}

func openSegmentReader(dir string, generation uint64) (*segmentReader, error) {
	f, err := os.Open(segmentPath(dir, generation))
	if err != nil {
		return nil, fmt.Errorf("open segment %d: %w", generation, err)
	}
	return &segmentReader{generation: generation, file: f}, nil
}

// readAt decodes exactly one record at off.
func (r *segmentReader) readAt(off int64, verifyChecksum bool) (key, val string, kind recordKind, err error) {
	return readCommand(r.file, off, verifyChecksum)
}

func (r *segmentReader) close() error {
	return r.file.Close()
}
