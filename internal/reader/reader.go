// Package reader provides the production FileReader and EncodingHint
// implementations the CLI wires into the engine, plus a persistent
// window-read cache that sits in front of them.
//
// The engine package declares the FileReader and EncodingHint
// interfaces it consumes; this package only provides concrete,
// caller-side implementations, so the engine itself never touches a
// filesystem or an encoding detector directly.
package reader

import (
	"fmt"
	"io"
	"os"
)

// BufferedFileReader reads byte windows directly off disk: each call
// opens the file and reads the window with a single ReadAt. It
// implements the engine's FileReader interface.
type BufferedFileReader struct{}

// NewBufferedFileReader builds the default, uncached FileReader.
func NewBufferedFileReader() *BufferedFileReader {
	return &BufferedFileReader{}
}

// ReadWindow reads up to length bytes starting at offset. A short
// final window (offset+length beyond EOF) is not an error: it returns
// whatever bytes remain.
func (r *BufferedFileReader) ReadWindow(path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read %s at %d: %w", path, offset, err)
	}
	return buf[:n], nil
}

// StaticEncodingHint is a simple, pre-populated EncodingHint: the CLI
// records the IANA encoding name given by its --encoding flag for
// every scanned file, or nothing when the flag is omitted. It never
// guesses on its own; real
// encoding detection is left to an external integrity layer, and this
// type stands in for that layer without pretending to replace it.
type StaticEncodingHint struct {
	encodings map[uint64]string
}

// NewStaticEncodingHint builds an EncodingHint backed by a caller-
// supplied file_id -> IANA encoding name map.
func NewStaticEncodingHint(encodings map[uint64]string) *StaticEncodingHint {
	return &StaticEncodingHint{encodings: encodings}
}

// Lookup returns the IANA encoding name recorded for fileID, or ""
// and false if none was recorded (bytes are then treated as opaque).
func (h *StaticEncodingHint) Lookup(fileID uint64) (string, bool) {
	name, ok := h.encodings[fileID]
	return name, ok
}
