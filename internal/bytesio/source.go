// Package bytesio abstracts byte origins and destinations so transfer code
// never depends on the storage medium. A Source can be opened any number of
// times (each retry re-reads it from the start). A Sink hands out one
// SinkStream per attempt; a stream is either closed cleanly or aborted first,
// and each Sink implementation decides what an abort means for the data it
// already received.
package bytesio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrInvalidRange is returned when a range window does not fit its source.
var ErrInvalidRange = errors.New("bytesio: invalid range")

// Source is a re-readable byte origin of known length.
// Callers own every stream returned by Open and must close it.
type Source interface {
	Length() int64
	Open() (io.ReadCloser, error)
}

// MemorySource serves bytes held in memory.
type MemorySource struct {
	data []byte
}

// NewMemorySource returns a Source over data. The slice is not copied.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{data: data}
}

func (s *MemorySource) Length() int64 {
	return int64(len(s.data))
}

func (s *MemorySource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.data)), nil
}

func (s *MemorySource) String() string {
	return fmt.Sprintf("MemorySource{length=%d}", len(s.data))
}

// FileSource serves the content of a local file. Its length is captured at
// construction time.
type FileSource struct {
	path   string
	length int64
}

// NewFileSource stats path and returns a Source reading it.
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("bytesio: stat %s: %w", path, err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("bytesio: %s is a directory", path)
	}

	return &FileSource{path: path, length: info.Size()}, nil
}

func (s *FileSource) Length() int64 {
	return s.length
}

func (s *FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("bytesio: opening %s: %w", s.path, err)
	}

	return f, nil
}

// Path returns the file backing this source.
func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) String() string {
	return fmt.Sprintf("FileSource{path=%q, length=%d}", s.path, s.length)
}

// RangeSource exposes the window [offset, offset+length) of another source.
// Reads past the window end at io.EOF even if the underlying source has more
// bytes. A RangeSource must not itself be wrapped in another RangeSource:
// windows are computed against the inner stream start, not composed.
type RangeSource struct {
	source Source
	offset int64
	length int64
}

// NewRangeSource validates the window against source.Length().
func NewRangeSource(source Source, offset, length int64) (*RangeSource, error) {
	total := source.Length()

	switch {
	case offset < 0 || offset >= total:
		return nil, fmt.Errorf("%w: offset (%d) should be smaller than source length (%d)",
			ErrInvalidRange, offset, total)
	case length < 0:
		return nil, fmt.Errorf("%w: length (%d) should not be negative", ErrInvalidRange, length)
	case offset+length > total:
		return nil, fmt.Errorf("%w: offset (%d) + length (%d) exceeds source length (%d)",
			ErrInvalidRange, offset, length, total)
	}

	return &RangeSource{source: source, offset: offset, length: length}, nil
}

// NewRangeSourceFrom is NewRangeSource up to the end of source.
func NewRangeSourceFrom(source Source, offset int64) (*RangeSource, error) {
	return NewRangeSource(source, offset, source.Length()-offset)
}

func (s *RangeSource) Length() int64 {
	return s.length
}

// Offset returns the window start within the underlying source.
func (s *RangeSource) Offset() int64 {
	return s.offset
}

func (s *RangeSource) Open() (io.ReadCloser, error) {
	rc, err := s.source.Open()
	if err != nil {
		return nil, err
	}

	if err := skip(rc, s.offset); err != nil {
		rc.Close()
		return nil, fmt.Errorf("bytesio: positioning range at %d: %w", s.offset, err)
	}

	return &limitedReadCloser{r: io.LimitReader(rc, s.length), c: rc}, nil
}

func (s *RangeSource) String() string {
	return fmt.Sprintf("RangeSource{source=%v, offset=%d, length=%d}", s.source, s.offset, s.length)
}

// skip advances r by n bytes, seeking when possible.
func skip(r io.Reader, n int64) error {
	if n == 0 {
		return nil
	}

	if seeker, ok := r.(io.Seeker); ok {
		_, err := seeker.Seek(n, io.SeekStart)
		return err
	}

	skipped, err := io.CopyN(io.Discard, r, n)
	if err != nil {
		return err
	}

	if skipped != n {
		return io.ErrUnexpectedEOF
	}

	return nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	return l.r.Read(p)
}

func (l *limitedReadCloser) Close() error {
	return l.c.Close()
}
