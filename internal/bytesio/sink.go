package bytesio

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// UnknownLength marks an expected length that has not been learned yet.
const UnknownLength int64 = -1

// partSuffix is appended to the destination name while a FileSink is written
// with TempName.
const partSuffix = ".part"

// filePerms restricts downloaded files to owner read/write.
const filePerms = 0o600

// SinkStream is one write attempt into a Sink. Abort, if called at all, must
// be called before Close; Close then applies the sink's abort policy.
type SinkStream interface {
	Write(p []byte) (int, error)
	Close() error
	Abort()
	Aborted() bool
}

// Sink is a writable destination that may be opened once per retry attempt.
// SetExpectedLength may be called before or after Open; the final byte count
// is allowed to differ from the declared expectation.
type Sink interface {
	Open() (SinkStream, error)
	SetExpectedLength(n int64)
}

// MemorySink collects bytes in memory. Data becomes available after a clean
// Close; an aborted stream discards what it buffered.
type MemorySink struct {
	mu   sync.Mutex
	data []byte
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Open() (SinkStream, error) {
	return &memorySinkStream{sink: s}, nil
}

// SetExpectedLength is ignored: memory buffers grow as needed.
func (s *MemorySink) SetExpectedLength(int64) {}

// Data returns the bytes of the last cleanly closed stream, or nil.
func (s *MemorySink) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data
}

type memorySinkStream struct {
	sink    *MemorySink
	buf     bytes.Buffer
	aborted bool
	closed  bool
}

func (m *memorySinkStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, fs.ErrClosed
	}

	return m.buf.Write(p)
}

func (m *memorySinkStream) Abort() {
	if !m.closed {
		m.aborted = true
	}
}

func (m *memorySinkStream) Aborted() bool {
	return m.aborted
}

func (m *memorySinkStream) Close() error {
	if m.closed {
		return nil
	}

	m.closed = true

	if m.aborted {
		m.buf.Reset()
		return nil
	}

	m.sink.mu.Lock()
	m.sink.data = m.buf.Bytes()
	m.sink.mu.Unlock()

	return nil
}

// FileSinkOptions selects the abort policy of a FileSink.
type FileSinkOptions struct {
	// TempName writes to "<path>.part" and renames it to path only on a
	// clean, non-aborted close.
	TempName bool
	// DeleteOnAbort removes the written file when the stream is aborted or
	// its close fails.
	DeleteOnAbort bool
	// Append opens the file in append mode instead of truncating it.
	Append bool
	Logger *slog.Logger
}

// FileSink writes into a local file.
type FileSink struct {
	path   string
	opts   FileSinkOptions
	logger *slog.Logger

	mu       sync.Mutex
	expected int64
	aborted  bool
}

// NewFileSink returns a Sink writing to path with the given policy.
func NewFileSink(path string, opts FileSinkOptions) *FileSink {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &FileSink{
		path:     path,
		opts:     opts,
		logger:   logger,
		expected: UnknownLength,
	}
}

// Path returns the final destination path.
func (s *FileSink) Path() string {
	return s.path
}

// ActualPath returns the file currently written: the .part name when
// TempName is set, the destination otherwise.
func (s *FileSink) ActualPath() string {
	if s.opts.TempName {
		return s.path + partSuffix
	}

	return s.path
}

func (s *FileSink) SetExpectedLength(n int64) {
	s.mu.Lock()
	s.expected = n
	s.mu.Unlock()
}

func (s *FileSink) expectedLength() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.expected
}

func (s *FileSink) setAborted(v bool) {
	s.mu.Lock()
	s.aborted = v
	s.mu.Unlock()
}

func (s *FileSink) isAborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aborted
}

// Open creates (or appends to) the actual file. Each call clears the aborted
// flag left by a previous attempt.
func (s *FileSink) Open() (SinkStream, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if s.opts.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	actual := s.ActualPath()

	f, err := os.OpenFile(actual, flags, filePerms)
	if err != nil {
		return nil, fmt.Errorf("bytesio: opening sink file %s: %w", actual, err)
	}

	s.setAborted(false)

	return &fileSinkStream{sink: s, f: f}, nil
}

func (s *FileSink) String() string {
	return fmt.Sprintf("FileSink{path=%q}", s.path)
}

type fileSinkStream struct {
	sink   *FileSink
	f      *os.File
	closed bool
}

func (w *fileSinkStream) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *fileSinkStream) Abort() {
	if !w.closed {
		w.sink.setAborted(true)
	}
}

func (w *fileSinkStream) Aborted() bool {
	return w.sink.isAborted()
}

// Close closes the file then either commits it (rename from .part) or applies
// the abort policy. A failed rename is logged, not returned.
func (w *fileSinkStream) Close() error {
	if w.closed {
		return nil
	}

	w.closed = true
	closeErr := w.f.Close()

	s := w.sink
	actual := s.ActualPath()
	aborted := s.isAborted()

	if aborted {
		s.logger.Debug("sink stream aborted", slog.String("path", actual))
	}

	if aborted || closeErr != nil {
		if s.opts.DeleteOnAbort {
			s.logger.Debug("deleting sink file", slog.String("path", actual))

			if err := os.Remove(actual); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("failed to delete aborted sink file",
					slog.String("path", actual),
					slog.String("error", err.Error()),
				)
			}
		} else {
			s.logLengthDiagnostic(actual)
		}

		if closeErr != nil {
			return fmt.Errorf("bytesio: closing sink file %s: %w", actual, closeErr)
		}

		return nil
	}

	if s.opts.TempName {
		s.commit(actual)
	}

	return nil
}

// commit renames the .part file to its final name, replacing any existing file.
func (s *FileSink) commit(actual string) {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove existing destination",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
	}

	if err := os.Rename(actual, s.path); err != nil {
		s.logger.Warn("failed to rename sink file",
			slog.String("from", actual),
			slog.String("to", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("sink file committed", slog.String("path", s.path))
}

// logLengthDiagnostic reports how the kept file compares to the expected length.
// With Append the file length includes earlier content, so the comparison is
// only indicative.
func (s *FileSink) logLengthDiagnostic(actual string) {
	info, err := os.Stat(actual)
	if err != nil {
		s.logger.Debug("sink file not found after abort", slog.String("path", actual))
		return
	}

	size := info.Size()
	expected := s.expectedLength()

	s.logger.Debug("sink file kept after abort",
		slog.String("path", actual),
		slog.String("state", LengthState(size, expected)),
		slog.Int64("size", size),
		slog.Int64("expected", expected),
	)
}

// LengthState classifies size against expected the way FileSink reports it.
func LengthState(size, expected int64) string {
	switch {
	case expected < 0:
		return "unknown"
	case size == expected:
		return "complete"
	case size < expected:
		return "too short"
	default:
		return "too long"
	}
}
