package bytesio

import (
	"fmt"
	"io"
	"sync"
)

// ProgressListener receives byte counts for one transfer. Progress values
// are cumulative for the current stream and restart at zero when a retry
// re-opens the source or sink.
type ProgressListener interface {
	SetProgressTotal(total int64)
	Progress(current int64)
	Aborted()
}

// ProgressSource reports read progress of an inner Source.
type ProgressSource struct {
	source   Source
	listener ProgressListener
}

// NewProgressSource wraps source so every stream reports to listener.
func NewProgressSource(source Source, listener ProgressListener) *ProgressSource {
	return &ProgressSource{source: source, listener: listener}
}

func (s *ProgressSource) Length() int64 {
	return s.source.Length()
}

// Open announces the total length and a zero progress before any byte is read.
func (s *ProgressSource) Open() (io.ReadCloser, error) {
	rc, err := s.source.Open()
	if err != nil {
		return nil, err
	}

	s.listener.SetProgressTotal(s.source.Length())
	s.listener.Progress(0)

	return &progressReader{rc: rc, listener: s.listener}, nil
}

func (s *ProgressSource) String() string {
	return fmt.Sprintf("ProgressSource{source=%v}", s.source)
}

type progressReader struct {
	rc       io.ReadCloser
	listener ProgressListener
	current  int64
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		r.current += int64(n)
		r.listener.Progress(r.current)
	}

	return n, err
}

func (r *progressReader) Close() error {
	return r.rc.Close()
}

// ProgressSink reports write progress into an inner Sink.
type ProgressSink struct {
	sink     Sink
	listener ProgressListener
}

// NewProgressSink wraps sink so every stream reports to listener.
func NewProgressSink(sink Sink, listener ProgressListener) *ProgressSink {
	return &ProgressSink{sink: sink, listener: listener}
}

func (s *ProgressSink) Open() (SinkStream, error) {
	inner, err := s.sink.Open()
	if err != nil {
		return nil, err
	}

	s.listener.Progress(0)

	return &progressSinkStream{inner: inner, listener: s.listener}, nil
}

// SetExpectedLength forwards to the inner sink and announces the total.
func (s *ProgressSink) SetExpectedLength(n int64) {
	s.listener.SetProgressTotal(n)
	s.sink.SetExpectedLength(n)
}

func (s *ProgressSink) String() string {
	return fmt.Sprintf("ProgressSink{sink=%v}", s.sink)
}

type progressSinkStream struct {
	inner    SinkStream
	listener ProgressListener
	current  int64
	once     sync.Once
}

func (w *progressSinkStream) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	if n > 0 {
		w.current += int64(n)
		w.listener.Progress(w.current)
	}

	return n, err
}

// Abort notifies the listener once, then aborts the inner stream.
func (w *progressSinkStream) Abort() {
	w.once.Do(w.listener.Aborted)
	w.inner.Abort()
}

func (w *progressSinkStream) Aborted() bool {
	return w.inner.Aborted()
}

func (w *progressSinkStream) Close() error {
	return w.inner.Close()
}
