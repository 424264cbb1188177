package bytesio

import (
	"hash"
	"sync"
)

// DigestSink computes a hash of the bytes flowing into an inner Sink. The
// hash restarts on every Open; Sum is meaningful after a clean Close.
type DigestSink struct {
	sink    Sink
	newHash func() hash.Hash
	verify  func(sum []byte) error

	mu  sync.Mutex
	sum []byte
}

// NewDigestSink wraps sink. newHash is called once per stream.
func NewDigestSink(sink Sink, newHash func() hash.Hash) *DigestSink {
	return &DigestSink{sink: sink, newHash: newHash}
}

// SetVerifier checks the digest when a stream is closed without abort. A
// verifier error aborts the inner stream and is returned by Close.
func (s *DigestSink) SetVerifier(verify func(sum []byte) error) *DigestSink {
	s.verify = verify
	return s
}

func (s *DigestSink) Open() (SinkStream, error) {
	inner, err := s.sink.Open()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sum = nil
	s.mu.Unlock()

	return &digestSinkStream{sink: s, inner: inner, h: s.newHash()}, nil
}

func (s *DigestSink) SetExpectedLength(n int64) {
	s.sink.SetExpectedLength(n)
}

// Sum returns the digest of the last cleanly closed stream, or nil.
func (s *DigestSink) Sum() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sum
}

type digestSinkStream struct {
	sink  *DigestSink
	inner SinkStream
	h     hash.Hash
}

func (w *digestSinkStream) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	w.h.Write(p[:n])

	return n, err
}

func (w *digestSinkStream) Abort() {
	w.inner.Abort()
}

func (w *digestSinkStream) Aborted() bool {
	return w.inner.Aborted()
}

func (w *digestSinkStream) Close() error {
	aborted := w.inner.Aborted()

	var verifyErr error
	if !aborted && w.sink.verify != nil {
		if verifyErr = w.sink.verify(w.h.Sum(nil)); verifyErr != nil {
			w.inner.Abort()
			aborted = true
		}
	}

	if err := w.inner.Close(); err != nil && verifyErr == nil {
		return err
	}

	if verifyErr != nil {
		return verifyErr
	}

	if !aborted {
		w.sink.mu.Lock()
		w.sink.sum = w.h.Sum(nil)
		w.sink.mu.Unlock()
	}

	return nil
}
