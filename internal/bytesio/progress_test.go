package bytesio

import (
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingListener captures every callback in order.
type recordingListener struct {
	mu       sync.Mutex
	total    []int64
	progress []int64
	aborted  int
}

func (r *recordingListener) SetProgressTotal(total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total = append(r.total, total)
}

func (r *recordingListener) Progress(current int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, current)
}

func (r *recordingListener) Aborted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted++
}

// chunkSource yields at most n bytes per Read.
type chunkSource struct {
	data []byte
	n    int
}

func (c chunkSource) Length() int64 { return int64(len(c.data)) }

func (c chunkSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(&chunkReader{data: c.data, n: c.n}), nil
}

type chunkReader struct {
	data []byte
	n    int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}

	n := min(c.n, len(p), len(c.data))
	copy(p, c.data[:n])
	c.data = c.data[n:]

	return n, nil
}

func TestProgressSource_ReportsCumulative(t *testing.T) {
	l := &recordingListener{}
	src := NewProgressSource(chunkSource{data: []byte("0123456789"), n: 4}, l)

	data := readAll(t, src)
	assert.Equal(t, []byte("0123456789"), data)

	assert.Equal(t, []int64{10}, l.total)
	assert.Equal(t, []int64{0, 4, 8, 10}, l.progress)
}

func TestProgressSource_RestartEmitsZero(t *testing.T) {
	l := &recordingListener{}
	src := NewProgressSource(NewMemorySource([]byte("ab")), l)

	readAll(t, src)
	readAll(t, src)

	assert.Equal(t, []int64{0, 2, 0, 2}, l.progress)
}

func TestProgressSink_ReportsAndAbortsOnce(t *testing.T) {
	l := &recordingListener{}
	inner := NewMemorySink()
	sink := NewProgressSink(inner, l)
	sink.SetExpectedLength(6)

	s, err := sink.Open()
	require.NoError(t, err)
	writeAll(t, s, []byte("abc"))
	writeAll(t, s, []byte("de"))

	s.Abort()
	s.Abort()
	assert.True(t, s.Aborted())
	require.NoError(t, s.Close())

	assert.Equal(t, []int64{6}, l.total)
	assert.Equal(t, []int64{0, 3, 5}, l.progress)
	assert.Equal(t, 1, l.aborted)
	assert.Nil(t, inner.Data())
}

func TestProgressSink_CleanClose(t *testing.T) {
	l := &recordingListener{}
	inner := NewMemorySink()
	sink := NewProgressSink(inner, l)

	s, err := sink.Open()
	require.NoError(t, err)
	writeAll(t, s, []byte("xyz"))
	require.NoError(t, s.Close())

	assert.Equal(t, 0, l.aborted)
	assert.Equal(t, []byte("xyz"), inner.Data())
}
