package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netheos/pcsgo/internal/bytesio"
)

// fakeClock returns a now func advanced manually.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestProgress(buf *bytes.Buffer) (*TerminalProgress, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	tp := NewTerminalProgress(buf, "report.pdf")
	tp.now = clock.now

	return tp, clock
}

func TestTerminalProgress_KnownTotal(t *testing.T) {
	var buf bytes.Buffer

	tp, _ := newTestProgress(&buf)
	tp.SetProgressTotal(2048)
	tp.Progress(1024)

	assert.Equal(t, "\rreport.pdf: 1.0 KB / 2.0 KB (50%)\x1b[K", buf.String())
}

func TestTerminalProgress_UnknownTotal(t *testing.T) {
	var buf bytes.Buffer

	tp, _ := newTestProgress(&buf)
	tp.Progress(10)

	assert.Equal(t, "\rreport.pdf: 10 B\x1b[K", buf.String())
}

func TestTerminalProgress_ThrottlesRedraws(t *testing.T) {
	var buf bytes.Buffer

	tp, clock := newTestProgress(&buf)
	tp.SetProgressTotal(100)

	tp.Progress(10)
	first := buf.String()

	clock.t = clock.t.Add(progressRedrawInterval / 2)
	tp.Progress(20)
	assert.Equal(t, first, buf.String(), "redraw within the interval")

	clock.t = clock.t.Add(progressRedrawInterval)
	tp.Progress(30)
	assert.Contains(t, buf.String(), "30 B / 100 B (30%)")
}

func TestTerminalProgress_AbortedThenDone(t *testing.T) {
	var buf bytes.Buffer

	tp, clock := newTestProgress(&buf)
	tp.SetProgressTotal(100)
	tp.Progress(40)
	tp.Aborted()

	tp.Done()
	assert.Contains(t, buf.String(), "40 B / 100 B (40%) retrying\x1b[K\n")

	// A restarted stream clears the retry marker.
	buf.Reset()
	clock.t = clock.t.Add(time.Second)
	tp.Progress(5)
	assert.NotContains(t, buf.String(), "retrying")
}

func TestTerminalProgress_EmptyFile(t *testing.T) {
	var buf bytes.Buffer

	tp, _ := newTestProgress(&buf)
	tp.SetProgressTotal(0)
	tp.Done()

	assert.Equal(t, "\rreport.pdf: 0 B / 0 B (100%)\x1b[K\n", buf.String())
}

func TestTerminalProgress_DoneOnNil(t *testing.T) {
	var tp *TerminalProgress

	assert.NotPanics(t, tp.Done)
}

// recordingListener stores what it is told.
type recordingListener struct {
	total   int64
	current []int64
	aborted int
}

func (r *recordingListener) SetProgressTotal(total int64) { r.total = total }
func (r *recordingListener) Progress(current int64)       { r.current = append(r.current, current) }
func (r *recordingListener) Aborted()                     { r.aborted++ }

func TestCombineProgress(t *testing.T) {
	assert.Nil(t, combineProgress())
	assert.Nil(t, combineProgress(nil, nil))

	single := &recordingListener{}
	assert.Same(t, single, combineProgress(nil, single))

	a, b := &recordingListener{}, &recordingListener{}
	l := combineProgress(a, nil, b)
	require.NotNil(t, l)

	l.SetProgressTotal(7)
	l.Progress(3)
	l.Aborted()
	l.Progress(7)

	for _, r := range []*recordingListener{a, b} {
		assert.Equal(t, int64(7), r.total)
		assert.Equal(t, []int64{3, 7}, r.current)
		assert.Equal(t, 1, r.aborted)
	}
}

func TestCombineProgress_ImplementsListener(t *testing.T) {
	var _ bytesio.ProgressListener = multiProgress{}
}
