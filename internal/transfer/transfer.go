// Package transfer moves bytes between HTTP exchanges and bytesio
// endpoints: response bodies into sinks, sources into request bodies.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
)

// chunkSize is the copy buffer size for downloads.
const chunkSize = 8 * 1024

// ErrShortBody reports a response body that ended before its declared length.
var ErrShortBody = errors.New("transfer: response body shorter than content length")

// Download streams resp into a freshly opened sink stream and closes resp.
// A known content length is announced to the sink first; an unknown one is
// announced after the copy. On a read failure the stream is aborted and a
// retriable error returned; on a write failure the stream is aborted and the
// error is fatal. It returns the number of bytes written.
func Download(resp *request.Response, sink bytesio.Sink) (int64, error) {
	defer resp.Close()

	if resp.ContentLength >= 0 {
		sink.SetExpectedLength(resp.ContentLength)
	}

	out, err := sink.Open()
	if err != nil {
		return 0, fmt.Errorf("transfer: opening sink: %w", err)
	}

	n, err := copyChunks(out, resp.Body)
	if err == nil && resp.ContentLength >= 0 && n < resp.ContentLength {
		err = pcserr.Retriable(fmt.Errorf("%w: got %d of %d bytes", ErrShortBody, n, resp.ContentLength))
	}

	if err != nil {
		out.Abort()
		out.Close()

		return n, err
	}

	if err := out.Close(); err != nil {
		return n, fmt.Errorf("transfer: closing sink: %w", err)
	}

	if resp.ContentLength < 0 {
		sink.SetExpectedLength(n)
	}

	return n, nil
}

// copyChunks copies src into dst, classifying read errors as retriable and
// write errors as fatal.
func copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	if src == nil {
		return 0, nil
	}

	buf := make([]byte, chunkSize)

	var written int64

	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)

			if werr != nil {
				return written, fmt.Errorf("transfer: writing to sink: %w", werr)
			}

			if nw != nr {
				return written, fmt.Errorf("transfer: writing to sink: %w", io.ErrShortWrite)
			}
		}

		if errors.Is(rerr, io.EOF) {
			return written, nil
		}

		if rerr != nil {
			return written, pcserr.Retriable(fmt.Errorf("transfer: reading response: %w", rerr))
		}
	}
}

// NewUploadRequest builds a request whose body streams src. ContentLength is
// set from src.Length() and GetBody re-opens src so the transport can replay
// the body on redirects.
func NewUploadRequest(ctx context.Context, method, url string, src bytesio.Source) (*http.Request, error) {
	body, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("transfer: opening source: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("transfer: creating upload request: %w", err)
	}

	req.ContentLength = src.Length()
	req.GetBody = src.Open

	if req.ContentLength == 0 {
		body.Close()
		req.Body = http.NoBody
	}

	return req, nil
}
