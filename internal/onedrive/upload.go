package onedrive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/storage"
)

// chunkAlignment is the required alignment for upload chunk sizes (320 KiB).
// All chunks except the final one must be a multiple of this value.
const chunkAlignment = 320 * 1024

// defaultChunkSize is ten aligned units, 3.125 MiB.
const defaultChunkSize = 10 * chunkAlignment

// simpleUploadMaxSize is the largest blob sent in a single PUT (4 MiB).
// Larger blobs use an upload session.
const simpleUploadMaxSize = 4 * 1024 * 1024

type createUploadSessionRequest struct {
	Item uploadSessionItem `json:"item"`
}

type uploadSessionItem struct {
	ConflictBehavior string `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

type uploadSessionResponse struct {
	UploadURL string `json:"uploadUrl"`
}

// alignChunkSize rounds size down to a multiple of chunkAlignment, with a
// minimum of one unit. Zero or negative selects the default.
func alignChunkSize(size int64) int64 {
	if size <= 0 {
		return defaultChunkSize
	}

	return max(size-size%chunkAlignment, chunkAlignment)
}

// Upload writes req.Source to req.Path, creating missing parents and
// replacing an existing blob.
func (p *Provider) Upload(ctx context.Context, req *storage.UploadRequest) error {
	path := req.Path

	if path.IsRoot() {
		return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: true}
	}

	item, err := p.getItem(ctx, path)
	if err != nil {
		return err
	}

	if item != nil && item.isFolder() {
		return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: true}
	}

	if item == nil {
		if _, err := p.ensureFolder(ctx, path.Parent()); err != nil {
			return err
		}
	}

	size := req.Source.Length()

	p.logger.Info("uploading",
		slog.String("path", path.String()),
		slog.Int64("size", size),
	)

	if size <= simpleUploadMaxSize {
		return p.simpleUpload(ctx, req)
	}

	return p.sessionUpload(ctx, req)
}

// simpleUpload sends the whole blob in one PUT.
func (p *Provider) simpleUpload(ctx context.Context, req *storage.UploadRequest) error {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return p.do(ctx, call{
		method: http.MethodPut,
		url:    p.itemActionURL(req.Path, "content"),
		path:   req.Path,
		source: req.ByteSource(),
		header: http.Header{"Content-Type": []string{contentType}},
	}, nil)
}

// sessionUpload creates an upload session and sends the blob in aligned
// chunks, each retried on its own. The session is cancelled when a chunk
// fails for good.
func (p *Provider) sessionUpload(ctx context.Context, req *storage.UploadRequest) error {
	path := req.Path

	var us uploadSessionResponse

	err := p.do(ctx, call{
		method: http.MethodPost,
		url:    p.itemActionURL(path, "createUploadSession"),
		path:   path,
		body:   createUploadSessionRequest{Item: uploadSessionItem{ConflictBehavior: "replace"}},
	}, &us)
	if err != nil {
		return err
	}

	if us.UploadURL == "" {
		return fmt.Errorf("onedrive: upload session for %s has no upload URL", path)
	}

	total := req.Source.Length()

	if req.Progress != nil {
		req.Progress.SetProgressTotal(total)
		req.Progress.Progress(0)
	}

	for offset := int64(0); offset < total; offset += p.chunkSize {
		length := min(p.chunkSize, total-offset)

		if err := p.uploadChunk(ctx, path, us.UploadURL, req.Source, offset, length); err != nil {
			if req.Progress != nil {
				req.Progress.Aborted()
			}

			p.cancelSession(ctx, path, us.UploadURL)

			return err
		}

		if req.Progress != nil {
			req.Progress.Progress(offset + length)
		}
	}

	p.logger.Debug("upload session complete", slog.String("path", path.String()))

	return nil
}

func (p *Provider) uploadChunk(
	ctx context.Context, path storage.Path, uploadURL string, src bytesio.Source, offset, length int64,
) error {
	chunk, err := bytesio.NewRangeSource(src, offset, length)
	if err != nil {
		return err
	}

	p.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", src.Length()),
	)

	contentRange := fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, src.Length())

	return p.do(ctx, call{
		method:    http.MethodPut,
		url:       uploadURL,
		path:      path,
		source:    chunk,
		header:    http.Header{"Content-Range": []string{contentRange}},
		validator: statusValidator,
		manager:   p.uploads,
	}, nil)
}

// cancelSession deletes an abandoned upload session, best effort.
func (p *Provider) cancelSession(ctx context.Context, path storage.Path, uploadURL string) {
	inv, err := p.invoker(call{
		method:    http.MethodDelete,
		url:       uploadURL,
		path:      path,
		validator: statusValidator,
		manager:   p.uploads,
	})
	if err != nil {
		return
	}

	resp, err := inv.Call(context.WithoutCancel(ctx))
	if err != nil {
		p.logger.Warn("cancelling upload session failed",
			slog.String("path", path.String()),
			slog.String("error", err.Error()),
		)

		return
	}

	resp.Close()
}
