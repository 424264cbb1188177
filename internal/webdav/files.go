package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/storage"
)

func (p *Provider) ListRootFolder(ctx context.Context) (storage.FolderContent, error) {
	return p.ListFolder(ctx, storage.Root)
}

// ListFolder returns the direct children of path, or nil when nothing
// exists there.
func (p *Provider) ListFolder(ctx context.Context, path storage.Path) (storage.FolderContent, error) {
	res, err := p.propfind(ctx, path, "1", fileProps)
	if err != nil {
		return nil, err
	}

	if res == nil {
		return nil, nil //nolint:nilnil // missing folder
	}

	content := storage.FolderContent{}

	for _, r := range res {
		if r.path.Equal(path) {
			if !r.collection {
				return nil, &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: false}
			}

			continue
		}

		if !r.path.Parent().Equal(path) {
			continue
		}

		content.Add(r.toFile())
	}

	return content, nil
}

// GetFile returns the blob or folder at path, or nil.
func (p *Provider) GetFile(ctx context.Context, path storage.Path) (storage.File, error) {
	r, err := p.stat(ctx, path)
	if err != nil || r == nil {
		return nil, err
	}

	return r.toFile(), nil
}

// Quota reads the RFC 4331 properties of the root collection. Servers that
// do not support them report unknown (-1) values.
func (p *Provider) Quota(ctx context.Context) (storage.Quota, error) {
	res, err := p.propfind(ctx, storage.Root, "0", quotaProps)
	if err != nil {
		return storage.Quota{}, err
	}

	q := storage.Quota{BytesUsed: -1, BytesAllowed: -1}

	for _, r := range res {
		if !r.path.IsRoot() {
			continue
		}

		q.BytesUsed = r.quotaUsed

		if r.quotaUsed >= 0 && r.quotaAvailable >= 0 {
			q.BytesAllowed = r.quotaUsed + r.quotaAvailable
		}
	}

	return q, nil
}

// CreateFolder creates path and its missing parents.
func (p *Provider) CreateFolder(ctx context.Context, path storage.Path) (bool, error) {
	return p.ensureFolder(ctx, path)
}

// ensureFolder creates path after its parents. It returns false when the
// folder already exists and InvalidFileTypeError when a blob is in the way.
func (p *Provider) ensureFolder(ctx context.Context, path storage.Path) (bool, error) {
	if path.IsRoot() {
		return false, nil
	}

	r, err := p.stat(ctx, path)
	if err != nil {
		return false, err
	}

	if r != nil {
		if !r.collection {
			return false, &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: false}
		}

		return false, nil
	}

	if _, err := p.ensureFolder(ctx, path.Parent()); err != nil {
		return false, err
	}

	err = p.exec(ctx, call{method: methodMkcol, url: p.resourceURL(path, true), path: path})
	if hasStatus(err, http.StatusMethodNotAllowed) {
		// Something appeared at path since the stat, possibly an
		// earlier attempt of this very MKCOL.
		return p.checkFolder(ctx, path)
	}

	if err != nil {
		return false, err
	}

	p.logger.Debug("created folder", slog.String("path", path.String()))

	return true, nil
}

func (p *Provider) checkFolder(ctx context.Context, path storage.Path) (bool, error) {
	r, err := p.stat(ctx, path)
	if err != nil {
		return false, err
	}

	if r == nil {
		return false, fmt.Errorf("%w: MKCOL %s was refused but nothing exists there", pcserr.ErrStorage, path)
	}

	if !r.collection {
		return false, &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: false}
	}

	return false, nil
}

// Delete removes path recursively. It returns false when nothing exists.
func (p *Provider) Delete(ctx context.Context, path storage.Path) (bool, error) {
	if path.IsRoot() {
		return false, fmt.Errorf("%w: cannot delete the root folder", pcserr.ErrStorage)
	}

	r, err := p.stat(ctx, path)
	if err != nil {
		return false, err
	}

	if r == nil {
		return false, nil
	}

	err = p.exec(ctx, call{method: http.MethodDelete, url: p.resourceURL(path, r.collection), path: path})
	if isNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	p.logger.Info("deleted", slog.String("path", path.String()))

	return true, nil
}
