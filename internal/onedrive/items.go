package onedrive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/storage"
)

// listPageSize is the $top value for children requests, the Graph maximum.
const listPageSize = 200

// Timestamps outside these years are treated as missing.
const (
	minValidYear = 1970
	maxValidYear = 2100
)

// driveItem mirrors the Graph driveItem JSON.
type driveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 int64        `json:"size"`
	LastModifiedDateTime string       `json:"lastModifiedDateTime"`
	File                 *fileFacet   `json:"file"`
	Folder               *folderFacet `json:"folder"`
	Package              *struct{}    `json:"package"`
}

type fileFacet struct {
	MimeType string     `json:"mimeType"`
	Hashes   *hashFacet `json:"hashes"`
}

type hashFacet struct {
	QuickXorHash string `json:"quickXorHash"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type listChildrenResponse struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink"` //nolint:tagliatelle // OData annotation key
}

type createFolderRequest struct {
	Name             string      `json:"name"`
	Folder           folderFacet `json:"folder"`
	ConflictBehavior string      `json:"@microsoft.graph.conflictBehavior"` //nolint:tagliatelle // Graph API annotation key
}

// isFolder reports whether the item can be listed. Packages (OneNote
// notebooks) are folders on the server but have no downloadable content.
func (d *driveItem) isFolder() bool {
	return d.Folder != nil || d.Package != nil
}

func (d *driveItem) quickXorHash() string {
	if d.File == nil || d.File.Hashes == nil {
		return ""
	}

	return d.File.Hashes.QuickXorHash
}

// toFile normalizes d, located at path, into a storage file.
func (d *driveItem) toFile(path storage.Path, logger *slog.Logger) storage.File {
	modified := parseTimestamp(d.LastModifiedDateTime, d.ID, logger)

	if d.isFolder() {
		return &storage.Folder{Path: path, ModTime: modified}
	}

	blob := &storage.Blob{
		Path:    path,
		Length:  d.Size,
		ModTime: modified,
		Hash:    d.quickXorHash(),
	}

	if d.File != nil {
		blob.ContentType = d.File.MimeType
	}

	return blob
}

// parseTimestamp parses an RFC3339 timestamp. Missing, invalid or
// out-of-range values yield the zero time.
func parseTimestamp(raw, itemID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid timestamp",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	if t.Year() < minValidYear || t.Year() > maxValidYear {
		logger.Warn("timestamp out of valid range",
			slog.String("item_id", itemID),
			slog.String("raw", raw),
		)

		return time.Time{}
	}

	return t
}

// getItem returns the item at path, or nil when there is none.
func (p *Provider) getItem(ctx context.Context, path storage.Path) (*driveItem, error) {
	var item driveItem

	err := p.do(ctx, call{method: http.MethodGet, url: p.itemURL(path), path: path}, &item)
	if isNotFound(err) {
		return nil, nil //nolint:nilnil // absence is a normal outcome
	}

	if err != nil {
		return nil, err
	}

	return &item, nil
}

// listChildren pages through the children of the folder at path. It
// returns nil when the folder disappears while listing.
func (p *Provider) listChildren(ctx context.Context, path storage.Path) (storage.FolderContent, error) {
	p.logger.Debug("listing folder", slog.String("path", path.String()))

	content := storage.FolderContent{}
	next := p.itemActionURL(path, "children") + "?$top=" + strconv.Itoa(listPageSize)
	page := 1

	for next != "" {
		var resp listChildrenResponse

		err := p.do(ctx, call{method: http.MethodGet, url: next, path: path}, &resp)
		if isNotFound(err) {
			return nil, nil
		}

		if err != nil {
			return nil, err
		}

		for i := range resp.Value {
			child, err := path.Add(resp.Value[i].Name)
			if err != nil {
				p.logger.Warn("skipping child with unsupported name",
					slog.String("folder", path.String()),
					slog.String("name", resp.Value[i].Name),
				)

				continue
			}

			content.Add(resp.Value[i].toFile(child, p.logger))
		}

		p.logger.Debug("listed children page",
			slog.String("path", path.String()),
			slog.Int("page", page),
			slog.Int("count", len(resp.Value)),
		)

		next = resp.NextLink
		page++
	}

	return content, nil
}

func (p *Provider) ListRootFolder(ctx context.Context) (storage.FolderContent, error) {
	return p.listChildren(ctx, storage.Root)
}

// ListFolder returns nil when nothing exists at path.
func (p *Provider) ListFolder(ctx context.Context, path storage.Path) (storage.FolderContent, error) {
	if path.IsRoot() {
		return p.ListRootFolder(ctx)
	}

	item, err := p.getItem(ctx, path)
	if err != nil || item == nil {
		return nil, err
	}

	if !item.isFolder() {
		return nil, &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: false}
	}

	return p.listChildren(ctx, path)
}

// GetFile returns nil when nothing exists at path.
func (p *Provider) GetFile(ctx context.Context, path storage.Path) (storage.File, error) {
	item, err := p.getItem(ctx, path)
	if err != nil || item == nil {
		return nil, err
	}

	return item.toFile(path, p.logger), nil
}

// CreateFolder creates path and its missing parents. It returns false when
// the folder already exists.
func (p *Provider) CreateFolder(ctx context.Context, path storage.Path) (bool, error) {
	p.logger.Info("creating folder", slog.String("path", path.String()))

	return p.ensureFolder(ctx, path)
}

// ensureFolder creates path, parents first, unless it already exists. A
// blob anywhere on the chain is an InvalidFileTypeError.
func (p *Provider) ensureFolder(ctx context.Context, path storage.Path) (bool, error) {
	if path.IsRoot() {
		return false, nil
	}

	item, err := p.getItem(ctx, path)
	if err != nil {
		return false, err
	}

	if item != nil {
		if !item.isFolder() {
			return false, &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: false}
		}

		return false, nil
	}

	if _, err := p.ensureFolder(ctx, path.Parent()); err != nil {
		return false, err
	}

	body := createFolderRequest{Name: path.Base(), ConflictBehavior: "fail"}

	err = p.do(ctx, call{
		method: http.MethodPost,
		url:    p.itemActionURL(path.Parent(), "children"),
		path:   path,
		body:   body,
	}, nil)
	if isConflict(err) {
		// Created concurrently.
		return false, p.checkFolder(ctx, path, err)
	}

	if err != nil {
		return false, err
	}

	p.logger.Debug("folder created", slog.String("path", path.String()))

	return true, nil
}

// checkFolder verifies that a folder now exists at path, returning cause
// when nothing does.
func (p *Provider) checkFolder(ctx context.Context, path storage.Path, cause error) error {
	item, err := p.getItem(ctx, path)
	if err != nil {
		return err
	}

	if item == nil {
		return cause
	}

	if !item.isFolder() {
		return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: false}
	}

	return nil
}

// Delete removes path recursively. It returns false when nothing exists.
func (p *Provider) Delete(ctx context.Context, path storage.Path) (bool, error) {
	if path.IsRoot() {
		return false, fmt.Errorf("%w: cannot delete the root folder", pcserr.ErrStorage)
	}

	p.logger.Info("deleting", slog.String("path", path.String()))

	err := p.do(ctx, call{
		method:    http.MethodDelete,
		url:       p.itemURL(path),
		path:      path,
		validator: statusValidator,
	}, nil)
	if isNotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}
