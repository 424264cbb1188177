// Package storage defines the provider-independent view of a cloud storage:
// paths, files, quotas, transfer requests, the Provider contract every
// adapter implements, and the registry that builds providers by name.
package storage

import (
	"context"
)

// Provider is a user's storage at one cloud service.
//
// Not-found is a normal outcome for lookups: ListFolder and GetFile return
// nil without error when nothing exists at the path, Delete and CreateFolder
// report it through their boolean. Type mismatches (a blob where a folder is
// expected, or the reverse) are *pcserr.InvalidFileTypeError.
type Provider interface {
	// Name returns the registered provider name.
	Name() string
	// UserID returns the identifier of the authenticated user.
	UserID(ctx context.Context) (string, error)
	Quota(ctx context.Context) (Quota, error)
	ListRootFolder(ctx context.Context) (FolderContent, error)
	ListFolder(ctx context.Context, p Path) (FolderContent, error)
	// CreateFolder creates p and any missing parent. It returns false when a
	// folder already exists at p.
	CreateFolder(ctx context.Context, p Path) (bool, error)
	// Delete removes p recursively. It returns false when nothing exists at
	// p. Deleting the root is an error.
	Delete(ctx context.Context, p Path) (bool, error)
	GetFile(ctx context.Context, p Path) (File, error)
	Download(ctx context.Context, req *DownloadRequest) error
	// Upload writes a blob, creating missing parents. An existing blob is
	// replaced; an existing folder at the path is an error.
	Upload(ctx context.Context, req *UploadRequest) error
	Close() error
}
