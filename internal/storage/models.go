package storage

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/netheos/pcsgo/internal/bytesio"
)

// ErrInvalidMetadata is returned by Metadata.Set for keys or values that
// cannot be sent as HTTP headers.
var ErrInvalidMetadata = errors.New("storage: invalid metadata")

var metadataKey = regexp.MustCompile(`^[a-z-]*$`)

// Metadata holds user key/value pairs attached to a remote file.
type Metadata map[string]string

// Set validates key (lowercase letters and dashes) and value (printable
// ASCII) before storing them.
func (m Metadata) Set(key, value string) error {
	if !metadataKey.MatchString(key) {
		return fmt.Errorf("%w: key %q must contain only lowercase letters and dashes", ErrInvalidMetadata, key)
	}

	for _, r := range value {
		if r < 32 || r > 127 {
			return fmt.Errorf("%w: value of %q is not ASCII", ErrInvalidMetadata, key)
		}
	}

	m[key] = value

	return nil
}

// File is a remote object: a *Blob or a *Folder.
type File interface {
	FilePath() Path
	Modified() time.Time
	IsFolder() bool
}

// Blob is a remote file with content.
type Blob struct {
	Path        Path
	Length      int64
	ContentType string
	ModTime     time.Time
	Metadata    Metadata
	// Hash is a provider-specific content hash, if the provider returns one.
	Hash string
}

func (b *Blob) FilePath() Path      { return b.Path }
func (b *Blob) Modified() time.Time { return b.ModTime }
func (b *Blob) IsFolder() bool      { return false }

func (b *Blob) String() string {
	return fmt.Sprintf("Blob{path=%s, length=%d, contentType=%s}", b.Path, b.Length, b.ContentType)
}

// Folder is a remote directory.
type Folder struct {
	Path     Path
	ModTime  time.Time
	Metadata Metadata
}

func (f *Folder) FilePath() Path      { return f.Path }
func (f *Folder) Modified() time.Time { return f.ModTime }
func (f *Folder) IsFolder() bool      { return true }

func (f *Folder) String() string {
	return fmt.Sprintf("Folder{path=%s}", f.Path)
}

// FolderContent maps child paths to their files.
type FolderContent map[string]File

// Add stores f under its path.
func (c FolderContent) Add(f File) {
	c[f.FilePath().String()] = f
}

// Get returns the child at p, or nil.
func (c FolderContent) Get(p Path) File {
	return c[p.String()]
}

// Sorted returns the children ordered by path.
func (c FolderContent) Sorted() []File {
	out := make([]File, 0, len(c))
	for _, f := range c {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FilePath().String() < out[j].FilePath().String()
	})

	return out
}

// Quota reports storage usage. Negative values mean unknown.
type Quota struct {
	BytesUsed    int64
	BytesAllowed int64
}

// PercentUsed returns used/allowed in percent, or -1 when either is unknown.
func (q Quota) PercentUsed() float64 {
	if q.BytesUsed >= 0 && q.BytesAllowed > 0 {
		return float64(q.BytesUsed) * 100 / float64(q.BytesAllowed)
	}

	return -1
}

func (q Quota) String() string {
	return fmt.Sprintf("Quota{used=%d, allowed=%d, pct=%.1f%%}", q.BytesUsed, q.BytesAllowed, q.PercentUsed())
}

// byteRange is a download window. offset < 0 means "last length bytes";
// length < 0 means "to the end".
type byteRange struct {
	offset int64
	length int64
}

// DownloadRequest describes a download of Path into Sink.
type DownloadRequest struct {
	Path     Path
	Sink     bytesio.Sink
	Progress bytesio.ProgressListener

	rng *byteRange
}

// NewDownloadRequest returns a request for the whole blob at p.
func NewDownloadRequest(p Path, sink bytesio.Sink) *DownloadRequest {
	return &DownloadRequest{Path: p, Sink: sink}
}

// SetRange restricts the download. A length of 0 means "to the end";
// a negative offset with a positive length asks for the last length bytes.
// A negative offset and length clear the range.
func (r *DownloadRequest) SetRange(offset, length int64) *DownloadRequest {
	if length == 0 {
		length = -1
	}

	if offset < 0 && length < 0 {
		r.rng = nil
		return r
	}

	r.rng = &byteRange{offset: offset, length: length}

	return r
}

// SetProgressListener reports progress of the bytes written to the sink.
func (r *DownloadRequest) SetProgressListener(l bytesio.ProgressListener) *DownloadRequest {
	r.Progress = l
	return r
}

// RangeHeader returns the HTTP Range header value, or "" for whole downloads.
func (r *DownloadRequest) RangeHeader() string {
	if r.rng == nil {
		return ""
	}

	if r.rng.offset < 0 {
		return fmt.Sprintf("bytes=-%d", r.rng.length)
	}

	if r.rng.length < 0 {
		return fmt.Sprintf("bytes=%d-", r.rng.offset)
	}

	return fmt.Sprintf("bytes=%d-%d", r.rng.offset, r.rng.offset+r.rng.length-1)
}

// ByteSink returns the sink wrapped with the progress listener, if any.
func (r *DownloadRequest) ByteSink() bytesio.Sink {
	if r.Progress == nil {
		return r.Sink
	}

	return bytesio.NewProgressSink(r.Sink, r.Progress)
}

// UploadRequest describes an upload of Source to Path.
type UploadRequest struct {
	Path        Path
	Source      bytesio.Source
	ContentType string
	Metadata    Metadata
	Progress    bytesio.ProgressListener
}

// NewUploadRequest returns a request uploading src to p.
func NewUploadRequest(p Path, src bytesio.Source) *UploadRequest {
	return &UploadRequest{Path: p, Source: src}
}

// SetProgressListener reports progress of the bytes read from the source.
func (r *UploadRequest) SetProgressListener(l bytesio.ProgressListener) *UploadRequest {
	r.Progress = l
	return r
}

// ByteSource returns the source wrapped with the progress listener, if any.
func (r *UploadRequest) ByteSource() bytesio.Source {
	if r.Progress == nil {
		return r.Source
	}

	return bytesio.NewProgressSource(r.Source, r.Progress)
}
