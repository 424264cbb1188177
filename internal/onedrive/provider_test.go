package onedrive

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/credentials"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/session"
	"github.com/netheos/pcsgo/internal/storage"
)

var testApp = credentials.AppInfo{Provider: ProviderName, Name: "test", ClientID: "client"}

func testCredentials() *credentials.UserCredentials {
	return &credentials.UserCredentials{
		App:    testApp,
		UserID: "alice@example.com",
		Credentials: &credentials.OAuth2Credentials{
			AccessToken:  "token-1",
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}
}

func newTestProvider(t *testing.T, g *fakeGraph, chunkSize int64) *Provider {
	t.Helper()

	endpoint := oauth2.Endpoint{TokenURL: g.srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams}
	opts := session.Options{HTTPClient: g.srv.Client(), UserAgent: "pcs-test"}

	mgr, err := session.NewOAuth2Manager(testApp, endpoint, testCredentials(), nil, session.OAuth2Options{Options: opts})
	require.NoError(t, err)

	return New(Options{
		BaseURL:   g.srv.URL,
		Session:   mgr,
		Refresher: mgr,
		Uploads:   session.NewAnonymousManager(opts),
		Retry:     retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil),
		ChunkSize: chunkSize,
	})
}

func download(t *testing.T, p *Provider, path string) ([]byte, error) {
	t.Helper()

	sink := bytesio.NewMemorySink()
	err := p.Download(t.Context(), storage.NewDownloadRequest(storage.MustPath(path), sink))

	return sink.Data(), err
}

func TestAlignChunkSize(t *testing.T) {
	assert.Equal(t, int64(defaultChunkSize), alignChunkSize(0))
	assert.Equal(t, int64(chunkAlignment), alignChunkSize(1))
	assert.Equal(t, int64(chunkAlignment), alignChunkSize(chunkAlignment+1))
	assert.Equal(t, int64(3*chunkAlignment), alignChunkSize(3*chunkAlignment))
}

func TestItemURL(t *testing.T) {
	p := New(Options{BaseURL: "https://graph.example/v1.0/", Session: session.NewAnonymousManager(session.Options{})})

	assert.Equal(t, "https://graph.example/v1.0/me/drive/root", p.itemURL(storage.Root))
	assert.Equal(t, "https://graph.example/v1.0/me/drive/root:/a%20b/c%23d:", p.itemURL(storage.MustPath("/a b/c#d")))
	assert.Equal(t, "https://graph.example/v1.0/me/drive/root/children", p.itemActionURL(storage.Root, "children"))
	assert.Equal(t, "https://graph.example/v1.0/me/drive/root:/a:/content", p.itemActionURL(storage.MustPath("/a"), "content"))
}

func TestProvider_UserIDAndQuota(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, 0)

	id, err := p.UserID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id)

	q, err := p.Quota(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(250), q.BytesUsed)
	assert.Equal(t, int64(1000), q.BytesAllowed)
	assert.Equal(t, ProviderName, p.Name())
}

func TestProvider_CreateFolderAndList(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, 0)
	ctx := t.Context()

	created, err := p.CreateFolder(ctx, storage.MustPath("/a/b c"))
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, g.node("/a"))
	assert.True(t, g.node("/a/b c").folder)

	created, err = p.CreateFolder(ctx, storage.MustPath("/a/b c"))
	require.NoError(t, err)
	assert.False(t, created)

	root, err := p.ListRootFolder(ctx)
	require.NoError(t, err)
	require.NotNil(t, root.Get(storage.MustPath("/a")))
	assert.True(t, root.Get(storage.MustPath("/a")).IsFolder())

	content, err := p.ListFolder(ctx, storage.MustPath("/a"))
	require.NoError(t, err)
	require.Len(t, content, 1)
	assert.True(t, content.Get(storage.MustPath("/a/b c")).IsFolder())

	missing, err := p.ListFolder(ctx, storage.MustPath("/nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProvider_ListFolderPaginates(t *testing.T) {
	g := newFakeGraph(t)
	g.mkdir("/many")

	for i := range 5 {
		g.put("/many/f"+string(rune('0'+i)), []byte("x"))
	}

	p := newTestProvider(t, g, 0)

	content, err := p.ListFolder(t.Context(), storage.MustPath("/many"))
	require.NoError(t, err)
	assert.Len(t, content, 5)

	blob, ok := content.Get(storage.MustPath("/many/f3")).(*storage.Blob)
	require.True(t, ok)
	assert.Equal(t, int64(1), blob.Length)
	assert.Equal(t, "application/octet-stream", blob.ContentType)
	assert.NotEmpty(t, blob.Hash)
	assert.False(t, blob.ModTime.IsZero())
}

func TestProvider_ListFolderOnBlob(t *testing.T) {
	g := newFakeGraph(t)
	g.put("/file.txt", []byte("x"))
	p := newTestProvider(t, g, 0)

	_, err := p.ListFolder(t.Context(), storage.MustPath("/file.txt"))

	var ift *pcserr.InvalidFileTypeError
	require.ErrorAs(t, err, &ift)
	assert.False(t, ift.BlobExpected)
}

func TestProvider_CreateFolderThroughBlob(t *testing.T) {
	g := newFakeGraph(t)
	g.put("/file.txt", []byte("x"))
	p := newTestProvider(t, g, 0)

	_, err := p.CreateFolder(t.Context(), storage.MustPath("/file.txt/sub"))

	var ift *pcserr.InvalidFileTypeError
	require.ErrorAs(t, err, &ift)
	assert.Equal(t, "/file.txt", ift.Path)

	_, err = p.CreateFolder(t.Context(), storage.MustPath("/file.txt"))
	assert.ErrorIs(t, err, pcserr.ErrInvalidFileType)
}

func TestProvider_GetFile(t *testing.T) {
	g := newFakeGraph(t)
	g.put("/doc.txt", []byte("hello"))
	p := newTestProvider(t, g, 0)

	f, err := p.GetFile(t.Context(), storage.MustPath("/doc.txt"))
	require.NoError(t, err)
	blob, ok := f.(*storage.Blob)
	require.True(t, ok)
	assert.Equal(t, int64(5), blob.Length)
	assert.Equal(t, "/doc.txt", blob.Path.String())

	root, err := p.GetFile(t.Context(), storage.Root)
	require.NoError(t, err)
	assert.True(t, root.IsFolder())
	assert.True(t, root.FilePath().IsRoot())

	missing, err := p.GetFile(t.Context(), storage.MustPath("/none"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestProvider_Delete(t *testing.T) {
	g := newFakeGraph(t)
	g.mkdir("/d")
	g.put("/d/x", []byte("x"))
	p := newTestProvider(t, g, 0)

	deleted, err := p.Delete(t.Context(), storage.MustPath("/d"))
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, g.node("/d/x"))

	deleted, err = p.Delete(t.Context(), storage.MustPath("/d"))
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = p.Delete(t.Context(), storage.Root)
	assert.ErrorIs(t, err, pcserr.ErrStorage)
}

func TestProvider_UploadAndDownload(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, 0)
	ctx := t.Context()

	up := storage.NewUploadRequest(storage.MustPath("/x/y/data.bin"), bytesio.NewMemorySource([]byte("first")))
	require.NoError(t, p.Upload(ctx, up))
	assert.True(t, g.node("/x").folder)
	assert.Equal(t, []byte("first"), g.node("/x/y/data.bin").data)

	up = storage.NewUploadRequest(storage.MustPath("/x/y/data.bin"), bytesio.NewMemorySource([]byte("second")))
	require.NoError(t, p.Upload(ctx, up))

	got, err := download(t, p, "/x/y/data.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestProvider_UploadOntoFolder(t *testing.T) {
	g := newFakeGraph(t)
	g.mkdir("/folder")
	g.put("/blob", []byte("x"))
	p := newTestProvider(t, g, 0)

	err := p.Upload(t.Context(), storage.NewUploadRequest(storage.MustPath("/folder"), bytesio.NewMemorySource(nil)))

	var ift *pcserr.InvalidFileTypeError
	require.ErrorAs(t, err, &ift)
	assert.True(t, ift.BlobExpected)

	err = p.Upload(t.Context(), storage.NewUploadRequest(storage.MustPath("/blob/child"), bytesio.NewMemorySource(nil)))
	require.ErrorAs(t, err, &ift)
	assert.False(t, ift.BlobExpected)
	assert.Equal(t, "/blob", ift.Path)
}

type progressRecorder struct {
	total   int64
	last    int64
	aborted bool
}

func (r *progressRecorder) SetProgressTotal(total int64) { r.total = total }
func (r *progressRecorder) Progress(current int64)       { r.last = current }
func (r *progressRecorder) Aborted()                     { r.aborted = true }

func TestProvider_UploadSession(t *testing.T) {
	g := newFakeGraph(t)
	p := newTestProvider(t, g, chunkAlignment)

	data := bytes.Repeat([]byte("0123456789abcdef"), (simpleUploadMaxSize+4096)/16)
	progress := &progressRecorder{}

	req := storage.NewUploadRequest(storage.MustPath("/big.bin"), bytesio.NewMemorySource(data)).
		SetProgressListener(progress)
	require.NoError(t, p.Upload(t.Context(), req))

	require.NotNil(t, g.node("/big.bin"))
	assert.Equal(t, data, g.node("/big.bin").data)

	ranges := g.chunkRanges()
	wantChunks := (len(data) + chunkAlignment - 1) / chunkAlignment
	require.Len(t, ranges, wantChunks)
	assert.Equal(t, "bytes 0-327679/"+strconv.Itoa(len(data)), ranges[0])
	assert.True(t, strings.HasSuffix(ranges[len(ranges)-1], "-"+strconv.Itoa(len(data)-1)+"/"+strconv.Itoa(len(data))))

	assert.Equal(t, int64(len(data)), progress.total)
	assert.Equal(t, int64(len(data)), progress.last)
	assert.False(t, progress.aborted)

	got, err := download(t, p, "/big.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestProvider_UploadSessionChunkRetried(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("PUT /upload/1", fault{status: http.StatusServiceUnavailable})
	p := newTestProvider(t, g, 4*chunkAlignment)

	data := bytes.Repeat([]byte{7}, simpleUploadMaxSize+1)
	require.NoError(t, p.Upload(t.Context(), storage.NewUploadRequest(storage.MustPath("/r.bin"), bytesio.NewMemorySource(data))))

	assert.Equal(t, data, g.node("/r.bin").data)
}

func TestProvider_UploadSessionCancelledOnFailure(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("PUT /upload/1", fault{status: http.StatusBadRequest})
	p := newTestProvider(t, g, 0)

	progress := &progressRecorder{}
	data := bytes.Repeat([]byte{1}, simpleUploadMaxSize+1)
	req := storage.NewUploadRequest(storage.MustPath("/c.bin"), bytesio.NewMemorySource(data)).SetProgressListener(progress)

	err := p.Upload(t.Context(), req)
	assert.ErrorIs(t, err, pcserr.ErrHTTP)
	assert.True(t, progress.aborted)
	assert.Equal(t, 1, g.count("DELETE /upload/1"))
	assert.Nil(t, g.node("/c.bin"))
}

func TestProvider_UploadSessionRejectedWithoutRefresh(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("PUT /upload/1", fault{status: http.StatusUnauthorized})
	p := newTestProvider(t, g, 0)

	data := bytes.Repeat([]byte{2}, simpleUploadMaxSize+1)
	err := p.Upload(t.Context(), storage.NewUploadRequest(storage.MustPath("/u.bin"), bytesio.NewMemorySource(data)))

	require.ErrorIs(t, err, pcserr.ErrAuthentication)
	assert.Equal(t, int32(0), g.tokenCalls.Load(), "upload URLs carry no token to refresh")
	assert.Equal(t, 1, g.count("PUT /upload/1"))
	assert.Equal(t, 1, g.count("DELETE /upload/1"))
}

func TestProvider_DownloadRange(t *testing.T) {
	g := newFakeGraph(t)
	g.put("/r.txt", []byte("0123456789"))
	p := newTestProvider(t, g, 0)

	sink := bytesio.NewMemorySink()
	req := storage.NewDownloadRequest(storage.MustPath("/r.txt"), sink).SetRange(2, 4)
	require.NoError(t, p.Download(t.Context(), req))
	assert.Equal(t, []byte("2345"), sink.Data())
}

func TestProvider_DownloadErrors(t *testing.T) {
	g := newFakeGraph(t)
	g.mkdir("/dir")
	p := newTestProvider(t, g, 0)

	_, err := download(t, p, "/missing")

	var fnf *pcserr.FileNotFoundError
	require.ErrorAs(t, err, &fnf)
	assert.Equal(t, "/missing", fnf.Path)

	_, err = download(t, p, "/dir")

	var ift *pcserr.InvalidFileTypeError
	require.ErrorAs(t, err, &ift)
	assert.True(t, ift.BlobExpected)
}

func TestProvider_DownloadHashMismatchRetried(t *testing.T) {
	g := newFakeGraph(t)
	g.put("/h.bin", []byte("payload"))
	g.corrupt = 1
	p := newTestProvider(t, g, 0)

	got, err := download(t, p, "/h.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, 2, g.count("GET /me/drive/root:/h.bin:/content"))
}

func TestProvider_DownloadHashMismatchAbortsFileSink(t *testing.T) {
	g := newFakeGraph(t)
	g.put("/h.bin", []byte("payload"))
	g.corrupt = 10
	p := newTestProvider(t, g, 0)

	dest := filepath.Join(t.TempDir(), "h.bin")
	sink := bytesio.NewFileSink(dest, bytesio.FileSinkOptions{TempName: true, DeleteOnAbort: true})

	err := p.Download(t.Context(), storage.NewDownloadRequest(storage.MustPath("/h.bin"), sink))
	require.ErrorIs(t, err, ErrHashMismatch)
	assert.NoFileExists(t, dest)
	assert.NoFileExists(t, dest+".part")
}

func TestProvider_RetriesServerErrors(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("GET /me",
		fault{status: http.StatusServiceUnavailable},
		fault{status: http.StatusTooManyRequests, retryAfter: "0"},
	)
	p := newTestProvider(t, g, 0)

	id, err := p.UserID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id)
	assert.Equal(t, 3, g.count("GET /me"))
}

func TestProvider_InsufficientStorageNotRetried(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("GET /me/drive", fault{status: statusInsufficientStorage})
	p := newTestProvider(t, g, 0)

	_, err := p.Quota(t.Context())

	var httpErr *pcserr.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, statusInsufficientStorage, httpErr.Status)
	assert.Contains(t, httpErr.Message, "injected")
	assert.Equal(t, 1, g.count("GET /me/drive"))
}

func TestProvider_NonJSONResponseRetried(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("GET /me", fault{html: true})
	p := newTestProvider(t, g, 0)

	_, err := p.UserID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, g.count("GET /me"))
}

func TestProvider_RefreshesOnceOnRejectedToken(t *testing.T) {
	g := newFakeGraph(t)
	g.validToken = "token-2"
	p := newTestProvider(t, g, 0)

	_, err := p.UserID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int32(1), g.tokenCalls.Load())
}

func TestProvider_SecondRejectionIsFatal(t *testing.T) {
	g := newFakeGraph(t)
	g.validToken = "never-issued"
	p := newTestProvider(t, g, 0)

	_, err := p.UserID(t.Context())
	require.ErrorIs(t, err, pcserr.ErrAuthentication)
	assert.Equal(t, int32(1), g.tokenCalls.Load())
	assert.Equal(t, 2, g.count("GET /me"))
}

func TestProvider_ContextCancelledDuringRetry(t *testing.T) {
	g := newFakeGraph(t)
	g.inject("GET /me", fault{status: http.StatusServiceUnavailable, retryAfter: "60"})
	p := newTestProvider(t, g, 0)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := p.UserID(ctx)
	assert.ErrorIs(t, err, pcserr.ErrRetryInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuilder_BuildsOneDrive(t *testing.T) {
	g := newFakeGraph(t)

	app := testApp
	app.Endpoint = g.srv.URL

	store, err := credentials.NewFileStore(filepath.Join(t.TempDir(), "creds.json"), nil)
	require.NoError(t, err)

	uc := testCredentials()
	uc.App = app
	require.NoError(t, store.Save(t.Context(), uc))

	b, err := storage.NewBuilder(ProviderName)
	require.NoError(t, err)

	sp, err := b.SetAppRepository(credentials.NewMapAppRepository(app), "").
		SetCredentialsStore(store, "").
		SetHTTPClient(g.srv.Client()).
		SetRetryStrategy(retry.NoRetry()).
		SetChunkSize(2*chunkAlignment + 1).
		Build(t.Context())
	require.NoError(t, err)
	defer sp.Close()

	id, err := sp.UserID(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", id)

	p, ok := sp.(*Provider)
	require.True(t, ok)
	assert.Equal(t, int64(2*chunkAlignment), p.chunkSize)

	boot, err := p.Bootstrapper()
	require.NoError(t, err)
	assert.NotNil(t, boot)
}
