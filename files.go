package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/metrics"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/storage"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Display file or folder metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runStat,
	}
}

func newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder and its missing parents",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkdir,
	}
}

func newRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Long: `Delete a file or folder. Folder deletion is recursive, all contents
are deleted. Use --recursive (-r) to confirm intent when deleting folders.`,
		Args: cobra.ExactArgs(1),
		RunE: runRm,
	}

	cmd.Flags().BoolP("recursive", "r", false, "confirm recursive folder deletion")

	return cmd
}

func newQuotaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Display used and allowed storage",
		Args:  cobra.NoArgs,
		RunE:  runQuota,
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file",
		Long: `Upload a local file. The remote path defaults to the file name in the
root folder; a remote path ending with "/" or naming an existing folder
receives the file under its local name. Missing parent folders are created
and an existing file is replaced.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runPut,
	}

	cmd.Flags().String("content-type", "", "content type (default: from the file extension)")

	return cmd
}

// remotePath parses a command line remote path, "/" when empty.
func remotePath(arg string) (storage.Path, error) {
	if arg == "" {
		return storage.Root, nil
	}

	p, err := storage.NewPath(arg)
	if err != nil {
		return storage.Path{}, fmt.Errorf("invalid remote path: %w", err)
	}

	return p, nil
}

// lsJSONItem is the JSON output schema for a single item in ls output.
type lsJSONItem struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	IsFolder   bool   `json:"is_folder"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

func runLs(cmd *cobra.Command, args []string) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}

	path, err := remotePath(arg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withProvider(ctx, func(cc *CLIContext, p storage.Provider) error {
		cc.Logger.Debug("ls", slog.String("path", path.String()))

		var content storage.FolderContent
		if path.IsRoot() {
			content, err = p.ListRootFolder(ctx)
		} else {
			content, err = p.ListFolder(ctx, path)
		}

		if err != nil {
			return fmt.Errorf("listing %s: %w", path, err)
		}

		if content == nil {
			return &pcserr.FileNotFoundError{Path: path.String(), Message: "no such folder"}
		}

		files := sortForListing(content)

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), lsItems(files))
		}

		rows := make([][]string, 0, len(files))
		for _, f := range files {
			rows = append(rows, []string{displayName(f), formatSize(fileSize(f)), formatTime(f.Modified())})
		}

		printTable(cmd.OutOrStdout(), []string{"NAME", "SIZE", "MODIFIED"}, rows)

		return nil
	})
}

// sortForListing puts folders first, then orders by name.
func sortForListing(content storage.FolderContent) []storage.File {
	files := content.Sorted()

	slices.SortStableFunc(files, func(a, b storage.File) int {
		switch {
		case a.IsFolder() && !b.IsFolder():
			return -1
		case !a.IsFolder() && b.IsFolder():
			return 1
		default:
			return strings.Compare(a.FilePath().Base(), b.FilePath().Base())
		}
	})

	return files
}

func lsItems(files []storage.File) []lsJSONItem {
	out := make([]lsJSONItem, 0, len(files))

	for _, f := range files {
		out = append(out, lsJSONItem{
			Name:       f.FilePath().Base(),
			Path:       f.FilePath().String(),
			Size:       fileSize(f),
			IsFolder:   f.IsFolder(),
			ModifiedAt: formatTimestamp(f.Modified()),
		})
	}

	return out
}

// fileSize is the blob length, -1 for folders and unknown lengths.
func fileSize(f storage.File) int64 {
	if b, ok := f.(*storage.Blob); ok {
		return b.Length
	}

	return -1
}

// statJSONOutput is the JSON output schema for the stat command.
type statJSONOutput struct {
	Path        string `json:"path"`
	IsFolder    bool   `json:"is_folder"`
	Size        int64  `json:"size"`
	ModifiedAt  string `json:"modified_at,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Hash        string `json:"hash,omitempty"`
}

func runStat(cmd *cobra.Command, args []string) error {
	path, err := remotePath(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withProvider(ctx, func(_ *CLIContext, p storage.Provider) error {
		f, err := p.GetFile(ctx, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		if f == nil {
			return &pcserr.FileNotFoundError{Path: path.String(), Message: "no such file or folder"}
		}

		out := statJSONOutput{
			Path:       f.FilePath().String(),
			IsFolder:   f.IsFolder(),
			Size:       fileSize(f),
			ModifiedAt: formatTimestamp(f.Modified()),
		}

		if b, ok := f.(*storage.Blob); ok {
			out.ContentType = b.ContentType
			out.Hash = b.Hash
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}

		printStatText(cmd, out)

		return nil
	})
}

func printStatText(cmd *cobra.Command, s statJSONOutput) {
	w := cmd.OutOrStdout()

	kind := "file"
	if s.IsFolder {
		kind = "folder"
	}

	fmt.Fprintf(w, "Path:     %s\n", s.Path)
	fmt.Fprintf(w, "Type:     %s\n", kind)

	if !s.IsFolder {
		fmt.Fprintf(w, "Size:     %s (%d bytes)\n", formatSize(s.Size), s.Size)
	}

	if s.ModifiedAt != "" {
		fmt.Fprintf(w, "Modified: %s\n", s.ModifiedAt)
	}

	if s.ContentType != "" {
		fmt.Fprintf(w, "MIME:     %s\n", s.ContentType)
	}

	if s.Hash != "" {
		fmt.Fprintf(w, "Hash:     %s\n", s.Hash)
	}
}

// changeJSONOutput is the JSON output schema of mkdir and rm.
type changeJSONOutput struct {
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
}

func runMkdir(cmd *cobra.Command, args []string) error {
	path, err := remotePath(args[0])
	if err != nil {
		return err
	}

	if path.IsRoot() {
		return errors.New("cannot create the root folder")
	}

	ctx := cmd.Context()

	return withProvider(ctx, func(_ *CLIContext, p storage.Provider) error {
		created, err := p.CreateFolder(ctx, path)
		if err != nil {
			return fmt.Errorf("creating folder %s: %w", path, err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), changeJSONOutput{Path: path.String(), Changed: created})
		}

		if created {
			statusf("Created %s\n", path)
		} else {
			statusf("Folder %s already exists\n", path)
		}

		return nil
	})
}

func runRm(cmd *cobra.Command, args []string) error {
	path, err := remotePath(args[0])
	if err != nil {
		return err
	}

	recursive, err := cmd.Flags().GetBool("recursive")
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withProvider(ctx, func(_ *CLIContext, p storage.Provider) error {
		f, err := p.GetFile(ctx, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		if f != nil && f.IsFolder() && !recursive {
			return fmt.Errorf("cannot delete folder %s without --recursive (-r) flag", path)
		}

		deleted, err := p.Delete(ctx, path)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", path, err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), changeJSONOutput{Path: path.String(), Changed: deleted})
		}

		if deleted {
			statusf("Deleted %s\n", path)
		} else {
			statusf("Nothing to delete at %s\n", path)
		}

		return nil
	})
}

// quotaJSONOutput is the JSON output schema for the quota command.
type quotaJSONOutput struct {
	BytesUsed    int64   `json:"bytes_used"`
	BytesAllowed int64   `json:"bytes_allowed"`
	PercentUsed  float64 `json:"percent_used"`
}

func runQuota(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	return withProvider(ctx, func(_ *CLIContext, p storage.Provider) error {
		q, err := p.Quota(ctx)
		if err != nil {
			return fmt.Errorf("reading quota: %w", err)
		}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), quotaJSONOutput{
				BytesUsed:    q.BytesUsed,
				BytesAllowed: q.BytesAllowed,
				PercentUsed:  q.PercentUsed(),
			})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Used:    %s\n", formatSize(q.BytesUsed))
		fmt.Fprintf(w, "Allowed: %s\n", formatSize(q.BytesAllowed))

		if pct := q.PercentUsed(); pct >= 0 {
			fmt.Fprintf(w, "Usage:   %.1f%%\n", pct)
		}

		return nil
	})
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]

	src, err := bytesio.NewFileSource(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}

	remoteArg := "/"
	if len(args) > 1 {
		remoteArg = args[1]
	}

	target, err := remotePath(remoteArg)
	if err != nil {
		return err
	}

	contentType, err := cmd.Flags().GetString("content-type")
	if err != nil {
		return err
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(localPath))
	}

	ctx := cmd.Context()

	return withProvider(ctx, func(cc *CLIContext, p storage.Provider) error {
		dest, err := uploadTarget(ctx, p, target, strings.HasSuffix(remoteArg, "/"), filepath.Base(localPath))
		if err != nil {
			return err
		}

		cc.Logger.Debug("put",
			slog.String("local_path", localPath),
			slog.String("remote_path", dest.String()),
			slog.Int64("size", src.Length()),
		)

		progress, done := cc.transferProgress(dest.Base(), metrics.DirectionUpload)

		req := storage.NewUploadRequest(dest, src)
		req.ContentType = contentType
		req.SetProgressListener(progress)

		err = p.Upload(ctx, req)
		done()

		if cc.Metrics != nil {
			cc.Metrics.ObserveTransfer(metrics.DirectionUpload, err)
		}

		if err != nil {
			return fmt.Errorf("uploading %s: %w", dest, err)
		}

		statusf("Uploaded %s (%s)\n", dest, formatSize(src.Length()))

		return nil
	})
}

// uploadTarget appends name to target when target designates a folder.
func uploadTarget(ctx context.Context, p storage.Provider, target storage.Path, isDir bool, name string) (storage.Path, error) {
	if !isDir && !target.IsRoot() {
		f, err := p.GetFile(ctx, target)
		if err != nil {
			return storage.Path{}, fmt.Errorf("reading %s: %w", target, err)
		}

		isDir = f != nil && f.IsFolder()
	}

	if !isDir && !target.IsRoot() {
		return target, nil
	}

	out, err := target.Add(name)
	if err != nil {
		return storage.Path{}, fmt.Errorf("invalid remote path: %w", err)
	}

	return out, nil
}

// transferProgress returns the listener of one transfer: a terminal
// progress line and the metrics byte counter, either of which may be absent.
// done ends the progress line.
func (cc *CLIContext) transferProgress(name, direction string) (bytesio.ProgressListener, func()) {
	var listeners []bytesio.ProgressListener

	tp := newProgressListener(name)
	if tp != nil {
		listeners = append(listeners, tp)
	}

	if cc.Metrics != nil {
		listeners = append(listeners, cc.Metrics.ByteCounter(direction))
	}

	return combineProgress(listeners...), tp.Done
}
