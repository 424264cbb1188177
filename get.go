package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/metrics"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/storage"
)

const localDirPerms = 0o755

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path>...",
		Short: "Download files or folders",
		Long: `Download remote files, or folders recursively. With a single remote
file, --output names the local file; otherwise --output is the directory
receiving the downloads. Files are written to "<name>.part" and renamed
when complete. --offset and --length download a byte range of a single file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runGet,
	}

	cmd.Flags().StringP("output", "o", "", "local file or directory (default: current directory)")
	cmd.Flags().IntP("jobs", "j", 0, "parallel downloads (default: [transfers] parallel_downloads)")
	cmd.Flags().Int64("offset", -1, "first byte of the range; negative with --length for the last bytes")
	cmd.Flags().Int64("length", 0, "number of bytes of the range, 0 to the end")

	return cmd
}

// downloadTask is one blob to fetch.
type downloadTask struct {
	remote storage.Path
	local  string
	size   int64
}

type getOptions struct {
	output string
	jobs   int
	offset int64
	length int64
}

func readGetOptions(cmd *cobra.Command, defaultJobs int) (getOptions, error) {
	var (
		opts getOptions
		err  error
	)

	flags := cmd.Flags()

	if opts.output, err = flags.GetString("output"); err != nil {
		return opts, err
	}

	if opts.jobs, err = flags.GetInt("jobs"); err != nil {
		return opts, err
	}

	if opts.offset, err = flags.GetInt64("offset"); err != nil {
		return opts, err
	}

	if opts.length, err = flags.GetInt64("length"); err != nil {
		return opts, err
	}

	if opts.jobs <= 0 {
		opts.jobs = defaultJobs
	}

	return opts, nil
}

func (o getOptions) ranged() bool {
	return o.offset >= 0 || o.length > 0
}

func runGet(cmd *cobra.Command, args []string) error {
	opts, err := readGetOptions(cmd, resolvedCfg.Transfers.ParallelDownloads)
	if err != nil {
		return err
	}

	paths := make([]storage.Path, 0, len(args))

	for _, arg := range args {
		p, err := remotePath(arg)
		if err != nil {
			return err
		}

		paths = append(paths, p)
	}

	ctx := cmd.Context()

	return withProvider(ctx, func(cc *CLIContext, p storage.Provider) error {
		tasks, err := planDownloads(ctx, p, paths, opts)
		if err != nil {
			return err
		}

		if opts.ranged() && (len(tasks) != 1 || len(paths) != 1) {
			return errors.New("--offset and --length need a single remote file")
		}

		return runDownloads(ctx, cc, p, tasks, opts)
	})
}

// planDownloads resolves remote paths into blob downloads. Folders are
// walked recursively and mirrored under the output directory.
func planDownloads(ctx context.Context, p storage.Provider, paths []storage.Path, opts getOptions) ([]downloadTask, error) {
	outDir := opts.output
	if outDir == "" {
		outDir = "."
	}

	var tasks []downloadTask

	for _, path := range paths {
		f, err := p.GetFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		if f == nil {
			return nil, &pcserr.FileNotFoundError{Path: path.String(), Message: "no such file or folder"}
		}

		if !f.IsFolder() {
			local := filepath.Join(outDir, f.FilePath().Base())
			if len(paths) == 1 && opts.output != "" && !isDir(opts.output) {
				local = opts.output
			}

			tasks = append(tasks, downloadTask{remote: path, local: local, size: fileSize(f)})

			continue
		}

		base := filepath.Join(outDir, path.Base())
		if path.IsRoot() {
			base = outDir
		}

		found, err := walkFolder(ctx, p, path, base)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, found...)
	}

	return tasks, nil
}

// walkFolder lists folder recursively, mapping every blob below it to a
// file under localDir.
func walkFolder(ctx context.Context, p storage.Provider, folder storage.Path, localDir string) ([]downloadTask, error) {
	content, err := p.ListFolder(ctx, folder)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder, err)
	}

	var tasks []downloadTask

	for _, f := range content.Sorted() {
		name := f.FilePath().Base()
		if !filepath.IsLocal(name) {
			return nil, fmt.Errorf("remote name %q cannot be written locally", name)
		}

		local := filepath.Join(localDir, name)

		if !f.IsFolder() {
			tasks = append(tasks, downloadTask{remote: f.FilePath(), local: local, size: fileSize(f)})
			continue
		}

		sub, err := walkFolder(ctx, p, f.FilePath(), local)
		if err != nil {
			return nil, err
		}

		tasks = append(tasks, sub...)
	}

	return tasks, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// runDownloads fetches tasks with at most opts.jobs in flight. The first
// failure cancels the downloads still running.
func runDownloads(ctx context.Context, cc *CLIContext, p storage.Provider, tasks []downloadTask, opts getOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)

	for _, task := range tasks {
		g.Go(func() error {
			return downloadOne(gctx, cc, p, task, opts)
		})
	}

	return g.Wait()
}

func downloadOne(ctx context.Context, cc *CLIContext, p storage.Provider, task downloadTask, opts getOptions) error {
	if err := os.MkdirAll(filepath.Dir(task.local), localDirPerms); err != nil {
		return fmt.Errorf("creating local directory: %w", err)
	}

	cc.Logger.Debug("get",
		slog.String("remote_path", task.remote.String()),
		slog.String("local_path", task.local),
		slog.Int64("size", task.size),
	)

	sink := bytesio.NewFileSink(task.local, bytesio.FileSinkOptions{
		TempName:      true,
		DeleteOnAbort: true,
		Logger:        cc.Logger,
	})

	progress, done := cc.transferProgress(task.remote.Base(), metrics.DirectionDownload)

	req := storage.NewDownloadRequest(task.remote, sink).SetProgressListener(progress)
	if opts.ranged() {
		req.SetRange(opts.offset, opts.length)
	}

	err := p.Download(ctx, req)
	done()

	if cc.Metrics != nil {
		cc.Metrics.ObserveTransfer(metrics.DirectionDownload, err)
	}

	if err != nil {
		return fmt.Errorf("downloading %s: %w", task.remote, err)
	}

	fi, err := os.Stat(task.local)
	if err != nil {
		return fmt.Errorf("stat after download: %w", err)
	}

	statusf("Downloaded %s (%s)\n", task.local, formatSize(fi.Size()))

	return nil
}
