package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/services/files"
	"github.com/TheMichaelB/stowage/internal/storage"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload local files into the current directory",
	Long: `Upload sends every file concurrently. Files that already exist remotely
are reported and skipped; the others are still uploaded.`,
	Example: `  stowage upload report.pdf
  stowage upload *.jpg --to photos/2024`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var renameCmd = &cobra.Command{
	Use:     "rename <path> <new-name>",
	Short:   "Rename a file, keeping its extension and directory",
	Example: `  stowage rename photos/cat.jpg kitten`,
	Args:    cobra.ExactArgs(2),
	RunE:    runRename,
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Delete files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

var shareCmd = &cobra.Command{
	Use:     "share <path>",
	Short:   "Print a time-limited link to a file",
	Example: `  stowage share notes/todo.txt --ttl 1h`,
	Args:    cobra.ExactArgs(1),
	RunE:    runShare,
}

var downloadCmd = &cobra.Command{
	Use:   "download <path>",
	Short: "Download a file",
	Example: `  stowage download photos/cat.jpg
  stowage download photos/cat.jpg --dest ~/Pictures`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

var (
	uploadTo     string
	shareTTL     time.Duration
	downloadDest string
)

func init() {
	rootCmd.AddCommand(uploadCmd, renameCmd, rmCmd, shareCmd, downloadCmd)

	uploadCmd.Flags().StringVarP(&uploadTo, "to", "t", "",
		"Target directory (default: the current one)")
	shareCmd.Flags().DurationVar(&shareTTL, "ttl", 0,
		"Link lifetime (default: storage.signed_url_ttl)")
	downloadCmd.Flags().StringVarP(&downloadDest, "dest", "d", "",
		"Destination directory (default: storage.download_dir)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	if uploadTo != "" {
		if _, err := svc.Navigate(ctx, resolveDir(svc.State().Path, uploadTo)); err != nil {
			return err
		}
	}

	items := make([]files.UploadItem, 0, len(args))
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, name := range args {
		item, f, err := openUpload(name)
		if err != nil {
			return err
		}
		opened = append(opened, f)
		items = append(items, item)
	}

	dir := svc.State().Path
	report, err := svc.Upload(ctx, items)

	printResult(map[string]interface{}{
		"path":      dir,
		"requested": report.Requested,
		"confirmed": report.Confirmed,
		"missing":   report.Missing,
	}, func() {
		if report.Confirmed > 0 {
			printSuccess("Uploaded %d of %d file(s) to /%s", report.Confirmed, len(items), dir)
		}
		if report.Message != "" {
			printWarning("%s", report.Message)
		}
	})
	return err
}

func openUpload(name string) (files.UploadItem, *os.File, error) {
	info, err := os.Stat(name)
	if err != nil {
		return files.UploadItem{}, nil, err
	}
	if info.IsDir() {
		return files.UploadItem{}, nil, fmt.Errorf("%s is a directory", name)
	}
	if limit := cfg.Storage.MaxFileSize; limit > 0 && info.Size() > limit {
		return files.UploadItem{}, nil, fmt.Errorf("%s is larger than %s", name, formatBytes(limit))
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(name); err == nil {
		contentType = mt.String()
	}

	f, err := os.Open(name)
	if err != nil {
		return files.UploadItem{}, nil, err
	}

	return files.UploadItem{
		Name:        filepath.Base(name),
		Body:        f,
		Size:        info.Size(),
		ContentType: contentType,
	}, f, nil
}

func runRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	e, err := locate(ctx, svc, args[0])
	if err != nil {
		return err
	}

	renamed, err := svc.Rename(ctx, e, args[1])
	if err != nil {
		return err
	}

	printResult(map[string]string{
		"from": e.EntryPath(),
		"to":   renamed.EntryPath(),
	}, func() {
		printSuccess("Renamed %s to %s", e.EntryPath(), renamed.EntryPath())
	})
	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	cwd := svc.State().Path

	// Deletes are batched per directory so each batch reconciles against
	// the listing it came from.
	var order []string
	byDir := make(map[string][]string)
	for _, arg := range args {
		key := resolveKey(cwd, arg)
		dir := paths.Parent(key)
		if _, ok := byDir[dir]; !ok {
			order = append(order, dir)
		}
		byDir[dir] = append(byDir[dir], arg)
	}

	var deleted, failed []string
	var errs []error
	for _, dir := range order {
		var entries []models.Entry
		for _, arg := range byDir[dir] {
			e, err := locate(ctx, svc, "/"+resolveKey(cwd, arg))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			entries = append(entries, e)
		}

		report, err := svc.Delete(ctx, entries)
		deleted = append(deleted, report.Deleted...)
		failed = append(failed, report.Failed...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	printResult(map[string]interface{}{
		"deleted": deleted,
		"failed":  failed,
	}, func() {
		for _, p := range deleted {
			printSuccess("Deleted %s", p)
		}
		for _, p := range failed {
			printWarning("Not deleted: %s", p)
		}
	})
	return errors.Join(errs...)
}

func runShare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	e, err := locate(ctx, svc, args[0])
	if err != nil {
		return err
	}
	if e.Kind() == models.KindFolder {
		return fmt.Errorf("share %s: %w", e.EntryPath(), models.ErrFolderUnsupported)
	}

	url, err := svc.Share(ctx, e.EntryPath(), shareTTL)
	if err != nil {
		return err
	}

	printResult(map[string]string{
		"path": e.EntryPath(),
		"url":  url,
	}, func() {
		fmt.Println(url)
	})
	return nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	var dst storage.Store
	if downloadDest != "" {
		if dst, err = apiClient.DownloadStore(downloadDest); err != nil {
			return err
		}
	}

	key := resolveKey(svc.State().Path, args[0])
	local, err := svc.Download(ctx, key, dst)
	if err != nil {
		return err
	}

	printResult(map[string]string{"path": key, "local": local}, func() {
		if local == "" {
			printInfo("Skipped %s, a local file with that name exists", key)
			return
		}
		printSuccess("Downloaded %s to %s", key, local)
	})
	return nil
}
