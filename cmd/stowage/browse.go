package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stowage/internal/classify"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/navigation"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create your bucket if it does not exist yet",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

var lsCmd = &cobra.Command{
	Use:   "ls [dir]",
	Short: "List a directory (default: the current one)",
	Example: `  stowage ls
  stowage ls photos/2024
  stowage ls /`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLs,
}

var cdCmd = &cobra.Command{
	Use:   "cd [dir]",
	Short: "Change the current directory",
	Long:  `Cd changes the directory later commands resolve relative paths against. Without an argument it returns to the root.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCd,
}

var pwdCmd = &cobra.Command{
	Use:   "pwd",
	Short: "Print the current directory",
	Args:  cobra.NoArgs,
	RunE:  runPwd,
}

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Enter a folder or print the preview URL of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

func init() {
	rootCmd.AddCommand(setupCmd, lsCmd, cdCmd, pwdCmd, openCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	svc, err := apiClient.Files(cmd.Context())
	if err != nil {
		return err
	}

	created, err := svc.EnsureBucket(cmd.Context())
	if err != nil {
		return err
	}

	printResult(map[string]interface{}{
		"bucket":  svc.Bucket(),
		"created": created,
	}, func() {
		if created {
			printSuccess("Created bucket %s", svc.Bucket())
		} else {
			printInfo("Bucket %s already exists", svc.Bucket())
		}
	})
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	st := svc.State()
	if len(args) == 1 {
		if st, err = svc.Navigate(ctx, resolveDir(st.Path, args[0])); err != nil {
			return err
		}
	}

	printResult(st, func() { printListing(st) })
	return nil
}

func printListing(st navigation.State) {
	if len(st.Folders) == 0 && len(st.Files) == 0 {
		printInfo("/%s is empty", st.Path)
		return
	}

	tbl := newTable("Name", "Type", "Size", "Modified")
	for _, f := range st.Folders {
		tbl.AddRow(formatName(f), "folder", "-", "-")
	}
	for _, f := range st.Files {
		kind := f.Metadata.MimeType
		if classify.IsImage(f) {
			kind = "image"
		}
		tbl.AddRow(formatName(f), kind, formatBytes(f.Metadata.Size), formatTime(f.UpdatedAt))
	}
	tbl.Print()
}

func runCd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	dir := ""
	if len(args) == 1 {
		dir = resolveDir(svc.State().Path, args[0])
	}

	st, err := svc.Navigate(ctx, dir)
	if err != nil {
		return err
	}
	if err := apiClient.Remember(svc); err != nil {
		return fmt.Errorf("save browse state: %w", err)
	}

	printResult(map[string]string{"path": st.Path}, func() {
		fmt.Printf("/%s\n", st.Path)
	})
	return nil
}

func runPwd(cmd *cobra.Command, args []string) error {
	svc, err := openFiles(cmd.Context())
	if err != nil {
		return err
	}

	p := svc.State().Path
	printResult(map[string]string{"path": p}, func() {
		fmt.Printf("/%s\n", p)
	})
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := openFiles(ctx)
	if err != nil {
		return err
	}

	e, err := locate(ctx, svc, args[0])
	if err != nil {
		return err
	}

	url, err := svc.Open(ctx, e)
	if err != nil {
		return err
	}

	if e.Kind() == models.KindFolder {
		if err := apiClient.Remember(svc); err != nil {
			return fmt.Errorf("save browse state: %w", err)
		}
		st := svc.State()
		printResult(st, func() { printListing(st) })
		return nil
	}

	printResult(map[string]string{"path": e.EntryPath(), "url": url}, func() {
		fmt.Println(url)
	})
	return nil
}
