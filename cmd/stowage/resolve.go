package main

import (
	"context"
	"path"
	"strings"

	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/services/files"
)

// resolveKey turns a command line path into an object key. Paths starting
// with "/" are taken from the bucket root, others from cwd. "." and ".."
// segments are resolved.
func resolveKey(cwd, arg string) string {
	base := cwd
	if strings.HasPrefix(arg, "/") {
		base = ""
	}

	var segments []string
	for _, s := range strings.Split(base+arg, "/") {
		switch s {
		case "", ".":
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, s)
		}
	}
	return strings.Join(segments, "/")
}

// resolveDir is resolveKey for directories.
func resolveDir(cwd, arg string) string {
	key := resolveKey(cwd, arg)
	if key == "" {
		return ""
	}
	return paths.Normalize(key + "/")
}

// openFiles returns the file service positioned at the user's last
// directory.
func openFiles(ctx context.Context) (*files.Service, error) {
	svc, err := apiClient.Files(ctx)
	if err != nil {
		return nil, err
	}
	if err := apiClient.Resume(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}

// locate lists the parent of arg and returns its entry.
func locate(ctx context.Context, svc *files.Service, arg string) (models.Entry, error) {
	key := resolveKey(svc.State().Path, arg)
	if key == "" {
		return nil, &models.NotFoundError{Resource: "entry", Path: arg}
	}

	if _, err := svc.Navigate(ctx, paths.Parent(key)); err != nil {
		return nil, err
	}

	e, ok := svc.Find(path.Base(key))
	if !ok {
		return nil, &models.NotFoundError{Resource: "entry", Path: key}
	}
	return e, nil
}
