package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/stowage/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <keyword>",
	Short: "Find files and folders whose name contains keyword",
	Example: `  stowage search invoice
  stowage search "summer trip" --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

type searchHit struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Path    string `json:"path"`
	Dir     string `json:"dir"`
	Preview string `json:"preview,omitempty"`
	Size    int64  `json:"size"`

	folder bool
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := apiClient.Search(ctx)
	if err != nil {
		return err
	}

	action, err := svc.Query(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	st := search.Reduce(search.State{}, action)

	files, err := apiClient.Files(ctx)
	if err != nil {
		return err
	}
	publicURL := func(p string) string { return apiClient.Gateway.PublicURL(files.Bucket(), p) }

	hits := make([]searchHit, 0, len(st.Results))
	for _, r := range st.Results {
		dir, preview := search.Target(r, publicURL)
		hits = append(hits, searchHit{
			Name:    r.Name,
			Type:    r.Type,
			Path:    r.Path,
			Dir:     dir,
			Preview: preview,
			Size:    r.Metadata.Size,
			folder:  r.IsFolder(),
		})
	}

	printResult(map[string]interface{}{
		"keyword": st.Keyword,
		"results": hits,
	}, func() {
		if !st.Show {
			return
		}
		if len(hits) == 0 {
			printInfo("No results for %q", st.Keyword)
			return
		}

		tbl := newTable("Name", "Type", "Size", "Directory")
		for _, h := range hits {
			size := "-"
			if !h.folder {
				size = formatBytes(h.Size)
			}
			tbl.AddRow(h.Name, h.Type, size, "/"+h.Dir)
		}
		tbl.Print()
	})
	return nil
}
