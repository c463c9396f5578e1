package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"restock/internal/fetch"
)

type snapshotOptions struct {
	Dir     string
	Timeout time.Duration
}

// NewSnapshotCommand saves an in-stock and an out-of-stock page for writing
// classifier fixtures.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot <in_stock_url> <out_of_stock_url>",
		Short: "Save two product pages as in_stock.html and out_of_stock.html",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := fetch.New(fetch.Config{Timeout: opts.Timeout})
			defer f.CloseIdle()
			for i, name := range []string{"in_stock.html", "out_of_stock.html"} {
				path, err := snapshot(cmd.Context(), f, args[i], filepath.Join(opts.Dir, name))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Dir, "dir", "d", ".", "output directory")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "per-request timeout")
	return cmd
}

func snapshot(ctx context.Context, f *fetch.Fetcher, rawURL, path string) (string, error) {
	page, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, page.Body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
