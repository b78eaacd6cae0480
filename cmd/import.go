package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/empowerher/riskgrid/internal/ingest"
	"github.com/empowerher/riskgrid/internal/store"
)

var importFit bool

var importCmd = &cobra.Command{
	Use:   "import <file|url>",
	Short: "Import incidents from a CSV, XLSX or ZIP file or URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, stored, err := runImport(ctx, st, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s; stored %d\n", res.Summary(), stored)
		for _, p := range res.Problems {
			fmt.Fprintf(cmd.OutOrStdout(), "  %v\n", p)
		}

		if importFit {
			b, err := runFit(ctx, st)
			if err != nil {
				return err
			}
			printFitReport(cmd.OutOrStdout(), b)
		}
		return nil
	},
}

func runImport(ctx context.Context, st store.Store, path string) (*ingest.Result, int, error) {
	if ingest.IsRemote(path) {
		dir, err := os.MkdirTemp("", "riskgrid-download-")
		if err != nil {
			return nil, 0, eris.Wrap(err, "import: temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		f := ingest.NewFetcher(ingest.FetchOptions{})
		local, err := f.Download(ctx, path, dir)
		if err != nil {
			return nil, 0, err
		}
		res, stored, err := runImport(ctx, st, local)
		if err == nil {
			zap.L().Info("import: remote source", zap.String("url", path))
		}
		return res, stored, err
	}

	res, err := ingest.ReadFile(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	stored, err := st.InsertIncidents(ctx, res.Incidents)
	if err != nil {
		return nil, 0, eris.Wrap(err, "import: store incidents")
	}
	zap.L().Info("import complete",
		zap.String("file", path),
		zap.Int("read", res.Read),
		zap.Int("stored", stored),
		zap.Int("skipped", res.Skipped),
	)
	return res, stored, nil
}

func init() {
	importCmd.Flags().BoolVar(&importFit, "fit", false, "fit the encoder and grid after importing")
	rootCmd.AddCommand(importCmd)
}
