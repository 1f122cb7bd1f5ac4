package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/source"
	"github.com/timmy/assetingest/internal/source/staging"
)

type importResult struct {
	SourceID  string
	DatasetID string
	Status    domain.DatasetStatus
	Rows      int64
	Err       error
}

func (a *app) newImportCommand() *cobra.Command {
	var (
		batch       int
		uploadOnly  bool
		follow      bool
		stopOnError bool
		pcfg        pumpFlags
	)
	cmd := &cobra.Command{
		Use:   "import <staging-dir>",
		Short: "Upload and ingest every file in a staging directory",
		Long: `Upload and ingest every file in a staging directory.

A staging directory either holds CSV files directly or a manifest.jsonl
whose lines name files under files/:

  {"id":"q1","filename":"sites.csv","name":"Q1 sites","mapping":{"value_col":"score"}}

Each file is uploaded, renamed when the manifest gives a name, and
started with the detected mapping overlaid by the manifest mapping.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			src := staging.NewAdapter(args[0])
			results, err := a.importAll(ctx, src, batch, !uploadOnly, follow, stopOnError, pcfg)

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tDATASET\tSTATUS\tROWS\tERROR")
			failed := 0
			for _, r := range results {
				msg := ""
				if r.Err != nil {
					msg = r.Err.Error()
					failed++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.SourceID, r.DatasetID, r.Status, r.Rows, msg)
			}
			if ferr := tw.Flush(); err == nil {
				err = ferr
			}
			if err == nil && failed > 0 {
				err = fmt.Errorf("%d of %d imports failed", failed, len(results))
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&batch, "batch", 20, "items fetched from the source per batch")
	flags.BoolVar(&uploadOnly, "upload-only", false, "upload without starting ingestion")
	flags.BoolVar(&follow, "pump", false, "pump each job to completion before the next file")
	flags.BoolVar(&stopOnError, "stop-on-error", false, "stop at the first failed item")
	pcfg.register(cmd)
	return cmd
}

// importAll walks src in batches. Per-item failures are recorded in the
// results; only source errors and cancellation abort the walk.
func (a *app) importAll(ctx context.Context, src source.Source, batch int, start, follow, stopOnError bool, pcfg pumpFlags) ([]importResult, error) {
	log := a.logger.WithField("source", src.GetSourceID())
	var results []importResult

	cursor := ""
	for {
		items, next, err := src.FetchBatch(ctx, cursor, batch)
		if err != nil {
			return results, err
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			r := a.importOne(ctx, item, start, follow, pcfg)
			if r.Err != nil {
				log.WithError(r.Err).WithField("item", item.SourceID).Warn("Import failed")
				if stopOnError {
					return append(results, r), nil
				}
			}
			results = append(results, r)
		}
		if next == "" {
			return results, nil
		}
		cursor = next
	}
}

func (a *app) importOne(ctx context.Context, item source.Item, start, follow bool, pcfg pumpFlags) importResult {
	r := importResult{SourceID: item.SourceID}

	res, err := a.client.UploadFile(ctx, item.LocalPath, nil)
	if err != nil {
		r.Err = err
		return r
	}
	r.DatasetID = res.DatasetID
	r.Status = res.Status

	if item.Name != "" {
		if _, err := a.client.Rename(ctx, res.DatasetID, item.Name); err != nil {
			r.Err = err
			return r
		}
	}
	if !start {
		return r
	}

	mapping := domain.Mapping{}
	if res.Detected != nil {
		for role, col := range res.Detected.Guess {
			mapping[role] = col
		}
	}
	for role, col := range item.Mapping {
		mapping[role] = col
	}
	job, err := a.client.Start(ctx, res.DatasetID, mapping)
	if err != nil {
		r.Err = err
		return r
	}
	r.Status = job.Status
	if !follow {
		return r
	}

	final, err := a.newPump(res.DatasetID, pcfg, nil).Run(ctx)
	if final != nil {
		r.Status = final.Status
		r.Rows = final.ProcessedRows
	}
	r.Err = err
	return r
}
