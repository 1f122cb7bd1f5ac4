package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/assetingest/internal/client"
	"github.com/timmy/assetingest/internal/domain"
	"github.com/timmy/assetingest/internal/pump"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) newUploadCommand() *cobra.Command {
	var (
		partSizeMB  int
		concurrency int
		quiet       bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file in parts and print the detected mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c := client.New(client.Config{
				BaseURL:     strings.TrimRight(a.server, "/"),
				Timeout:     a.timeout,
				PartSize:    int64(partSizeMB) << 20,
				Concurrency: concurrency,
			}, a.logger)

			var progress func(client.UploadProgress)
			if !quiet {
				progress = func(p client.UploadProgress) {
					fmt.Fprintf(a.stderr, "\rparts %d/%d  bytes %d/%d", p.PartsDone, p.PartsTotal, p.BytesSent, p.BytesTotal)
				}
			}
			res, err := c.UploadFile(ctx, args[0], progress)
			if !quiet {
				fmt.Fprintln(a.stderr)
			}
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&partSizeMB, "part-size-mb", 8, "size of each uploaded part in MiB")
	flags.IntVar(&concurrency, "concurrency", 4, "parts sent in parallel")
	flags.BoolVarP(&quiet, "quiet", "q", false, "do not print upload progress")
	return cmd
}

func (a *app) newListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List datasets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, err := a.client.List(cmd.Context(), status)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tROWS\tASSETS\tCREATED")
			for _, ds := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					ds.ID, ds.Name, ds.Status, ds.Summary.RowCount, ds.Summary.AssetCount,
					ds.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only list datasets in this status")
	return cmd
}

func (a *app) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <dataset-id>",
		Short: "Show a dataset and its ingest job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
}

func (a *app) newDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <dataset-id>",
		Short: "Propose a column mapping from the file header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.client.Detect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(view)
		},
	}
}

// parseMapping turns role=column pairs into a Mapping. Roles may omit the
// _col suffix.
func parseMapping(pairs []string) (domain.Mapping, error) {
	m := make(domain.Mapping, len(pairs))
	for _, pair := range pairs {
		role, col, ok := strings.Cut(pair, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" {
			return nil, fmt.Errorf("mapping %q must look like role=column", pair)
		}
		if !strings.HasSuffix(role, "_col") {
			role += "_col"
		}
		m[role] = strings.TrimSpace(col)
	}
	return m, nil
}

func (a *app) newIngestCommand() *cobra.Command {
	var (
		pairs    []string
		detected bool
		follow   bool
		pcfg     pumpFlags
	)
	cmd := &cobra.Command{
		Use:   "ingest <dataset-id>",
		Short: "Start ingestion with a column mapping",
		Long: `Start ingestion with a column mapping.

Roles: ` + strings.Join(domain.Roles, ", ") + `

With --detected the server's guess is used as the base and --map
entries override it. With --pump the command keeps stepping until the
job finishes.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			id := args[0]

			overrides, err := parseMapping(pairs)
			if err != nil {
				return err
			}
			mapping := domain.Mapping{}
			if detected {
				view, err := a.client.Detect(ctx, id)
				if err != nil {
					return err
				}
				for role, col := range view.Guess {
					mapping[role] = col
				}
			}
			for role, col := range overrides {
				mapping[role] = col
			}

			job, err := a.client.Start(ctx, id, mapping)
			if err != nil {
				return err
			}
			if !follow {
				return a.printJSON(job)
			}
			return a.runPump(ctx, id, pcfg)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVarP(&pairs, "map", "m", nil, "role=column, repeatable (e.g. -m asset_id=site_id)")
	flags.BoolVar(&detected, "detected", false, "start from the detected mapping")
	flags.BoolVar(&follow, "pump", false, "keep stepping until the job finishes")
	pcfg.register(cmd)
	return cmd
}

func (a *app) newStepCommand() *cobra.Command {
	var chunkRows int
	cmd := &cobra.Command{
		Use:   "step <dataset-id>",
		Short: "Run one bounded ingest step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.Step(cmd.Context(), args[0], chunkRows)
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	cmd.Flags().IntVar(&chunkRows, "chunk-rows", 0, "rows per step, 0 uses the server default")
	return cmd
}

type pumpFlags struct {
	interval  time.Duration
	chunkRows int
	maxErrors int
}

func (p *pumpFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.DurationVar(&p.interval, "interval", 1500*time.Millisecond, "delay between steps")
	flags.IntVar(&p.chunkRows, "chunk-rows", 0, "rows per step, 0 uses the server default")
	flags.IntVar(&p.maxErrors, "max-errors", 20, "stop after this many consecutive failed steps, 0 never stops")
}

func (a *app) newPump(id string, cfg pumpFlags, onProgress func(*domain.StepResult)) *pump.Pump {
	return pump.New(a.client, id, pump.Config{
		Interval:             cfg.interval,
		ChunkRows:            cfg.chunkRows,
		MaxConsecutiveErrors: cfg.maxErrors,
		OnProgress:           onProgress,
	}, a.logger)
}

// runPump steps id until it is terminal, printing progress to stderr.
func (a *app) runPump(ctx context.Context, id string, cfg pumpFlags) error {
	p := a.newPump(id, cfg, func(res *domain.StepResult) {
		fmt.Fprintf(a.stderr, "%s  %s  rows=%d\n", res.Status, res.Stage, res.ProcessedRows)
	})

	res, err := p.Run(ctx)
	if res != nil {
		if perr := a.printJSON(res); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func (a *app) newPumpCommand() *cobra.Command {
	var pcfg pumpFlags
	cmd := &cobra.Command{
		Use:   "pump <dataset-id>",
		Short: "Step a running job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return a.runPump(ctx, args[0], pcfg)
		},
	}
	pcfg.register(cmd)
	return cmd
}

func (a *app) newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <dataset-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(job)
		},
	}
}

func (a *app) newRetryCommand() *cobra.Command {
	var (
		follow bool
		pcfg   pumpFlags
	)
	cmd := &cobra.Command{
		Use:   "retry <dataset-id>",
		Short: "Resume a failed or cancelled job from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			job, err := a.client.Retry(ctx, args[0])
			if err != nil {
				return err
			}
			if !follow {
				return a.printJSON(job)
			}
			return a.runPump(ctx, args[0], pcfg)
		},
	}
	cmd.Flags().BoolVar(&follow, "pump", false, "keep stepping until the job finishes")
	pcfg.register(cmd)
	return cmd
}

func (a *app) newRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <dataset-id> <name>",
		Short: "Change a dataset's display name",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.client.Rename(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.printJSON(ds)
		},
	}
}

func (a *app) newDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <dataset-id>",
		Short: "Hard-delete a dataset with its rows and stored files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			if err := a.client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the deletion")
	return cmd
}

func (a *app) newDownloadCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <dataset-id>",
		Short: "Download the original uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				_, err := a.client.Download(cmd.Context(), args[0], a.stdout)
				return err
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := a.client.Download(cmd.Context(), args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "wrote %d bytes to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write, stdout when empty")
	return cmd
}

