// Package cli implements ingestctl, a command line client for the ingestion
// API.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/timmy/assetingest/internal/client"
	"github.com/timmy/assetingest/internal/logger"
)

const envPrefix = "INGESTCTL"

// app holds state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	server  string
	timeout time.Duration
	logger  *logger.Logger
	client  *client.Client
}

// NewRootCommand returns the ingestctl command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "ingestctl",
		Short: "Upload and ingest asset datasets.",
		Long: `ingestctl drives the asset ingestion API: chunked uploads, column
detection, step-bounded ingestion and dataset management.

Every flag can also be set through an INGESTCTL_ environment variable,
for example INGESTCTL_SERVER=http://ingest:8080.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := bindEnv(v, cmd.Flags()); err != nil {
				return err
			}
			a.logger = logger.New(&logger.Config{
				Level:       v.GetString("log-level"),
				Format:      "text",
				Output:      stderr,
				ServiceName: "ingestctl",
			})
			a.client = client.New(client.Config{
				BaseURL: strings.TrimRight(a.server, "/"),
				Timeout: a.timeout,
			}, a.logger)
			return nil
		},
	}

	flags := rc.PersistentFlags()
	flags.StringVar(&a.server, "server", "http://localhost:8080", "base URL of the ingestion API")
	flags.DurationVar(&a.timeout, "timeout", 5*time.Minute, "per-request timeout")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")

	rc.AddCommand(a.newUploadCommand())
	rc.AddCommand(a.newListCommand())
	rc.AddCommand(a.newStatusCommand())
	rc.AddCommand(a.newDetectCommand())
	rc.AddCommand(a.newIngestCommand())
	rc.AddCommand(a.newStepCommand())
	rc.AddCommand(a.newPumpCommand())
	rc.AddCommand(a.newCancelCommand())
	rc.AddCommand(a.newRetryCommand())
	rc.AddCommand(a.newRenameCommand())
	rc.AddCommand(a.newDeleteCommand())
	rc.AddCommand(a.newDownloadCommand())
	rc.AddCommand(a.newImportCommand())

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// bindEnv fills every flag the user did not set from INGESTCTL_<FLAG>.
func bindEnv(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if setErr := flags.Set(f.Name, v.GetString(f.Name)); setErr != nil {
			err = fmt.Errorf("setting %s from environment: %w", f.Name, setErr)
		}
	})
	return err
}

// printJSON writes v indented to stdout.
func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
