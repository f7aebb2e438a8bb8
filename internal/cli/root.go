// Package cli provides the bandstack commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prl900/bandstack/catalog"
	"github.com/prl900/bandstack/composite"
	"github.com/prl900/bandstack/export"
	"github.com/prl900/bandstack/internal/config"
	"github.com/prl900/bandstack/internal/logging"
	"github.com/prl900/bandstack/region"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bandstack",
	Short: "Build aligned multi-band composites from several raster catalogs",
	Long: `bandstack selects scenes from optical, thermal and elevation catalogs,
reduces each collection to one raster, puts every band on a common grid and
stacks them into a single composite with a fixed band order.

Examples:
  bandstack plan --config pune.hcl
  bandstack run --config pune.hcl --submit
  bandstack preview --config pune.hcl --band RGB --out pune.png`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logging.Logger.Warn("Received signal, cancelling", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, Describe(err))
	}
	logging.Sync()
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "HCL config file (default is the built-in Pune 2016 study area)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config, or the default configuration, and sets up
// logging from it.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return nil, err
		}
	}
	lc := logging.DefaultConfig()
	if cfg.Logging != nil {
		lc = *cfg.Logging
		if lc.Level == "" {
			lc.Level = "info"
		}
	}
	if verbose {
		lc.Level = "debug"
	}
	if err := logging.Initialize(lc); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// Describe renders err with its kind and the source, band or parameter it
// implicates.
func Describe(err error) string {
	var (
		invalid     *region.InvalidRegionError
		empty       *catalog.EmptySelectionError
		unavailable *catalog.CatalogUnavailableError
		timeout     *catalog.CatalogTimeoutError
		unknown     *catalog.UnknownBandError
		mismatch    *composite.SchemaMismatchError
		jobMismatch *export.JobMismatchError
		rejected    *export.ExportRejectedError
	)
	switch {
	case errors.As(err, &invalid):
		return fmt.Sprintf("invalid region: field %s: %s", invalid.Field, invalid.Reason)
	case errors.As(err, &empty):
		msg := fmt.Sprintf("empty selection: source %s (%s) has no scenes", empty.Source, empty.CatalogID)
		if len(empty.Filters) > 0 {
			msg += " after filters " + strings.Join(empty.Filters, ", ")
		}
		return msg
	case errors.As(err, &timeout):
		return fmt.Sprintf("catalog timeout: %s did not answer within %s after %d attempts", timeout.CatalogID, timeout.Timeout, timeout.Attempts)
	case errors.As(err, &unavailable):
		return fmt.Sprintf("catalog unavailable: %s after %d attempts: %v", unavailable.CatalogID, unavailable.Attempts, unavailable.Cause)
	case errors.As(err, &unknown):
		return fmt.Sprintf("unknown band: %q in %s", unknown.Band, unknown.CatalogID)
	case errors.As(err, &mismatch):
		return err.Error()
	case errors.As(err, &jobMismatch):
		return fmt.Sprintf("export job mismatch: parameter %s is %s, requested %s", jobMismatch.Parameter, jobMismatch.Composite, jobMismatch.Requested)
	case errors.As(err, &rejected):
		return fmt.Sprintf("export rejected: parameter %s: %s", rejected.Parameter, rejected.Reason)
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return "error: " + err.Error()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bandstack version %s\n", Version)
	},
}
