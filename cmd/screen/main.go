// Adscreen - Advertising campaign screening and bid adjustment service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command screen runs one screening over local CSV exports and writes the
// adjusted rows next to the input.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/spf13/cobra"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:          "screen <family>",
		Short:        "Screen an advertising report and write the rows to adjust",
		Long:         "Screen an advertising report and write the rows to adjust.\n\nFamilies:\n" + familyHelp(),
		Version:      Version,
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseFamily(args[0])
			if err != nil {
				return err
			}
			opts.family = kind
			opts.thresholdFlags = changedThresholds(cmd)

			path, err := run(cmd.Context(), opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "written: %s\n", path)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "", "CSV export to screen")
	flags.StringVarP(&opts.previous, "previous", "p", "", "earlier-period CSV export (spend-decline)")
	flags.StringVarP(&opts.outputDir, "output", "o", "", "directory for the result file (default: next to the input)")
	flags.StringVar(&opts.identifiers, "sku", "", "comma-separated portfolio names (campaign names for spend-decline)")
	flags.BoolVar(&opts.cascade, "cascade", false, "invalid-campaign: return keyword and targeting rows with bids cut")
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	for _, spec := range domain.ThresholdSpecs {
		flags.String(thresholdFlag(spec.Field), "", "threshold "+thresholdFlag(spec.Field))
	}
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// thresholdFlag maps a form field such as click_rate_threshold to click-rate.
func thresholdFlag(field string) string {
	return strings.ReplaceAll(strings.TrimSuffix(field, "_threshold"), "_", "-")
}

func changedThresholds(cmd *cobra.Command) map[string]string {
	out := make(map[string]string)
	for _, spec := range domain.ThresholdSpecs {
		name := thresholdFlag(spec.Field)
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			out[spec.Field] = f.Value.String()
		}
	}
	return out
}

func familyHelp() string {
	var b strings.Builder
	for _, k := range domain.AllFamilies() {
		fmt.Fprintf(&b, "  %-18s %s\n", k.String(), k.DisplayName())
	}
	return b.String()
}
