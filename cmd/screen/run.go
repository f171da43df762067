package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opensource-finance/adscreen/internal/config"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/report"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/table"
	"github.com/schollz/progressbar/v3"
)

type options struct {
	family         domain.FamilyKind
	input          string
	previous       string
	outputDir      string
	identifiers    string
	cascade        bool
	configPath     string
	logLevel       string
	noProgress     bool
	thresholdFlags map[string]string
}

// run screens the input file and returns the path of the written result.
func run(ctx context.Context, opts *options, stdout, stderr io.Writer) (string, error) {
	start := time.Now()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return "", err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	cfg.Logging.Format = "text"
	logger := config.NewLogger(cfg.Logging, stderr)

	thresholds, err := domain.ParseThresholds(func(field string) string {
		return opts.thresholdFlags[field]
	}, cfg.Thresholds)
	if err != nil {
		return "", err
	}

	current, err := readTable(opts.input)
	if err != nil {
		return "", err
	}

	req := rules.Request{
		Family:        opts.family,
		Table:         current,
		Thresholds:    thresholds,
		Identifiers:   domain.ParseIdentifiers(opts.identifiers),
		CascadeBidCut: opts.cascade,
	}

	if opts.family.NeedsPrevious() {
		if opts.previous == "" {
			return "", rules.ErrMissingPrevious
		}
		if req.Previous, err = readTable(opts.previous); err != nil {
			return "", err
		}
	}

	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		req.OnChunk = func(done, total int) {
			if bar == nil {
				bar = newChunkBar(total, opts.family, stderr)
			}
			_ = bar.Set(done)
		}
	}

	engine, err := rules.NewEngine(cfg.Engine, rules.WithLogger(logger))
	if err != nil {
		return "", err
	}

	outcome, err := engine.Run(ctx, req)
	if err != nil {
		return "", err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	result, err := report.Build("", outcome, start, domain.ResultFileName(opts.family, opts.input))
	if err != nil {
		return "", err
	}

	dir := opts.outputDir
	if dir == "" {
		dir = filepath.Dir(opts.input)
	}
	path := filepath.Join(dir, result.FileName)
	if err := os.WriteFile(path, result.CSV, 0o644); err != nil {
		return "", fmt.Errorf("failed to write result: %w", err)
	}

	s := result.Summary
	fmt.Fprintf(stdout, "%s: %s\n", s.DisplayName, report.Message(s))
	fmt.Fprintf(stdout, "  rows %d, matched %d, paused %d, bid +%d/-%d, percentage +%d/-%d, %dms\n",
		s.InputRows, s.Matched, s.Paused, s.BidRaised, s.BidLowered, s.PctRaised, s.PctLowered, s.DurationMs)

	logger.Info("screening written",
		"run_id", s.RunID,
		"matched", s.Matched,
		"changed", report.Changed(s),
		"path", path,
	)
	return path, nil
}

func readTable(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := table.ReadCSV(f, domain.ColumnKinds)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, nil
}

func newChunkBar(total int, family domain.FamilyKind, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(family.DisplayName()),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
