package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/policy-router/internal/adapters/xlsx"
	"github.com/kirillkom/policy-router/internal/bootstrap"
	"github.com/kirillkom/policy-router/internal/config"
	"github.com/kirillkom/policy-router/internal/core/usecase"
	"github.com/kirillkom/policy-router/internal/observability/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		output      string
		parallelism int
	)
	cmd := &cobra.Command{
		Use:   "evalrun <cases.xlsx>",
		Short: "Answer every query in a workbook and write a scored report",
		Long: `Reads queries from the first sheet of an xlsx workbook (columns: query,
jurisdiction, max_verticals, expected_verticals), runs each through the
answer pipeline and writes a results workbook with a summary sheet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], output, parallelism)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&output, "output", "o", "eval_report.xlsx", "report path")
	cmd.Flags().IntVarP(&parallelism, "parallel", "p", 0, "concurrent queries (default EVAL_PARALLELISM)")
	return cmd
}

func run(ctx context.Context, input, output string, parallelism int) error {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "policy-evalrun", cfg.LogLevel)
	if parallelism <= 0 {
		parallelism = cfg.EvalParallelism
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open cases: %w", err)
	}
	cases, err := xlsx.ReadCases(in)
	_ = in.Close()
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	logger.Info("eval_started", "cases", len(cases), "parallelism", parallelism)
	results, err := usecase.NewEvaluationRunner(app.Pipeline, parallelism, logger).Run(ctx, cases)
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := xlsx.WriteReport(out, results); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	logger.Info("eval_finished", "cases", len(results), "report", output)
	return nil
}
