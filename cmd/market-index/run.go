package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Checker-Finance/market-index/internal/methodology"
	"github.com/Checker-Finance/market-index/internal/orchestrator"
	"github.com/Checker-Finance/market-index/internal/report"
	"github.com/Checker-Finance/market-index/pkg/model"
)

// --- Daily Command ---

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Compute the index values of one date",
	Long: `Compute and append the chain-linked value of every selected index for --date
(default: today minus VALUE_DATE_LAG_DAYS). With --dry-run nothing is published.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()

		a, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		valueDate := model.Day(time.Now()).AddDate(0, 0, -a.cfg.ValueDateLag)
		if s, _ := cmd.Flags().GetString("date"); s != "" {
			if valueDate, err = model.ParseDay(s); err != nil {
				return err
			}
		}
		opts := orchestrator.Options{}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")

		ctx, cancelRun := context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancelRun()
		reports, runErr := a.orch.RunAll(ctx, a.defs, valueDate, opts)

		for i, rep := range reports {
			printDaily(a.defs[i], rep)
		}
		if err := writeReport(cmd, a, nil, reports); err != nil {
			return err
		}
		return runErr
	},
}

// --- Rebalance Command ---

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Select and weight the constituents of one period",
	Long: `Rebalance every selected index for --period (default: next month) as of the
period's reference date. With --dry-run the set is reported but not published.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()

		a, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		period := model.PeriodOf(time.Now()).Next()
		if s, _ := cmd.Flags().GetString("period"); s != "" {
			if period, err = model.ParsePeriod(s); err != nil {
				return err
			}
		}
		opts := orchestrator.Options{}
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
		if s, _ := cmd.Flags().GetString("as-of"); s != "" {
			if opts.AsOf, err = model.ParseDay(s); err != nil {
				return err
			}
		}

		ctx, cancelRun := context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancelRun()
		reports, runErr := a.orch.RebalanceAll(ctx, a.defs, period, opts)

		for i, rep := range reports {
			printRebalance(a.defs[i], rep)
		}
		if err := writeReport(cmd, a, reports, nil); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	dailyCmd.Flags().String("date", "", "value date YYYY-MM-DD")
	dailyCmd.Flags().Bool("dry-run", false, "compute without publishing")
	dailyCmd.Flags().String("report", "", "write an xlsx report to this path")

	rebalanceCmd.Flags().String("period", "", "period YYYY-MM")
	rebalanceCmd.Flags().String("as-of", "", "override the reference date YYYY-MM-DD")
	rebalanceCmd.Flags().Bool("dry-run", false, "compute without publishing")
	rebalanceCmd.Flags().String("report", "", "write an xlsx report to this path (default: DRY_RUN_REPORT on dry runs)")
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// writeReport saves the workbook when --report is given, or DRY_RUN_REPORT on dry runs.
func writeReport(cmd *cobra.Command, a *app, rebalances []*orchestrator.RebalanceReport, daily []*orchestrator.DailyReport) error {
	path, _ := cmd.Flags().GetString("report")
	if dry, _ := cmd.Flags().GetBool("dry-run"); path == "" && dry {
		path = a.cfg.DryRunReportPath
	}
	if path == "" {
		return nil
	}
	if err := report.WriteFile(path, compact(rebalances), compact(daily)); err != nil {
		return err
	}
	a.log.Info("report.written", zap.String("path", path))
	return nil
}

// compact drops the nil entries of indexes that failed.
func compact[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func printDaily(def methodology.IndexDefinition, rep *orchestrator.DailyReport) {
	switch {
	case rep == nil:
		fmt.Printf("%-12s failed\n", def.Code)
	case rep.Skip != nil:
		fmt.Printf("%-12s skipped   %s\n", def.Code, rep.Skip.Reason)
	default:
		fmt.Printf("%-12s %10.4f  %-9s coverage %.2f%%  excluded %d%s\n",
			def.Code, rep.Value.Value, rep.Value.Method, rep.Value.Coverage*100, len(rep.Excluded), dryTag(rep.DryRun))
	}
}

func printRebalance(def methodology.IndexDefinition, rep *orchestrator.RebalanceReport) {
	if rep == nil {
		fmt.Printf("%-12s failed\n", def.Code)
		return
	}
	fmt.Printf("%-12s %s  %d constituents (+%d / -%d), %d rejected%s\n",
		def.Code, rep.Set.Period, len(rep.Set.Constituents), len(rep.Added), len(rep.Removed), len(rep.Rejected), dryTag(rep.DryRun))
}

func dryTag(dry bool) string {
	if dry {
		return "  [dry run]"
	}
	return ""
}

func codesOf(defs []methodology.IndexDefinition) []string {
	codes := make([]string, len(defs))
	for i, d := range defs {
		codes[i] = d.Code
	}
	return codes
}

// --- Healthcheck Command ---

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check data freshness and constituent consistency",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()

		a, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		rep := healthChecker(a).Run(ctx)
		for _, c := range rep.Checks {
			status := "ok"
			if !c.OK {
				status = "FAIL"
			}
			fmt.Printf("%-16s %-4s  %s\n", c.Name, status, c.Message)
		}
		if a.pub != nil {
			if err := a.pub.Publish(ctx, a.pub.Subject("health_report"), rep); err != nil {
				a.log.Warn("health.publish_failed", zap.Error(err))
			}
		}
		if !rep.Healthy {
			return errors.New("unhealthy: " + strings.Join(rep.Failed(), ", "))
		}
		return nil
	},
}
