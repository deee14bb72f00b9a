// Command rollup runs or inspects the daily analytics rollup outside the
// server's scheduler.
//
// Usage:
//
//	rollup run                       # yesterday (UTC)
//	rollup run --date 2025-04-09
//	rollup backfill --from 2025-04-01 --to 2025-04-09
//	rollup history --chatbot cb_demo01 --from 2025-04-01 --to 2025-04-09
//	rollup live --chatbot cb_demo01
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/rkohli77/chatbot/internal/analytics"
	"github.com/rkohli77/chatbot/internal/factory"
	"github.com/rkohli77/chatbot/internal/models"
	"github.com/rkohli77/chatbot/internal/util"
)

type CLI struct {
	Run      RunCmd      `cmd:"" help:"Roll up one UTC day."`
	Backfill BackfillCmd `cmd:"" help:"Roll up every UTC day in a range, inclusive."`
	History  HistoryCmd  `cmd:"" help:"Print stored daily stats."`
	Live     LiveCmd     `cmd:"" help:"Print today's stats computed from raw rows."`
}

type RunCmd struct {
	Date string `help:"Day to roll up (YYYY-MM-DD). Defaults to yesterday."`
}

func (c *RunCmd) Run(ctx context.Context, svc *analytics.Service) error {
	day := time.Now().UTC().AddDate(0, 0, -1)
	if c.Date != "" {
		parsed, err := time.Parse(models.DateLayout, c.Date)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		day = parsed
	}
	rows, err := svc.Rollup(ctx, day)
	if err != nil {
		return err
	}
	util.Info("Rollup finished", util.String("date", day.Format(models.DateLayout)), util.Int("rows", rows))
	return nil
}

type BackfillCmd struct {
	From string `required:"" help:"First day (YYYY-MM-DD)."`
	To   string `required:"" help:"Last day (YYYY-MM-DD)."`
}

func (c *BackfillCmd) Run(ctx context.Context, svc *analytics.Service) error {
	from, err := time.Parse(models.DateLayout, c.From)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to, err := time.Parse(models.DateLayout, c.To)
	if err != nil {
		return fmt.Errorf("invalid --to: %w", err)
	}
	if to.Before(from) {
		return fmt.Errorf("--to %s is before --from %s", c.To, c.From)
	}

	total := 0
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		rows, err := svc.Rollup(ctx, day)
		if err != nil {
			return err
		}
		total += rows
	}
	util.Info("Backfill finished", util.String("from", c.From), util.String("to", c.To), util.Int("rows", total))
	return nil
}

type HistoryCmd struct {
	Chatbot string `required:"" help:"Chatbot id."`
	From    string `required:"" help:"First day (YYYY-MM-DD)."`
	To      string `required:"" help:"Last day (YYYY-MM-DD)."`
}

func (c *HistoryCmd) Run(ctx context.Context, svc *analytics.Service) error {
	rows, err := svc.History(ctx, c.Chatbot, c.From, c.To)
	if err != nil {
		return err
	}
	return printJSON(rows)
}

type LiveCmd struct {
	Chatbot string `required:"" help:"Chatbot id."`
}

func (c *LiveCmd) Run(ctx context.Context, svc *analytics.Service) error {
	stats, err := svc.LiveStats(ctx, c.Chatbot)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("rollup"),
		kong.Description("Daily analytics rollup for chatbot sessions"),
		kong.UsageOnError(),
	)

	f, err := factory.NewFactory(factory.AnalyticsOnly())
	kctx.FatalIfErrorf(err)
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(f.Analytics())
	if err != nil {
		f.Close()
	}
	kctx.FatalIfErrorf(err)
}
