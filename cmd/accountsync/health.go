package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KOMKZ/go-yogan-accountsync/accountsync"
	"github.com/KOMKZ/go-yogan-accountsync/flagx"
	"github.com/KOMKZ/go-yogan-accountsync/health"
)

type healthOptions struct {
	Probe   string        `flag:"probe" usage:"account read through the engine to prove the node answers (default from config)"`
	Timeout time.Duration `flag:"timeout" usage:"deadline for all checks (default from config)"`
}

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the node and report the engine health as JSON",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &healthOptions{}))
	return cmd
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ro, err := parseRoot(cmd)
	if err != nil {
		return err
	}
	var opts healthOptions
	if err := flagx.ParseFlags(cmd, &opts); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, ro, "")
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	cfg := a.health
	if cmd.Flags().Changed("probe") {
		cfg.Probe = opts.Probe
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	agg := health.NewAggregatorFromConfig(cfg)
	if cfg.Probe != "" {
		agg.Register(health.CheckerFunc{CheckName: "rpc", Fn: func(ctx context.Context) error {
			_, _, err := a.facade.FetchCached(ctx, cfg.Probe, accountsync.NoCache())
			return err
		}})
	}
	agg.Register(a.facade)

	resp := agg.Check(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if !resp.IsHealthy() && !resp.IsDegraded() {
		return fmt.Errorf("engine is %s", resp.Status)
	}
	return nil
}
