package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KOMKZ/go-yogan-accountsync/flagx"
)

type fetchOptions struct {
	Commitment string        `flag:"commitment,c" usage:"processed, confirmed or finalized (default from config)"`
	NoCache    bool          `flag:"no-cache" usage:"bypass the cache and snapshot layers"`
	Encoding   string        `flag:"encoding,e" usage:"data encoding: base64, base58 or hex" default:"base64"`
	Timeout    time.Duration `flag:"timeout" usage:"deadline for the whole fetch" default:"30s"`
}

type fetchResult struct {
	Address string       `json:"address"`
	Found   bool         `json:"found"`
	Slot    uint64       `json:"slot,omitempty"`
	Account *accountView `json:"account,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch ADDRESS...",
		Short: "Read accounts and print them as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &fetchOptions{}))
	return cmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	ro, err := parseRoot(cmd)
	if err != nil {
		return err
	}
	var opts fetchOptions
	if err := flagx.ParseFlags(cmd, &opts); err != nil {
		return err
	}
	commitment, err := parseCommitment(opts.Commitment)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	a, err := openApp(ctx, ro, opts.Encoding)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	results, err := a.facade.FetchBatch(ctx, args, fetchOpts(commitment, opts.NoCache)...)
	if results == nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	var failed int
	var firstErr error
	for _, r := range results {
		out := fetchResult{Address: r.Address, Found: r.Found, Slot: r.Slot}
		if r.Found {
			v := r.Value
			out.Account = &v
		}
		if r.Err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.Err
			}
			out.Error = r.Err.Error()
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed: %w", failed, len(results), firstErr)
	}
	return nil
}
