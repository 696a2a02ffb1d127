package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/accountsync"
	"github.com/KOMKZ/go-yogan-accountsync/flagx"
)

type watchOptions struct {
	Commitment string        `flag:"commitment,c" usage:"processed, confirmed or finalized (default from config)"`
	Encoding   string        `flag:"encoding,e" usage:"data encoding: base64, base58 or hex" default:"base64"`
	Count      int           `flag:"count,n" usage:"exit after this many updates (0 runs until interrupted)"`
	Duration   time.Duration `flag:"duration" usage:"exit after this long (0 runs until interrupted)"`
	Initial    bool          `flag:"initial" usage:"print the current state of each account before streaming"`
}

type watchEvent struct {
	Address string       `json:"address"`
	Slot    uint64       `json:"slot"`
	Deleted bool         `json:"deleted,omitempty"`
	Initial bool         `json:"initial,omitempty"`
	Account *accountView `json:"account,omitempty"`
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch ADDRESS...",
		Short: "Stream account updates as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatch,
	}
	cobra.CheckErr(flagx.BindFlags(cmd, &watchOptions{}))
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	ro, err := parseRoot(cmd)
	if err != nil {
		return err
	}
	var opts watchOptions
	if err := flagx.ParseFlags(cmd, &opts); err != nil {
		return err
	}
	commitment, err := parseCommitment(opts.Commitment)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	a, err := openApp(ctx, ro, opts.Encoding)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	fo := fetchOpts(commitment, false)
	streams := make([]*accountsync.Stream[accountView], 0, len(args))
	defer func() {
		for _, s := range streams {
			s.Close()
		}
	}()
	for _, addr := range args {
		s, err := a.facade.Subscribe(ctx, addr, fo...)
		if err != nil {
			return err
		}
		streams = append(streams, s)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if opts.Initial {
		results, _ := a.facade.FetchBatch(ctx, args, append(fo, accountsync.NoCache())...)
		for _, r := range results {
			ev := watchEvent{Address: r.Address, Slot: r.Slot, Initial: true, Deleted: !r.Found && r.Err == nil}
			if r.Found {
				v := r.Value
				ev.Account = &v
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}

	events, errs := fanIn(ctx, streams)
	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok && err != nil {
				return err
			}
			return nil
		case u := <-events:
			ev := watchEvent{Address: u.Address, Slot: u.Slot, Deleted: u.Deleted}
			if !u.Deleted {
				v := u.Value
				ev.Account = &v
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				a.log.DebugCtx(ctx, "update limit reached", zap.Int("count", seen))
				return nil
			}
		}
	}
}

// fanIn merges the streams. errs yields the joined terminal errors once
// every stream has ended and is then closed.
func fanIn(ctx context.Context, streams []*accountsync.Stream[accountView]) (<-chan accountsync.Update[accountView], <-chan error) {
	events := make(chan accountsync.Update[accountView])
	errs := make(chan error, 1)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ended []error
	for _, s := range streams {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range s.Updates() {
				select {
				case events <- u:
				case <-ctx.Done():
					return
				}
			}
			mu.Lock()
			ended = append(ended, s.Err())
			mu.Unlock()
		}()
	}
	go func() {
		wg.Wait()
		errs <- errors.Join(ended...)
		close(errs)
	}()
	return events, errs
}
