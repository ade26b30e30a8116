package main

import (
	"context"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/opd-ai/edgenet/discovery"
	"github.com/opd-ai/edgenet/transport"
)

func (a *app) discoverCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Advertise this node on the local network and print the peers found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return a.runDiscover(ctx)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func (a *app) runDiscover(ctx context.Context) (err error) {
	opts, err := a.cfg.discoveryOptions()
	if err != nil {
		return err
	}
	n, err := a.startNode()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, n.stop()) }()

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	handler := discovery.HandlerFuncs{
		Local: n.el.LocalTAs,
		Remote: func(tas []*transport.TransportAddress) {
			mu.Lock()
			defer mu.Unlock()
			for _, ta := range tas {
				if s := ta.String(); !seen[s] {
					seen[s] = true
					a.printf("found %s\n", s)
				}
			}
		},
	}
	ld, err := discovery.NewLocalDiscovery(handler, opts)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ld.Close()) }()

	a.printf("discovering in namespace %q via %s\n", opts.Namespace, ld.GroupAddr())
	ld.BeginFindingTAs()
	<-ctx.Done()
	return nil
}
