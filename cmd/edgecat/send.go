package main

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/opd-ai/edgenet/transport"
)

func (a *app) sendCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "send <ta>",
		Short: "Send each line of stdin as one payload to a TA",
		Long: "send connects to a brunet.udp address, optionally carrying a path such\n" +
			"as brunet.udp://10.0.0.2:4000/chat, sends every input line as a payload\n" +
			"and prints replies until the input ends and the wait elapses.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSend(cmd.Context(), args[0], wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", time.Second, "how long to wait for replies after the input ends")
	return cmd
}

type createResult struct {
	edge transport.Edge
	err  error
}

func (a *app) runSend(ctx context.Context, target string, wait time.Duration) (err error) {
	ta, err := transport.ParseTA(target)
	if err != nil {
		return err
	}
	if ta.Type() != transport.TATypeUDP {
		return fmt.Errorf("send: %s is not a udp address", ta)
	}

	n, err := a.startNode()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, n.stop()) }()

	// A non-root local path makes every edge use the path handshake, so
	// the peer learns our edge id before any payload is sent.
	pel, err := n.pm.CreatePath("/edgecat/" + uuid.NewString()[:8])
	if err != nil {
		return err
	}
	if err := pel.Start(); err != nil {
		return err
	}

	created := make(chan createResult, 1)
	pel.CreateEdgeTo(ta, func(ok bool, e transport.Edge, err error) {
		if !ok {
			created <- createResult{err: err}
			return
		}
		created <- createResult{edge: e}
	})
	var e transport.Edge
	select {
	case r := <-created:
		if r.err != nil {
			return r.err
		}
		e = r.edge
	case <-ctx.Done():
		return ctx.Err()
	}
	defer e.Close()

	closed := make(chan struct{})
	if err := e.OnClose(func(transport.Edge) { close(closed) }); err != nil {
		return fmt.Errorf("send: %w", transport.ErrEdgeClosed)
	}
	e.Subscribe(transport.DataHandlerFunc(func(e transport.Edge, payload []byte) {
		a.printf("%s: %s\n", e.RemoteTA(), payload)
	}))

	lines := bufio.NewScanner(a.in)
	for lines.Scan() {
		line := lines.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := e.Send(append([]byte(nil), line...)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return fmt.Errorf("send: remote closed the edge")
		default:
		}
	}
	if err := lines.Err(); err != nil {
		return err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-closed:
	}
	return nil
}
