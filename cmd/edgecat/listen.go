package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/opd-ai/edgenet/pathing"
	"github.com/opd-ai/edgenet/transport"
)

func (a *app) listenCmd() *cobra.Command {
	var (
		path string
		echo bool
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept edges and print the payloads they carry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runListen(cmd.Context(), path, echo, nil)
		},
	}
	cmd.Flags().StringVar(&path, "path", pathing.Root, "path to accept edges on")
	cmd.Flags().BoolVar(&echo, "echo", false, "send every payload back on its edge")
	return cmd
}

// runListen serves path until ctx ends. ready, when set, receives the
// listening addresses once edges can be accepted.
func (a *app) runListen(ctx context.Context, path string, echo bool, ready func([]*transport.TransportAddress)) (err error) {
	n, err := a.startNode()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, n.stop()) }()

	pel, err := n.pm.CreatePath(path)
	if err != nil {
		return err
	}
	pel.OnEdge(func(e transport.Edge) {
		a.printf("+ %s\n", e.RemoteTA())
		if err := e.OnClose(func(e transport.Edge) { a.printf("- %s\n", e.RemoteTA()) }); err != nil {
			return
		}
		e.Subscribe(transport.DataHandlerFunc(func(e transport.Edge, payload []byte) {
			a.printf("%s: %s\n", e.RemoteTA(), payload)
			if !echo {
				return
			}
			if err := e.Send(payload); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "app.runListen",
					"edge":     e.String(),
					"error":    err.Error(),
				}).Warn("Echo failed")
			}
		}))
	})
	if err := pel.Start(); err != nil {
		return err
	}

	tas := pel.LocalTAs()
	for _, ta := range tas {
		a.printf("listening on %s\n", ta)
	}
	if ready != nil {
		ready(tas)
	}
	<-ctx.Done()
	return nil
}
