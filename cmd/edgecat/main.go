package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/opd-ai/edgenet/pathing"
	"github.com/opd-ai/edgenet/transport"
	"github.com/opd-ai/edgenet/udp"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one edgecat command and returns the exit code.
func run(args []string, in io.Reader, out, errOut io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{in: in, out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	err = multierr.Append(err, a.close())
	if err != nil {
		fmt.Fprintln(errOut, "edgecat:", err)
		return 1
	}
	return 0
}

// app holds what the subcommands share: resolved configuration, the
// metrics registry and the output streams.
type app struct {
	configPath  string
	logLevel    string
	logFile     string
	metricsAddr string

	cfg      *Config
	registry *prometheus.Registry
	metrics  *metricsServer
	logFileW io.Closer

	in     io.Reader
	outMu  sync.Mutex
	out    io.Writer
	errOut io.Writer
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "edgecat",
		Short: "Send and receive datagrams over edgenet edges",
		Long: "edgecat opens UDP edges, optionally multiplexed into paths, and copies\n" +
			"payloads between them and the terminal. It can also look for peers on\n" +
			"the local network.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./edgecat.yaml or ~/.edgenet/edgecat.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&a.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(a.listenCmd(), a.sendCmd(), a.discoverCmd())
	return root
}

// setup loads the configuration, applies flag overrides and starts
// logging and metrics.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = a.logFile
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = a.metricsAddr
	}
	a.cfg = cfg

	if a.logFileW, err = setupLogging(cfg.Log, a.errOut); err != nil {
		return err
	}
	a.registry = newRegistry()
	if cfg.MetricsAddr != "" {
		if a.metrics, err = startMetrics(cfg.MetricsAddr, a.registry); err != nil {
			return err
		}
	}
	return nil
}

// close releases what setup started.
func (a *app) close() error {
	var err error
	if a.metrics != nil {
		err = multierr.Append(err, a.metrics.shutdown())
		a.metrics = nil
	}
	if a.logFileW != nil {
		logrus.SetOutput(a.errOut)
		err = multierr.Append(err, a.logFileW.Close())
		a.logFileW = nil
	}
	return err
}

func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

// node is a started UDP listener with a path manager on top.
type node struct {
	el *udp.EdgeListener
	pm *pathing.Manager
}

func (a *app) startNode() (*node, error) {
	opts := a.cfg.udpOptions()
	opts.Metrics = a.registry
	opts.OnLocalTAsChanged = func(tas []*transport.TransportAddress) {
		logrus.WithFields(logrus.Fields{
			"function":  "app.startNode",
			"local_tas": transport.TAStrings(tas, 0),
		}).Info("Local addresses changed")
	}
	el, err := udp.NewEdgeListener(opts)
	if err != nil {
		return nil, err
	}
	pm := pathing.NewManager(el, nil)
	if err := pm.Start(); err != nil {
		return nil, multierr.Append(err, el.Stop())
	}
	return &node{el: el, pm: pm}, nil
}

func (n *node) stop() error {
	return n.pm.Stop()
}
