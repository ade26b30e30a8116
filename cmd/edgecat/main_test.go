package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/edgenet/pathing"
	"github.com/opd-ai/edgenet/transport"
	"github.com/opd-ai/edgenet/udp"
)

func restoreLogging(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})
}

func newTestApp(in io.Reader) *app {
	cfg := defaultConfig()
	cfg.UDP.BindIP = "127.0.0.1"
	cfg.UDP.Advertise = []string{"127.0.0.1"}
	return &app{
		cfg:      cfg,
		registry: newRegistry(),
		in:       in,
		out:      &bytes.Buffer{},
		errOut:   io.Discard,
	}
}

func (a *app) output() string {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	return a.out.(*bytes.Buffer).String()
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:        "port over 65535",
			mutate:      func(c *Config) { c.UDP.Port = 70000 },
			errContains: "invalid udp port",
		},
		{
			name:        "bad bind ip",
			mutate:      func(c *Config) { c.UDP.BindIP = "not-an-ip" },
			errContains: "invalid udp bind_ip",
		},
		{
			name:        "bad advertise ip",
			mutate:      func(c *Config) { c.UDP.Advertise = []string{"10.0.0.1", "nope"} },
			errContains: "invalid udp advertise address",
		},
		{
			name:        "negative queue",
			mutate:      func(c *Config) { c.UDP.SendQueue = -1 },
			errContains: "send_queue",
		},
		{
			name:        "bad group",
			mutate:      func(c *Config) { c.Discovery.Group = "239.255.42.99" },
			errContains: "invalid discovery group",
		},
		{
			name:        "zero period",
			mutate:      func(c *Config) { c.Discovery.Period = 0 },
			errContains: "discovery period",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EDGENET_CONFIG", "")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	def := defaultConfig()
	assert.Equal(t, def.Log, cfg.Log)
	assert.Equal(t, def.Discovery, cfg.Discovery)
	assert.Equal(t, 0, cfg.UDP.Port)
	assert.Equal(t, udp.DefaultSendQueueSize, cfg.UDP.SendQueue)
	assert.Empty(t, cfg.UDP.Advertise)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgecat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
udp:
  port: 4000
  bind_ip: 127.0.0.1
  advertise: [127.0.0.1, 10.0.0.5]
discovery:
  namespace: lab
  period: 3s
`), 0o644))
	t.Setenv("EDGENET_UDP_PORT", "4100")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4100, cfg.UDP.Port, "environment overrides the file")
	assert.Equal(t, "127.0.0.1", cfg.UDP.BindIP)
	assert.Equal(t, []string{"127.0.0.1", "10.0.0.5"}, cfg.UDP.Advertise)
	assert.Equal(t, "lab", cfg.Discovery.Namespace)
	assert.Equal(t, 3*time.Second, cfg.Discovery.Period)
	assert.Equal(t, "239.255.42.99:56123", cfg.Discovery.Group)

	opts := cfg.udpOptions()
	assert.Equal(t, 4100, opts.Port)
	assert.True(t, opts.BindIP.Equal(net.IPv4(127, 0, 0, 1)))
	assert.Len(t, opts.AdvertiseIPs, 2)

	dopts, err := cfg.discoveryOptions()
	require.NoError(t, err)
	assert.Equal(t, "lab", dopts.Namespace)
	assert.Equal(t, 3*time.Second, dopts.Period)
	assert.True(t, dopts.Group.IP.IsMulticast())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("udp:\n  port: 99999\n"), 0o644))
	_, err = loadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid udp port")
}

func TestSetupLogging(t *testing.T) {
	restoreLogging(t)

	_, err := setupLogging(LogConfig{Level: "loud"}, io.Discard)
	assert.Error(t, err)

	var buf bytes.Buffer
	closer, err := setupLogging(LogConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	assert.Nil(t, closer)
	logrus.Info("hidden")
	logrus.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	file := filepath.Join(t.TempDir(), "logs", "edgecat.log")
	closer, err = setupLogging(LogConfig{Level: "debug", File: file, MaxSizeMB: 1}, io.Discard)
	require.NoError(t, err)
	require.NotNil(t, closer)
	logrus.Debug("rotated output")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotated output")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := newRegistry()
	opts := udp.NewOptions()
	opts.BindIP = net.IPv4(127, 0, 0, 1)
	opts.Metrics = reg
	l, err := udp.NewEdgeListener(opts)
	require.NoError(t, err)
	defer l.Stop()

	m, err := startMetrics("127.0.0.1:0", reg)
	require.NoError(t, err)

	resp, err := http.Get("http://" + m.addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "edgenet_udp_edges")
	assert.Contains(t, string(body), "go_goroutines")

	assert.NoError(t, m.shutdown())
}

func TestListenSendEcho(t *testing.T) {
	restoreLogging(t)
	server := newTestApp(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan []*transport.TransportAddress, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- server.runListen(ctx, pathing.Root, true, func(tas []*transport.TransportAddress) { ready <- tas })
	}()

	var tas []*transport.TransportAddress
	select {
	case tas = <-ready:
	case err := <-errc:
		t.Fatalf("listen failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never became ready")
	}
	require.NotEmpty(t, tas)

	client := newTestApp(strings.NewReader("hello\n\nworld\n"))
	require.NoError(t, client.runSend(context.Background(), tas[0].String(), 2*time.Second))

	out := client.output()
	assert.Contains(t, out, tas[0].String()+": hello\n")
	assert.Contains(t, out, tas[0].String()+": world\n")

	cancel()
	require.NoError(t, <-errc)

	serverOut := server.output()
	assert.Contains(t, serverOut, "listening on "+tas[0].String())
	assert.Contains(t, serverOut, "+ brunet.udp://127.0.0.1:")
	assert.Contains(t, serverOut, "/edgecat/")
	assert.Contains(t, serverOut, ": hello\n")
}

func TestRunSend_RejectsNonUDP(t *testing.T) {
	a := newTestApp(strings.NewReader(""))
	err := a.runSend(context.Background(), "b.s://1", time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a udp address")

	err = a.runSend(context.Background(), "garbage", time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrInvalidTA)
}

func TestRun(t *testing.T) {
	restoreLogging(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("EDGENET_CONFIG", "")

	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"--help"}, strings.NewReader(""), &out, &errOut))
	assert.Contains(t, out.String(), "listen")
	assert.Contains(t, out.String(), "discover")

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"--log-level", "loud", "listen"}, strings.NewReader(""), &out, &errOut))
	assert.Contains(t, errOut.String(), "invalid log level")

	errOut.Reset()
	assert.Equal(t, 1, run([]string{"send"}, strings.NewReader(""), &out, &errOut))
	assert.Contains(t, errOut.String(), "edgecat:")
}
