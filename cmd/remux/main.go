package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/remux-dev/remux/internal/config"
)

var (
	configPath  string
	debug       bool
	metricsAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "remux",
		Short: "Attach to terminal multiplexer sessions",
		Long: `remux mirrors panes from a mux server into this process over a
unix socket, TLS, an ssh-forwarded pipe, or QUIC. Domains are
configured in ~/.config/remux/remux.yaml; with no config the
built-in unix domain talks to a server on the local socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $REMUX_CONFIG, then ~/.config/remux/remux.yaml)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log debug detail to stderr")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (e.g. 127.0.0.1:9188)")

	root.AddCommand(
		attachCmd(),
		pingCmd(),
		listCmd(),
		sendCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "remux: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

// pickDomain resolves the optional [domain] argument; with none given
// the first configured domain wins, which is the built-in unix domain
// unless the config reorders it.
func pickDomain(cfg *config.Config, args []string) (config.Domain, error) {
	if len(args) > 0 {
		dom, ok := cfg.Domain(args[0])
		if !ok {
			return nil, fmt.Errorf("no domain named %q in config", args[0])
		}
		return dom, nil
	}
	domains := cfg.Domains()
	if len(domains) == 0 {
		return nil, fmt.Errorf("no domains configured")
	}
	return domains[0], nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// statusPrinter routes connection progress to stderr when a human is
// watching, and to the logger otherwise.
func statusPrinter(log *slog.Logger) func(string) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return func(msg string) { fmt.Fprintln(os.Stderr, msg) }
	}
	return func(msg string) { log.Info(msg) }
}

// serveMetrics exposes the process metrics when --metrics-addr is
// set. Failure to bind is logged, not fatal; metrics are an extra.
func serveMetrics(log *slog.Logger) {
	if metricsAddr == "" {
		return
	}
	go func() {
		handler := http.NewServeMux()
		handler.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, handler); err != nil {
			log.Warn("metrics server failed", "addr", metricsAddr, "err", err)
		}
	}()
}
