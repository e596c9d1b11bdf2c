package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/remux-dev/remux/internal/config"
	"github.com/remux-dev/remux/internal/domain"
	"github.com/remux-dev/remux/internal/mux"
)

const renderPollInterval = 2 * time.Second

func attachCmd() *cobra.Command {
	var noAutoStart bool
	cmd := &cobra.Command{
		Use:   "attach [domain]",
		Short: "Attach to a mux server and mirror its panes",
		Long: `Attach connects to the named domain, mirrors the server's windows,
tabs and panes locally, and keeps the mirror fresh until interrupted.
Render deltas pushed by the server apply immediately; panes are also
polled so dead ones are swept even when the server goes quiet.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(args, noAutoStart)
		},
	}
	cmd.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "fail instead of spawning a server when the unix socket is absent")
	return cmd
}

func runAttach(args []string, noAutoStart bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dom, err := pickDomain(cfg, args)
	if err != nil {
		return err
	}
	if u, ok := dom.(*config.UnixDomain); ok && noAutoStart {
		u.NoServeAutomatically = true
	}

	log := newLogger()
	serveMetrics(log)

	m := mux.New()
	d, err := domain.Attach(ctx, dom, m, domain.Options{
		Logger: log,
		Status: statusPrinter(log),
	})
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Printf("attached to %s\n", d.Name())
	printPanes(os.Stdout, d, m)

	ticker := time.NewTicker(renderPollInterval)
	defer ticker.Stop()
	known := len(d.Panes())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.Done():
			if err := d.Err(); err != nil {
				return fmt.Errorf("detached: %w", err)
			}
			fmt.Fprintln(os.Stderr, "detached")
			return nil
		case <-ticker.C:
			for _, p := range d.Panes() {
				if err := p.PollRenderChanges(ctx); err != nil {
					if ctx.Err() != nil {
						break
					}
					log.Warn("render poll failed", "pane", p.LocalID(), "err", err)
				}
			}
			if n := len(d.Panes()); n != known {
				known = n
				fmt.Printf("topology changed: %d panes\n", n)
			}
		}
	}
}
