package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remux-dev/remux/internal/codec"
	"github.com/remux-dev/remux/internal/config"
	"github.com/remux-dev/remux/internal/domain"
	"github.com/remux-dev/remux/internal/mux"
)

func sendCmd() *cobra.Command {
	var pane uint64
	cmd := &cobra.Command{
		Use:   "send [domain] text...",
		Short: "Write text to a remote pane as if typed",
		Long: `Send queues the text through the same batching path interactive
input takes, waits for the server to acknowledge it, and exits.
The pane id is a local id as shown by "remux list".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args, pane)
		},
	}
	cmd.Flags().Uint64Var(&pane, "pane", 0, "local pane id to write to")
	cmd.MarkFlagRequired("pane")
	return cmd
}

func runSend(args []string, paneID uint64) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dom, rest, err := splitDomainArgs(cfg, args)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("nothing to send")
	}
	text := strings.Join(rest, " ")

	log := newLogger()
	m := mux.New()
	d, err := domain.Attach(ctx, dom, m, domain.Options{
		Logger: log,
		Status: statusPrinter(log),
	})
	if err != nil {
		return err
	}
	defer d.Close()

	p, ok := d.PaneByLocal(codec.PaneID(paneID))
	if !ok {
		return fmt.Errorf("no pane %d in %s; \"remux list %s\" shows valid ids", paneID, d.Name(), d.Name())
	}
	if err := p.WriteInput([]byte(text)); err != nil {
		return err
	}
	if err := p.DrainInput(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	fmt.Printf("sent %d bytes to pane %d\n", len(text), paneID)
	return nil
}

// splitDomainArgs peels a leading domain name off the argument list.
// "remux send work ls" sends "ls" to the work domain; "remux send ls"
// sends "ls" to the default domain. A word that happens to match a
// domain name can be forced to be text by naming the domain first.
func splitDomainArgs(cfg *config.Config, args []string) (config.Domain, []string, error) {
	if len(args) > 0 {
		if dom, ok := cfg.Domain(args[0]); ok {
			return dom, args[1:], nil
		}
	}
	dom, err := pickDomain(cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	return dom, args, nil
}
