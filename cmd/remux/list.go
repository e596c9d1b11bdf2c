package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/remux-dev/remux/internal/domain"
	"github.com/remux-dev/remux/internal/mux"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [domain]",
		Short: "List the server's windows, tabs and panes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(args)
		},
	}
}

func runList(args []string) error {
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

	printPanes(os.Stdout, d, m)
	return nil
}

// printPanes renders the mirrored topology as a table, windows and
// tabs in id order. Pane ids are the local ones; the REMOTE column
// shows the server's id for cross-referencing its logs.
func printPanes(w io.Writer, d *domain.ClientDomain, m *mux.Mux) {
	tw := tabwriter.NewWriter(w, 2, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tTAB\tPANE\tREMOTE\tSIZE\tTITLE")
	for _, win := range m.Windows() {
		for _, tabID := range win.TabIDs() {
			tab, ok := m.Tab(tabID)
			if !ok {
				continue
			}
			for _, paneID := range tab.PaneIDs() {
				p, ok := d.PaneByLocal(paneID)
				if !ok {
					continue
				}
				dims := p.Dimensions()
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%dx%d\t%s\n",
					win.ID(), tabID, p.LocalID(), p.RemoteID(),
					dims.Cols, dims.ViewportRows, p.Title())
			}
		}
	}
	tw.Flush()
}
