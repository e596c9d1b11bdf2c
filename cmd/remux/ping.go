package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/remux-dev/remux/internal/domain"
	"github.com/remux-dev/remux/internal/mux"
)

func pingCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping [domain]",
		Short: "Round-trip the connection and report the server version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(args, count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of round trips")
	return cmd
}

func runPing(args []string, count int) error {
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

	vers, err := d.Client().VerifyVersionCompat(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s: codec version %d (%s)\n", d.Name(), vers.CodecVers, vers.VersionString)

	for i := 0; i < count; i++ {
		start := time.Now()
		if err := d.Client().Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Printf("pong: %v\n", time.Since(start).Round(time.Microsecond))
	}
	return nil
}
