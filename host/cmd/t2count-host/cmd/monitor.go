package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"t2count/host/monitor"
)

var (
	monitorInterval time.Duration
	monitorPort     int
)

func init() {
	RootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "poll interval, overrides config")
	monitorCmd.Flags().IntVarP(&monitorPort, "port", "p", -1, "metrics port, 0 disables, overrides config")
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the count and export it with drift statistics to Prometheus",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()
		cfg := loadConfig()
		if monitorInterval > 0 {
			cfg.PollInterval = monitorInterval
		}
		if monitorPort >= 0 {
			cfg.ListenPort = monitorPort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := connect(ctx, cfg)
		defer m.Close()

		mon, err := monitor.New(m, cfg.PollInterval)
		if err != nil {
			log.Fatal(err)
		}

		eg, gctx := errgroup.WithContext(ctx)
		eg.Go(func() error { return mon.Run(gctx) })
		if cfg.ListenPort != 0 {
			eg.Go(func() error { return mon.Serve(gctx, cfg.ListenPort) })
		}
		if err := eg.Wait(); err != nil && ctx.Err() == nil {
			log.Fatal(err)
		}

		n, mean, stddev := mon.DriftStats()
		log.Infof("%d intervals, drift %.2f ppm mean, %.2f ppm stddev", n, mean, stddev)
	},
}
