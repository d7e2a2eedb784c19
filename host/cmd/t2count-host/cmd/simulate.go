package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"t2count/host/mcu"
	"t2count/host/monitor"
	"t2count/sim"
)

var (
	simDuration time.Duration
	simPort     int
	simPulse    time.Duration
)

func init() {
	RootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().DurationVarP(&simDuration, "duration", "t", 5*time.Second, "how long to run")
	simulateCmd.Flags().IntVarP(&simPort, "port", "p", 0, "metrics port, 0 disables")
	simulateCmd.Flags().DurationVar(&simPulse, "pulse", 1500*time.Microsecond, "high time of the simulated 20ms pulse train")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the firmware against a simulated Timer2 and check the count while it runs",
	Run: func(cmd *cobra.Command, args []string) {
		ConfigureVerbosity()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, simDuration)
		defer cancel()

		if err := simulate(ctx); err != nil {
			log.Fatal(err)
		}
	},
}

func simulate(ctx context.Context) error {
	tpm := sim.FreeRunning.TicksPerMicro
	board := sim.NewBoard(sim.BoardConfig{
		Interval:     time.Millisecond,
		TicksPerStep: 1000 * tpm,
		PulseWidth:   uint32(simPulse/time.Microsecond) * tpm,
		PulsePeriod:  20000 * tpm,
	})
	m := mcu.New()
	m.Attach(board)
	defer m.Close()

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return board.Run(gctx) })

	if err := m.RetrieveDictionary(gctx); err != nil {
		return fmt.Errorf("retrieving dictionary: %w", err)
	}
	mon, err := monitor.New(m, 20*time.Millisecond)
	if err != nil {
		return err
	}
	eg.Go(func() error { return mon.Run(gctx) })
	if simPort != 0 {
		eg.Go(func() error { return mon.Serve(gctx, simPort) })
	}

	// reads from the CPU itself, landing between timer steps and interrupts
	checks := welford.New()
	var nChecks int
	eg.Go(func() error {
		var last uint64
		for gctx.Err() == nil {
			var count, elapsed uint64
			if err := board.Exec(0, func() {
				count = board.Counter.Count()
				elapsed = board.Elapsed()
			}); err != nil {
				return nil
			}
			if count != elapsed {
				return fmt.Errorf("count %d, timer ran %d ticks", count, elapsed)
			}
			if count < last {
				return fmt.Errorf("count went backwards: %d after %d", count, last)
			}
			checks.Add(float64(count-last) / float64(tpm))
			nChecks++
			last = count
			time.Sleep(time.Millisecond)
		}
		return nil
	})

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	n, mean, stddev := mon.DriftStats()
	fmt.Printf("count checks: %d, mean step %.1fus\n", nChecks, checks.Mean())
	fmt.Printf("monitor intervals: %d, drift %.1f ppm mean, %.1f ppm stddev\n", n, mean, stddev)
	// the CPU has stopped, so the meter can be read directly
	if width, period, valid := board.Pulse.Read(); valid {
		fmt.Printf("pulse: width %dus period %dus\n", width/tpm, period/tpm)
	}
	return nil
}
