package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"t2count/host/mcu"
)

func init() {
	RootCmd.AddCommand(dictCmd, countCmd, microsCmd, resetCmd, setupCmd, unsetupCmd, irqCmd, pulseCmd, eventsCmd)
	dictCmd.Flags().BoolVarP(&rawDict, "raw", "r", false, "print the dictionary JSON as received")
}

var rawDict bool

var dictCmd = &cobra.Command{
	Use:   "dict",
	Short: "Print the board's data dictionary",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			if rawDict {
				fmt.Println(string(m.RawDictionary()))
				return nil
			}
			printDictionary(m.Dictionary())
			return nil
		})
	},
}

func printDictionary(d *mcu.Dictionary) {
	fmt.Printf("Version: %s\n", d.Version)
	fmt.Printf("Build:   %s\n", d.BuildVersions)

	fmt.Println("Config:")
	for _, k := range sortedKeys(d.Config) {
		fmt.Printf("  %s = %s\n", k, d.Config[k])
	}
	fmt.Println("Commands:")
	for _, f := range byID(d.Commands) {
		fmt.Printf("  [%d] %s\n", d.Commands[f], f)
	}
	fmt.Println("Responses:")
	for _, f := range byID(d.Responses) {
		fmt.Printf("  [%d] %s\n", d.Responses[f], f)
	}
	if pin, ok := d.PulsePin(); ok {
		fmt.Printf("Pulse input: %s\n", pin)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func byID(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]] < m[keys[j]] })
	return keys
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the extended tick count",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			count, err := m.GetCount(ctx)
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		})
	},
}

var microsCmd = &cobra.Command{
	Use:   "micros",
	Short: "Print the board time in microseconds",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			us, err := m.GetMicros(ctx)
			if err != nil {
				return err
			}
			whole, err := m.GetBoardMicros(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%.1f (board: %d)\n", us, whole)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Zero the count",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			return m.Reset(ctx)
		})
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Switch the timer to free-running counting",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			return m.Setup(ctx)
		})
	},
}

var unsetupCmd = &cobra.Command{
	Use:   "unsetup",
	Short: "Give the timer back its original configuration",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			return m.Unsetup(ctx)
		})
	},
}

var irqCmd = &cobra.Command{
	Use:       "irq on|off",
	Short:     "Turn the overflow interrupt on or off",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			return m.SetOverflowIRQ(ctx, args[0] == "on")
		})
	},
}

var pulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Print the last captured pulse",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			p, err := m.GetPulse(ctx)
			if err != nil {
				return err
			}
			tpm, err := m.TicksPerMicro()
			if err != nil {
				return err
			}
			pin, _ := m.Dictionary().PulsePin()
			if !p.Valid {
				fmt.Printf("no pulse captured on %s\n", pin)
				return nil
			}
			fmt.Printf("%s: width=%.1fus period=%.1fus\n", pin, float64(p.Width)/float64(tpm), float64(p.Period)/float64(tpm))
			return nil
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Dump the board's counter event ring",
	Run: func(cmd *cobra.Command, args []string) {
		withBoard(func(ctx context.Context, m *mcu.MCU) error {
			lines, err := m.DumpEvents(ctx)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		})
	},
}
