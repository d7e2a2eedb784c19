package cmd

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"t2count/host/config"
	"t2count/host/mcu"
)

// RootCmd is a main entry point. It's exported so the tool can be extended
// without touching the board commands.
var RootCmd = &cobra.Command{
	Use:   "t2count-host",
	Short: "Read and control a Timer2 extended counter board",
}

var (
	verbose    bool
	configPath string
	device     string
	baud       int
)

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	RootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "serial device, overrides config")
	RootCmd.PersistentFlags().IntVarP(&baud, "baud", "b", 0, "baud rate, overrides config")
}

// ConfigureVerbosity configures log verbosity based on parsed flags. Needs to be called by any subcommand.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// loadConfig reads the config file if one was given and applies flag overrides
func loadConfig() *config.Config {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.ReadConfig(configPath); err != nil {
			log.Fatal(err)
		}
	}
	if device != "" {
		cfg.Device = device
	}
	if baud != 0 {
		cfg.Baud = baud
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	return cfg
}

// connect opens the board and loads its dictionary
func connect(ctx context.Context, cfg *config.Config) *mcu.MCU {
	m := mcu.New()
	if err := m.Connect(cfg.Serial()); err != nil {
		log.Fatal(err)
	}
	if err := m.RetrieveDictionary(ctx); err != nil {
		m.Close()
		log.Fatalf("retrieving dictionary: %v", err)
	}
	return m
}

// withBoard runs fn against a freshly connected board
func withBoard(fn func(ctx context.Context, m *mcu.MCU) error) {
	ConfigureVerbosity()
	cfg := loadConfig()
	ctx := context.Background()
	m := connect(ctx, cfg)
	defer m.Close()
	if err := fn(ctx, m); err != nil {
		log.Fatal(err)
	}
}

// Execute is the main entry point for CLI interface
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
