// Package config reads the host tool's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"t2count/host/serial"
)

// Config represents configuration we expect to read from file
type Config struct {
	Device       string        `yaml:"device"`        // serial device of the board
	Baud         int           `yaml:"baud"`          // UART boards only
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // per serial read
	PollInterval time.Duration `yaml:"poll_interval"` // how often monitor reads the count
	ListenPort   int           `yaml:"listen_port"`   // prometheus /metrics, 0 disables
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Device:       "/dev/ttyACM0",
		Baud:         serial.DefaultBaud,
		ReadTimeout:  100 * time.Millisecond,
		PollInterval: time.Second,
		ListenPort:   9477,
	}
}

// Validate makes sure config is usable
func (c *Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("bad config: 'device' must be specified")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("bad config: 'baud' must be >0")
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("bad config: 'read_timeout' must not be negative")
	}
	if c.PollInterval <= 0 || c.PollInterval > time.Minute {
		return fmt.Errorf("bad config: 'poll_interval' must be between 0 and 1 minute")
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return fmt.Errorf("bad config: 'listen_port' out of range")
	}
	return nil
}

// Serial returns the serial port settings
func (c *Config) Serial() *serial.Config {
	return &serial.Config{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: c.ReadTimeout,
	}
}

// ReadConfig reads config and unmarshals it from yaml on top of the defaults
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}
