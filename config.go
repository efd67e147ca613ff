package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"i4.energy/across/nbiot/modem"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `env:"BIND_ADDRESS"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `env:"SERIAL_PORT"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 9600)
	BaudRate int `env:"BAUD_RATE"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `env:"LOG_LEVEL"`
	// APN is the access point name bound during bring-up, empty to keep the
	// modem's own
	APN string `env:"APN"`
	// AutoConnect waits for the modem to attach on its own instead of running
	// the full bring-up
	AutoConnect bool `env:"AUTO_CONNECT"`
	// LocalPort is the UDP port of the modem socket
	LocalPort uint16 `env:"LOCAL_PORT"`
	// PollInterval is how often datagram streams poll the modem
	PollInterval time.Duration `env:"POLL_INTERVAL"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = modem.DefaultBaudRate
		c.LogLevel = "info"
		c.LocalPort = modem.DefaultLocalPort
		c.PollInterval = time.Second
		return nil
	}
}

// WithDotEnv loads variables from a .env file into the environment. Variables
// already set take precedence, and a missing file is not an error.
func WithDotEnv(path string) ConfigOption {
	return func(c *Config) error {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables. Unset variables
// leave the current value alone.
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if err := env.Parse(c); err != nil {
			return fmt.Errorf("parse environment: %w", err)
		}
		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, perr := strconv.Atoi(f.Value.String()); perr == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "apn":
				c.APN = f.Value.String()
			case "auto-connect":
				c.AutoConnect = f.Value.String() == "true"
			case "local-port":
				p, perr := strconv.ParseUint(f.Value.String(), 10, 16)
				if perr != nil {
					err = fmt.Errorf("local-port: %w", perr)
					return
				}
				c.LocalPort = uint16(p)
			case "poll-interval":
				d, perr := time.ParseDuration(f.Value.String())
				if perr != nil {
					err = fmt.Errorf("poll-interval: %w", perr)
					return
				}
				c.PollInterval = d
			}
		})
		return err
	}
}
