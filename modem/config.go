package modem

import (
	"log/slog"
	"slices"
	"time"

	"i4.energy/across/nbiot/at"
)

// ConfigEntry is one modem configuration key (AT+NCONFIG) together with the
// value the driver wants it to have.
type ConfigEntry struct {
	Name  string
	Value string
}

// DefaultNConfig returns the configuration the driver reconciles the modem to
// during Connect.
func DefaultNConfig() []ConfigEntry {
	return []ConfigEntry{
		{Name: "AUTOCONNECT", Value: "TRUE"},
		{Name: "CR_0354_0338_SCRAMBLING", Value: "TRUE"},
		{Name: "CR_0859_SI_AVOID", Value: "TRUE"},
	}
}

// Config holds the settings of a Modem. Build one with NewConfigBuilder.
type Config struct {
	dialer Dialer

	// atTimeout is the default window for a command reply
	atTimeout time.Duration
	// aliveTimeout is the window for the AT liveness probe
	aliveTimeout time.Duration
	// powerOnRetries is how many liveness probes On sends before giving up
	powerOnRetries int
	// rebootTimeout bounds the wait for the reboot acknowledgement
	rebootTimeout time.Duration
	// signalTimeout bounds the wait for a usable signal during Connect
	signalTimeout time.Duration
	// attachTimeout bounds network attach during Connect and ConnectAuto
	attachTimeout time.Duration
	// detachTimeout is the window for AT+CGATT=0
	detachTimeout time.Duration
	// pollInterval is the fixed pause between signal and attach attempts
	pollInterval time.Duration

	apn     string
	nconfig []ConfigEntry

	lineBufferSize int
	byteTimeout    time.Duration
	pollDelay      time.Duration

	logger   *slog.Logger
	observer at.Observer
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.atTimeout <= 0 {
		c.atTimeout = 5 * time.Second
	}
	if c.aliveTimeout <= 0 {
		c.aliveTimeout = 450 * time.Millisecond
	}
	if c.powerOnRetries <= 0 {
		c.powerOnRetries = 10
	}
	if c.rebootTimeout <= 0 {
		c.rebootTimeout = 2 * time.Second
	}
	if c.signalTimeout <= 0 {
		c.signalTimeout = 30 * time.Second
	}
	if c.attachTimeout <= 0 {
		c.attachTimeout = 30 * time.Second
	}
	if c.detachTimeout <= 0 {
		c.detachTimeout = 40 * time.Second
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if c.nconfig == nil {
		c.nconfig = DefaultNConfig()
	}
	if c.lineBufferSize <= 0 {
		c.lineBufferSize = at.DefaultLineBufferSize
	}
	if c.byteTimeout <= 0 {
		c.byteTimeout = at.DefaultByteTimeout
	}
	if c.pollDelay <= 0 {
		c.pollDelay = at.DefaultPollDelay
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with every setting at its default.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport to the modem is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithATTimeout sets the default window for a command reply.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithAliveTimeout sets the window for each liveness probe.
func (b *ConfigBuilder) WithAliveTimeout(d time.Duration) *ConfigBuilder {
	b.config.aliveTimeout = d
	return b
}

// WithPowerOnRetries sets how many liveness probes are sent before the modem
// is declared unresponsive.
func (b *ConfigBuilder) WithPowerOnRetries(n int) *ConfigBuilder {
	b.config.powerOnRetries = n
	return b
}

// WithRebootTimeout sets how long to wait for the reboot acknowledgement.
func (b *ConfigBuilder) WithRebootTimeout(d time.Duration) *ConfigBuilder {
	b.config.rebootTimeout = d
	return b
}

// WithSignalTimeout sets how long Connect waits for a usable signal.
func (b *ConfigBuilder) WithSignalTimeout(d time.Duration) *ConfigBuilder {
	b.config.signalTimeout = d
	return b
}

// WithAttachTimeout sets how long Connect and ConnectAuto wait for network
// attach.
func (b *ConfigBuilder) WithAttachTimeout(d time.Duration) *ConfigBuilder {
	b.config.attachTimeout = d
	return b
}

// WithDetachTimeout sets the window for Disconnect.
func (b *ConfigBuilder) WithDetachTimeout(d time.Duration) *ConfigBuilder {
	b.config.detachTimeout = d
	return b
}

// WithPollInterval sets the fixed pause between signal and attach attempts.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.pollInterval = d
	return b
}

// WithAPN sets the access point name bound to context 1 during Connect.
// Empty leaves the modem's context untouched.
func (b *ConfigBuilder) WithAPN(apn string) *ConfigBuilder {
	b.config.apn = apn
	return b
}

// WithNConfig replaces the configuration table reconciled during Connect.
func (b *ConfigBuilder) WithNConfig(entries ...ConfigEntry) *ConfigBuilder {
	b.config.nconfig = slices.Clone(entries)
	if b.config.nconfig == nil {
		b.config.nconfig = []ConfigEntry{}
	}
	return b
}

// WithLineBufferSize sets the capacity of the reply line buffer.
func (b *ConfigBuilder) WithLineBufferSize(size int) *ConfigBuilder {
	b.config.lineBufferSize = size
	return b
}

// WithByteTimeout sets how long a line read waits for each byte.
func (b *ConfigBuilder) WithByteTimeout(d time.Duration) *ConfigBuilder {
	b.config.byteTimeout = d
	return b
}

// WithPollDelay sets the pause between reply poll attempts.
func (b *ConfigBuilder) WithPollDelay(d time.Duration) *ConfigBuilder {
	b.config.pollDelay = d
	return b
}

// WithLogger sets the logger. Commands and reply lines are logged at debug
// level.
func (b *ConfigBuilder) WithLogger(logger *slog.Logger) *ConfigBuilder {
	b.config.logger = logger
	return b
}

// WithObserver installs a hook called after every AT command.
func (b *ConfigBuilder) WithObserver(o at.Observer) *ConfigBuilder {
	b.config.observer = o
	return b
}

// Build validates the settings and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}
