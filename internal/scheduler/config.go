package scheduler

import (
	"time"

	appconfig "github.com/stratusbill/walletd/internal/config"
)

type Config struct {
	// RunInterval is the tick of the main loop; individual jobs keep their
	// own cadence on top of it.
	RunInterval time.Duration

	BillingInterval time.Duration
	MonitorInterval time.Duration
	JobTimeout      time.Duration

	// LeaseTTL bounds how long a replica may hold the sweep lease.
	LeaseTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunInterval <= 0 {
		c.RunInterval = time.Minute
	}
	if c.BillingInterval <= 0 {
		c.BillingInterval = time.Hour
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 15 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 10 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 15 * time.Minute
	}
	return c
}

func ProvideConfig(app appconfig.Config) Config {
	return Config{
		BillingInterval: app.BillingInterval,
		MonitorInterval: app.MonitorInterval,
	}.withDefaults()
}
