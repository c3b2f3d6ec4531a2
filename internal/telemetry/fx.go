package telemetry

import (
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewProvider selects the telemetry backend from configuration. An unknown
// provider is a startup error, never a silent fallback to the simulator.
func NewProvider(cfg config.Config, clk clock.Clock, log *zap.Logger) (Provider, error) {
	switch cfg.TelemetryProvider {
	case "simulator":
		return NewSimulator(cfg.SimulatorOnRatio, clk, log), nil
	case "vcenter":
		return NewVCenterClient(cfg.VCenterEndpoint, cfg.VCenterUser, cfg.VCenterPassword, cfg.TelemetryTimeout, log)
	default:
		return nil, ErrUnknownProvider
	}
}

var Module = fx.Module("telemetry",
	fx.Provide(NewProvider),
)
