package telemetry

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/stratusbill/walletd/internal/clock"
	"go.uber.org/zap"
)

// Simulator produces deterministic synthetic telemetry. The same instance
// reports the same power profile for the same hour on every query, so hourly
// sweeps and month-end reconciliation see a consistent story.
type Simulator struct {
	log     *zap.Logger
	clock   clock.Clock
	onRatio float64
}

func NewSimulator(onRatio float64, clk clock.Clock, log *zap.Logger) *Simulator {
	if onRatio <= 0 || onRatio > 1 {
		onRatio = 0.85
	}
	return &Simulator{
		log:     log.Named("telemetry.simulator"),
		clock:   clk,
		onRatio: onRatio,
	}
}

func (s *Simulator) PowerState(ctx context.Context, instanceID string) (PowerState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if instanceID == "" {
		return "", ErrInstanceUnknown
	}
	if s.roll(instanceID, s.clock.Now().Format("2006010215")) < s.onRatio {
		return PoweredOn, nil
	}
	return PoweredOff, nil
}

func (s *Simulator) HoursPoweredOn(ctx context.Context, month time.Month, year int, instanceID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if instanceID == "" {
		return 0, ErrInstanceUnknown
	}

	hoursInMonth := HoursInMonth(year, month)
	key := instanceID + "-" + time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("200601")

	// Center the utilization on the configured on-ratio with a stable
	// per-instance spread.
	ratio := s.onRatio*0.7 + s.roll(key)*0.3
	if ratio > 1 {
		ratio = 1
	}
	return int(float64(hoursInMonth) * ratio), nil
}

func (s *Simulator) roll(parts ...string) float64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
	}
	return float64(h.Sum64()%10_000) / 10_000
}

// HoursInMonth reports the calendar hours of the month, used for utilization
// percentages. Proration still uses the flat 744 constant.
func HoursInMonth(year int, month time.Month) int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return int(first.AddDate(0, 1, 0).Sub(first).Hours())
}
