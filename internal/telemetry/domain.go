package telemetry

import (
	"context"
	"errors"
	"time"
)

type PowerState string

const (
	PoweredOn  PowerState = "powered_on"
	PoweredOff PowerState = "powered_off"
	Suspended  PowerState = "suspended"
)

var (
	ErrUnknownProvider = errors.New("unknown_telemetry_provider")
	ErrInvalidConfig   = errors.New("invalid_telemetry_config")
	ErrInstanceUnknown = errors.New("instance_unknown")
)

// Provider is the narrow capability interface onto the VM platform. Billing
// code never knows whether it is talking to a simulator or a hypervisor
// manager; each call carries its own deadline so one unresponsive VM cannot
// stall a sweep.
type Provider interface {
	// PowerState reports the current power state of the instance.
	PowerState(ctx context.Context, instanceID string) (PowerState, error)

	// HoursPoweredOn reports how many hours the instance was powered on
	// during the given month. Used only at month end.
	HoursPoweredOn(ctx context.Context, month time.Month, year int, instanceID string) (int, error)
}
