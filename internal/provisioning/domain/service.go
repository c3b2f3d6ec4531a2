package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrNoVMsRequested   = errors.New("no_vms_requested")
	ErrValidationFailed = errors.New("validation_failed")
)

type Service interface {
	// Validate checks whether the organization can afford the entire first
	// month of the requested VMs. A missing wallet or a shortfall is an
	// invalid result with a message, never an error.
	Validate(ctx context.Context, orgID snowflake.ID, vms []VMRequest) (*ValidationResult, error)

	// Charge re-validates and then, in one unit of work, debits the
	// immediate disk charge and creates the billing records. A stale
	// validation result is never trusted.
	Charge(ctx context.Context, orgID snowflake.ID, vms []VMRequest) (*ChargeResult, error)

	// Run drives the five-step provisioning workflow and returns the
	// ordered step list. A terminal failure halts the remaining steps.
	Run(ctx context.Context, orgID snowflake.ID, vms []VMRequest) []WorkflowStep
}
