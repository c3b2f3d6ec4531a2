package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/stratusbill/walletd/internal/provisioning/domain"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/zap"
)

// Run walks the provisioning flow step by step and records each outcome.
// The step list is the API contract: a portal renders it directly, so every
// halt reason must land in a step rather than an error return.
func (s *Service) Run(ctx context.Context, orgID snowflake.ID, vms []domain.VMRequest) []domain.WorkflowStep {
	steps := make([]domain.WorkflowStep, 0, 5)

	wallet, err := s.walletRepo.FindByOrg(ctx, s.db, orgID)
	switch {
	case err != nil:
		return append(steps, domain.WorkflowStep{
			Step:    domain.StepWalletCheck,
			Status:  domain.StepStatusError,
			Message: fmt.Sprintf("wallet lookup failed: %v", err),
		})
	case wallet == nil:
		return append(steps, domain.WorkflowStep{
			Step:    domain.StepWalletCheck,
			Status:  domain.StepStatusError,
			Message: fmt.Sprintf("organization %s has no wallet", orgID),
		})
	}
	steps = append(steps, domain.WorkflowStep{
		Step:    domain.StepWalletCheck,
		Status:  domain.StepStatusSuccess,
		Message: "wallet found",
		Data: map[string]any{
			"balance_cents": wallet.BalanceCents,
			"billing_mode":  string(wallet.BillingMode),
		},
	})

	validation, err := s.Validate(ctx, orgID, vms)
	if err != nil {
		return append(steps, domain.WorkflowStep{
			Step:    domain.StepValidation,
			Status:  domain.StepStatusError,
			Message: fmt.Sprintf("validation failed: %v", err),
		})
	}
	if !validation.IsValid {
		status := domain.StepStatusError
		data := map[string]any{"issues": validation.Issues}
		if validation.ShortfallCents > 0 {
			status = domain.StepStatusRequiresTopup
			data["shortfall_cents"] = validation.ShortfallCents
			data["recommended_topup_cents"] = validation.RecommendedTopupCents
		}
		return append(steps, domain.WorkflowStep{
			Step:    domain.StepValidation,
			Status:  status,
			Message: validation.Message,
			Data:    data,
		})
	}
	steps = append(steps, domain.WorkflowStep{
		Step:    domain.StepValidation,
		Status:  domain.StepStatusSuccess,
		Message: validation.Message,
		Data: map[string]any{
			"total_monthly_cents": validation.TotalMonthlyCents,
			"immediate_cents":     validation.ImmediateCents,
		},
	})

	charge, err := s.Charge(ctx, orgID, vms)
	if err != nil {
		// A race between validation and charge drains the wallet cleanly;
		// surface it as a topup requirement, not an internal error.
		status := domain.StepStatusError
		if errors.Is(err, walletdomain.ErrInsufficientBalance) || errors.Is(err, domain.ErrValidationFailed) {
			status = domain.StepStatusRequiresTopup
		}
		return append(steps, domain.WorkflowStep{
			Step:    domain.StepProvisioning,
			Status:  status,
			Message: fmt.Sprintf("provisioning charge failed: %v", err),
		})
	}

	instanceIDs := make([]string, 0, len(charge.Records))
	for _, r := range charge.Records {
		instanceIDs = append(instanceIDs, r.InstanceID)
	}
	steps = append(steps, domain.WorkflowStep{
		Step:    domain.StepProvisioning,
		Status:  domain.StepStatusSuccess,
		Message: fmt.Sprintf("%d VM(s) provisioned", len(charge.Records)),
		Data:    map[string]any{"instance_ids": instanceIDs},
	})

	steps = append(steps, domain.WorkflowStep{
		Step:    domain.StepBilling,
		Status:  domain.StepStatusSuccess,
		Message: "disk charge applied, hourly billing active",
		Data: map[string]any{
			"reference":         charge.Reference,
			"charged_cents":     charge.ChargedCents,
			"reserved_cents":    charge.ReservedCents,
			"new_balance_cents": charge.NewBalanceCents,
		},
	})

	steps = append(steps, domain.WorkflowStep{
		Step:    domain.StepCompletion,
		Status:  domain.StepStatusSuccess,
		Message: "provisioning complete",
	})

	s.log.Info("provisioning workflow finished",
		zap.String("org_id", orgID.String()),
		zap.Int("steps", len(steps)),
	)
	return steps
}
