package domain

import (
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
)

// VMRequest names a requested VM and carries its specification.
type VMRequest struct {
	Name string                        `json:"name"`
	Spec pricingdomain.VMSpecification `json:"spec"`
}

// ValidationResult is the structured outcome of a provisioning pre-check.
// Insufficient funds is a first-class outcome here, not an error path.
type ValidationResult struct {
	IsValid               bool   `json:"is_valid"`
	Message               string `json:"message"`
	CurrentBalanceCents   int64  `json:"current_balance_cents"`
	TotalMonthlyCents     int64  `json:"total_monthly_cents"`
	RecurringMonthlyCents int64  `json:"recurring_monthly_cents"`
	ImmediateCents        int64  `json:"immediate_cents"`
	ShortfallCents        int64  `json:"shortfall_cents,omitempty"`
	RecommendedTopupCents int64  `json:"recommended_topup_cents,omitempty"`

	Issues    []pricingdomain.Issue        `json:"issues,omitempty"`
	Breakdown pricingdomain.MultiBreakdown `json:"breakdown"`
}

// ChargeResult reports a successful provisioning charge: only the immediate
// disk amount moved; the recurring cost becomes due hour by hour.
type ChargeResult struct {
	Reference       string                                 `json:"reference"`
	ChargedCents    int64                                  `json:"charged_cents"`
	ReservedCents   int64                                  `json:"reserved_cents"`
	NewBalanceCents int64                                  `json:"new_balance_cents"`
	Records         []*billingrecorddomain.VMBillingRecord `json:"records"`
}

type StepName string

const (
	StepWalletCheck  StepName = "wallet_check"
	StepValidation   StepName = "validation"
	StepProvisioning StepName = "provisioning"
	StepBilling      StepName = "billing"
	StepCompletion   StepName = "completion"
)

type StepStatus string

const (
	StepStatusSuccess       StepStatus = "success"
	StepStatusError         StepStatus = "error"
	StepStatusRequiresTopup StepStatus = "requires_topup"
)

// WorkflowStep is one entry in the ordered provisioning flow. Callers inspect
// the list to see exactly where a flow stopped.
type WorkflowStep struct {
	Step    StepName       `json:"step"`
	Status  StepStatus     `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
