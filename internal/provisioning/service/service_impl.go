package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	billingrecorddomain "github.com/stratusbill/walletd/internal/billingrecord/domain"
	"github.com/stratusbill/walletd/internal/clock"
	"github.com/stratusbill/walletd/internal/provisioning/domain"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	PricingSvc pricingdomain.Service
	WalletSvc  walletdomain.Service
	WalletRepo walletdomain.Repository
	RecordRepo billingrecorddomain.Repository
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	pricingSvc pricingdomain.Service
	walletSvc  walletdomain.Service
	walletRepo walletdomain.Repository
	recordRepo billingrecorddomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("provisioning.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		pricingSvc: p.PricingSvc,
		walletSvc:  p.WalletSvc,
		walletRepo: p.WalletRepo,
		recordRepo: p.RecordRepo,
	}
}

func (s *Service) Validate(ctx context.Context, orgID snowflake.ID, vms []domain.VMRequest) (*domain.ValidationResult, error) {
	return s.validate(ctx, s.db, orgID, vms)
}

func (s *Service) validate(ctx context.Context, db *gorm.DB, orgID snowflake.ID, vms []domain.VMRequest) (*domain.ValidationResult, error) {
	if len(vms) == 0 {
		return nil, domain.ErrNoVMsRequested
	}

	var issues []pricingdomain.Issue
	specs := make([]pricingdomain.VMSpecification, 0, len(vms))
	for _, vm := range vms {
		issues = append(issues, s.pricingSvc.ValidateSpec(vm.Spec)...)
		specs = append(specs, vm.Spec)
	}
	if pricingdomain.HasErrors(issues) {
		return &domain.ValidationResult{
			IsValid: false,
			Message: "one or more VM specifications are invalid",
			Issues:  issues,
		}, nil
	}

	breakdown := s.pricingSvc.CalculateMulti(specs)

	wallet, err := s.walletRepo.FindByOrg(ctx, db, orgID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return &domain.ValidationResult{
			IsValid:           false,
			Message:           fmt.Sprintf("organization %s has no wallet; create one before provisioning", orgID),
			TotalMonthlyCents: breakdown.TotalMonthlyCents,
			ImmediateCents:    breakdown.ImmediateCents,
			Issues:            issues,
			Breakdown:         breakdown,
		}, nil
	}

	result := &domain.ValidationResult{
		CurrentBalanceCents:   wallet.BalanceCents,
		TotalMonthlyCents:     breakdown.TotalMonthlyCents,
		RecurringMonthlyCents: breakdown.RecurringMonthlyCents,
		ImmediateCents:        breakdown.ImmediateCents,
		Issues:                issues,
		Breakdown:             breakdown,
	}

	// The whole first month must be covered, not just the disk charge, so a
	// customer cannot provision compute they cannot sustain for one period.
	if wallet.BalanceCents >= breakdown.TotalMonthlyCents {
		result.IsValid = true
		result.Message = "sufficient balance for provisioning"
		return result, nil
	}

	result.ShortfallCents = breakdown.TotalMonthlyCents - wallet.BalanceCents
	result.RecommendedTopupCents = walletdomain.RecommendedTopup(result.ShortfallCents)
	result.Message = fmt.Sprintf(
		"insufficient balance: need %d cents, have %d cents (shortfall %d cents)",
		breakdown.TotalMonthlyCents, wallet.BalanceCents, result.ShortfallCents,
	)
	return result, nil
}

func (s *Service) Charge(ctx context.Context, orgID snowflake.ID, vms []domain.VMRequest) (*domain.ChargeResult, error) {
	var out *domain.ChargeResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Never trust a caller-supplied validation: balances move between
		// time-of-check and time-of-use.
		validation, err := s.validate(ctx, tx, orgID, vms)
		if err != nil {
			return err
		}
		if !validation.IsValid {
			return fmt.Errorf("%w: %s", domain.ErrValidationFailed, validation.Message)
		}

		now := s.clock.Now()
		names := make([]string, 0, len(vms))
		records := make([]*billingrecorddomain.VMBillingRecord, 0, len(vms))
		for i, vm := range vms {
			item := validation.Breakdown.Items[i]
			name := vm.Name
			if name == "" {
				name = fmt.Sprintf("vm-%s", uuid.NewString()[:8])
			}
			record := &billingrecorddomain.VMBillingRecord{
				ID:                   s.genID.Generate(),
				OrgID:                orgID,
				Name:                 name,
				InstanceID:           uuid.NewString(),
				CPUCores:             vm.Spec.CPUCores,
				CPUTier:              string(vm.Spec.CPUTier),
				MemoryGB:             vm.Spec.MemoryGB,
				StorageGB:            vm.Spec.StorageGB,
				StorageTier:          string(vm.Spec.StorageTier),
				OS:                   string(vm.Spec.OS),
				SpecSnapshot:         specSnapshot(vm.Spec),
				ReservedMonthlyCents: item.RecurringMonthlyCents,
				ImmediateCents:       item.ImmediateCents,
				Status:               billingrecorddomain.StatusActive,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			if err := s.recordRepo.Insert(ctx, tx, record); err != nil {
				return err
			}
			names = append(names, name)
			records = append(records, record)
		}

		posted, err := s.walletSvc.Post(ctx, tx, walletdomain.PostRequest{
			OrgID:       orgID,
			AmountCents: -validation.Breakdown.ImmediateCents,
			Type:        walletdomain.TransactionTypeDebit,
			Description: fmt.Sprintf("provisioning disk charge for %d VM(s): %v", len(vms), names),
		})
		if err != nil {
			return err
		}

		out = &domain.ChargeResult{
			Reference:       posted.Transaction.Reference,
			ChargedCents:    validation.Breakdown.ImmediateCents,
			ReservedCents:   validation.Breakdown.RecurringMonthlyCents,
			NewBalanceCents: posted.Wallet.BalanceCents,
			Records:         records,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("provisioning charge applied",
		zap.String("org_id", orgID.String()),
		zap.String("reference", out.Reference),
		zap.Int64("charged_cents", out.ChargedCents),
		zap.Int64("reserved_cents", out.ReservedCents),
		zap.Int("vms", len(out.Records)),
	)
	return out, nil
}

func specSnapshot(spec pricingdomain.VMSpecification) datatypes.JSONMap {
	return datatypes.JSONMap{
		"cpu_cores":    spec.CPUCores,
		"cpu_tier":     string(spec.CPUTier),
		"memory_gb":    spec.MemoryGB,
		"storage_gb":   spec.StorageGB,
		"storage_tier": string(spec.StorageTier),
		"os":           string(spec.OS),
		"backup":       spec.Backup,
		"monitoring":   spec.Monitoring,
	}
}
