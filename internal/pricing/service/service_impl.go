package service

import (
	"fmt"

	"github.com/stratusbill/walletd/internal/config"
	"github.com/stratusbill/walletd/internal/pricing/domain"
	"go.uber.org/fx"
)

type Params struct {
	fx.In

	Pricing *config.PricingHolder
}

type Service struct {
	pricing *config.PricingHolder
}

func NewService(p Params) domain.Service {
	return &Service{pricing: p.Pricing}
}

func (s *Service) Calculate(spec domain.VMSpecification) domain.Breakdown {
	table := s.pricing.Get()

	vcpuRate := table.VCPUStandardCents
	if spec.CPUTier == domain.CPUTierHigh {
		vcpuRate = table.VCPUHighCents
	}

	storageRate := table.StorageStandardCents
	if spec.StorageTier == domain.StorageTierPremium {
		storageRate = table.StoragePremiumCents
	}

	// Started units are always charged in full.
	units := spec.StorageGB / domain.StorageUnitGB
	if spec.StorageGB%domain.StorageUnitGB != 0 || units == 0 {
		units++
	}

	b := domain.Breakdown{
		VCPUCents:    int64(spec.CPUCores) * vcpuRate,
		MemoryCents:  int64(spec.MemoryGB) * table.MemoryGBCents,
		NetworkCents: table.NetworkCents,
		StorageCents: int64(units) * storageRate,
		StorageUnits: units,
	}
	if spec.OS == domain.OSWindows {
		b.OSCents = table.WindowsCents
	}
	if spec.Backup {
		b.BackupCents = table.BackupCents
	}
	if spec.Monitoring {
		b.MonitoringCents = table.MonitoringCents
	}

	b.RecurringMonthlyCents = b.VCPUCents + b.MemoryCents + b.OSCents + b.BackupCents + b.MonitoringCents + b.NetworkCents
	b.ImmediateCents = b.StorageCents
	b.TotalMonthlyCents = b.RecurringMonthlyCents + b.ImmediateCents
	return b
}

func (s *Service) CalculateMulti(specs []domain.VMSpecification) domain.MultiBreakdown {
	multi := domain.MultiBreakdown{
		Items: make([]domain.Breakdown, 0, len(specs)),
	}
	for _, spec := range specs {
		b := s.Calculate(spec)
		multi.Items = append(multi.Items, b)
		multi.RecurringMonthlyCents += b.RecurringMonthlyCents
		multi.ImmediateCents += b.ImmediateCents
		multi.TotalMonthlyCents += b.TotalMonthlyCents
	}
	return multi
}

func (s *Service) ValidateSpec(spec domain.VMSpecification) []domain.Issue {
	var issues []domain.Issue

	if spec.CPUCores <= 0 {
		issues = append(issues, domain.Issue{
			Field: "cpu_cores", Code: "invalid_cpu_cores",
			Message:  "cpu core count must be positive",
			Severity: domain.IssueSeverityError,
		})
	}
	if spec.CPUCores > 64 {
		issues = append(issues, domain.Issue{
			Field: "cpu_cores", Code: "cpu_cores_exceeds_limit",
			Message:  "cpu core count exceeds the 64 core limit",
			Severity: domain.IssueSeverityError,
		})
	}
	switch spec.CPUTier {
	case domain.CPUTierStandard, domain.CPUTierHigh:
	default:
		issues = append(issues, domain.Issue{
			Field: "cpu_tier", Code: "invalid_cpu_tier",
			Message:  fmt.Sprintf("unknown cpu tier %q", spec.CPUTier),
			Severity: domain.IssueSeverityError,
		})
	}
	if spec.MemoryGB <= 0 {
		issues = append(issues, domain.Issue{
			Field: "memory_gb", Code: "invalid_memory",
			Message:  "memory must be positive",
			Severity: domain.IssueSeverityError,
		})
	}
	if spec.StorageGB <= 0 {
		issues = append(issues, domain.Issue{
			Field: "storage_gb", Code: "invalid_storage",
			Message:  "storage size must be positive",
			Severity: domain.IssueSeverityError,
		})
	}
	switch spec.StorageTier {
	case domain.StorageTierStandard, domain.StorageTierPremium:
	default:
		issues = append(issues, domain.Issue{
			Field: "storage_tier", Code: "invalid_storage_tier",
			Message:  fmt.Sprintf("unknown storage tier %q", spec.StorageTier),
			Severity: domain.IssueSeverityError,
		})
	}
	switch spec.OS {
	case domain.OSLinux, domain.OSWindows:
	default:
		issues = append(issues, domain.Issue{
			Field: "os", Code: "invalid_os",
			Message:  fmt.Sprintf("unknown operating system %q", spec.OS),
			Severity: domain.IssueSeverityError,
		})
	}

	if spec.OS == domain.OSWindows && spec.MemoryGB > 0 && spec.MemoryGB < 4 {
		issues = append(issues, domain.Issue{
			Field: "memory_gb", Code: "windows_low_memory",
			Message:  "windows guests below 4GB memory are unsupported by the vendor",
			Severity: domain.IssueSeverityWarning,
		})
	}
	if spec.StorageGB > 0 && spec.StorageGB%domain.StorageUnitGB != 0 {
		issues = append(issues, domain.Issue{
			Field: "storage_gb", Code: "storage_rounded_up",
			Message:  fmt.Sprintf("storage is billed per %dGB unit; %dGB is charged as a full unit", domain.StorageUnitGB, spec.StorageGB),
			Severity: domain.IssueSeverityWarning,
		})
	}

	return issues
}
