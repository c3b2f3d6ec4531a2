package service

import (
	"testing"

	"github.com/stratusbill/walletd/internal/config"
	"github.com/stratusbill/walletd/internal/pricing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	return NewService(Params{
		Pricing: config.NewStaticPricingHolder(config.DefaultPricingTable()),
	})
}

func TestCalculateLinuxBaseline(t *testing.T) {
	svc := newTestService(t)

	b := svc.Calculate(domain.VMSpecification{
		CPUCores:    2,
		CPUTier:     domain.CPUTierStandard,
		MemoryGB:    4,
		StorageGB:   100,
		StorageTier: domain.StorageTierStandard,
		OS:          domain.OSLinux,
	})

	assert.Equal(t, int64(15_600), b.VCPUCents)
	assert.Equal(t, int64(15_200), b.MemoryCents)
	assert.Equal(t, int64(1_500), b.NetworkCents)
	assert.Equal(t, int64(0), b.OSCents)
	assert.Equal(t, 1, b.StorageUnits)
	assert.Equal(t, int64(18_000), b.StorageCents)

	assert.Equal(t, int64(32_300), b.RecurringMonthlyCents)
	assert.Equal(t, int64(18_000), b.ImmediateCents)
	assert.Equal(t, int64(50_300), b.TotalMonthlyCents)
}

func TestCalculateWindowsWithExtras(t *testing.T) {
	svc := newTestService(t)

	b := svc.Calculate(domain.VMSpecification{
		CPUCores:    4,
		CPUTier:     domain.CPUTierHigh,
		MemoryGB:    8,
		StorageGB:   250,
		StorageTier: domain.StorageTierPremium,
		OS:          domain.OSWindows,
		Backup:      true,
		Monitoring:  true,
	})

	assert.Equal(t, int64(46_800), b.VCPUCents)
	assert.Equal(t, int64(30_400), b.MemoryCents)
	assert.Equal(t, int64(35_000), b.OSCents)
	assert.Equal(t, int64(9_500), b.BackupCents)
	assert.Equal(t, int64(4_500), b.MonitoringCents)
	assert.Equal(t, 3, b.StorageUnits)
	assert.Equal(t, int64(96_000), b.StorageCents)

	assert.Equal(t, int64(127_700), b.RecurringMonthlyCents)
	assert.Equal(t, int64(96_000), b.ImmediateCents)
}

func TestStorageUnitsRoundUp(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		gb    int
		units int
	}{
		{1, 1},
		{100, 1},
		{101, 2},
		{150, 2},
		{200, 2},
		{450, 5},
	}
	for _, tc := range cases {
		b := svc.Calculate(domain.VMSpecification{
			CPUCores:    1,
			CPUTier:     domain.CPUTierStandard,
			MemoryGB:    2,
			StorageGB:   tc.gb,
			StorageTier: domain.StorageTierStandard,
			OS:          domain.OSLinux,
		})
		assert.Equal(t, tc.units, b.StorageUnits, "storage %dGB", tc.gb)
	}
}

func TestCalculateMultiSums(t *testing.T) {
	svc := newTestService(t)

	spec := domain.VMSpecification{
		CPUCores:    2,
		CPUTier:     domain.CPUTierStandard,
		MemoryGB:    4,
		StorageGB:   100,
		StorageTier: domain.StorageTierStandard,
		OS:          domain.OSLinux,
	}
	multi := svc.CalculateMulti([]domain.VMSpecification{spec, spec, spec})

	require.Len(t, multi.Items, 3)
	assert.Equal(t, int64(3*32_300), multi.RecurringMonthlyCents)
	assert.Equal(t, int64(3*18_000), multi.ImmediateCents)
	assert.Equal(t, int64(3*50_300), multi.TotalMonthlyCents)
}

func TestValidateSpecErrors(t *testing.T) {
	svc := newTestService(t)

	issues := svc.ValidateSpec(domain.VMSpecification{
		CPUCores:    0,
		CPUTier:     "turbo",
		MemoryGB:    -1,
		StorageGB:   0,
		StorageTier: "glacier",
		OS:          "beos",
	})

	require.True(t, domain.HasErrors(issues))
	codes := make(map[string]bool)
	for _, issue := range issues {
		codes[issue.Code] = true
	}
	assert.True(t, codes["invalid_cpu_cores"])
	assert.True(t, codes["invalid_cpu_tier"])
	assert.True(t, codes["invalid_memory"])
	assert.True(t, codes["invalid_storage"])
	assert.True(t, codes["invalid_storage_tier"])
	assert.True(t, codes["invalid_os"])
}

func TestValidateSpecWarnings(t *testing.T) {
	svc := newTestService(t)

	issues := svc.ValidateSpec(domain.VMSpecification{
		CPUCores:    2,
		CPUTier:     domain.CPUTierStandard,
		MemoryGB:    2,
		StorageGB:   150,
		StorageTier: domain.StorageTierStandard,
		OS:          domain.OSWindows,
	})

	assert.False(t, domain.HasErrors(issues))
	codes := make(map[string]domain.IssueSeverity)
	for _, issue := range issues {
		codes[issue.Code] = issue.Severity
	}
	assert.Equal(t, domain.IssueSeverityWarning, codes["windows_low_memory"])
	assert.Equal(t, domain.IssueSeverityWarning, codes["storage_rounded_up"])
}

func TestValidateSpecCleanSpecHasNoIssues(t *testing.T) {
	svc := newTestService(t)

	issues := svc.ValidateSpec(domain.VMSpecification{
		CPUCores:    4,
		CPUTier:     domain.CPUTierHigh,
		MemoryGB:    16,
		StorageGB:   200,
		StorageTier: domain.StorageTierPremium,
		OS:          domain.OSLinux,
	})
	assert.Empty(t, issues)
}
