package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingTable holds the per-resource rates used by the pricing engine.
// All amounts are integer minor units (cents) so no floating point ever
// touches a currency value.
type PricingTable struct {
	// Monthly recurring rates.
	VCPUStandardCents int64 `mapstructure:"vcpuStandardCents"`
	VCPUHighCents     int64 `mapstructure:"vcpuHighCents"`
	MemoryGBCents     int64 `mapstructure:"memoryGbCents"`
	NetworkCents      int64 `mapstructure:"networkCents"`
	WindowsCents      int64 `mapstructure:"windowsCents"`
	BackupCents       int64 `mapstructure:"backupCents"`
	MonitoringCents   int64 `mapstructure:"monitoringCents"`

	// One-time disk charge per started 100GB unit.
	StorageStandardCents int64 `mapstructure:"storageStandardCents"`
	StoragePremiumCents  int64 `mapstructure:"storagePremiumCents"`
}

func DefaultPricingTable() PricingTable {
	return PricingTable{
		VCPUStandardCents:    7_800,
		VCPUHighCents:        11_700,
		MemoryGBCents:        3_800,
		NetworkCents:         1_500,
		WindowsCents:         35_000,
		BackupCents:          9_500,
		MonitoringCents:      4_500,
		StorageStandardCents: 18_000,
		StoragePremiumCents:  32_000,
	}
}

// PricingHolder exposes the current pricing table and hot-reloads it when the
// underlying config file changes.
type PricingHolder struct {
	current atomic.Value // holds PricingTable
}

func NewPricingHolder(appCfg Config) (*PricingHolder, error) {
	v := viper.New()

	if appCfg.PricingConfigPath != "" {
		v.SetConfigFile(appCfg.PricingConfigPath)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/var/lib/walletd/config")
		v.AddConfigPath("/etc/walletd")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WALLETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPricingTable()
	v.SetDefault("pricing.vcpuStandardCents", defaults.VCPUStandardCents)
	v.SetDefault("pricing.vcpuHighCents", defaults.VCPUHighCents)
	v.SetDefault("pricing.memoryGbCents", defaults.MemoryGBCents)
	v.SetDefault("pricing.networkCents", defaults.NetworkCents)
	v.SetDefault("pricing.windowsCents", defaults.WindowsCents)
	v.SetDefault("pricing.backupCents", defaults.BackupCents)
	v.SetDefault("pricing.monitoringCents", defaults.MonitoringCents)
	v.SetDefault("pricing.storageStandardCents", defaults.StorageStandardCents)
	v.SetDefault("pricing.storagePremiumCents", defaults.StoragePremiumCents)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var table PricingTable
	if err := v.UnmarshalKey("pricing", &table); err != nil {
		return nil, err
	}
	if err := validatePricingTable(table); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(table)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PricingTable
			if err := v.UnmarshalKey("pricing", &updated); err != nil {
				log.Printf("[pricing-config] reload failed: %v", err)
				return
			}
			if err := validatePricingTable(updated); err != nil {
				log.Printf("[pricing-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[pricing-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticPricingHolder wraps a fixed table, used by tests and the simulator.
func NewStaticPricingHolder(table PricingTable) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(table)
	return holder
}

func (h *PricingHolder) Get() PricingTable {
	return h.current.Load().(PricingTable)
}

func validatePricingTable(t PricingTable) error {
	if t.VCPUStandardCents <= 0 || t.VCPUHighCents <= 0 {
		return errors.New("pricing: vcpu rates must be positive")
	}
	if t.MemoryGBCents <= 0 {
		return errors.New("pricing: memory rate must be positive")
	}
	if t.StorageStandardCents <= 0 || t.StoragePremiumCents <= 0 {
		return errors.New("pricing: storage rates must be positive")
	}
	if t.VCPUHighCents < t.VCPUStandardCents {
		return errors.New("pricing: high cpu tier cannot undercut standard")
	}
	return nil
}
