package domain

// HoursPerMonth is the flat proration base used for every month regardless of
// calendar length. Reserved amounts, hourly debits and month-end actuals all
// divide by the same constant so a fully utilized month reconciles to zero.
const HoursPerMonth = 744

// StorageUnitGB is the granularity of the one-time disk charge. Partial units
// are always rounded up, never prorated down.
const StorageUnitGB = 100

type CPUTier string

const (
	CPUTierStandard CPUTier = "standard"
	CPUTierHigh     CPUTier = "high"
)

type StorageTier string

const (
	StorageTierStandard StorageTier = "standard"
	StorageTierPremium  StorageTier = "premium"
)

type OperatingSystem string

const (
	OSLinux   OperatingSystem = "linux"
	OSWindows OperatingSystem = "windows"
)

// VMSpecification is the immutable input to pricing. It has no identity of its
// own until a billing record is created for it at provisioning time.
type VMSpecification struct {
	CPUCores    int             `json:"cpu_cores"`
	CPUTier     CPUTier         `json:"cpu_tier"`
	MemoryGB    int             `json:"memory_gb"`
	StorageGB   int             `json:"storage_gb"`
	StorageTier StorageTier     `json:"storage_tier"`
	OS          OperatingSystem `json:"os"`
	Backup      bool            `json:"backup"`
	Monitoring  bool            `json:"monitoring"`
}

// Breakdown itemizes a single VM's cost in integer cents.
//
// Disk is "buy now": the storage amount is charged once at provisioning and
// never recurs. Everything else is recurring and only ever collected through
// the hourly billing cycle.
type Breakdown struct {
	VCPUCents       int64 `json:"vcpu_cents"`
	MemoryCents     int64 `json:"memory_cents"`
	OSCents         int64 `json:"os_cents"`
	BackupCents     int64 `json:"backup_cents"`
	MonitoringCents int64 `json:"monitoring_cents"`
	NetworkCents    int64 `json:"network_cents"`
	StorageCents    int64 `json:"storage_cents"`
	StorageUnits    int   `json:"storage_units"`

	RecurringMonthlyCents int64 `json:"recurring_monthly_cents"`
	ImmediateCents        int64 `json:"immediate_cents"`
	TotalMonthlyCents     int64 `json:"total_monthly_cents"`
}

// HourlyRate reports the recurring rate per hour in cents as a float. Display
// and projections only; money movement always goes through ProrateHours.
func (b Breakdown) HourlyRate() float64 {
	return float64(b.RecurringMonthlyCents) / HoursPerMonth
}

// MultiBreakdown is the element-wise sum over a set of specifications, keeping
// the individual breakdowns for audit.
type MultiBreakdown struct {
	Items []Breakdown `json:"items"`

	RecurringMonthlyCents int64 `json:"recurring_monthly_cents"`
	ImmediateCents        int64 `json:"immediate_cents"`
	TotalMonthlyCents     int64 `json:"total_monthly_cents"`
}

type IssueSeverity string

const (
	IssueSeverityError   IssueSeverity = "error"
	IssueSeverityWarning IssueSeverity = "warning"
)

// Issue is a structured validation finding on a VM specification.
type Issue struct {
	Field    string        `json:"field"`
	Code     string        `json:"code"`
	Message  string        `json:"message"`
	Severity IssueSeverity `json:"severity"`
}

// HasErrors reports whether any issue is a hard error.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == IssueSeverityError {
			return true
		}
	}
	return false
}

// ProrateHours converts a monthly rate into the amount owed for a number of
// billed hours using integer arithmetic, rounding half up. 744 hours always
// reproduce the monthly rate exactly.
func ProrateHours(monthlyCents int64, hours int) int64 {
	if monthlyCents <= 0 || hours <= 0 {
		return 0
	}
	return (monthlyCents*int64(hours) + HoursPerMonth/2) / HoursPerMonth
}

// ProrateOverBase prorates a monthly rate over an arbitrary hour base,
// rounding half up. Month-end actuals use the calendar month's hour count as
// the base so a fully powered-on month always equals the reserved amount.
func ProrateOverBase(monthlyCents int64, hours, baseHours int) int64 {
	if monthlyCents <= 0 || hours <= 0 || baseHours <= 0 {
		return 0
	}
	if hours >= baseHours {
		return monthlyCents
	}
	return (monthlyCents*int64(hours) + int64(baseHours)/2) / int64(baseHours)
}

// HourlyDebit is the amount owed for hour hourIndex (zero-based), defined as
// the delta between consecutive prorations so a full month of debits sums to
// the monthly rate with no rounding drift.
func HourlyDebit(monthlyCents int64, hourIndex int) int64 {
	if hourIndex < 0 {
		return 0
	}
	return ProrateHours(monthlyCents, hourIndex+1) - ProrateHours(monthlyCents, hourIndex)
}
