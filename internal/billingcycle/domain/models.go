package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// OrgReport is the per-organization outcome of one hourly sweep. One
// organization's failure never leaks into another's report.
type OrgReport struct {
	OrgID        snowflake.ID `json:"organization_id"`
	VMsBilled    int          `json:"vms_billed"`
	ChargedCents int64        `json:"charged_cents"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
	Suspended    int          `json:"suspended"`
	Errors       []string     `json:"errors,omitempty"`
}

type Service interface {
	// RunHourly sweeps every organization with active billing records and
	// debits one hour of usage per powered-on VM. The error return covers
	// enumeration only; per-VM and per-org failures land in the reports.
	RunHourly(ctx context.Context) ([]OrgReport, error)

	// RunHourlyForOrg bills a single organization, used by the simulation
	// harness and the dev endpoints.
	RunHourlyForOrg(ctx context.Context, orgID snowflake.ID) OrgReport
}
