package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"github.com/stratusbill/walletd/pkg/db/pagination"
)

type billingSummaryResponse struct {
	OrgID                 string                      `json:"organization_id"`
	ActiveVMs             int                         `json:"active_vms"`
	ReservedMonthlyCents  int64                       `json:"reserved_monthly_cents"`
	UsageMonthCents       int64                       `json:"usage_month_cents"`
	ProjectedMonthlyCents int64                       `json:"projected_monthly_cents"`
	Last24hChargedCents   int64                       `json:"last_24h_charged_cents"`
	Last24hCharges        []*walletdomain.Transaction `json:"last_24h_charges"`
}

func (s *Server) GetBillingSummary(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ctx := c.Request.Context()

	summary, err := s.recordRepo.ReservationSummary(ctx, s.db, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	since := s.clock.Now().Add(-24 * time.Hour)
	charged, err := s.walletRepo.SumDebitsSince(ctx, s.db, orgID, since)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	txns, err := s.walletRepo.ListTransactions(ctx, s.db, orgID, &since, pagination.Pagination{PageSize: 100})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	charges := make([]*walletdomain.Transaction, 0, len(txns))
	for _, txn := range txns {
		if txn.Type == walletdomain.TransactionTypeDebit {
			charges = append(charges, txn)
		}
	}

	c.JSON(http.StatusOK, billingSummaryResponse{
		OrgID:                orgID.String(),
		ActiveVMs:            summary.ActiveVMs,
		ReservedMonthlyCents: summary.ReservedCents,
		UsageMonthCents:      summary.UsageCents,
		// Reservations are the ceiling for compute spend in any month.
		ProjectedMonthlyCents: summary.ReservedCents,
		Last24hChargedCents:   charged,
		Last24hCharges:        charges,
	})
}
