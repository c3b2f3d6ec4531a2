package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	pricingdomain "github.com/stratusbill/walletd/internal/pricing/domain"
	walletdomain "github.com/stratusbill/walletd/internal/wallet/domain"
	"github.com/stratusbill/walletd/pkg/db/pagination"
)

func (s *Server) GetWalletStatus(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	page := pagination.Pagination{
		PageSize:  10,
		PageToken: c.Query("page_token"),
	}

	status, err := s.walletSvc.GetStatus(c.Request.Context(), orgID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

type createWalletRequest struct {
	Currency            string `json:"currency"`
	BillingMode         string `json:"billing_mode"`
	InitialBalanceCents int64  `json:"initial_balance_cents"`
}

func (s *Server) CreateWallet(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	wallet, err := s.walletSvc.CreateWallet(c.Request.Context(), walletdomain.CreateWalletRequest{
		OrgID:               orgID,
		Currency:            req.Currency,
		BillingMode:         walletdomain.BillingMode(req.BillingMode),
		InitialBalanceCents: req.InitialBalanceCents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wallet)
}

type topupRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (s *Server) ManualTopup(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req topupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	result := s.walletSvc.ManualTopup(c.Request.Context(), orgID, req.AmountCents)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

type optimalTopupRequest struct {
	PlannedVMs []pricingdomain.VMSpecification `json:"planned_vms"`
}

func (s *Server) OptimalTopup(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req optimalTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	result, err := s.walletSvc.OptimalTopup(c.Request.Context(), orgID, req.PlannedVMs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type autoTopupRequest struct {
	Enabled        bool  `json:"enabled"`
	ThresholdCents int64 `json:"threshold_cents"`
	AmountCents    int64 `json:"amount_cents"`
}

func (s *Server) ConfigureAutoTopup(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req autoTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	result := s.walletSvc.ConfigureAutoTopup(c.Request.Context(), orgID, req.Enabled, req.ThresholdCents, req.AmountCents)
	if !result.Success {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetWalletAlerts(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	alerts, err := s.walletSvc.MonitorBalance(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}
