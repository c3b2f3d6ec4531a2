package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	provisioningdomain "github.com/stratusbill/walletd/internal/provisioning/domain"
)

type provisioningRequest struct {
	VMs []provisioningdomain.VMRequest `json:"vms"`
}

func (s *Server) ValidateProvisioning(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req provisioningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	result, err := s.provSvc.Validate(c.Request.Context(), orgID, req.VMs)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Provision always answers 200 with the ordered step list; callers inspect
// the steps, not the status code, to see where a flow stopped.
func (s *Server) Provision(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req provisioningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	steps := s.provSvc.Run(c.Request.Context(), orgID, req.VMs)
	last := steps[len(steps)-1]
	completed := last.Step == provisioningdomain.StepCompletion && last.Status == provisioningdomain.StepStatusSuccess

	c.JSON(http.StatusOK, gin.H{
		"completed": completed,
		"steps":     steps,
	})
}
