package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stratusbill/walletd/internal/simulation"
)

// RunSimulation drives a synthetic multi-month billing run. Registered only
// outside production; a full run rewrites wallet and billing state.
func (s *Server) RunSimulation(c *gin.Context) {
	if s.harness == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var cfg simulation.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	report, err := s.harness.Run(c.Request.Context(), cfg)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) RunHourlyCycle(c *gin.Context) {
	reports, err := s.cycleSvc.RunHourly(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}
