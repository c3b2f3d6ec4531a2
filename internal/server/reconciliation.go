package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RunReconciliation settles the given month (default: previous). Safe to call
// repeatedly; already settled organizations come back marked as existing.
func (s *Server) RunReconciliation(c *gin.Context) {
	var month time.Time
	if raw := c.Query("month"); raw != "" {
		parsed, err := time.Parse("2006-01", raw)
		if err != nil {
			AbortWithError(c, newValidationError("month", "invalid_month", "month must be formatted YYYY-MM"))
			return
		}
		month = parsed
	}

	results, err := s.reconSvc.RunMonthEnd(c.Request.Context(), month)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
