package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
)

type reserveCreditRequest struct {
	CustomerID     string         `json:"customer_id"`
	Delta          int64          `json:"delta"`
	Override       bool           `json:"override"`
	OverrideReason string         `json:"override_reason"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

// ReserveCredit applies a conditional balance increment. A blocked
// reservation is a 200 with blocked=true and the limit diagnostics, not an
// error status: refusal is a domain outcome the caller acts on.
func (s *Server) ReserveCredit(c *gin.Context) {
	var req reserveCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, creditdomain.ErrInvalidCustomer)
		return
	}

	key, _ := s.idempotencyKey(c, req.IdempotencyKey)

	resp, err := s.creditSvc.Reserve(c.Request.Context(), creditdomain.ReserveRequest{
		CustomerID:     customerID,
		Delta:          req.Delta,
		Override:       req.Override,
		OverrideReason: strings.TrimSpace(req.OverrideReason),
		IdempotencyKey: key,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type releaseCreditRequest struct {
	CustomerID     string         `json:"customer_id"`
	Delta          int64          `json:"delta"`
	Reason         string         `json:"reason"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) ReleaseCredit(c *gin.Context) {
	var req releaseCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, creditdomain.ErrInvalidCustomer)
		return
	}

	key, _ := s.idempotencyKey(c, req.IdempotencyKey)

	resp, err := s.creditSvc.Release(c.Request.Context(), creditdomain.ReleaseRequest{
		CustomerID:     customerID,
		Delta:          req.Delta,
		Reason:         creditdomain.ReleaseReason(strings.ToUpper(strings.TrimSpace(req.Reason))),
		IdempotencyKey: key,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
