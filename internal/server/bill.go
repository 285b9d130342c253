package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billdomain "github.com/payrail/creditcore/internal/bill/domain"
	"github.com/payrail/creditcore/pkg/db/pagination"
)

type createBillRequest struct {
	CustomerID     string         `json:"customer_id"`
	Amount         int64          `json:"amount"`
	Override       bool           `json:"override"`
	OverrideReason string         `json:"override_reason"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

func (s *Server) CreateBill(c *gin.Context) {
	var req createBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := parseSnowflakeID(req.CustomerID)
	if err != nil {
		AbortWithError(c, billdomain.ErrInvalidCustomer)
		return
	}

	key, _ := s.idempotencyKey(c, req.IdempotencyKey)

	resp, err := s.billSvc.Create(c.Request.Context(), billdomain.CreateBillRequest{
		CustomerID:     customerID,
		Amount:         req.Amount,
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

func (s *Server) GetBillByID(c *gin.Context) {
	resp, err := s.billSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBills(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.billSvc.List(c.Request.Context(), billdomain.ListBillRequest{
		Pagination: query.Pagination,
		CustomerID: strings.TrimSpace(query.CustomerID),
		Status:     strings.TrimSpace(query.Status),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
