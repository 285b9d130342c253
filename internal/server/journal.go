package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	"github.com/payrail/creditcore/pkg/db/pagination"
)

func (s *Server) ListJournal(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		ActorID    string `form:"actor_id"`
		Kind       string `form:"kind"`
		StartAt    string `form:"start_at"`
		EndAt      string `form:"end_at"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	startAt, err := parseOptionalTime(query.StartAt, false)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}

	endAt, err := parseOptionalTime(query.EndAt, true)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.journalSvc.List(c.Request.Context(), journaldomain.ListJournalRequest{
		Pagination: query.Pagination,
		CustomerID: strings.TrimSpace(query.CustomerID),
		ActorID:    strings.TrimSpace(query.ActorID),
		Kind:       strings.TrimSpace(query.Kind),
		StartAt:    startAt,
		EndAt:      endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
