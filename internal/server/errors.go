package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/payrail/creditcore/internal/audit/domain"
	billdomain "github.com/payrail/creditcore/internal/bill/domain"
	creditdomain "github.com/payrail/creditcore/internal/credit/domain"
	customerdomain "github.com/payrail/creditcore/internal/customer/domain"
	idempotencydomain "github.com/payrail/creditcore/internal/idempotency/domain"
	journaldomain "github.com/payrail/creditcore/internal/journal/domain"
	paymentdomain "github.com/payrail/creditcore/internal/payment/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, creditdomain.ErrOverrideNotAllowed):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: err.Error(),
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, idempotencydomain.ErrInFlight):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isCustomerValidationError(err),
		isCreditValidationError(err),
		isBillValidationError(err),
		isPaymentValidationError(err),
		isJournalValidationError(err),
		isAuditValidationError(err),
		isIdempotencyValidationError(err):
		return true
	default:
		return false
	}
}

func isCustomerValidationError(err error) bool {
	return errors.Is(err, customerdomain.ErrInvalidOrganization) ||
		errors.Is(err, customerdomain.ErrInvalidName) ||
		errors.Is(err, customerdomain.ErrInvalidEmail) ||
		errors.Is(err, customerdomain.ErrInvalidID) ||
		errors.Is(err, customerdomain.ErrInvalidLimit)
}

func isCreditValidationError(err error) bool {
	return errors.Is(err, creditdomain.ErrInvalidOrganization) ||
		errors.Is(err, creditdomain.ErrInvalidActor) ||
		errors.Is(err, creditdomain.ErrInvalidCustomer) ||
		errors.Is(err, creditdomain.ErrInvalidDelta) ||
		errors.Is(err, creditdomain.ErrInvalidKey) ||
		errors.Is(err, creditdomain.ErrInvalidReason) ||
		errors.Is(err, creditdomain.ErrOverrideReason)
}

func isBillValidationError(err error) bool {
	return errors.Is(err, billdomain.ErrInvalidOrganization) ||
		errors.Is(err, billdomain.ErrInvalidCustomer) ||
		errors.Is(err, billdomain.ErrInvalidAmount) ||
		errors.Is(err, billdomain.ErrInvalidKey) ||
		errors.Is(err, billdomain.ErrInvalidID) ||
		errors.Is(err, billdomain.ErrInvalidStatus) ||
		errors.Is(err, billdomain.ErrInvalidPageToken)
}

func isPaymentValidationError(err error) bool {
	return errors.Is(err, paymentdomain.ErrInvalidOrganization) ||
		errors.Is(err, paymentdomain.ErrInvalidCustomer) ||
		errors.Is(err, paymentdomain.ErrInvalidAmount) ||
		errors.Is(err, paymentdomain.ErrInvalidKey) ||
		errors.Is(err, paymentdomain.ErrInvalidPageToken)
}

func isJournalValidationError(err error) bool {
	return errors.Is(err, journaldomain.ErrInvalidOrganization) ||
		errors.Is(err, journaldomain.ErrInvalidActor) ||
		errors.Is(err, journaldomain.ErrInvalidCustomer) ||
		errors.Is(err, journaldomain.ErrInvalidAmount) ||
		errors.Is(err, journaldomain.ErrInvalidKind) ||
		errors.Is(err, journaldomain.ErrInvalidKey) ||
		errors.Is(err, journaldomain.ErrInvalidPageToken)
}

func isAuditValidationError(err error) bool {
	return errors.Is(err, auditdomain.ErrInvalidOrganization) ||
		errors.Is(err, auditdomain.ErrInvalidPageToken) ||
		errors.Is(err, auditdomain.ErrInvalidTimeRange) ||
		errors.Is(err, auditdomain.ErrInvalidAction)
}

func isIdempotencyValidationError(err error) bool {
	return errors.Is(err, idempotencydomain.ErrInvalidOrganization) ||
		errors.Is(err, idempotencydomain.ErrInvalidActor) ||
		errors.Is(err, idempotencydomain.ErrInvalidKey)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, customerdomain.ErrNotFound),
		errors.Is(err, creditdomain.ErrCustomerNotFound),
		errors.Is(err, billdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "override_reason_required":
		return "override_reason"
	case "invalid_idempotency_key":
		return "idempotency_key"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "override_reason_required":
		return "override reason is required"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog reports (error_type, error_code) for the access log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
}
