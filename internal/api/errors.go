package api

import (
	"errors"
	"net/http"

	"grocery-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps a service error onto its HTTP status
func statusFor(err error) int {
	switch service.KindOf(err) {
	case service.KindValidation, service.KindStateConflict:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConcurrent:
		return http.StatusConflict
	case service.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Internal errors are logged and replaced with a
// generic message.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": publicMessage(err)})
}

// publicMessage is the outermost sentinel's text, without wrapped detail
func publicMessage(err error) string {
	for _, sentinel := range publicErrors {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

var publicErrors = []error{
	service.ErrEmptyCart,
	service.ErrInvalidAddress,
	service.ErrInvalidPhone,
	service.ErrInvalidQuantity,
	service.ErrInvalidPaymentMethod,
	service.ErrInvalidStatus,
	service.ErrProductNotFound,
	service.ErrCustomerNotFound,
	service.ErrOrderNotFound,
	service.ErrUnknownTransaction,
	service.ErrInsufficientStock,
	service.ErrAmountMismatch,
	service.ErrPaymentNotCompleted,
	service.ErrInvalidTransition,
	service.ErrPaymentInProgress,
	service.ErrForbidden,
	service.ErrGatewayUnsupported,
}

// reasonCode is the short failure tag passed to the storefront on redirect
func reasonCode(err error) string {
	switch {
	case errors.Is(err, service.ErrUnknownTransaction):
		return "unknown_transaction"
	case errors.Is(err, service.ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, service.ErrPaymentNotCompleted):
		return "not_completed"
	case errors.Is(err, service.ErrPaymentInProgress):
		return "in_progress"
	case errors.Is(err, service.ErrGatewayUnsupported):
		return "unsupported_gateway"
	default:
		return "error"
	}
}
