package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "quicktrade/internal/errors"
)

// Response represents the standard API response structure
type Response struct {
	Status     string      `json:"status"`
	Data       interface{} `json:"data,omitempty"`
	ErrorType  string      `json:"error_type,omitempty"`
	Message    string      `json:"message,omitempty"`
	Suggestion string      `json:"suggestion,omitempty"`
	Details    string      `json:"details,omitempty"`
}

// SuccessResponse sends a successful JSON response
func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{
		Status: "success",
		Data:   data,
	})
}

// ErrorResponse sends an error JSON response. TradeErrors keep their kind,
// message and suggestion; anything else is reported as an internal error.
func ErrorResponse(c echo.Context, err error) error {
	var te *apperrors.TradeError
	if errors.As(err, &te) {
		details := te.Details
		if details == "" && te.Err != nil {
			details = te.Err.Error()
		}
		return c.JSON(StatusFor(te.Kind), Response{
			Status:     "error",
			ErrorType:  string(te.Kind),
			Message:    te.UserMessage,
			Suggestion: te.Suggestion,
			Details:    details,
		})
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return c.JSON(he.Code, Response{
			Status:    "error",
			ErrorType: "HTTP_ERROR",
			Message:   msg,
		})
	}

	return c.JSON(http.StatusInternalServerError, Response{
		Status:    "error",
		ErrorType: "INTERNAL",
		Message:   "Internal error",
		Details:   err.Error(),
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindUnknownIndex, apperrors.KindInvalidDirection,
		apperrors.KindInvalidPrice, apperrors.KindInvalidInput:
		return http.StatusBadRequest
	case apperrors.KindNotAuthenticated:
		return http.StatusUnauthorized
	case apperrors.KindOrderRejected, apperrors.KindExitFailed:
		return http.StatusUnprocessableEntity
	case apperrors.KindIncompleteExpiry, apperrors.KindExpiryFetch,
		apperrors.KindPriceUnavailable, apperrors.KindBrokerUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
