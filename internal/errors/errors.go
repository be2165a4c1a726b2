// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a TradeError.
type Kind string

const (
	KindUnknownIndex      Kind = "UNKNOWN_INDEX"
	KindInvalidDirection  Kind = "INVALID_DIRECTION"
	KindInvalidPrice      Kind = "INVALID_PRICE"
	KindIncompleteExpiry  Kind = "INCOMPLETE_EXPIRY"
	KindExpiryFetch       Kind = "EXPIRY_FETCH"
	KindPriceUnavailable  Kind = "PRICE_UNAVAILABLE"
	KindNotAuthenticated  Kind = "NOT_AUTHENTICATED"
	KindInvalidInput      Kind = "INVALID_INPUT"
	KindOrderRejected     Kind = "ORDER_REJECTED"
	KindExitFailed        Kind = "EXIT_FAILED"
	KindBrokerUnavailable Kind = "BROKER_UNAVAILABLE"
)

// Standard sentinel errors, one per Kind. A *TradeError matches the
// sentinel of its kind with errors.Is.
var (
	ErrUnknownIndex      = errors.New("unknown index")
	ErrInvalidDirection  = errors.New("invalid direction")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrIncompleteExpiry  = errors.New("incomplete expiry")
	ErrExpiryFetch       = errors.New("expiry fetch failed")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidInput      = errors.New("input validation failed")
	ErrOrderRejected     = errors.New("order rejected")
	ErrExitFailed        = errors.New("exit failed")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrSessionNotFound   = errors.New("session not found")
)

var kindSentinels = map[Kind]error{
	KindUnknownIndex:      ErrUnknownIndex,
	KindInvalidDirection:  ErrInvalidDirection,
	KindInvalidPrice:      ErrInvalidPrice,
	KindIncompleteExpiry:  ErrIncompleteExpiry,
	KindExpiryFetch:       ErrExpiryFetch,
	KindPriceUnavailable:  ErrPriceUnavailable,
	KindNotAuthenticated:  ErrNotAuthenticated,
	KindInvalidInput:      ErrInvalidInput,
	KindOrderRejected:     ErrOrderRejected,
	KindExitFailed:        ErrExitFailed,
	KindBrokerUnavailable: ErrBrokerUnavailable,
}

// Sentinel returns the sentinel error for the kind.
func (k Kind) Sentinel() error {
	return kindSentinels[k]
}

// TradeError is the structured failure surfaced to users. It carries a
// message fit for display, a suggested remedy and the underlying cause.
type TradeError struct {
	Kind        Kind
	Code        int // broker status code, 0 when not applicable
	UserMessage string
	Suggestion  string
	Details     string
	Err         error
}

func (e *TradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.UserMessage, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.UserMessage)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *TradeError) Is(target error) bool {
	s := e.Kind.Sentinel()
	return s != nil && target == s
}

// New creates a TradeError.
func New(kind Kind, userMessage, suggestion string, err error) *TradeError {
	return &TradeError{
		Kind:        kind,
		UserMessage: userMessage,
		Suggestion:  suggestion,
		Err:         err,
	}
}

// NewUnknownIndex reports an index outside the supported set.
func NewUnknownIndex(index string) *TradeError {
	return &TradeError{
		Kind:        KindUnknownIndex,
		UserMessage: fmt.Sprintf("Unknown index %q", index),
		Suggestion:  "Use NIFTY or BANKNIFTY",
	}
}

// NewInvalidDirection reports a direction other than CALL or PUT.
func NewInvalidDirection(direction string) *TradeError {
	return &TradeError{
		Kind:        KindInvalidDirection,
		UserMessage: fmt.Sprintf("Invalid direction %q", direction),
		Suggestion:  "Use CALL or PUT",
	}
}

// NewInvalidPrice reports a spot price that cannot be rounded to a strike.
func NewInvalidPrice(price float64) *TradeError {
	return &TradeError{
		Kind:        KindInvalidPrice,
		UserMessage: fmt.Sprintf("Invalid spot price %v", price),
		Suggestion:  "Spot price must be a positive finite number",
	}
}

// NewIncompleteExpiry reports a missing or unusable expiry record.
func NewIncompleteExpiry(index string) *TradeError {
	return &TradeError{
		Kind:        KindIncompleteExpiry,
		UserMessage: fmt.Sprintf("No expiry available for %s", index),
		Suggestion:  "Refresh the expiry calendar and try again",
	}
}

// NewExpiryFetch wraps a failed expiry refresh.
func NewExpiryFetch(index string, err error) *TradeError {
	return &TradeError{
		Kind:        KindExpiryFetch,
		UserMessage: fmt.Sprintf("Could not fetch expiry for %s", index),
		Suggestion:  "Check the Fyers session and retry",
		Err:         err,
	}
}

// NewPriceUnavailable wraps a failed spot price lookup.
func NewPriceUnavailable(index string, err error) *TradeError {
	return &TradeError{
		Kind:        KindPriceUnavailable,
		UserMessage: fmt.Sprintf("Spot price for %s is unavailable", index),
		Suggestion:  "Check the Fyers session and retry",
		Err:         err,
	}
}

// NewNotAuthenticated reports a broker call made without a session.
func NewNotAuthenticated(broker string) *TradeError {
	return &TradeError{
		Kind:        KindNotAuthenticated,
		UserMessage: fmt.Sprintf("Not logged in to %s", broker),
		Suggestion:  fmt.Sprintf("Run the %s login flow first", broker),
	}
}

// NewInvalidInput reports a request field that failed validation.
func NewInvalidInput(field, message string) *TradeError {
	return &TradeError{
		Kind:        KindInvalidInput,
		UserMessage: fmt.Sprintf("%s: %s", field, message),
		Suggestion:  "Correct the request and try again",
	}
}

// KindOf returns the kind of the first TradeError in err's chain.
func KindOf(err error) (Kind, bool) {
	var te *TradeError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
