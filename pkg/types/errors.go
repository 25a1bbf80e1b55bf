package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes form a closed set; every error crossing the engine boundary
// carries one.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeRiskDeclined       = "RISK_DECLINED"
	CodeOrderRejected      = "ORDER_REJECTED"
	CodeConflict           = "CONFLICT"
	CodeBrokerTimeout      = "BROKER_TIMEOUT"
	CodeBrokerRejected     = "BROKER_REJECTED"
	CodeBrokerMalformed    = "BROKER_MALFORMED"
	CodeBrokerUnknown      = "BROKER_UNKNOWN"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeStorageFailure     = "STORAGE_FAILURE"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// ValidationError rejects a request field before any state is created.
// Never retried by callers.
type ValidationError struct {
	Field         string `json:"field"`
	Constraint    string `json:"constraint"`
	RejectedValue string `json:"rejected_value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Constraint)
}

func (e *ValidationError) Code() string { return CodeValidationFailed }

// RiskError is a pre-trade decline from the risk gate
type RiskError struct {
	Reason    string `json:"reason"`
	RiskLevel string `json:"risk_level,omitempty"`
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk gate declined: %s", e.Reason)
}

func (e *RiskError) Code() string { return CodeRiskDeclined }

// OrderRejectedError is a business-rule rejection such as an operation
// against a terminal state or a breached notional cap
type OrderRejectedError struct {
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason"`
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order %s rejected: %s", e.OrderID, e.Reason)
}

func (e *OrderRejectedError) Code() string { return CodeOrderRejected }

// ConflictError is an optimistic-concurrency clash; the caller may retry
type ConflictError struct {
	OrderID string `json:"order_id"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent update on order %s", e.OrderID)
}

func (e *ConflictError) Code() string { return CodeConflict }

// BrokerErrorKind classifies external broker failures
type BrokerErrorKind string

const (
	BrokerErrTimeout   BrokerErrorKind = "TIMEOUT"
	BrokerErrRejected  BrokerErrorKind = "REJECTED"
	BrokerErrMalformed BrokerErrorKind = "MALFORMED"
	BrokerErrUnknown   BrokerErrorKind = "UNKNOWN"
)

// BrokerError is an external failure from a broker call. Timeout and
// Rejected count against the broker's circuit breaker.
type BrokerError struct {
	Broker Broker          `json:"broker"`
	Kind   BrokerErrorKind `json:"kind"`
	Err    error           `json:"-"`
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker %s %s: %v", e.Broker, e.Kind, e.Err)
	}
	return fmt.Sprintf("broker %s %s", e.Broker, e.Kind)
}

func (e *BrokerError) Unwrap() error { return e.Err }

func (e *BrokerError) Code() string {
	switch e.Kind {
	case BrokerErrTimeout:
		return CodeBrokerTimeout
	case BrokerErrRejected:
		return CodeBrokerRejected
	case BrokerErrMalformed:
		return CodeBrokerMalformed
	}
	return CodeBrokerUnknown
}

// CountsAgainstBreaker reports whether this failure kind trips the circuit
func (e *BrokerError) CountsAgainstBreaker() bool {
	return e.Kind == BrokerErrTimeout || e.Kind == BrokerErrRejected
}

// ServiceUnavailableError is emitted by an open circuit breaker without
// contacting the broker
type ServiceUnavailableError struct {
	Broker Broker `json:"broker"`
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("broker %s unavailable: circuit open", e.Broker)
}

func (e *ServiceUnavailableError) Code() string { return CodeServiceUnavailable }

// StorageError is a persistence failure; fatal for the current operation
type StorageError struct {
	Op  string `json:"op"`
	Err error  `json:"-"`
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Code() string { return CodeStorageFailure }

// NotFoundError is a lookup miss
type NotFoundError struct {
	OrderID string `json:"order_id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// Coded is implemented by every error in the taxonomy
type Coded interface {
	error
	Code() string
}

// ErrorCode extracts the machine code, defaulting to INTERNAL_ERROR for
// anything outside the taxonomy
func ErrorCode(err error) string {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeInternal
}

// HTTPStatus maps taxonomy errors onto the fixed API status table
func HTTPStatus(err error) int {
	var (
		validation  *ValidationError
		risk        *RiskError
		rejected    *OrderRejectedError
		conflict    *ConflictError
		notFound    *NotFoundError
		unavailable *ServiceUnavailableError
		broker      *BrokerError
		storage     *StorageError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &risk):
		return http.StatusForbidden
	case errors.As(err, &rejected), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &broker):
		return http.StatusBadGateway
	case errors.As(err, &storage):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the standardized error wire shape
type ErrorResponse struct {
	ErrorCode        string             `json:"errorCode"`
	Message          string             `json:"message"`
	Details          string             `json:"details,omitempty"`
	ValidationErrors []*ValidationError `json:"validationErrors,omitempty"`
	Path             string             `json:"path"`
	Status           int                `json:"status"`
	Timestamp        string             `json:"timestamp"`
	CorrelationID    string             `json:"correlationId"`
}

// NewErrorResponse builds the wire shape for any taxonomy error. Storage
// failures are masked as a generic internal error; everything else passes
// through unchanged.
func NewErrorResponse(err error, path, correlationID string, now time.Time) *ErrorResponse {
	resp := &ErrorResponse{
		ErrorCode:     ErrorCode(err),
		Message:       err.Error(),
		Path:          path,
		Status:        HTTPStatus(err),
		Timestamp:     FormatTimestamp(now),
		CorrelationID: correlationID,
	}
	var storage *StorageError
	if errors.As(err, &storage) {
		resp.ErrorCode = CodeInternal
		resp.Message = "internal error"
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		resp.ValidationErrors = []*ValidationError{validation}
	}
	return resp
}
