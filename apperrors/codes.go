package apperrors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Request errors
	CodeValidation   Code = "VALIDATION_FAILED"
	CodeNotConnected Code = "NOT_CONNECTED"
	CodeTimeout      Code = "TIMEOUT"
	CodeNotFound     Code = "NOT_FOUND"

	// Provisioning errors
	CodeCommunityNotFound Code = "COMMUNITY_NOT_FOUND"
	CodeProvisioning      Code = "PROVISIONING_FAILED"

	// Delivery errors
	CodeUserNotFound      Code = "USER_NOT_FOUND"
	CodeDeliveryForbidden Code = "DELIVERY_FORBIDDEN"
	CodeDeliveryFailed    Code = "DELIVERY_FAILED"
)

// HTTPStatus maps the code to the status the HTTP API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeNotConnected:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusServiceUnavailable
	case CodeNotFound, CodeCommunityNotFound, CodeUserNotFound:
		return http.StatusNotFound
	case CodeDeliveryForbidden:
		return http.StatusUnprocessableEntity
	case CodeProvisioning, CodeDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func (c Code) Retryable() bool {
	return c == CodeTimeout
}
