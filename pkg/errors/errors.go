package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Protocol errors for the application authorization service. The numeric
// codes are part of the wire format and must stay stable.
var (
	ErrGeneric = &ServiceError{
		Code:    -1,
		Message: "Error",
		Status:  500,
	}

	ErrUserNotExists = &ServiceError{
		Code:    19,
		Message: "User does not exist",
		Status:  404,
	}

	ErrTitleInvalid = &ServiceError{
		Code:    55,
		Message: "Invalid title",
		Status:  400,
	}

	ErrTitleInUse = &ServiceError{
		Code:    56,
		Message: "Title already in use",
		Status:  409,
	}

	ErrDescriptionInvalid = &ServiceError{
		Code:    57,
		Message: "Invalid description",
		Status:  400,
	}

	ErrWebsiteInvalid = &ServiceError{
		Code:    58,
		Message: "Application website-url invalid",
		Status:  400,
	}

	ErrCallbackInvalid = &ServiceError{
		Code:    58,
		Message: "Application callback-url invalid",
		Status:  400,
	}

	ErrOwnerDeleted = &ServiceError{
		Code:    60,
		Message: "Application creator does not exist anymore",
		Status:  404,
	}

	ErrNoAccess = &ServiceError{
		Code:    65,
		Message: "No user access granted for application",
		Status:  403,
	}

	ErrAlreadyAccess = &ServiceError{
		Code:    66,
		Message: "Application already has user access",
		Status:  409,
	}

	ErrAlreadyRevoked = &ServiceError{
		Code:    67,
		Message: "User has already revoked application access",
		Status:  409,
	}

	ErrApplicationUnknown = &ServiceError{
		Code:    68,
		Message: "Unknown application",
		Status:  404,
	}

	ErrNoPermission = &ServiceError{
		Code:    69,
		Message: "No permission granted",
		Status:  403,
	}

	ErrRequestTokenInvalid = &ServiceError{
		Code:    70,
		Message: "Invalid request token",
		Status:  401,
	}

	ErrRequestTokenExpired = &ServiceError{
		Code:    71,
		Message: "Request token expired",
		Status:  401,
	}

	ErrBearerInvalid = &ServiceError{
		Code:    72,
		Message: "Invalid Bearer",
		Status:  401,
	}

	ErrBearerExpired = &ServiceError{
		Code:    73,
		Message: "Bearer expired",
		Status:  401,
	}

	ErrAuthenticationRequired = &ServiceError{
		Code:    74,
		Message: "Authentication required",
		Status:  401,
	}

	// ErrAuthenticationItems is returned when the composite credential does
	// not decode into exactly five colon-separated fields. It is distinct
	// from ErrApplicationUnknown: the former is a protocol error, the latter
	// a failed lookup.
	ErrAuthenticationItems = &ServiceError{
		Code:    76,
		Message: "5 values split with : required",
		Status:  400,
	}

	ErrNonceUnknown = &ServiceError{
		Code:    95,
		Message: "Unknown authentication nonce",
		Status:  404,
	}

	ErrNonceExpired = &ServiceError{
		Code:    96,
		Message: "Authentication nonce expired",
		Status:  401,
	}

	ErrNonceUsed = &ServiceError{
		Code:    97,
		Message: "Authentication nonce already used",
		Status:  409,
	}

	ErrNonceMismatch = &ServiceError{
		Code:    98,
		Message: "Authentication nonce belongs to another application",
		Status:  403,
	}

	ErrIssuanceExhausted = &ServiceError{
		Code:    99,
		Message: "Failed issuing a unique credential",
		Status:  500,
	}
)

// ServiceError is a protocol-level error. Code is the numeric code clients
// see in the error envelope, Status the HTTP status used at the handler
// boundary.
type ServiceError struct {
	Code    int
	Message string
	Status  int
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Is matches service errors by protocol code so wrapped errors still compare
// equal to the package-level sentinels under errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// Wrap attaches a cause to a ServiceError without mutating the sentinel.
func Wrap(err error, serviceErr *ServiceError) *ServiceError {
	return &ServiceError{
		Code:    serviceErr.Code,
		Message: serviceErr.Message,
		Status:  serviceErr.Status,
		Err:     err,
	}
}

// Envelope is the client-facing error document.
type Envelope struct {
	Result  string `json:"result"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// WriteJSON renders the error envelope onto the response.
func (e *ServiceError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(Envelope{
		Result:  "error",
		Code:    e.Code,
		Message: e.Message,
	})
}
