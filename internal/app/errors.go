package app

import "fmt"

// DomainError is the single error shape service methods return for expected
// failures: an HTTP-style status, a stable machine code such as OFFER_CONFLICT
// or NO_VALID_ANSWERS, a human message, and optional structured details.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
