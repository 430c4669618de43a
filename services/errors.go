package services

import (
	"errors"
	"fmt"
)

// ErrorType classifies a failure for the HTTP layer. Each type maps to one
// status code.
type ErrorType string

const (
	ErrorTypeInvalidRequest        ErrorType = "invalid_request"
	ErrorTypeNotFound              ErrorType = "not_found"
	ErrorTypeRetrievalUnavailable  ErrorType = "retrieval_unavailable"
	ErrorTypeGenerationUnavailable ErrorType = "generation_unavailable"
	ErrorTypeGenerationMalformed   ErrorType = "generation_malformed"
	ErrorTypeUnavailable           ErrorType = "unavailable"
	ErrorTypeInternal              ErrorType = "internal"
)

// DomainError is a classified failure. Message is safe to return to
// clients; Err is the cause and is only logged.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Err == nil {
		return string(e.Type) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Type == e.Type
}

// WithDetail attaches a client-visible detail and returns e.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{Type: errType, Message: message, Err: err}
}

// Sentinels for errors.Is. Never mutate them.
var (
	ErrShuttingDown = NewDomainError(ErrorTypeUnavailable, "service is shutting down", nil)
	ErrInternal     = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

func NewInvalidRequest(message string) *DomainError {
	return NewDomainError(ErrorTypeInvalidRequest, message, nil)
}

// WrapRetrievalUnavailable covers both the embedding and the search backend.
func WrapRetrievalUnavailable(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeRetrievalUnavailable, message, err)
}

func WrapGenerationUnavailable(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeGenerationUnavailable, message, err)
}

func WrapGenerationMalformed(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeGenerationMalformed, message, err)
}

func WrapInternal(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, err)
}

func asDomain(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// GetErrorType returns the type of the first DomainError in err's chain,
// or "" when there is none.
func GetErrorType(err error) ErrorType {
	if de := asDomain(err); de != nil {
		return de.Type
	}
	return ""
}

func GetErrorDetails(err error) map[string]interface{} {
	if de := asDomain(err); de != nil {
		return de.Details
	}
	return nil
}

// PublicMessage returns the client-safe message of err. Anything that is
// not a DomainError gets the generic internal message.
func PublicMessage(err error) string {
	if de := asDomain(err); de != nil && de.Message != "" {
		return de.Message
	}
	return ErrInternal.Message
}

func IsInvalidRequest(err error) bool { return GetErrorType(err) == ErrorTypeInvalidRequest }

func IsRetrievalUnavailable(err error) bool {
	return GetErrorType(err) == ErrorTypeRetrievalUnavailable
}

func IsGenerationUnavailable(err error) bool {
	return GetErrorType(err) == ErrorTypeGenerationUnavailable
}

func IsGenerationMalformed(err error) bool {
	return GetErrorType(err) == ErrorTypeGenerationMalformed
}

func IsUnavailableError(err error) bool { return GetErrorType(err) == ErrorTypeUnavailable }

func IsInternalError(err error) bool { return GetErrorType(err) == ErrorTypeInternal }
