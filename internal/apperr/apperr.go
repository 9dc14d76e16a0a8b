package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-checkable failure category. The streaming error
// event carries the same kind so clients can tell "retry now" from
// "do not retry" from "retry later".
type Kind string

const (
	KindParse               Kind = "parse_error"
	KindValidation          Kind = "validation_error"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindAlreadyGenerating   Kind = "already_generating"
	KindGenerationExhausted Kind = "generation_exhausted"
	KindEmbedding           Kind = "embedding_error"
	KindTimeout             Kind = "timeout"
	KindPersistence         Kind = "persistence_error"
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error

	// Details carries structured context, e.g. validation violations
	// or required/available credit amounts.
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func WithDetails(kind Kind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// KindOf extracts the kind from any error in the chain; unclassified
// failures report as persistence errors so no path returns an
// unstructured failure to a client.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindPersistence
}

func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}

// HTTPStatus maps a kind onto the status the HTTP layer responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindParse, KindValidation:
		return http.StatusUnprocessableEntity
	case KindInsufficientCredits:
		return http.StatusPaymentRequired
	case KindAlreadyGenerating:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindGenerationExhausted, KindEmbedding, KindPersistence:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// InsufficientCredits builds the canonical credit refusal carrying
// required vs available amounts.
func InsufficientCredits(required, available int) *Error {
	return WithDetails(
		KindInsufficientCredits,
		fmt.Sprintf("insufficient credits: required=%d available=%d", required, available),
		map[string]any{"required": required, "available": available},
	)
}
