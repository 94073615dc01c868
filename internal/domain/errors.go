package domain

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// ErrorKind is the engine-level classification of a failure.
type ErrorKind string

const (
	KindValidationFailure   ErrorKind = "VALIDATION_FAILURE"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindConcurrencyConflict ErrorKind = "CONCURRENCY_CONFLICT"
	KindDuplicateRequest    ErrorKind = "DUPLICATE_REQUEST"
	KindConfiguration       ErrorKind = "CONFIGURATION_ERROR"
	KindStorageUnavailable  ErrorKind = "STORAGE_UNAVAILABLE"
)

var (
	ErrValidationFailure = apperrors.New("validation failure", apperrors.CategoryValidation).
				WithTextCode(string(KindValidationFailure))
	ErrNotFound = apperrors.New("not found", apperrors.CategoryNotFound).
			WithTextCode(string(KindNotFound))
	ErrConcurrencyConflict = apperrors.New("concurrent modification", apperrors.CategoryConflict).
				WithTextCode(string(KindConcurrencyConflict))
	ErrDuplicateRequest = apperrors.New("duplicate request", apperrors.CategoryConflict).
				WithTextCode(string(KindDuplicateRequest))
	ErrConfiguration = apperrors.New("configuration error", apperrors.CategoryInternal).
				WithTextCode(string(KindConfiguration))
	ErrStorageUnavailable = apperrors.New("storage unavailable", apperrors.CategoryExternal).
				WithTextCode(string(KindStorageUnavailable))
)

func newKindError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func ValidationFailure(message string, metadata map[string]any) *apperrors.Error {
	return newKindError(ErrValidationFailure, message, nil, metadata)
}

func NotFound(message string, metadata map[string]any) *apperrors.Error {
	return newKindError(ErrNotFound, message, nil, metadata)
}

func ConcurrencyConflict(message string, source error, metadata map[string]any) *apperrors.Error {
	return newKindError(ErrConcurrencyConflict, message, source, metadata)
}

func DuplicateRequest(message string, source error, metadata map[string]any) *apperrors.Error {
	return newKindError(ErrDuplicateRequest, message, source, metadata)
}

func ConfigurationError(message string, metadata map[string]any) *apperrors.Error {
	return newKindError(ErrConfiguration, message, nil, metadata)
}

func StorageUnavailable(message string, source error) *apperrors.Error {
	return newKindError(ErrStorageUnavailable, message, source, nil)
}

// KindOf classifies err. Unclassified errors are treated as storage failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *apperrors.Error
	if stderrors.As(err, &ae) {
		switch kind := ErrorKind(ae.TextCode); kind {
		case KindValidationFailure, KindNotFound, KindConcurrencyConflict,
			KindDuplicateRequest, KindConfiguration, KindStorageUnavailable:
			return kind
		}
		switch ae.Category {
		case apperrors.CategoryValidation, apperrors.CategoryBadInput:
			return KindValidationFailure
		case apperrors.CategoryNotFound:
			return KindNotFound
		case apperrors.CategoryConflict:
			return KindConcurrencyConflict
		}
	}
	return KindStorageUnavailable
}

// Classified reports whether err already carries one of the engine kinds.
func Classified(err error) bool {
	var ae *apperrors.Error
	if !stderrors.As(err, &ae) {
		return false
	}
	switch ErrorKind(ae.TextCode) {
	case KindValidationFailure, KindNotFound, KindConcurrencyConflict,
		KindDuplicateRequest, KindConfiguration, KindStorageUnavailable:
		return true
	}
	return false
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a caller may retry after reloading state.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrencyConflict, KindStorageUnavailable:
		return true
	default:
		return false
	}
}
