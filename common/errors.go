package common

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrQuotaExceeded = errors.New("generation limit reached")
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("conflict")
)
