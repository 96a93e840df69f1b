package domain

import "errors"

var (
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrNotFound              = errors.New("intent_not_found")
	ErrVersionConflict       = errors.New("version_conflict")
)
