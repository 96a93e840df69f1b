package domain

import "strings"

// Processor event types the state machine reacts to. Event types outside
// this set are accepted and dedup-marked but leave the status untouched,
// so new processor event types never break ingestion.
const (
	EventTypeRequiresAction = "payment_intent.requires_action"
	EventTypeProcessing     = "payment_intent.processing"
	EventTypeSucceeded      = "payment_intent.succeeded"
	EventTypeFailed         = "payment_intent.payment_failed"
	EventTypeCanceled       = "payment_intent.canceled"
)

// Transition returns the status an event type moves the record to, and
// whether the transition is allowed from the current status. Terminal
// statuses accept no transition. Unknown event types return the current
// status with ok=true: the event is applied as a status no-op.
func Transition(current Status, eventType string) (Status, bool) {
	if current.Terminal() {
		return current, false
	}
	switch strings.TrimSpace(eventType) {
	case EventTypeRequiresAction:
		return StatusRequiresAction, true
	case EventTypeProcessing:
		return StatusProcessing, true
	case EventTypeSucceeded:
		return StatusSucceeded, true
	case EventTypeFailed:
		return StatusFailed, true
	case EventTypeCanceled:
		return StatusCanceled, true
	default:
		return current, true
	}
}

// StatusFromProvider maps a processor-reported intent status onto the
// local state machine. Statuses that mean "the caller still has to act"
// collapse into requires_action; anything unrecognized keeps the record
// in created so the sweep can resolve it later.
func StatusFromProvider(providerStatus string) Status {
	switch strings.TrimSpace(providerStatus) {
	case "requires_payment_method", "requires_confirmation", "requires_action":
		return StatusRequiresAction
	case "processing":
		return StatusProcessing
	case "succeeded":
		return StatusSucceeded
	case "canceled":
		return StatusCanceled
	default:
		return StatusCreated
	}
}

var currencies = map[string]struct{}{
	"AUD": {}, "BRL": {}, "CAD": {}, "CHF": {}, "CNY": {}, "CZK": {},
	"DKK": {}, "EUR": {}, "GBP": {}, "HKD": {}, "HUF": {}, "IDR": {},
	"ILS": {}, "INR": {}, "JPY": {}, "KRW": {}, "MXN": {}, "MYR": {},
	"NOK": {}, "NZD": {}, "PHP": {}, "PLN": {}, "RON": {}, "SEK": {},
	"SGD": {}, "THB": {}, "TRY": {}, "USD": {}, "ZAR": {},
}

// ValidCurrency reports whether code is a recognized 3-letter currency code.
func ValidCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return false
	}
	_, ok := currencies[code]
	return ok
}
