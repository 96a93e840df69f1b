package domain_test

import (
	"testing"

	"github.com/smallbiznis/payflow/internal/intent/domain"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name      string
		current   domain.Status
		eventType string
		want      domain.Status
		wantOK    bool
	}{
		{
			name:      "created to requires_action",
			current:   domain.StatusCreated,
			eventType: domain.EventTypeRequiresAction,
			want:      domain.StatusRequiresAction,
			wantOK:    true,
		},
		{
			name:      "requires_action to processing",
			current:   domain.StatusRequiresAction,
			eventType: domain.EventTypeProcessing,
			want:      domain.StatusProcessing,
			wantOK:    true,
		},
		{
			name:      "processing to succeeded",
			current:   domain.StatusProcessing,
			eventType: domain.EventTypeSucceeded,
			want:      domain.StatusSucceeded,
			wantOK:    true,
		},
		{
			name:      "created directly to succeeded",
			current:   domain.StatusCreated,
			eventType: domain.EventTypeSucceeded,
			want:      domain.StatusSucceeded,
			wantOK:    true,
		},
		{
			name:      "processing to failed",
			current:   domain.StatusProcessing,
			eventType: domain.EventTypeFailed,
			want:      domain.StatusFailed,
			wantOK:    true,
		},
		{
			name:      "created to canceled",
			current:   domain.StatusCreated,
			eventType: domain.EventTypeCanceled,
			want:      domain.StatusCanceled,
			wantOK:    true,
		},
		{
			name:      "succeeded accepts nothing",
			current:   domain.StatusSucceeded,
			eventType: domain.EventTypeFailed,
			wantOK:    false,
		},
		{
			name:      "failed accepts nothing",
			current:   domain.StatusFailed,
			eventType: domain.EventTypeSucceeded,
			wantOK:    false,
		},
		{
			name:      "canceled accepts nothing",
			current:   domain.StatusCanceled,
			eventType: domain.EventTypeProcessing,
			wantOK:    false,
		},
		{
			name:      "unknown event type is a status no-op",
			current:   domain.StatusProcessing,
			eventType: "payment_intent.amount_capturable_updated",
			want:      domain.StatusProcessing,
			wantOK:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := domain.Transition(tt.current, tt.eventType)
			if ok != tt.wantOK {
				t.Fatalf("Transition(%s, %s) ok = %v, want %v", tt.current, tt.eventType, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Transition(%s, %s) = %s, want %s", tt.current, tt.eventType, got, tt.want)
			}
		})
	}
}

func TestStatusFromProvider(t *testing.T) {
	tests := []struct {
		provider string
		want     domain.Status
	}{
		{"requires_payment_method", domain.StatusRequiresAction},
		{"requires_confirmation", domain.StatusRequiresAction},
		{"requires_action", domain.StatusRequiresAction},
		{"processing", domain.StatusProcessing},
		{"succeeded", domain.StatusSucceeded},
		{"canceled", domain.StatusCanceled},
		{"requires_capture", domain.StatusCreated},
		{"", domain.StatusCreated},
	}
	for _, tt := range tests {
		if got := domain.StatusFromProvider(tt.provider); got != tt.want {
			t.Fatalf("StatusFromProvider(%q) = %s, want %s", tt.provider, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	terminal := []domain.Status{domain.StatusSucceeded, domain.StatusFailed, domain.StatusCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	open := []domain.Status{domain.StatusCreated, domain.StatusRequiresAction, domain.StatusProcessing}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestValidCurrency(t *testing.T) {
	valid := []string{"USD", "usd", " eur ", "JPY"}
	for _, code := range valid {
		if !domain.ValidCurrency(code) {
			t.Fatalf("expected %q to be valid", code)
		}
	}
	invalid := []string{"", "US", "USDT", "XXX", "dollars"}
	for _, code := range invalid {
		if domain.ValidCurrency(code) {
			t.Fatalf("expected %q to be invalid", code)
		}
	}
}
