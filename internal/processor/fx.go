package processor

import (
	"github.com/smallbiznis/payflow/internal/config"
	"github.com/smallbiznis/payflow/internal/processor/domain"
	"github.com/smallbiznis/payflow/internal/processor/stripe"
	"go.uber.org/fx"
)

func newClient(cfg config.Config) *stripe.Client {
	return stripe.NewClient(stripe.Config{
		APIKey:        cfg.StripeAPIKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		BaseURL:       cfg.StripeBaseURL,
		Timeout:       cfg.StripeTimeout,
	})
}

var Module = fx.Module("processor",
	fx.Provide(newClient),
	fx.Provide(func(c *stripe.Client) domain.Processor { return c }),
	fx.Provide(func(c *stripe.Client) domain.WebhookDecoder { return c }),
)
