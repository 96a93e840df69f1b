package intent

import (
	"github.com/smallbiznis/payflow/internal/intent/domain"
	"github.com/smallbiznis/payflow/internal/intent/repository"
	intentservice "github.com/smallbiznis/payflow/internal/intent/service"
	"github.com/smallbiznis/payflow/internal/intent/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("intent",
	fx.Provide(repository.Provide),
	fx.Provide(intentservice.NewService),
	fx.Provide(func(svc *intentservice.Service) domain.Service { return svc }),
	fx.Provide(webhook.NewService),
)
