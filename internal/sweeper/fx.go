package sweeper

import (
	"context"

	"github.com/smallbiznis/payflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provideHolder(cfg config.Config, log *zap.Logger) (*ConfigHolder, error) {
	return NewConfigHolder(cfg.SweeperConfigPath, log.Named("sweeper.config"))
}

var Module = fx.Module("sweeper",
	fx.Provide(provideHolder),
	fx.Provide(New),
	fx.Invoke(runSweeper),
)

func runSweeper(lc fx.Lifecycle, sweeper *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go sweeper.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
