package premium

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/premiumgate/pkg/config"
)

// Module exposes the per-user premium services via Fx.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Invoke(registerSweeper),
)

func registerSweeper(lc fx.Lifecycle, cfg *config.Config, reg *Registry, log *zap.SugaredLogger) {
	idle := cfg.Premium.RegistryIdle
	if idle <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(idle / 2)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := reg.Sweep(idle); n > 0 {
							log.Debugw("premium_registry_swept", "removed", n, "remaining", reg.Len())
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
