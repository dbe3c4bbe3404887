package broker

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("broker",
	fx.Provide(
		NewBinder,
		NewHandlers,
		NewRouter,
	),
	fx.Invoke(runRouter),
)

// runRouter ties the consumer pool to the application lifecycle. Closing the
// router stops subscribers first, waits for in-flight handlers up to the
// close timeout and only then releases the consumer group.
func runRouter(lc fx.Lifecycle, router *message.Router, shutdowner fx.Shutdowner, log *slog.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(runCtx); err != nil {
					log.Error("BROKER_ROUTER_STOPPED", slog.Any("error", err))
					if sderr := shutdowner.Shutdown(fx.ExitCode(1)); sderr != nil {
						log.Error("SHUTDOWN_REQUEST_FAILED", slog.Any("error", sderr))
					}
				}
			}()
			select {
			case <-router.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			cancel()
			return router.Close()
		},
	})
}
