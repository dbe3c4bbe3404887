package cmd

import (
	"log/slog"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/adapter/pubsub"
	"github.com/inventra/ims-event-hub/internal/dispatch"
	"github.com/inventra/ims-event-hub/internal/domain/registry"
	"github.com/inventra/ims-event-hub/internal/handler/broker"
	"github.com/inventra/ims-event-hub/internal/handler/ws"
	"github.com/inventra/ims-event-hub/internal/service"
	"github.com/inventra/ims-event-hub/internal/telemetry"
)

// hardStopDeadline bounds the whole shutdown chain: HTTP listener, consumer
// router, session drain.
const hardStopDeadline = 30 * time.Second

// NewApp composes the hub. Module order fixes the stop order: stop hooks run
// in reverse, so the HTTP surface goes first, then the consumer pool, then
// the session drain.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.StopTimeout(hardStopDeadline),
		fx.Supply(cfg),
		fx.Provide(
			NewLogger,
			NewWatermillLogger,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
		telemetry.Module,
		registry.Module,
		service.Module,
		dispatch.Module,
		pubsub.Module,
		broker.Module,
		ws.Module,
	)
}
