package service

import (
	"context"

	"go.uber.org/fx"

	"github.com/inventra/ims-event-hub/internal/dispatch"
	"github.com/inventra/ims-event-hub/internal/domain/session"
)

var Module = fx.Module("service",
	fx.Provide(
		session.NewTable,
		NewTokenVerifier,
		NewSessionManager,
		func(m *SessionManager) dispatch.SessionCloser { return m },
	),
	fx.Invoke(runSessionManager),
)

// runSessionManager ties the liveness sweep to the application lifecycle.
func runSessionManager(lc fx.Lifecycle, m *SessionManager) {
	sweepCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go m.Run(sweepCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			m.Shutdown()
			return nil
		},
	})
}
