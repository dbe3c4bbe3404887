package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/domain/event"
)

// NewMux assembles the HTTP surface: one socket endpoint per channel, the
// admin surface and the ops endpoints.
func NewMux(delivery *Delivery, ops *Ops) *chi.Mux {
	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)

	for _, ch := range event.Channels() {
		mux.Get("/ws/"+string(ch), delivery.Handler(ch))
	}
	mux.Get("/ws/admin/rules", delivery.Handler(event.ChannelAdmin))

	mux.Get("/healthz", ops.Healthz)
	mux.Get("/stats", ops.Stats)
	return mux
}

func NewServer(cfg *config.Config, mux *chi.Mux) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

var Module = fx.Module("ws",
	fx.Provide(
		NewDelivery,
		NewOps,
		NewMux,
		NewServer,
	),
	fx.Invoke(runServer),
)

// runServer starts the listener on fx start. The stop hook shuts the
// listener first; session draining follows in the service module's hook.
func runServer(lc fx.Lifecycle, srv *http.Server, shutdowner fx.Shutdowner, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("HTTP_LISTENING", slog.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("HTTP_SERVER_STOPPED", slog.Any("error", err))
					if sderr := shutdowner.Shutdown(fx.ExitCode(1)); sderr != nil {
						log.Error("SHUTDOWN_REQUEST_FAILED", slog.Any("error", sderr))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
