package broker

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/fx"

	"github.com/inventra/ims-event-hub/internal/errs"
)

// handlerTimeout bounds one record's processing including retries inside it.
const handlerTimeout = 30 * time.Second

// TraceID stamps messages missing a correlation id so every log line of one
// record's journey shares a trace handle.
func TraceID(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if middleware.MessageCorrelationID(msg) == "" {
			middleware.SetCorrelationID(watermill.NewUUID(), msg)
		}
		return h(msg)
	}
}

// Logging emits one line per record with the outcome and latency.
func Logging(log *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			out, err := h(msg)
			attrs := []any{
				slog.String("messageUuid", msg.UUID),
				slog.String("traceId", middleware.MessageCorrelationID(msg)),
				slog.Duration("took", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs,
					slog.String("class", errs.ClassOf(err).String()),
					slog.String("code", errs.CodeOf(err)),
					slog.Any("error", err),
				)
				log.Error("EVENT_PROCESSING_FAILED", attrs...)
				return out, err
			}
			log.Debug("EVENT_PROCESSED", attrs...)
			return out, nil
		}
	}
}

// FatalHalt converts a fatal classification into a process shutdown. The
// failing record is not acked, so it is redelivered after a restart.
func FatalHalt(shutdowner fx.Shutdowner, log *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			out, err := h(msg)
			if errs.IsFatal(err) {
				log.Error("FATAL_CONSUMER_ERROR",
					slog.String("messageUuid", msg.UUID),
					slog.Any("error", err),
				)
				if sderr := shutdowner.Shutdown(fx.ExitCode(1)); sderr != nil {
					log.Error("SHUTDOWN_REQUEST_FAILED", slog.Any("error", sderr))
				}
			}
			return out, err
		}
	}
}

// newRetry builds the transient-failure retry policy: a few quick in-process
// attempts; exhaustion surfaces the error so the record is nacked and
// redelivered from the uncommitted offset.
func newRetry(logger watermill.LoggerAdapter) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Second,
		Multiplier:      1.0,
		Logger:          logger,
	}
}
