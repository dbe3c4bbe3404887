// Package broker runs the consumer pool: one watermill router whose handlers
// are members of a single consumer group, wrapped in the retry and
// quarantine supervisor.
package broker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/fx"

	"github.com/inventra/ims-event-hub/config"
	"github.com/inventra/ims-event-hub/internal/adapter/pubsub"
	"github.com/inventra/ims-event-hub/internal/errs"
)

// NewRouter assembles the consumer pool. Per topic it registers
// broker.concurrency handlers (scaled for the inventory topic), each backed
// by its own consumer-group subscriber so the broker balances partitions
// across them.
func NewRouter(
	cfg *config.Config,
	factory *pubsub.SubscriberFactory,
	publisher message.Publisher,
	binder *Binder,
	handlers *Handlers,
	shutdowner fx.Shutdowner,
	log *slog.Logger,
	wmLogger watermill.LoggerAdapter,
) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, wmLogger)
	if err != nil {
		return nil, err
	}

	quarantine, err := middleware.PoisonQueueWithFilter(publisher, cfg.Broker.QuarantineTopic, errs.IsPermanent)
	if err != nil {
		return nil, err
	}

	// Outermost first. Retry sits outside the quarantine filter so permanent
	// failures are quarantined on the first attempt and only transient
	// failures burn retries.
	router.AddMiddleware(
		TraceID,
		Logging(log.With(slog.String("component", "broker"))),
		FatalHalt(shutdowner, log),
		newRetry(wmLogger).Middleware,
		quarantine,
		middleware.Timeout(handlerTimeout),
	)

	bindings := []struct {
		topic     string
		slots     int
		entityKey EntityKeyFunc
		handle    EventHandler
	}{
		{pubsub.TopicPositionEvents, cfg.Broker.Concurrency, positionEntityKey, handlers.Position},
		{pubsub.TopicInventoryEvents, cfg.Broker.Concurrency * cfg.Broker.InventoryConcurrencyMultiplier, inventoryEntityKey, handlers.Inventory},
		{pubsub.TopicLocateEvents, cfg.Broker.Concurrency, noEntityKey, handlers.Locate},
		{pubsub.TopicLimitEvents, cfg.Broker.Concurrency, limitEntityKey, handlers.Limit},
		{pubsub.TopicAlertEvents, cfg.Broker.Concurrency, noEntityKey, handlers.Alert},
		{pubsub.TopicWorkflowEvents, cfg.Broker.Concurrency, noEntityKey, handlers.Workflow},
	}

	for _, b := range bindings {
		for i := 0; i < b.slots; i++ {
			sub, err := factory.New()
			if err != nil {
				return nil, fmt.Errorf("broker: subscriber for %s: %w", b.topic, err)
			}
			router.AddNoPublisherHandler(
				fmt.Sprintf("consume-%s-%d", b.topic, i),
				b.topic,
				sub,
				binder.Bind(b.entityKey, b.handle),
			)
		}
	}
	return router, nil
}
