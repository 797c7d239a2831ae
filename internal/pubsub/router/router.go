package router

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/pubsub"
)

// Router wraps the watermill router with the middleware every consumer shares:
// panic recovery and bounded retries.
type Router struct {
	router *message.Router
	logger *logger.Logger
	config *config.Configuration
}

func NewRouter(cfg *config.Configuration, log *logger.Logger) (*Router, error) {
	wmLogger := pubsub.NewWatermillLogger(log)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 30 * time.Second,
	}, wmLogger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(
		middleware.Recoverer,
		middleware.Retry{
			MaxRetries:      int(cfg.EventProcessing.MaxRetries),
			InitialInterval: cfg.EventProcessing.RetryInitialInterval,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
			Logger:          wmLogger,
		}.Middleware,
		middleware.CorrelationID,
	)

	return &Router{
		router: router,
		logger: log,
		config: cfg,
	}, nil
}

// AddNoPublishHandler registers a consuming handler with its own middleware.
func (r *Router) AddNoPublishHandler(
	name string,
	topic string,
	subscriber message.Subscriber,
	handler message.NoPublishHandlerFunc,
	middlewares ...message.HandlerMiddleware,
) {
	h := r.router.AddNoPublisherHandler(name, topic, subscriber, handler)
	for _, m := range middlewares {
		h.AddMiddleware(m)
	}
	r.logger.Debugw("registered pubsub handler", "handler", name, "topic", topic)
}

// Run blocks until ctx is cancelled or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are running.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	return r.router.Close()
}
