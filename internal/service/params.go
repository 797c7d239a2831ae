package service

import (
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/domain/events"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/postgres"
	"github.com/flexprice/usageledger/internal/pubsub"
	"github.com/flexprice/usageledger/internal/sentry"
)

// ServiceParams holds the dependencies shared by services
type ServiceParams struct {
	Logger        *logger.Logger
	Config        *config.Configuration
	DB            postgres.IClient
	EventRepo     events.Repository
	PubSub        pubsub.PubSub
	SentryService *sentry.Service
}

func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	eventRepo events.Repository,
	pubSub pubsub.PubSub,
	sentryService *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:        logger,
		Config:        config,
		DB:            db,
		EventRepo:     eventRepo,
		PubSub:        pubSub,
		SentryService: sentryService,
	}
}
