package testutil

import (
	"context"
	"time"

	"github.com/flexprice/usageledger/internal/clock"
	"github.com/flexprice/usageledger/internal/config"
	"github.com/flexprice/usageledger/internal/logger"
	"github.com/flexprice/usageledger/internal/types"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// Stores holds all in-memory repositories used by service tests
type Stores struct {
	EventRepo *InMemoryEventStore
}

// BaseServiceTestSuite provides common setup for service tests
type BaseServiceTestSuite struct {
	suite.Suite
	ctx    context.Context
	stores Stores
	db     *InMemoryDB
	logger *logger.Logger
	config *config.Configuration
	clock  *clock.Fake
	now    time.Time
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	cfg := config.GetDefaultConfig()
	cfg.EventProcessing.RetryInitialInterval = time.Millisecond
	s.config = cfg

	zapLogger, err := zap.NewDevelopment()
	s.Require().NoError(err)
	s.logger = &logger.Logger{SugaredLogger: zapLogger.Sugar()}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = clock.NewFake(s.now)
	s.ctx = types.SetRequestID(context.Background(), types.GenerateUUID())
	s.db = NewInMemoryDB()
	s.stores = Stores{
		EventRepo: NewInMemoryEventStore(s.clock),
	}
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.stores.EventRepo.Clear()
	s.db.Clear()
}

func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

func (s *BaseServiceTestSuite) GetDB() *InMemoryDB {
	return s.db
}

func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

func (s *BaseServiceTestSuite) GetClock() *clock.Fake {
	return s.clock
}

func (s *BaseServiceTestSuite) GetNow() time.Time {
	return s.now
}
