package clickhouse

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/flexprice/usageledger/internal/config"
	ierr "github.com/flexprice/usageledger/internal/errors"
	"github.com/flexprice/usageledger/internal/logger"
)

// ClickHouseStore holds the ClickHouse connection and implements postgres.IClient.
// ClickHouse has no transactions: WithTx only scopes the identity locks, which are
// process local. Deployments running more than one resolver against ClickHouse rely
// on Kafka partitioning by identity to keep an identity on one consumer.
type ClickHouseStore struct {
	conn   driver.Conn
	logger *logger.Logger
	locks  *keyLocks
}

func NewClickHouseStore(cfg *config.Configuration, log *logger.Logger) (*ClickHouseStore, error) {
	options := &clickhouse.Options{
		Addr: []string{cfg.ClickHouse.Address},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
		Protocol: clickhouse.Native,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
	}
	if cfg.ClickHouse.TLS {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to open clickhouse connection").
			Mark(ierr.ErrDatabase)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, ierr.WithError(err).
			WithHint("Failed to reach clickhouse").
			WithReportableDetails(map[string]interface{}{"address": cfg.ClickHouse.Address}).
			Mark(ierr.ErrDatabase)
	}

	log.Infow("connected to clickhouse",
		"address", cfg.ClickHouse.Address,
		"database", cfg.ClickHouse.Database,
	)

	return newStore(conn, log), nil
}

func newStore(conn driver.Conn, log *logger.Logger) *ClickHouseStore {
	return &ClickHouseStore{
		conn:   conn,
		logger: log,
		locks:  newKeyLocks(),
	}
}

func (s *ClickHouseStore) GetConn() driver.Conn {
	return s.conn
}

func (s *ClickHouseStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
