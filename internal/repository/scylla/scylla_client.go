package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"ingest-service/internal/config"
	"ingest-service/internal/util"
)

const schemaAttempts = `
CREATE TABLE IF NOT EXISTS rate_attempts (
    marker_key text,
    name       text,
    created_at timestamp,
    PRIMARY KEY (marker_key, name)
)`

const schemaBlocks = `
CREATE TABLE IF NOT EXISTS rate_blocks (
    marker_key    text PRIMARY KEY,
    blocked_until timestamp
)`

type ScyllaClient struct {
	Session *gocql.Session
	config  config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	sc := cfg.Scylla

	cluster := gocql.NewCluster(sc.Nodes...)
	cluster.Keyspace = sc.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}
	if sc.Username != "" && sc.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: sc.Username,
			Password: sc.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{Session: session, config: sc}
	if err := client.ensureSchema(); err != nil {
		session.Close()
		return nil, err
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", sc.Nodes),
		zap.String("keyspace", sc.Keyspace))
	return client, nil
}

func (s *ScyllaClient) ensureSchema() error {
	for _, stmt := range []string{schemaAttempts, schemaBlocks} {
		if err := s.Session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("failed to create marker tables: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	if err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName); err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}
