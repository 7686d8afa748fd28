package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"ingest-service/internal/config"
	"ingest-service/internal/util"
)

const clickhousePageviewsDDL = `
CREATE TABLE IF NOT EXISTS pageviews (
	event_id          String,
	project_id        Int64,
	session_id        Int64,
	visitor_id        Int64,
	url               String,
	page_title        String,
	referrer_category LowCardinality(String),
	utm_source        String,
	utm_medium        String,
	utm_campaign      String,
	country_code      LowCardinality(String),
	device_type       LowCardinality(String),
	browser           LowCardinality(String),
	os                LowCardinality(String),
	created_at        DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(created_at)
ORDER BY (project_id, created_at)`

// ClickHouseClient holds the native connection used by the pageview
// mirror.
type ClickHouseClient struct {
	conn driver.Conn
	mu   sync.RWMutex
}

func NewClickHouseClient(cfg *config.Config) (*ClickHouseClient, error) {
	cc := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(cc.URL)},
		Auth: ch.Auth{
			Username: cc.Username,
			Password: cc.Password,
			Database: cc.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
		Compression:      &ch.Compression{Method: ch.CompressionLZ4},
	}

	if cfg.IsProduction() || strings.HasPrefix(cc.URL, "https://") {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(cc.URL),
		}
		if caPath := envOr("CLICKHOUSE_CA_FILE", ""); caPath != "" {
			caCert, err := os.ReadFile(caPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append ClickHouse CA cert")
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, clickhousePageviewsDDL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create ClickHouse pageviews table: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("addr", opts.Addr[0]),
		zap.String("database", cc.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{conn: conn}, nil
}

// BatchInsert sends rows as one native batch.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}

// extractHostPort strips a scheme and adds the native protocol port when
// none is given.
func extractHostPort(url string) string {
	hostPort := strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")
	hostPort = strings.TrimSuffix(hostPort, "/")
	if !strings.Contains(hostPort, ":") {
		if strings.HasPrefix(url, "https://") {
			return hostPort + ":9440"
		}
		return hostPort + ":9000"
	}
	return hostPort
}

func extractHostname(url string) string {
	return strings.Split(extractHostPort(url), ":")[0]
}
