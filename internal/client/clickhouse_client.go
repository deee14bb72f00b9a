package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/util"
)

const (
	clickhouseNativePort       = "9000"
	clickhouseNativeSecurePort = "9440"
)

// ClickHouseClient holds the native-protocol connection used to export
// daily chatbot stats.
type ClickHouseClient struct {
	conn     driver.Conn
	database string
}

func NewClickHouseClient(cfg config.ClickhouseConfig, production bool) (*ClickHouseClient, error) {
	opts, err := clickhouseOptions(cfg, production)
	if err != nil {
		return nil, err
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.Strings("addr", opts.Addr),
		zap.String("database", cfg.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn, database: cfg.Database}, nil
}

// clickhouseOptions accepts "host", "host:port" or a URL with one of the
// clickhouse, clickhouses, http or https schemes. Secure schemes and
// production deployments always use TLS.
func clickhouseOptions(cfg config.ClickhouseConfig, production bool) (*ch.Options, error) {
	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid CLICKHOUSE_URL %q: %w", cfg.URL, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid CLICKHOUSE_URL %q: missing host", cfg.URL)
	}

	secure := u.Scheme == "https" || u.Scheme == "clickhouses"
	port := u.Port()
	if port == "" {
		port = clickhouseNativePort
		if secure {
			port = clickhouseNativeSecurePort
		}
	}

	opts := &ch.Options{
		Addr: []string{net.JoinHostPort(u.Hostname(), port)},
		Auth: ch.Auth{
			Username: cfg.Username,
			Password: cfg.Password,
			Database: cfg.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     4,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}
	if !secure && !production {
		return opts, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	opts.TLS = tlsConfig
	return opts, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert sends all rows in one native-protocol batch. An empty batch is
// not sent.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for i, row := range rows {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d: %w", i, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch of %d rows to %s: %w", len(rows), c.database, err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}
