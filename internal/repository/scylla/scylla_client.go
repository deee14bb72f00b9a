package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/rkohli77/chatbot/internal/config"
	"github.com/rkohli77/chatbot/internal/util"
)

// Statements are the CQL strings the repositories execute. gocql prepares
// and caches them per host on first use.
var Statements = struct {
	InsertSession        string
	GetSession           string
	GetMessageCount      string
	IncrementMessages    string
	TouchSession         string
	EndSession           string
	IndexSessionByDay    string
	RateSessionByDay     string
	IndexActiveChatbot   string
	InsertEntry          string
	InsertEntryByDay     string
	ListEntries          string
	SessionsByDay        string
	EntriesByDayBucket   string
	ActiveChatbotsForDay string
}{
	InsertSession: `INSERT INTO chat_sessions (session_id, chatbot_id, started_at, last_activity_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`,
	GetSession: `SELECT session_id, chatbot_id, started_at, ended_at, satisfaction_rating, last_activity_at
        FROM chat_sessions WHERE session_id = ?`,
	GetMessageCount: `SELECT message_count FROM session_message_counts WHERE session_id = ?`,
	IncrementMessages: `UPDATE session_message_counts SET message_count = message_count + 1
        WHERE session_id = ?`,
	TouchSession: `UPDATE chat_sessions SET last_activity_at = ? WHERE session_id = ? IF EXISTS`,
	EndSession: `UPDATE chat_sessions SET ended_at = ?, satisfaction_rating = ?
        WHERE session_id = ? IF ended_at = null`,
	IndexSessionByDay: `INSERT INTO sessions_by_day (chatbot_id, day, session_id) VALUES (?, ?, ?)`,
	RateSessionByDay: `UPDATE sessions_by_day SET satisfaction_rating = ?
        WHERE chatbot_id = ? AND day = ? AND session_id = ?`,
	IndexActiveChatbot: `INSERT INTO active_chatbots_by_day (day, chatbot_id) VALUES (?, ?)`,
	InsertEntry: `INSERT INTO conversations (session_id, created_at, entry_id, chatbot_id, role, message, response_time_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
	InsertEntryByDay: `INSERT INTO entries_by_day (chatbot_id, day, bucket, created_at, entry_id, role, response_time_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
	ListEntries: `SELECT entry_id, session_id, chatbot_id, role, message, response_time_ms, created_at
        FROM conversations WHERE session_id = ? LIMIT ?`,
	SessionsByDay: `SELECT satisfaction_rating FROM sessions_by_day WHERE chatbot_id = ? AND day = ?`,
	EntriesByDayBucket: `SELECT response_time_ms FROM entries_by_day
        WHERE chatbot_id = ? AND day = ? AND bucket = ? AND created_at >= ? AND created_at < ?`,
	ActiveChatbotsForDay: `SELECT chatbot_id FROM active_chatbots_by_day WHERE day = ?`,
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_sessions (
        session_id text PRIMARY KEY,
        chatbot_id text,
        started_at timestamp,
        ended_at timestamp,
        satisfaction_rating int,
        last_activity_at timestamp
    )`,
	`CREATE TABLE IF NOT EXISTS session_message_counts (
        session_id text PRIMARY KEY,
        message_count counter
    )`,
	`CREATE TABLE IF NOT EXISTS conversations (
        session_id text,
        created_at timestamp,
        entry_id text,
        chatbot_id text,
        role text,
        message text,
        response_time_ms bigint,
        PRIMARY KEY ((session_id), created_at, entry_id)
    ) WITH CLUSTERING ORDER BY (created_at DESC, entry_id ASC)`,
	`CREATE TABLE IF NOT EXISTS entries_by_day (
        chatbot_id text,
        day text,
        bucket int,
        created_at timestamp,
        entry_id text,
        role text,
        response_time_ms bigint,
        PRIMARY KEY ((chatbot_id, day, bucket), created_at, entry_id)
    )`,
	`CREATE TABLE IF NOT EXISTS sessions_by_day (
        chatbot_id text,
        day text,
        session_id text,
        satisfaction_rating int,
        PRIMARY KEY ((chatbot_id, day), session_id)
    )`,
	`CREATE TABLE IF NOT EXISTS active_chatbots_by_day (
        day text,
        chatbot_id text,
        PRIMARY KEY ((day), chatbot_id)
    )`,
}

type ScyllaClient struct {
	Session *gocql.Session
	config  *config.ScyllaConfig
}

func NewScyllaClient(cfg *config.Config) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        time.Second,
		NumRetries: 2,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			CertPath:               scyllaConfig.CertPath,
			KeyPath:                scyllaConfig.KeyPath,
			EnableHostVerification: !cfg.IsDevelopment(),
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}, nil
}

// EnsureSchema creates the session tables in the configured keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply scylla schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.String("keyspace", s.config.Keyspace))
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...any) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
