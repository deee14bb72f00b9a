package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

type table struct {
	name    string
	columns string
	indexes []string
}

var tables = []table{
	{
		name: "chatbots",
		columns: `
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    color VARCHAR(32) NOT NULL,
    welcome_message TEXT NOT NULL,
    system_prompt TEXT NOT NULL,
    is_deployed BOOLEAN NOT NULL,
    updated_at {{TS}} NOT NULL`,
	},
	{
		name: "documents",
		columns: `
    id VARCHAR(64) PRIMARY KEY,
    chatbot_id VARCHAR(64) NOT NULL,
    title VARCHAR(255) NOT NULL,
    content TEXT NOT NULL,
    created_at {{TS}} NOT NULL`,
		indexes: []string{"idx_documents_chatbot (chatbot_id, created_at)"},
	},
	{
		name: "chat_sessions",
		columns: `
    session_id VARCHAR(64) PRIMARY KEY,
    chatbot_id VARCHAR(64) NOT NULL,
    started_at {{TS}} NOT NULL,
    ended_at {{TS}} NULL,
    message_count INTEGER NOT NULL DEFAULT 0,
    satisfaction_rating SMALLINT NULL,
    last_activity_at {{TS}} NOT NULL`,
		indexes: []string{"idx_chat_sessions_chatbot_started (chatbot_id, started_at)", "idx_chat_sessions_started (started_at)"},
	},
	{
		name: "conversations",
		columns: `
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL,
    chatbot_id VARCHAR(64) NOT NULL,
    role VARCHAR(8) NOT NULL,
    message TEXT NOT NULL,
    response_time_ms BIGINT NULL,
    created_at {{TS}} NOT NULL`,
		indexes: []string{"idx_conversations_session (session_id, created_at)", "idx_conversations_chatbot_created (chatbot_id, created_at)"},
	},
	{
		name: "daily_stats",
		columns: `
    chatbot_id VARCHAR(64) NOT NULL,
    stat_date VARCHAR(10) NOT NULL,
    session_count BIGINT NOT NULL,
    message_count BIGINT NOT NULL,
    avg_response_time_ms DOUBLE PRECISION NOT NULL,
    rated_sessions BIGINT NOT NULL,
    avg_satisfaction DOUBLE PRECISION NOT NULL,
    updated_at {{TS}} NOT NULL,
    PRIMARY KEY (chatbot_id, stat_date)`,
	},
}

func (d *DB) timestampType() string {
	switch d.dialect {
	case DialectPostgres:
		return "TIMESTAMPTZ"
	case DialectMySQL:
		return "DATETIME(6)"
	default:
		return "TIMESTAMP"
	}
}

// schemaStatements renders the DDL for the current dialect, one statement each.
// MySQL has no CREATE INDEX IF NOT EXISTS, so its indexes are declared inline.
func (d *DB) schemaStatements() []string {
	ts := d.timestampType()
	var stmts []string
	for _, t := range tables {
		cols := strings.ReplaceAll(t.columns, "{{TS}}", ts)
		if d.dialect == DialectMySQL {
			for _, idx := range t.indexes {
				cols += ",\n    INDEX " + idx
			}
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s\n)", t.name, cols))

		if d.dialect != DialectMySQL {
			for _, idx := range t.indexes {
				name, colsPart, _ := strings.Cut(idx, " ")
				stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s %s", name, t.name, colsPart))
			}
		}
	}
	return stmts
}

// Migrate creates missing tables and indexes.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range d.schemaStatements() {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
