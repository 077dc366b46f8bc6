package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gogagureshidze/goga-network-sub001/internal/domain"
)

const uniqueViolation = "23505"

// Open opens a PostgreSQL database using the pgx stdlib driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate runs idempotent DDL migrations on PostgreSQL.
func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id              BIGSERIAL    PRIMARY KEY,
			user_a          TEXT         NOT NULL,
			user_b          TEXT         NOT NULL,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			last_message_at TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id              BIGSERIAL    PRIMARY KEY,
			conversation_id BIGINT       NOT NULL REFERENCES conversations(id),
			sender_id       TEXT         NOT NULL,
			receiver_id     TEXT         NOT NULL,
			text            TEXT         NOT NULL DEFAULT '',
			media_url       TEXT,
			media_type      TEXT,
			created_at      TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
			is_read         BOOLEAN      NOT NULL DEFAULT FALSE
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations (LEAST(user_a, user_b), GREATEST(user_a, user_b))`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations(user_a)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations(user_b)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func mapInsertErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, domain.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
