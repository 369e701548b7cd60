package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the DDL statements in dependency order.  votes carries no
// reference to users: a cast vote cannot be traced back to its voter.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		nim            VARCHAR(32)     NOT NULL,
		name           VARCHAR(255)    NOT NULL,
		email          VARCHAR(255)    NULL,
		angkatan       VARCHAR(16)     NULL,
		role           VARCHAR(32)     NOT NULL DEFAULT 'voter',
		password_hash  VARCHAR(255)    NULL,
		access_type    ENUM('online','offline') NOT NULL DEFAULT 'online',
		has_voted      TINYINT(1)      NOT NULL DEFAULT 0,
		vote_method    ENUM('online','offline') NULL,
		voted_at       DATETIME        NULL,
		checked_in_at  DATETIME        NULL,
		checked_in_by  BIGINT UNSIGNED NULL,
		created_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at     DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		deleted_at     DATETIME        NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_users_nim (nim),
		KEY idx_users_email (email),
		KEY idx_users_vote_method (vote_method)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS candidates (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		order_number  INT             NOT NULL,
		name          VARCHAR(255)    NOT NULL,
		vision        TEXT            NULL,
		mission       TEXT            NULL,
		photo_url     VARCHAR(512)    NULL,
		created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted_at    DATETIME        NULL,
		PRIMARY KEY (id),
		UNIQUE KEY uq_candidates_order (order_number)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS votes (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		candidate_id  BIGINT UNSIGNED NOT NULL,
		source        ENUM('online','offline') NOT NULL DEFAULT 'online',
		created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_votes_candidate_source (candidate_id, source),
		KEY idx_votes_created (created_at),
		CONSTRAINT fk_votes_candidate FOREIGN KEY (candidate_id) REFERENCES candidates(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS otp_codes (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		email       VARCHAR(255)    NOT NULL,
		code        CHAR(6)         NOT NULL,
		expires_at  DATETIME        NOT NULL,
		created_at  DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_otp_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS offline_vote_logs (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		candidate_id  BIGINT UNSIGNED NOT NULL,
		count         INT             NOT NULL,
		input_by      BIGINT UNSIGNED NOT NULL,
		created_at    DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_offline_logs_candidate (candidate_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS action_logs (
		id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
		actor_id    BIGINT UNSIGNED NULL,
		actor_name  VARCHAR(255)    NULL,
		action      VARCHAR(64)     NOT NULL,
		target      VARCHAR(255)    NULL,
		details     TEXT            NULL,
		ip_address  VARCHAR(64)     NULL,
		user_agent  VARCHAR(512)    NULL,
		created_at  DATETIME        NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		KEY idx_action_logs_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates every table that does not exist yet.  It is idempotent and
// safe to run on each start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
