// Package db applies the application schema at boot. Statements are
// idempotent so every instance can run them unconditionally, the same way
// River applies its own queue migrations on startup.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            uuid PRIMARY KEY,
		email         text NOT NULL UNIQUE,
		name          text NOT NULL DEFAULT '',
		password_hash text NOT NULL,
		plan          text NOT NULL DEFAULT 'free',
		is_admin      boolean NOT NULL DEFAULT FALSE,
		created_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         uuid PRIMARY KEY,
		account_id uuid NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		key_hash   text NOT NULL UNIQUE,
		key_prefix text NOT NULL,
		is_active  boolean NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS engines (
		id                 uuid PRIMARY KEY,
		name               text NOT NULL,
		webhook_url        text NOT NULL,
		status             text NOT NULL DEFAULT 'active',
		last_dispatched_at timestamptz,
		created_at         timestamptz NOT NULL DEFAULT now(),
		updated_at         timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS render_jobs (
		id                    uuid PRIMARY KEY,
		account_id            uuid NOT NULL REFERENCES accounts(id),
		title                 text NOT NULL DEFAULT '',
		message_count         integer NOT NULL,
		has_custom_background boolean NOT NULL DEFAULT FALSE,
		uses_monetization     boolean NOT NULL DEFAULT FALSE,
		timeline              jsonb NOT NULL,
		engine_id             uuid REFERENCES engines(id),
		output_url            text,
		failure_reason        text,
		status                text NOT NULL DEFAULT 'processing',
		created_at            timestamptz NOT NULL DEFAULT now(),
		updated_at            timestamptz NOT NULL DEFAULT now(),
		completed_at          timestamptz
	)`,
	`CREATE TABLE IF NOT EXISTS token_transactions (
		id            uuid PRIMARY KEY,
		account_id    uuid NOT NULL REFERENCES accounts(id),
		type          text NOT NULL,
		amount        bigint NOT NULL,
		balance_after bigint NOT NULL CHECK (balance_after >= 0),
		description   text NOT NULL DEFAULT '',
		render_job_id uuid REFERENCES render_jobs(id),
		metadata      jsonb,
		created_at    timestamptz NOT NULL DEFAULT now()
	)`,
	// Balance reads are "newest row for account"; keep them indexed.
	`CREATE INDEX IF NOT EXISTS ix_token_tx_account_created
		ON token_transactions (account_id, created_at DESC)`,
	// One hold per job.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_token_tx_job_hold
		ON token_transactions (render_job_id)
		WHERE type = 'render_hold'`,
	// One resolution per job, deduct or refund. This is what makes settle
	// idempotent under concurrent webhook redelivery: the second writer hits
	// 23505 instead of double-processing.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_token_tx_job_resolution
		ON token_transactions (render_job_id)
		WHERE type IN ('render_deduct', 'render_refund')`,
	`CREATE INDEX IF NOT EXISTS ix_render_jobs_account
		ON render_jobs (account_id, created_at DESC)`,
}

// Migrate applies the schema. Safe to run on every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
