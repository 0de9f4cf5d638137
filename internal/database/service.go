/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"fmt"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.SettlementStore.
var _ store.SettlementStore = (*Service)(nil)

type Service struct {
	db *sql.DB
}

func NewService(ctx context.Context, cfg models.DatabaseConfig) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{db: db}
	if err := service.InitSchema(cfg.SeedDemoUsers); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

// NewServiceWithDB wraps an existing connection. Used by tests with an
// in-memory database.
func NewServiceWithDB(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) InitSchema(seedDemoUsers bool) error {
	schema := `
	-- Users table: identity binding (user id <-> wallet address)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		wallet_address TEXT NOT NULL UNIQUE,
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_users_wallet ON users(wallet_address);

	-- Transactions table: payments, requests and mirrored activity legs.
	-- Append-only; settlement mutates otc columns under optimistic locking.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		from_user TEXT NOT NULL,
		to_user TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		is_otc BOOLEAN NOT NULL DEFAULT 0,
		otc_state TEXT NOT NULL DEFAULT 'NONE',
		otc_fiat_currency TEXT NOT NULL DEFAULT '',
		otc_offer_amount TEXT NOT NULL DEFAULT '0',
		selected_trader_id TEXT NOT NULL DEFAULT '',
		multisig_contract_address TEXT NOT NULL DEFAULT '',
		usdt_in_escrow BOOLEAN NOT NULL DEFAULT 0,
		fiat_rejection_count INTEGER NOT NULL DEFAULT 0,
		related_transaction_id TEXT NOT NULL DEFAULT '',
		x_post_id TEXT NOT NULL DEFAULT '',
		likes INTEGER NOT NULL DEFAULT 0,
		comments TEXT NOT NULL DEFAULT '',
		replies TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_from_user ON transactions(from_user);
	CREATE INDEX IF NOT EXISTS idx_transactions_to_user ON transactions(to_user);
	CREATE INDEX IF NOT EXISTS idx_transactions_otc_state ON transactions(otc_state);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at ON transactions(created_at);

	-- Activity dedup: one mirrored leg per originating transaction and
	-- value-movement tuple. Enforced here so replication stays idempotent
	-- under concurrent duplicate triggers.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_activity_dedup
		ON transactions(related_transaction_id, transaction_type, from_user, to_user, currency, amount)
		WHERE related_transaction_id != '';

	-- Bids table: one bid per user per request
	CREATE TABLE IF NOT EXISTS bids (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		user_id TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(transaction_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_bids_transaction ON bids(transaction_id);

	-- Escrow records: one per transaction once an on-chain order exists
	CREATE TABLE IF NOT EXISTS escrow_records (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL UNIQUE REFERENCES transactions(id),
		contract_address TEXT NOT NULL,
		requester_address TEXT NOT NULL,
		trader_address TEXT NOT NULL,
		usdt_amount TEXT NOT NULL,
		onchain_order_id TEXT NOT NULL,
		initiator_choice INTEGER NOT NULL DEFAULT 0,
		counterparty_choice INTEGER NOT NULL DEFAULT 0,
		initiator_signed BOOLEAN NOT NULL DEFAULT 0,
		counterparty_signed BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'OPEN',
		is_activated BOOLEAN NOT NULL DEFAULT 1,
		payment_proof_ref TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Notifications table: directed, fire-and-forget sink
	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		related_user_id TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if seedDemoUsers {
		users := []struct {
			id     string
			name   string
			email  string
			wallet string
		}{
			{uuid.New().String(), "Alice Johnson", "alice.johnson@example.com", "0xA11CE0000000000000000000000000000000A11C"},
			{uuid.New().String(), "Bob Smith", "bob.smith@example.com", "0xB0B00000000000000000000000000000000000B0"},
			{uuid.New().String(), "Carol Williams", "carol.williams@example.com", "0xCA4010000000000000000000000000000000CA40"},
		}

		for _, user := range users {
			_, err := s.db.Exec(queryInsertUser, user.id, user.name, user.email, user.wallet)
			if err != nil {
				zap.L().Error("Failed to insert demo user", zap.String("name", user.name), zap.Error(err))
			} else {
				zap.L().Info("Demo user created", zap.String("id", user.id), zap.String("name", user.name))
			}
		}
	} else {
		zap.L().Debug("Skipping demo user creation (SEED_DEMO_USERS=false)")
	}

	return nil
}
