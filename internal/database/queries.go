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

const (
	// User queries
	queryGetActiveUsers = `
		SELECT id, name, email, wallet_address, created_at, updated_at
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, wallet_address) VALUES (?, ?, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, wallet_address, created_at, updated_at
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByEmail = `
		SELECT id, name, email, wallet_address, created_at, updated_at
		FROM users
		WHERE email = ? AND active = 1`

	queryGetUserByWallet = `
		SELECT id, name, email, wallet_address, created_at, updated_at
		FROM users
		WHERE LOWER(wallet_address) = LOWER(?) AND active = 1`

	// Transaction queries
	transactionColumns = `
		id, from_user, to_user, amount, currency, transaction_type, message,
		is_otc, otc_state, otc_fiat_currency, otc_offer_amount,
		selected_trader_id, multisig_contract_address, usdt_in_escrow,
		fiat_rejection_count, related_transaction_id, x_post_id,
		likes, comments, replies, version, created_at, updated_at`

	queryInsertTransaction = `
		INSERT INTO transactions (
			id, from_user, to_user, amount, currency, transaction_type, message,
			is_otc, otc_state, otc_fiat_currency, otc_offer_amount,
			selected_trader_id, multisig_contract_address, usdt_in_escrow,
			fiat_rejection_count, related_transaction_id, x_post_id,
			likes, comments, replies, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransaction = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = ?`

	queryUpdateOTCState = `
		UPDATE transactions
		SET otc_state = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	querySetSelectedTrader = `
		UPDATE transactions
		SET selected_trader_id = ?, otc_state = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	queryMarkEscrowOpened = `
		UPDATE transactions
		SET multisig_contract_address = ?, usdt_in_escrow = 1, otc_state = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	queryIncrementFiatRejection = `
		UPDATE transactions
		SET fiat_rejection_count = fiat_rejection_count + 1, otc_state = ?,
		    version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	queryGetFiatRejectionCount = `
		SELECT fiat_rejection_count FROM transactions WHERE id = ?`

	queryUpdateSocialFields = `
		UPDATE transactions
		SET likes = ?, comments = ?, replies = ?, x_post_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	queryGetUserActivity = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_user = ? OR to_user = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListFeed = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE related_transaction_id = ''
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListStaleAwaiting = `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE otc_state IN ('AWAITING_FIAT_PAYMENT', 'AWAITING_FIAT_CONFIRMATION')
		  AND updated_at < ?
		ORDER BY updated_at`

	// Bid queries
	queryInsertBid = `
		INSERT INTO bids (id, transaction_id, user_id, message)
		VALUES (?, ?, ?, ?)`

	queryGetBid = `
		SELECT id, transaction_id, user_id, message, created_at
		FROM bids
		WHERE transaction_id = ? AND user_id = ?`

	queryListBids = `
		SELECT id, transaction_id, user_id, message, created_at
		FROM bids
		WHERE transaction_id = ?
		ORDER BY created_at`

	// Escrow queries
	escrowColumns = `
		id, transaction_id, contract_address, requester_address, trader_address,
		usdt_amount, onchain_order_id, initiator_choice, counterparty_choice,
		initiator_signed, counterparty_signed, status, is_activated,
		payment_proof_ref, created_at, updated_at`

	queryInsertEscrowRecord = `
		INSERT INTO escrow_records (
			id, transaction_id, contract_address, requester_address, trader_address,
			usdt_amount, onchain_order_id, initiator_choice, counterparty_choice,
			initiator_signed, counterparty_signed, status, is_activated, payment_proof_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 'OPEN', 1, '')`

	queryGetEscrowRecord = `
		SELECT ` + escrowColumns + `
		FROM escrow_records
		WHERE transaction_id = ?`

	queryUpdateInitiatorSignature = `
		UPDATE escrow_records
		SET initiator_choice = ?, initiator_signed = 1, payment_proof_ref = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'OPEN'`

	queryUpdateCounterpartySignature = `
		UPDATE escrow_records
		SET counterparty_choice = ?, counterparty_signed = 1, payment_proof_ref = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'OPEN'`

	queryExecuteEscrow = `
		UPDATE escrow_records
		SET status = 'EXECUTED', updated_at = CURRENT_TIMESTAMP
		WHERE transaction_id = ? AND status = 'OPEN'`

	querySignEscrowState = `
		UPDATE transactions
		SET otc_state = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	// Notification queries
	queryInsertNotification = `
		INSERT INTO notifications (id, user_id, title, message, transaction_id, related_user_id)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryListNotifications = `
		SELECT id, user_id, title, message, transaction_id, related_user_id, read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`
)
