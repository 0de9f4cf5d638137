package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	var amountStr, offerAmountStr string

	err := row.Scan(&tx.Id, &tx.FromUser, &tx.ToUser, &amountStr, &tx.Currency,
		&tx.Type, &tx.Message, &tx.IsOTC, &tx.OTCState, &tx.OTCFiatCurrency,
		&offerAmountStr, &tx.SelectedTraderId, &tx.MultisigContractAddress,
		&tx.USDTInEscrow, &tx.FiatRejectionCount, &tx.RelatedTransactionId,
		&tx.XPostId, &tx.Likes, &tx.Comments, &tx.Replies, &tx.Version,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	tx.OTCOfferAmount, err = decimal.NewFromString(offerAmountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse offer amount '%s': %w", offerAmountStr, err)
	}

	return &tx, nil
}

// CreateTransaction inserts a new payment or request row.
func (s *Service) CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	if tx.Id == "" {
		tx.Id = uuid.New().String()
	}
	now := time.Now()

	zap.L().Info("Creating transaction",
		zap.String("transaction_id", tx.Id),
		zap.String("from_user", tx.FromUser),
		zap.String("to_user", tx.ToUser),
		zap.String("type", string(tx.Type)),
		zap.String("amount", tx.Amount.String()),
		zap.String("currency", tx.Currency),
		zap.Bool("is_otc", tx.IsOTC))

	_, err := s.db.ExecContext(ctx, queryInsertTransaction,
		tx.Id, tx.FromUser, tx.ToUser, tx.Amount.String(), tx.Currency,
		tx.Type, tx.Message, tx.IsOTC, tx.OTCState, tx.OTCFiatCurrency,
		tx.OTCOfferAmount.String(), tx.SelectedTraderId, tx.MultisigContractAddress,
		tx.USDTInEscrow, tx.FiatRejectionCount, tx.RelatedTransactionId,
		tx.XPostId, tx.Likes, tx.Comments, tx.Replies, 1, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return s.GetTransaction(ctx, tx.Id)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx, queryGetTransaction, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", store.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// UpdateSocialFields patches the social columns only. Settlement state is
// never writable through this path.
func (s *Service) UpdateSocialFields(ctx context.Context, id string, patch models.UpdateTransactionRequest) (*models.Transaction, error) {
	current, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	likes := current.Likes
	if patch.Likes != nil {
		likes = *patch.Likes
	}
	comments := current.Comments
	if patch.Comments != nil {
		comments = *patch.Comments
	}
	replies := current.Replies
	if patch.Replies != nil {
		replies = *patch.Replies
	}
	xPostId := current.XPostId
	if patch.XPostId != nil {
		xPostId = *patch.XPostId
	}

	if _, err := s.db.ExecContext(ctx, queryUpdateSocialFields, likes, comments, replies, xPostId, id); err != nil {
		return nil, fmt.Errorf("failed to update social fields: %w", err)
	}

	return s.GetTransaction(ctx, id)
}

// UpdateOTCState moves a transaction to a new settlement state under
// optimistic locking.
func (s *Service) UpdateOTCState(ctx context.Context, id string, state models.OTCState, version int64) error {
	return s.execVersioned(ctx, queryUpdateOTCState, state, id, version)
}

// SetSelectedTrader records the matched trader and the resulting state.
func (s *Service) SetSelectedTrader(ctx context.Context, id, traderId string, state models.OTCState, version int64) error {
	return s.execVersioned(ctx, querySetSelectedTrader, traderId, state, id, version)
}

// MarkEscrowOpened records that USDT custody began for this transaction.
func (s *Service) MarkEscrowOpened(ctx context.Context, id, contractAddress string, state models.OTCState, version int64) error {
	return s.execVersioned(ctx, queryMarkEscrowOpened, contractAddress, state, id, version)
}

// IncrementFiatRejection bumps the escalation counter and returns the new
// count.
func (s *Service) IncrementFiatRejection(ctx context.Context, id string, state models.OTCState, version int64) (int, error) {
	if err := s.execVersioned(ctx, queryIncrementFiatRejection, state, id, version); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, queryGetFiatRejectionCount, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read rejection count: %w", err)
	}
	return count, nil
}

func (s *Service) execVersioned(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction update failed - %w", store.ErrConcurrentModification)
	}
	return nil
}

// CreateActivityEntry inserts a mirrored activity leg. The dedup tuple is
// enforced by a unique index; a second insert with the same tuple returns
// ErrDuplicateAction instead of a new row.
func (s *Service) CreateActivityEntry(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	created, err := s.CreateTransaction(ctx, tx)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			zap.L().Warn("Duplicate activity leg detected, skipping",
				zap.String("related_transaction_id", tx.RelatedTransactionId),
				zap.String("from_user", tx.FromUser),
				zap.String("to_user", tx.ToUser),
				zap.String("amount", tx.Amount.String()),
				zap.String("currency", tx.Currency))
			return nil, fmt.Errorf("%w: activity leg for %s already mirrored", store.ErrDuplicateAction, tx.RelatedTransactionId)
		}
		return nil, err
	}
	return created, nil
}

// GetUserActivity returns paginated history for a user, newest first.
func (s *Service) GetUserActivity(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, queryGetUserActivity, userId, userId, limit, offset)
}

// ListFeed returns paginated primary feed entries (activity legs excluded).
func (s *Service) ListFeed(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, queryListFeed, limit, offset)
}

// ListStaleAwaiting returns settlements stuck awaiting fiat action since
// before the cutoff.
func (s *Service) ListStaleAwaiting(ctx context.Context, olderThan time.Time) ([]models.Transaction, error) {
	return s.queryTransactions(ctx, queryListStaleAwaiting, olderThan)
}

func (s *Service) queryTransactions(ctx context.Context, query string, args ...interface{}) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *tx)
	}

	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}
