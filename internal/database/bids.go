package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// CreateBid appends a bid against an open request. The (transaction, user)
// pair is unique; a second bid by the same user fails with
// ErrDuplicateAction.
func (s *Service) CreateBid(ctx context.Context, bid *models.Bid) (*models.Bid, error) {
	if bid.Id == "" {
		bid.Id = uuid.New().String()
	}

	zap.L().Info("Creating bid",
		zap.String("bid_id", bid.Id),
		zap.String("transaction_id", bid.TransactionId),
		zap.String("user_id", bid.UserId))

	_, err := s.db.ExecContext(ctx, queryInsertBid, bid.Id, bid.TransactionId, bid.UserId, bid.Message)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: user %s already bid on transaction %s",
				store.ErrDuplicateAction, bid.UserId, bid.TransactionId)
		}
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}

	return s.getBid(ctx, bid.TransactionId, bid.UserId)
}

func (s *Service) getBid(ctx context.Context, transactionId, userId string) (*models.Bid, error) {
	var bid models.Bid
	err := s.db.QueryRowContext(ctx, queryGetBid, transactionId, userId).Scan(
		&bid.Id, &bid.TransactionId, &bid.UserId, &bid.Message, &bid.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: bid by %s on %s", store.ErrNotFound, userId, transactionId)
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return &bid, nil
}

// ListBids returns all bids on a transaction, oldest first.
func (s *Service) ListBids(ctx context.Context, transactionId string) ([]models.Bid, error) {
	rows, err := s.db.QueryContext(ctx, queryListBids, transactionId)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var bids []models.Bid
	for rows.Next() {
		var bid models.Bid
		if err := rows.Scan(&bid.Id, &bid.TransactionId, &bid.UserId, &bid.Message, &bid.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bid rows: %w", err)
	}

	return bids, nil
}
