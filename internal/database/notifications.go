package database

import (
	"context"
	"database/sql"
	"fmt"

	"otc-settlement-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateNotification persists a directed notification.
func (s *Service) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.Id == "" {
		n.Id = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, queryInsertNotification,
		n.Id, n.UserId, n.Title, n.Message, n.TransactionId, n.RelatedUserId)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userId string, limit, offset int) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx, queryListNotifications, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		err := rows.Scan(&n.Id, &n.UserId, &n.Title, &n.Message,
			&n.TransactionId, &n.RelatedUserId, &n.Read, &n.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification rows: %w", err)
	}

	return notifications, nil
}
