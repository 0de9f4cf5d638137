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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func scanEscrowRecord(row rowScanner) (*models.EscrowRecord, error) {
	var rec models.EscrowRecord
	var amountStr string

	err := row.Scan(&rec.Id, &rec.TransactionId, &rec.ContractAddress,
		&rec.RequesterAddress, &rec.TraderAddress, &amountStr, &rec.OnchainOrderId,
		&rec.InitiatorChoice, &rec.CounterpartyChoice, &rec.InitiatorSigned,
		&rec.CounterpartySigned, &rec.Status, &rec.IsActivated,
		&rec.PaymentProofRef, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.USDTAmount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse usdt amount '%s': %w", amountStr, err)
	}

	return &rec, nil
}

// CreateEscrowRecord inserts the single escrow record for a transaction.
// transaction_id is unique; a second order for the same transaction fails
// with ErrDuplicateAction, never a silent overwrite.
func (s *Service) CreateEscrowRecord(ctx context.Context, rec *models.EscrowRecord) (*models.EscrowRecord, error) {
	if rec.Id == "" {
		rec.Id = uuid.New().String()
	}

	zap.L().Info("Creating escrow record",
		zap.String("escrow_id", rec.Id),
		zap.String("transaction_id", rec.TransactionId),
		zap.String("contract_address", rec.ContractAddress),
		zap.String("usdt_amount", rec.USDTAmount.String()),
		zap.String("onchain_order_id", rec.OnchainOrderId))

	_, err := s.db.ExecContext(ctx, queryInsertEscrowRecord,
		rec.Id, rec.TransactionId, rec.ContractAddress, rec.RequesterAddress,
		rec.TraderAddress, rec.USDTAmount.String(), rec.OnchainOrderId)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, fmt.Errorf("%w: escrow record for transaction %s already exists",
				store.ErrDuplicateAction, rec.TransactionId)
		}
		return nil, fmt.Errorf("failed to insert escrow record: %w", err)
	}

	return s.GetEscrowRecord(ctx, rec.TransactionId)
}

func (s *Service) GetEscrowRecord(ctx context.Context, transactionId string) (*models.EscrowRecord, error) {
	rec, err := scanEscrowRecord(s.db.QueryRowContext(ctx, queryGetEscrowRecord, transactionId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: escrow record for transaction %s", store.ErrNotFound, transactionId)
		}
		return nil, fmt.Errorf("failed to get escrow record: %w", err)
	}
	return rec, nil
}

// SignEscrow atomically records one party's signed choice and executes the
// settlement when both sides now agree. The agreement check and the
// EXECUTED flip happen inside one database transaction, with the flip
// guarded by a compare-and-set from OPEN, so two racing signature calls
// can never both execute.
func (s *Service) SignEscrow(ctx context.Context, params store.SignEscrowParams) (*models.EscrowRecord, bool, error) {
	if params.Choice != models.ChoiceRefund && params.Choice != models.ChoiceRelease {
		return nil, false, fmt.Errorf("%w: invalid escrow choice %d", store.ErrValidation, params.Choice)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanEscrowRecord(tx.QueryRowContext(ctx, queryGetEscrowRecord, params.TransactionId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("%w: escrow record for transaction %s", store.ErrNotFound, params.TransactionId)
		}
		return nil, false, fmt.Errorf("failed to read escrow record: %w", err)
	}

	if rec.Status == models.EscrowExecuted {
		return nil, false, fmt.Errorf("%w: escrow for transaction %s already executed",
			store.ErrStateConflict, params.TransactionId)
	}

	// Re-signing with the same choice is a duplicate; changing the choice
	// (e.g. release -> refund agreement) is a legitimate re-sign while OPEN.
	signQuery := queryUpdateCounterpartySignature
	alreadySigned, currentChoice := rec.CounterpartySigned, rec.CounterpartyChoice
	if params.AsInitiator {
		signQuery = queryUpdateInitiatorSignature
		alreadySigned, currentChoice = rec.InitiatorSigned, rec.InitiatorChoice
	}
	if alreadySigned && currentChoice == params.Choice {
		return nil, false, fmt.Errorf("%w: party already signed with choice %d",
			store.ErrDuplicateAction, params.Choice)
	}

	proofRef := params.ProofRef
	if proofRef == "" {
		proofRef = rec.PaymentProofRef
	}
	if _, err := tx.ExecContext(ctx, signQuery, params.Choice, proofRef, params.TransactionId); err != nil {
		return nil, false, fmt.Errorf("failed to record signature: %w", err)
	}

	if params.AsInitiator {
		rec.InitiatorChoice, rec.InitiatorSigned = params.Choice, true
	} else {
		rec.CounterpartyChoice, rec.CounterpartySigned = params.Choice, true
	}
	rec.PaymentProofRef = proofRef

	agreed := rec.Agreed()
	if agreed {
		result, err := tx.ExecContext(ctx, queryExecuteEscrow, params.TransactionId)
		if err != nil {
			return nil, false, fmt.Errorf("failed to execute escrow: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, false, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return nil, false, fmt.Errorf("escrow execution failed - %w", store.ErrConcurrentModification)
		}
		rec.Status = models.EscrowExecuted
	}

	newState := params.PendingState
	if agreed {
		newState = params.ExecutedState
	}
	if newState != "" {
		if _, err := tx.ExecContext(ctx, querySignEscrowState, newState, params.TransactionId); err != nil {
			return nil, false, fmt.Errorf("failed to update transaction state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit signature: %w", err)
	}

	zap.L().Info("Escrow signature recorded",
		zap.String("transaction_id", params.TransactionId),
		zap.Bool("as_initiator", params.AsInitiator),
		zap.Int("choice", int(params.Choice)),
		zap.Bool("agreed", agreed))

	return rec, agreed, nil
}
