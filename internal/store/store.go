package store

import (
	"context"
	"errors"
	"time"

	"otc-settlement-go/internal/models"
)

// Sentinel errors shared across the settlement core. Handlers map these to
// transport-level responses; everything else is treated as internal.
var (
	// ErrValidation marks missing or malformed input fields.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized marks a caller that is not the required role for a transition.
	ErrUnauthorized = errors.New("caller not authorized")
	// ErrStateConflict marks a transition the current state does not permit.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound marks an absent transaction, bid, escrow record or user.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateAction marks an idempotency guard firing (duplicate bid,
	// second escrow order, already-mirrored activity leg).
	ErrDuplicateAction = errors.New("duplicate action")
	// ErrExternalProvider marks a wallet/contract-facing failure reported by
	// the client-orchestrated step. The core never performs that step itself;
	// the sentinel exists so retryable provider failures stay distinguishable
	// from deterministic rejections.
	ErrExternalProvider = errors.New("external provider failure")
	// ErrConcurrentModification marks a lost optimistic-locking race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// SignEscrowParams carries one party's signature event into the atomic
// sign-and-maybe-execute step.
type SignEscrowParams struct {
	TransactionId string
	AsInitiator   bool
	Choice        models.EscrowChoice
	ProofRef      string
	// PendingState is written to the transaction when this signature does
	// not complete the 2-of-2 agreement; ExecutedState when it does. The
	// engine resolves both from the transition table before calling.
	PendingState  models.OTCState
	ExecutedState models.OTCState
}

// SettlementStore defines the persistence contract the settlement engine,
// ledger replicator and notification emitter run against.
type SettlementStore interface {
	// --- Users ---
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByWallet(ctx context.Context, walletAddress string) (*models.User, error)
	CreateUser(ctx context.Context, userId, name, email, walletAddress string) (*models.User, error)

	// --- Transactions ---
	CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	UpdateSocialFields(ctx context.Context, id string, patch models.UpdateTransactionRequest) (*models.Transaction, error)
	UpdateOTCState(ctx context.Context, id string, state models.OTCState, version int64) error
	SetSelectedTrader(ctx context.Context, id, traderId string, state models.OTCState, version int64) error
	MarkEscrowOpened(ctx context.Context, id, contractAddress string, state models.OTCState, version int64) error
	IncrementFiatRejection(ctx context.Context, id string, state models.OTCState, version int64) (int, error)
	GetUserActivity(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
	ListFeed(ctx context.Context, limit, offset int) ([]models.Transaction, error)
	ListStaleAwaiting(ctx context.Context, olderThan time.Time) ([]models.Transaction, error)

	// CreateActivityEntry inserts a mirrored activity leg. A second entry
	// with the same dedup tuple fails with ErrDuplicateAction; the storage
	// layer enforces the tuple with a uniqueness constraint, not a lookup.
	CreateActivityEntry(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)

	// --- Bids ---
	CreateBid(ctx context.Context, bid *models.Bid) (*models.Bid, error)
	ListBids(ctx context.Context, transactionId string) ([]models.Bid, error)

	// --- Escrow ---
	CreateEscrowRecord(ctx context.Context, rec *models.EscrowRecord) (*models.EscrowRecord, error)
	GetEscrowRecord(ctx context.Context, transactionId string) (*models.EscrowRecord, error)

	// SignEscrow records one party's signed choice and, when both sides now
	// agree on an equal nonzero choice, flips the record to EXECUTED and the
	// transaction to ExecutedState in the same database transaction. The
	// EXECUTED flip is a compare-and-set from OPEN, so settlement fires at
	// most once even when both parties' signatures race.
	SignEscrow(ctx context.Context, params SignEscrowParams) (*models.EscrowRecord, bool, error)

	// --- Notifications ---
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userId string, limit, offset int) ([]models.Notification, error)

	// --- Lifecycle ---
	Close()
}
