package notify

import (
	"context"
	"fmt"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Emitter writes directed notifications through the store. Notifications
// are fire-and-forget: a failed write is logged and never rolls back or
// blocks the transition that triggered it.
type Emitter struct {
	store store.SettlementStore
}

func NewEmitter(s store.SettlementStore) *Emitter {
	return &Emitter{store: s}
}

func (e *Emitter) emit(ctx context.Context, userId, title, message, transactionId, relatedUserId string) {
	if userId == "" {
		return
	}

	n := &models.Notification{
		UserId:        userId,
		Title:         title,
		Message:       message,
		TransactionId: transactionId,
		RelatedUserId: relatedUserId,
	}
	if err := e.store.CreateNotification(ctx, n); err != nil {
		zap.L().Error("Failed to emit notification",
			zap.String("user_id", userId),
			zap.String("title", title),
			zap.String("transaction_id", transactionId),
			zap.Error(err))
	}
}

// RequestCreated notifies the targeted user of a new request for payment.
func (e *Emitter) RequestCreated(ctx context.Context, tx *models.Transaction) {
	if tx.ToUser == "" {
		return
	}
	e.emit(ctx, tx.ToUser, "Payment requested",
		fmt.Sprintf("You have been asked to pay %s %s", tx.Amount.String(), tx.Currency),
		tx.Id, tx.FromUser)
}

// PaymentSent notifies the recipient of a direct payment.
func (e *Emitter) PaymentSent(ctx context.Context, tx *models.Transaction) {
	if tx.ToUser == "" {
		return
	}
	e.emit(ctx, tx.ToUser, "Payment received",
		fmt.Sprintf("You received %s %s", tx.Amount.String(), tx.Currency),
		tx.Id, tx.FromUser)
}

// BidPlaced notifies the requester of a new bid.
func (e *Emitter) BidPlaced(ctx context.Context, tx *models.Transaction, bidderId string) {
	e.emit(ctx, tx.FromUser, "New bid",
		fmt.Sprintf("A trader bid on your %s %s request", tx.Amount.String(), tx.Currency),
		tx.Id, bidderId)
}

// TraderSelected notifies the matched trader.
func (e *Emitter) TraderSelected(ctx context.Context, tx *models.Transaction) {
	if tx.SelectedTraderId == "" {
		return
	}
	e.emit(ctx, tx.SelectedTraderId, "Trade matched",
		fmt.Sprintf("You were matched on a %s %s request", tx.Amount.String(), tx.Currency),
		tx.Id, tx.FromUser)
}

// StateChanged notifies both parties whenever the settlement state moves.
func (e *Emitter) StateChanged(ctx context.Context, tx *models.Transaction, old, new models.OTCState) {
	if old == new {
		return
	}

	message := stateDescription(new)
	counterparty := tx.Counterparty()

	e.emit(ctx, tx.FromUser, "Trade update", message, tx.Id, counterparty)
	if counterparty != "" && counterparty != tx.FromUser {
		e.emit(ctx, counterparty, "Trade update", message, tx.Id, tx.FromUser)
	}
}

// Reminder nudges a party whose action a stuck settlement is waiting on.
func (e *Emitter) Reminder(ctx context.Context, userId string, tx *models.Transaction) {
	e.emit(ctx, userId, "Trade reminder",
		fmt.Sprintf("A trade is still waiting on you: %s", stateDescription(tx.OTCState)),
		tx.Id, "")
}

func stateDescription(state models.OTCState) string {
	switch state {
	case models.StateOpenRequest:
		return "The request is open for traders"
	case models.StateBidding:
		return "Traders are bidding on the request"
	case models.StateSelectedTrader:
		return "A trader has been selected"
	case models.StateUSDTInEscrow:
		return "USDT has been deposited into escrow"
	case models.StateAwaitingFiatPayment:
		return "Waiting for the fiat payment to be sent"
	case models.StateAwaitingFiatConfirm:
		return "Waiting for the fiat payment to be confirmed"
	case models.StateCompleted:
		return "The trade has completed and the escrow was released"
	case models.StateFailed:
		return "The trade was refunded to the depositor"
	default:
		return fmt.Sprintf("The trade moved to state %s", state)
	}
}
