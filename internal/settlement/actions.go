package settlement

import (
	"context"
	"errors"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"
)

// Action names one legal next step a caller may take on a trade.
type Action string

const (
	ActionPlaceBid             Action = "place_bid"
	ActionSelectTrader         Action = "select_trader"
	ActionRecordEscrowOrder    Action = "record_escrow_order"
	ActionSignRelease          Action = "sign_release"
	ActionConfirmFiatReceived  Action = "confirm_fiat_received"
	ActionClaimFiatNotReceived Action = "claim_fiat_not_received"
	ActionAgreeRefund          Action = "agree_refund"
)

// LegalActionsFor computes the set of legal actions for a caller from the
// trade variant, current state, and caller role. rec may be nil before
// custody begins.
func LegalActionsFor(tx *models.Transaction, rec *models.EscrowRecord, callerId string) []Action {
	if !tx.IsOTC || tx.Type != models.TypeRequest || tx.OTCState.Terminal() {
		return nil
	}

	variant := variantOf(tx)
	role := roleOf(tx, callerId)
	state := tx.OTCState
	var actions []Action

	// A pending refund dominates: the only move for the party that has not
	// signed it is to agree.
	if rec != nil && rec.Status == models.EscrowOpen && rec.RefundProposed() {
		selfSigned := (role == RoleInitiator && rec.InitiatorSigned && rec.InitiatorChoice == models.ChoiceRefund) ||
			(role == RoleCounterparty && rec.CounterpartySigned && rec.CounterpartyChoice == models.ChoiceRefund)
		if role != RoleNone && !selfSigned {
			actions = append(actions, ActionAgreeRefund)
		}
		if role == fiatPayerRole(variant) && !selfSigned &&
			(state == models.StateUSDTInEscrow || state == models.StateAwaitingFiatPayment) {
			// The payer may still insist the fiat was sent.
			actions = append(actions, ActionSignRelease)
		}
		return actions
	}

	switch variant {
	case VariantFiatRequest:
		switch state {
		case models.StateOpenRequest, models.StateBidding:
			if role == RoleNone && callerId != "" {
				actions = append(actions, ActionPlaceBid)
			}
			if role == RoleInitiator && state == models.StateBidding {
				actions = append(actions, ActionSelectTrader)
			}
		case models.StateSelectedTrader:
			if role == RoleInitiator {
				actions = append(actions, ActionRecordEscrowOrder)
			}
		}

	case VariantUSDTRequest:
		if state == models.StateOpenRequest {
			if tx.SelectedTraderId == "" && role == RoleNone && callerId != "" {
				actions = append(actions, ActionSelectTrader)
			}
			if role == RoleCounterparty {
				actions = append(actions, ActionRecordEscrowOrder)
			}
		}
	}

	switch state {
	case models.StateUSDTInEscrow, models.StateAwaitingFiatPayment:
		if role == fiatPayerRole(variant) {
			actions = append(actions, ActionSignRelease)
		}
	case models.StateAwaitingFiatConfirm:
		if role == fiatReceiverRole(variant) {
			actions = append(actions, ActionConfirmFiatReceived, ActionClaimFiatNotReceived)
		}
	}

	return actions
}

// LegalActions loads the trade and computes the caller's legal action set.
func (e *Engine) LegalActions(ctx context.Context, sess *models.Session, transactionId string) ([]Action, error) {
	if sess == nil || sess.UserId == "" {
		return nil, store.ErrUnauthorized
	}

	tx, err := e.store.GetTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}

	rec, err := e.store.GetEscrowRecord(ctx, tx.Id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return LegalActionsFor(tx, rec, sess.UserId), nil
}
