package settlement

import (
	"otc-settlement-go/internal/models"
)

// Variant distinguishes the two OTC request flavours. The depositing party
// differs between them, which flips every downstream role mapping.
type Variant int

const (
	// VariantFiatRequest: the requester asks for fiat and deposits USDT;
	// traders bid and the requester picks one.
	VariantFiatRequest Variant = iota
	// VariantUSDTRequest ("Request U"): the requester asks for USDT; the
	// first trader to act self-selects and deposits.
	VariantUSDTRequest
)

func variantOf(tx *models.Transaction) Variant {
	if tx.IsUSDTRequest() {
		return VariantUSDTRequest
	}
	return VariantFiatRequest
}

// Role identifies a caller's position on an OTC transaction. The initiator
// is always the request's creator; the counterparty is the matched trader.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleCounterparty
)

func roleOf(tx *models.Transaction, userId string) Role {
	switch userId {
	case "":
		return RoleNone
	case tx.FromUser:
		return RoleInitiator
	case tx.Counterparty():
		return RoleCounterparty
	default:
		return RoleNone
	}
}

// depositorRole returns who escrows the USDT for the variant.
func depositorRole(v Variant) Role {
	if v == VariantUSDTRequest {
		return RoleCounterparty
	}
	return RoleInitiator
}

// fiatPayerRole returns who owes the off-platform fiat payment: always the
// party receiving the escrowed USDT.
func fiatPayerRole(v Variant) Role {
	if v == VariantUSDTRequest {
		return RoleInitiator
	}
	return RoleCounterparty
}

// fiatReceiverRole returns who must confirm the fiat arrived: the depositor.
func fiatReceiverRole(v Variant) Role {
	return depositorRole(v)
}

func userForRole(tx *models.Transaction, r Role) string {
	switch r {
	case RoleInitiator:
		return tx.FromUser
	case RoleCounterparty:
		return tx.Counterparty()
	default:
		return ""
	}
}

// Phase is a derived tag over (state, escrow record) that promotes
// conditions the raw state machine leaves implicit, so call sites never
// re-derive them from field combinations.
type Phase string

const (
	PhaseNone           Phase = "NONE"
	PhaseOpen           Phase = "OPEN"
	PhaseBidding        Phase = "BIDDING"
	PhaseAwaitDeposit   Phase = "AWAITING_DEPOSIT"
	PhaseInEscrow       Phase = "IN_ESCROW"
	PhaseAwaitFiat      Phase = "AWAITING_FIAT"
	PhaseAwaitConfirm   Phase = "AWAITING_CONFIRMATION"
	PhaseRefundProposed Phase = "REFUND_PROPOSED"
	PhaseReleased       Phase = "RELEASED"
	PhaseRefunded       Phase = "REFUNDED"
)

// PhaseOf computes the derived phase once; rec may be nil before custody.
func PhaseOf(tx *models.Transaction, rec *models.EscrowRecord) Phase {
	if !tx.IsOTC {
		return PhaseNone
	}

	if rec != nil && rec.Status == models.EscrowExecuted {
		if tx.OTCState == models.StateFailed {
			return PhaseRefunded
		}
		return PhaseReleased
	}
	if rec != nil && rec.RefundProposed() {
		return PhaseRefundProposed
	}

	switch tx.OTCState {
	case models.StateOpenRequest:
		return PhaseOpen
	case models.StateBidding:
		return PhaseBidding
	case models.StateSelectedTrader:
		return PhaseAwaitDeposit
	case models.StateUSDTInEscrow:
		return PhaseInEscrow
	case models.StateAwaitingFiatPayment:
		return PhaseAwaitFiat
	case models.StateAwaitingFiatConfirm:
		return PhaseAwaitConfirm
	case models.StateCompleted:
		return PhaseReleased
	case models.StateFailed:
		return PhaseRefunded
	default:
		return PhaseNone
	}
}
