package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes a direct payment from a request for payment.
type TransactionType string

const (
	TypePayment TransactionType = "PAYMENT"
	TypeRequest TransactionType = "REQUEST"
)

// OTCState is the settlement state of an OTC request.
type OTCState string

const (
	StateNone                OTCState = "NONE"
	StateOpenRequest         OTCState = "OPEN_REQUEST"
	StateBidding             OTCState = "BIDDING"
	StateSelectedTrader      OTCState = "SELECTED_TRADER"
	StateUSDTInEscrow        OTCState = "USDT_IN_ESCROW"
	StateAwaitingFiatPayment OTCState = "AWAITING_FIAT_PAYMENT"
	StateAwaitingFiatConfirm OTCState = "AWAITING_FIAT_CONFIRMATION"
	StateCompleted           OTCState = "COMPLETED"
	StateFailed              OTCState = "FAILED"
)

// Terminal reports whether no further settlement transition is possible.
func (s OTCState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// EscrowChoice is a signer's declared fund disposition.
type EscrowChoice int

const (
	ChoiceNone    EscrowChoice = 0
	ChoiceRefund  EscrowChoice = 1 // return deposit to the depositor
	ChoiceRelease EscrowChoice = 2 // release deposit to the counterparty
)

// EscrowStatus is the aggregate status of an escrow record.
type EscrowStatus string

const (
	EscrowOpen     EscrowStatus = "OPEN"
	EscrowExecuted EscrowStatus = "EXECUTED"
)

// USDTSymbol is the stablecoin leg of every OTC trade. A request whose
// currency equals this symbol is a "Request U" (the trader deposits).
const USDTSymbol = "USDT"

// User represents a user in the system. WalletAddress is the address the
// identity provider bound to this user at signup.
type User struct {
	Id            string    `db:"id"`
	Name          string    `db:"name"`
	Email         string    `db:"email"`
	WalletAddress string    `db:"wallet_address"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Transaction represents a payment or request in the feed, including OTC
// settlement metadata. Rows are append-only; corrections are new mirrored
// entries, never edits.
type Transaction struct {
	Id                      string          `db:"id"`
	FromUser                string          `db:"from_user"`
	ToUser                  string          `db:"to_user"`
	Amount                  decimal.Decimal `db:"amount"`
	Currency                string          `db:"currency"`
	Type                    TransactionType `db:"transaction_type"`
	Message                 string          `db:"message"`
	IsOTC                   bool            `db:"is_otc"`
	OTCState                OTCState        `db:"otc_state"`
	OTCFiatCurrency         string          `db:"otc_fiat_currency"`
	OTCOfferAmount          decimal.Decimal `db:"otc_offer_amount"`
	SelectedTraderId        string          `db:"selected_trader_id"`
	MultisigContractAddress string          `db:"multisig_contract_address"`
	USDTInEscrow            bool            `db:"usdt_in_escrow"`
	FiatRejectionCount      int             `db:"fiat_rejection_count"`
	RelatedTransactionId    string          `db:"related_transaction_id"`
	XPostId                 string          `db:"x_post_id"`
	Likes                   int             `db:"likes"`
	Comments                string          `db:"comments"`
	Replies                 string          `db:"replies"`
	Version                 int64           `db:"version"`
	CreatedAt               time.Time       `db:"created_at"`
	UpdatedAt               time.Time       `db:"updated_at"`
}

// IsUSDTRequest reports whether this is a "Request U": the requester asks
// for USDT and the responding trader is the depositing party.
func (t *Transaction) IsUSDTRequest() bool {
	return t.Currency == USDTSymbol
}

// Counterparty returns the matched trader, falling back to ToUser for
// requests that targeted a concrete user directly.
func (t *Transaction) Counterparty() string {
	if t.SelectedTraderId != "" {
		return t.SelectedTraderId
	}
	return t.ToUser
}

// USDTAmount returns the stablecoin leg of the trade: the requested amount
// for a USDT request, the offered amount for a fiat request.
func (t *Transaction) USDTAmount() decimal.Decimal {
	if t.IsUSDTRequest() {
		return t.Amount
	}
	return t.OTCOfferAmount
}

// FiatAmount returns the fiat leg of the trade.
func (t *Transaction) FiatAmount() decimal.Decimal {
	if t.IsUSDTRequest() {
		return t.OTCOfferAmount
	}
	return t.Amount
}

// Bid is an offer by a prospective counterparty against an open fiat request.
type Bid struct {
	Id            string    `db:"id"`
	TransactionId string    `db:"transaction_id"`
	UserId        string    `db:"user_id"`
	Message       string    `db:"message"`
	CreatedAt     time.Time `db:"created_at"`
}

// EscrowRecord mirrors the 2-of-2 on-chain deposit order for one OTC
// transaction. Created once USDT custody begins, mutated by signature
// events only, never deleted.
type EscrowRecord struct {
	Id                 string          `db:"id"`
	TransactionId      string          `db:"transaction_id"`
	ContractAddress    string          `db:"contract_address"`
	RequesterAddress   string          `db:"requester_address"`
	TraderAddress      string          `db:"trader_address"`
	USDTAmount         decimal.Decimal `db:"usdt_amount"`
	OnchainOrderId     string          `db:"onchain_order_id"`
	InitiatorChoice    EscrowChoice    `db:"initiator_choice"`
	CounterpartyChoice EscrowChoice    `db:"counterparty_choice"`
	InitiatorSigned    bool            `db:"initiator_signed"`
	CounterpartySigned bool            `db:"counterparty_signed"`
	Status             EscrowStatus    `db:"status"`
	IsActivated        bool            `db:"is_activated"`
	PaymentProofRef    string          `db:"payment_proof_ref"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

// Agreed reports whether both parties have signed matching nonzero choices.
func (e *EscrowRecord) Agreed() bool {
	return e.InitiatorSigned && e.CounterpartySigned &&
		e.InitiatorChoice == e.CounterpartyChoice && e.InitiatorChoice != ChoiceNone
}

// RefundProposed reports whether either side has a signed refund choice
// awaiting the other side's counter-signature.
func (e *EscrowRecord) RefundProposed() bool {
	return (e.InitiatorSigned && e.InitiatorChoice == ChoiceRefund) ||
		(e.CounterpartySigned && e.CounterpartyChoice == ChoiceRefund)
}

// Notification is a directed message persisted for a user.
type Notification struct {
	Id            string    `db:"id"`
	UserId        string    `db:"user_id"`
	Title         string    `db:"title"`
	Message       string    `db:"message"`
	TransactionId string    `db:"transaction_id"`
	RelatedUserId string    `db:"related_user_id"`
	Read          bool      `db:"read"`
	CreatedAt     time.Time `db:"created_at"`
}
