package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"otc-settlement-go/internal/ledger"
	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/notify"
	"otc-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the settlement state machine. It validates actor, role and
// state preconditions for every transition, mutates the stores, and fires
// ledger replication and notifications as side effects. The engine holds
// no mutable state of its own; caller identity arrives as a Session on
// every call.
type Engine struct {
	store      store.SettlementStore
	replicator *ledger.Replicator
	notifier   *notify.Emitter
	fiat       map[string]bool
}

func NewEngine(s store.SettlementStore, r *ledger.Replicator, n *notify.Emitter, fiatCurrencies []string) *Engine {
	fiat := make(map[string]bool, len(fiatCurrencies))
	for _, c := range fiatCurrencies {
		fiat[strings.ToUpper(c)] = true
	}
	return &Engine{store: s, replicator: r, notifier: n, fiat: fiat}
}

func (e *Engine) supportedCurrency(code string) bool {
	return code == models.USDTSymbol || e.fiat[strings.ToUpper(code)]
}

// CreateTransaction posts a payment or request to the feed. An OTC request
// enters the state machine at OPEN_REQUEST; everything else stays at NONE.
func (e *Engine) CreateTransaction(ctx context.Context, sess *models.Session, req models.CreateTransactionRequest) (*models.Transaction, error) {
	if sess == nil || sess.UserId == "" {
		return nil, fmt.Errorf("%w: missing caller session", store.ErrUnauthorized)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be a positive decimal", store.ErrValidation)
	}

	txType := models.TransactionType(req.Type)
	if txType != models.TypePayment && txType != models.TypeRequest {
		return nil, fmt.Errorf("%w: unknown transaction type %q", store.ErrValidation, req.Type)
	}
	if !e.supportedCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: unsupported currency %q", store.ErrValidation, req.Currency)
	}
	if req.ToUser != "" && req.ToUser == sess.UserId {
		return nil, fmt.Errorf("%w: cannot target yourself", store.ErrValidation)
	}

	tx := &models.Transaction{
		FromUser: sess.UserId,
		ToUser:   req.ToUser,
		Amount:   amount,
		Currency: strings.ToUpper(req.Currency),
		Type:     txType,
		Message:  req.Message,
		IsOTC:    req.IsOTC,
		OTCState: models.StateNone,
	}

	if req.IsOTC {
		if txType != models.TypeRequest {
			return nil, fmt.Errorf("%w: only requests can be OTC", store.ErrValidation)
		}
		offer, err := decimal.NewFromString(req.OTCOfferAmount)
		if err != nil || !offer.IsPositive() {
			return nil, fmt.Errorf("%w: otc_offer_amount must be a positive decimal", store.ErrValidation)
		}

		tx.OTCState = models.StateOpenRequest
		tx.OTCOfferAmount = offer
		if tx.IsUSDTRequest() {
			// Requester asks for USDT and offers fiat; the fiat currency
			// must be named explicitly.
			fiatCurrency := strings.ToUpper(req.OTCFiatCurrency)
			if fiatCurrency == "" || fiatCurrency == models.USDTSymbol || !e.fiat[fiatCurrency] {
				return nil, fmt.Errorf("%w: otc_fiat_currency must name a supported fiat currency", store.ErrValidation)
			}
			tx.OTCFiatCurrency = fiatCurrency
		} else {
			tx.OTCFiatCurrency = tx.Currency
		}
	}

	created, err := e.store.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}

	switch {
	case txType == models.TypePayment:
		e.notifier.PaymentSent(ctx, created)
	case created.ToUser != "":
		e.notifier.RequestCreated(ctx, created)
	}

	return created, nil
}

// UpdateTransaction patches social fields only.
func (e *Engine) UpdateTransaction(ctx context.Context, sess *models.Session, id string, patch models.UpdateTransactionRequest) (*models.Transaction, error) {
	if sess == nil || sess.UserId == "" {
		return nil, fmt.Errorf("%w: missing caller session", store.ErrUnauthorized)
	}
	return e.store.UpdateSocialFields(ctx, id, patch)
}

func (e *Engine) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

func (e *Engine) ListFeed(ctx context.Context, limit, offset int) ([]models.Transaction, error) {
	return e.store.ListFeed(ctx, limit, offset)
}

func (e *Engine) GetUserActivity(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	return e.store.GetUserActivity(ctx, userId, limit, offset)
}

// PlaceBid appends a bid on an open fiat request.
func (e *Engine) PlaceBid(ctx context.Context, sess *models.Session, transactionId, message string) (*models.Bid, error) {
	tx, err := e.otcTransaction(ctx, sess, transactionId)
	if err != nil {
		return nil, err
	}

	if variantOf(tx) != VariantFiatRequest {
		return nil, fmt.Errorf("%w: USDT requests take no bids", store.ErrStateConflict)
	}
	if tx.OTCState != models.StateOpenRequest && tx.OTCState != models.StateBidding {
		return nil, fmt.Errorf("%w: bidding is closed in state %s", store.ErrStateConflict, tx.OTCState)
	}
	if sess.UserId == tx.FromUser {
		return nil, fmt.Errorf("%w: cannot bid on your own request", store.ErrValidation)
	}

	bid, err := e.store.CreateBid(ctx, &models.Bid{
		TransactionId: tx.Id,
		UserId:        sess.UserId,
		Message:       message,
	})
	if err != nil {
		return nil, err
	}

	if tx.OTCState == models.StateOpenRequest {
		if err := e.store.UpdateOTCState(ctx, tx.Id, models.StateBidding, tx.Version); err != nil {
			// The bid itself is recorded; a lost race here means another
			// bidder already moved the request to BIDDING.
			if !errors.Is(err, store.ErrConcurrentModification) {
				return nil, err
			}
		} else {
			e.notifier.StateChanged(ctx, tx, models.StateOpenRequest, models.StateBidding)
		}
	}
	e.notifier.BidPlaced(ctx, tx, sess.UserId)

	return bid, nil
}

func (e *Engine) ListBids(ctx context.Context, transactionId string) ([]models.Bid, error) {
	return e.store.ListBids(ctx, transactionId)
}

// SelectTrader matches a trader to a request. On a fiat request only the
// requester may select, and only among existing bidders. On a USDT request
// the trader self-selects; nobody can select a trader on their behalf.
func (e *Engine) SelectTrader(ctx context.Context, sess *models.Session, transactionId, traderId string) (*models.Transaction, error) {
	tx, err := e.otcTransaction(ctx, sess, transactionId)
	if err != nil {
		return nil, err
	}

	if tx.SelectedTraderId != "" {
		return nil, fmt.Errorf("%w: trader already selected", store.ErrStateConflict)
	}
	if traderId == "" {
		return nil, fmt.Errorf("%w: trader_id is required", store.ErrValidation)
	}
	if traderId == tx.FromUser {
		return nil, fmt.Errorf("%w: requester cannot trade with themselves", store.ErrValidation)
	}

	old := tx.OTCState
	var next models.OTCState

	switch variantOf(tx) {
	case VariantFiatRequest:
		if sess.UserId != tx.FromUser {
			return nil, fmt.Errorf("%w: only the requester can select a trader", store.ErrUnauthorized)
		}
		if old != models.StateOpenRequest && old != models.StateBidding {
			return nil, fmt.Errorf("%w: cannot select a trader in state %s", store.ErrStateConflict, old)
		}

		bids, err := e.store.ListBids(ctx, tx.Id)
		if err != nil {
			return nil, err
		}
		hasBid := false
		for _, b := range bids {
			if b.UserId == traderId {
				hasBid = true
				break
			}
		}
		if !hasBid {
			return nil, fmt.Errorf("%w: trader %s has not bid on this request", store.ErrStateConflict, traderId)
		}
		next = models.StateSelectedTrader

	case VariantUSDTRequest:
		if sess.UserId != traderId {
			return nil, fmt.Errorf("%w: a trader can only select themselves on a USDT request", store.ErrUnauthorized)
		}
		if old != models.StateOpenRequest {
			return nil, fmt.Errorf("%w: cannot self-select in state %s", store.ErrStateConflict, old)
		}
		// Selection and deposit are atomic from the trader's point of view;
		// the state moves when the escrow order lands.
		next = models.StateOpenRequest
	}

	if err := e.store.SetSelectedTrader(ctx, tx.Id, traderId, next, tx.Version); err != nil {
		return nil, err
	}

	updated, err := e.store.GetTransaction(ctx, tx.Id)
	if err != nil {
		return nil, err
	}
	e.notifier.TraderSelected(ctx, updated)
	e.notifier.StateChanged(ctx, updated, old, next)

	return updated, nil
}

// RecordEscrowOrder records the outcome of the depositing party's on-chain
// createOrder call. The deposit itself happened in the external
// wallet-signing step; here we only record it, exactly once.
func (e *Engine) RecordEscrowOrder(ctx context.Context, sess *models.Session, transactionId string, req models.RecordEscrowOrderRequest) (*models.EscrowRecord, error) {
	tx, err := e.otcTransaction(ctx, sess, transactionId)
	if err != nil {
		return nil, err
	}
	if sess.WalletAddress == "" {
		return nil, fmt.Errorf("%w: caller has no bound wallet address", store.ErrUnauthorized)
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be a positive decimal", store.ErrValidation)
	}
	if expected := tx.USDTAmount(); !amount.Equal(expected) {
		return nil, fmt.Errorf("%w: deposit of %s does not match the trade amount %s",
			store.ErrValidation, amount.String(), expected.String())
	}

	old := tx.OTCState
	rec := &models.EscrowRecord{
		TransactionId:   tx.Id,
		ContractAddress: req.ContractAddress,
		USDTAmount:      amount,
		OnchainOrderId:  req.OnchainOrderId,
	}

	switch variantOf(tx) {
	case VariantFiatRequest:
		if sess.UserId != tx.FromUser {
			return nil, fmt.Errorf("%w: only the requester deposits on a fiat request", store.ErrUnauthorized)
		}
		if old != models.StateSelectedTrader {
			return nil, fmt.Errorf("%w: cannot record a deposit in state %s", store.ErrStateConflict, old)
		}
		rec.RequesterAddress = sess.WalletAddress
		rec.TraderAddress = req.CounterpartyAddress

	case VariantUSDTRequest:
		if tx.SelectedTraderId == "" || sess.UserId != tx.SelectedTraderId {
			return nil, fmt.Errorf("%w: only the self-selected trader deposits on a USDT request", store.ErrUnauthorized)
		}
		if old != models.StateOpenRequest {
			return nil, fmt.Errorf("%w: cannot record a deposit in state %s", store.ErrStateConflict, old)
		}
		rec.TraderAddress = sess.WalletAddress
		rec.RequesterAddress = req.CounterpartyAddress
	}

	created, err := e.store.CreateEscrowRecord(ctx, rec)
	if errors.Is(err, store.ErrDuplicateAction) {
		// A prior attempt committed the record but lost the version race
		// on the transaction row. The transaction is still pre-escrow, so
		// resume the interrupted transition instead of orphaning the
		// on-chain deposit.
		existing, getErr := e.store.GetEscrowRecord(ctx, tx.Id)
		if getErr != nil {
			return nil, getErr
		}
		if existing.OnchainOrderId != req.OnchainOrderId || existing.ContractAddress != req.ContractAddress {
			return nil, err
		}
		zap.L().Warn("Resuming interrupted escrow transition",
			zap.String("transaction_id", tx.Id),
			zap.String("onchain_order_id", existing.OnchainOrderId))
		created = existing
	} else if err != nil {
		return nil, err
	}

	if err := e.store.MarkEscrowOpened(ctx, tx.Id, req.ContractAddress, models.StateUSDTInEscrow, tx.Version); err != nil {
		// The escrow record exists but the transaction row lost a race; the
		// on-chain truth is ahead of the recorded truth. Surface as
		// retryable rather than dropping the event.
		zap.L().Error("Escrow record created but state transition failed",
			zap.String("transaction_id", tx.Id),
			zap.Error(err))
		return nil, err
	}

	updated, err := e.store.GetTransaction(ctx, tx.Id)
	if err != nil {
		return nil, err
	}
	e.notifier.StateChanged(ctx, updated, old, models.StateUSDTInEscrow)

	return created, nil
}

func (e *Engine) GetEscrowRecord(ctx context.Context, transactionId string) (*models.EscrowRecord, error) {
	return e.store.GetEscrowRecord(ctx, transactionId)
}

// RecordSignature records the outcome of one party's signOrder call. When
// both parties now hold an equal nonzero choice, this call is the sole
// trigger that executes the settlement.
func (e *Engine) RecordSignature(ctx context.Context, sess *models.Session, transactionId string, choice models.EscrowChoice, proofRef string) (*models.SignatureResult, error) {
	tx, err := e.otcTransaction(ctx, sess, transactionId)
	if err != nil {
		return nil, err
	}

	rec, err := e.store.GetEscrowRecord(ctx, tx.Id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no escrow deposit recorded yet", store.ErrStateConflict)
		}
		return nil, err
	}

	role := roleOf(tx, sess.UserId)
	if role == RoleNone {
		return nil, fmt.Errorf("%w: caller is not a party to this trade", store.ErrUnauthorized)
	}

	variant := variantOf(tx)
	old := tx.OTCState
	params := store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   role == RoleInitiator,
		Choice:        choice,
		ProofRef:      proofRef,
		ExecutedState: models.StateCompleted,
	}

	switch choice {
	case models.ChoiceRelease:
		switch role {
		case fiatPayerRole(variant):
			// The fiat payer signs release after sending the off-platform
			// payment, optionally attaching proof.
			if old != models.StateUSDTInEscrow && old != models.StateAwaitingFiatPayment {
				return nil, fmt.Errorf("%w: fiat payer cannot sign in state %s", store.ErrStateConflict, old)
			}
			params.PendingState = models.StateAwaitingFiatConfirm
		default:
			// The fiat receiver confirms the payment arrived.
			if old != models.StateAwaitingFiatConfirm {
				return nil, fmt.Errorf("%w: fiat receiver cannot confirm in state %s", store.ErrStateConflict, old)
			}
		}

	case models.ChoiceRefund:
		otherProposed := rec.RefundProposed()
		selfProposed := (role == RoleInitiator && rec.InitiatorSigned && rec.InitiatorChoice == models.ChoiceRefund) ||
			(role == RoleCounterparty && rec.CounterpartySigned && rec.CounterpartyChoice == models.ChoiceRefund)
		if !otherProposed || selfProposed {
			if selfProposed {
				return nil, fmt.Errorf("%w: refund already signed", store.ErrDuplicateAction)
			}
			return nil, fmt.Errorf("%w: no refund has been proposed", store.ErrStateConflict)
		}
		params.ExecutedState = models.StateFailed

	default:
		return nil, fmt.Errorf("%w: choice must be refund (1) or release (2)", store.ErrValidation)
	}

	signed, agreed, err := e.store.SignEscrow(ctx, params)
	if err != nil {
		// After a rejected fiat claim the payer's release signature is
		// already on file; re-asserting it re-opens the confirmation
		// window without a second store-level signature.
		if errors.Is(err, store.ErrDuplicateAction) &&
			choice == models.ChoiceRelease &&
			role == fiatPayerRole(variant) &&
			old == models.StateAwaitingFiatPayment {
			if err := e.store.UpdateOTCState(ctx, tx.Id, models.StateAwaitingFiatConfirm, tx.Version); err != nil {
				return nil, err
			}
			rec, recErr := e.store.GetEscrowRecord(ctx, tx.Id)
			if recErr != nil {
				return nil, recErr
			}
			updated, txErr := e.store.GetTransaction(ctx, tx.Id)
			if txErr != nil {
				return nil, txErr
			}
			e.notifier.StateChanged(ctx, updated, old, models.StateAwaitingFiatConfirm)
			return &models.SignatureResult{Escrow: rec, Agreed: false}, nil
		}
		return nil, err
	}

	newState := params.PendingState
	if agreed {
		newState = params.ExecutedState
	}
	if newState != "" && newState != old {
		updated, err := e.store.GetTransaction(ctx, tx.Id)
		if err != nil {
			return nil, err
		}
		if agreed && choice == models.ChoiceRelease {
			e.replicator.MirrorRelease(ctx, updated, signed)
		}
		e.notifier.StateChanged(ctx, updated, old, newState)
	}

	return &models.SignatureResult{Escrow: signed, Agreed: agreed}, nil
}

// ClaimFiatNotReceived escalates a missing fiat payment. The first claim
// sends the trade back to AWAITING_FIAT_PAYMENT; the second also
// auto-submits the claimant's refund signature, putting the refund in the
// counterparty's hands.
func (e *Engine) ClaimFiatNotReceived(ctx context.Context, sess *models.Session, transactionId string) (*models.Transaction, error) {
	tx, err := e.otcTransaction(ctx, sess, transactionId)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.GetEscrowRecord(ctx, tx.Id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no escrow deposit recorded yet", store.ErrStateConflict)
		}
		return nil, err
	}

	variant := variantOf(tx)
	role := roleOf(tx, sess.UserId)
	if role != fiatReceiverRole(variant) {
		return nil, fmt.Errorf("%w: only the party awaiting the fiat payment can claim it missing", store.ErrUnauthorized)
	}
	if tx.OTCState != models.StateAwaitingFiatConfirm {
		return nil, fmt.Errorf("%w: nothing to reject in state %s", store.ErrStateConflict, tx.OTCState)
	}

	count, err := e.store.IncrementFiatRejection(ctx, tx.Id, models.StateAwaitingFiatPayment, tx.Version)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Fiat payment rejected",
		zap.String("transaction_id", tx.Id),
		zap.String("claimant", sess.UserId),
		zap.Int("rejection_count", count))

	if count >= 2 {
		// Second escalation: submit the claimant's own refund signature.
		// The counterparty must counter-sign before the deposit returns.
		_, _, err := e.store.SignEscrow(ctx, store.SignEscrowParams{
			TransactionId: tx.Id,
			AsInitiator:   role == RoleInitiator,
			Choice:        models.ChoiceRefund,
			PendingState:  models.StateAwaitingFiatPayment,
			ExecutedState: models.StateFailed,
		})
		if err != nil && !errors.Is(err, store.ErrDuplicateAction) {
			return nil, err
		}
		if errors.Is(err, store.ErrDuplicateAction) {
			zap.L().Info("Refund signature already present, skipping auto-submit",
				zap.String("transaction_id", tx.Id),
				zap.String("claimant", sess.UserId))
		}
	}

	updated, err := e.store.GetTransaction(ctx, tx.Id)
	if err != nil {
		return nil, err
	}
	e.notifier.StateChanged(ctx, updated, models.StateAwaitingFiatConfirm, updated.OTCState)

	return updated, nil
}

// otcTransaction loads a transaction and checks it is an active OTC request
// with an authenticated caller.
func (e *Engine) otcTransaction(ctx context.Context, sess *models.Session, transactionId string) (*models.Transaction, error) {
	if sess == nil || sess.UserId == "" {
		return nil, fmt.Errorf("%w: missing caller session", store.ErrUnauthorized)
	}

	tx, err := e.store.GetTransaction(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	if !tx.IsOTC || tx.Type != models.TypeRequest {
		return nil, fmt.Errorf("%w: transaction %s is not an OTC request", store.ErrValidation, transactionId)
	}
	if tx.OTCState.Terminal() {
		return nil, fmt.Errorf("%w: trade already settled in state %s", store.ErrStateConflict, tx.OTCState)
	}
	return tx, nil
}
