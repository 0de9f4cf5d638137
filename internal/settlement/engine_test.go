package settlement

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"otc-settlement-go/internal/database"
	"otc-settlement-go/internal/ledger"
	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/notify"
	"otc-settlement-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var (
	alice = &models.Session{UserId: "alice", WalletAddress: "0xaaaa000000000000000000000000000000000001"}
	bob   = &models.Session{UserId: "bob", WalletAddress: "0xbbbb000000000000000000000000000000000002"}
	carol = &models.Session{UserId: "carol", WalletAddress: "0xcccc000000000000000000000000000000000003"}

	contractAddress = "0xe5c401000000000000000000000000000000e5c4"
)

func newTestEngine(t *testing.T) (*Engine, *database.Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	service := database.NewServiceWithDB(db)
	if err := service.InitSchema(false); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	ctx := context.Background()
	for _, sess := range []*models.Session{alice, bob, carol} {
		if _, err := service.CreateUser(ctx, sess.UserId, sess.UserId, sess.UserId+"@example.com", sess.WalletAddress); err != nil {
			t.Fatalf("Failed to create test user %s: %v", sess.UserId, err)
		}
	}

	notifier := notify.NewEmitter(service)
	replicator := ledger.NewReplicator(service)
	engine := NewEngine(service, replicator, notifier, []string{"NGN", "USD", "EUR"})

	cleanup := func() {
		db.Close()
	}

	return engine, service, cleanup
}

// createFiatRequest posts alice's request for 165000 NGN against 100 USDT.
func createFiatRequest(t *testing.T, engine *Engine) *models.Transaction {
	t.Helper()
	tx, err := engine.CreateTransaction(context.Background(), alice, models.CreateTransactionRequest{
		Amount:         "165000",
		Currency:       "NGN",
		Type:           string(models.TypeRequest),
		IsOTC:          true,
		OTCOfferAmount: "100",
	})
	if err != nil {
		t.Fatalf("Failed to create fiat request: %v", err)
	}
	return tx
}

// createUSDTRequest posts carol's request for 50 USDT against 82500 NGN.
func createUSDTRequest(t *testing.T, engine *Engine) *models.Transaction {
	t.Helper()
	tx, err := engine.CreateTransaction(context.Background(), carol, models.CreateTransactionRequest{
		Amount:          "50",
		Currency:        "USDT",
		Type:            string(models.TypeRequest),
		IsOTC:           true,
		OTCFiatCurrency: "NGN",
		OTCOfferAmount:  "82500",
	})
	if err != nil {
		t.Fatalf("Failed to create USDT request: %v", err)
	}
	return tx
}

func TestCreateTransaction_Validation(t *testing.T) {
	engine, _, cleanup := newTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	cases := []struct {
		name string
		sess *models.Session
		req  models.CreateTransactionRequest
		want error
	}{
		{"no session", nil, models.CreateTransactionRequest{Amount: "1", Currency: "USDT", Type: "PAYMENT"}, store.ErrUnauthorized},
		{"zero amount", alice, models.CreateTransactionRequest{Amount: "0", Currency: "USDT", Type: "PAYMENT"}, store.ErrValidation},
		{"bad type", alice, models.CreateTransactionRequest{Amount: "1", Currency: "USDT", Type: "TRANSFER"}, store.ErrValidation},
		{"unknown currency", alice, models.CreateTransactionRequest{Amount: "1", Currency: "XYZ", Type: "PAYMENT"}, store.ErrValidation},
		{"self target", alice, models.CreateTransactionRequest{Amount: "1", Currency: "USDT", Type: "PAYMENT", ToUser: "alice"}, store.ErrValidation},
		{"otc payment", alice, models.CreateTransactionRequest{Amount: "1", Currency: "USDT", Type: "PAYMENT", IsOTC: true, OTCOfferAmount: "1"}, store.ErrValidation},
		{"otc without offer", alice, models.CreateTransactionRequest{Amount: "100", Currency: "NGN", Type: "REQUEST", IsOTC: true}, store.ErrValidation},
		{"usdt request without fiat currency", alice, models.CreateTransactionRequest{Amount: "50", Currency: "USDT", Type: "REQUEST", IsOTC: true, OTCOfferAmount: "100"}, store.ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.CreateTransaction(ctx, tc.sess, tc.req)
			if !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got: %v", tc.want, err)
			}
		})
	}
}

func TestFiatRequestSettlement(t *testing.T) {
	engine, service, cleanup := newTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	tx := createFiatRequest(t, engine)
	if tx.OTCState != models.StateOpenRequest {
		t.Fatalf("Expected OPEN_REQUEST, got %s", tx.OTCState)
	}
	if tx.OTCFiatCurrency != "NGN" {
		t.Fatalf("Fiat request must default the fiat currency to the requested currency, got %q", tx.OTCFiatCurrency)
	}

	// Alice cannot bid on her own request.
	if _, err := engine.PlaceBid(ctx, alice, tx.Id, "my own"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation for self-bid, got: %v", err)
	}

	// Bob bids; the request moves to BIDDING.
	if _, err := engine.PlaceBid(ctx, bob, tx.Id, "I can pay 165k"); err != nil {
		t.Fatalf("PlaceBid failed: %v", err)
	}
	bidding, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if bidding.OTCState != models.StateBidding {
		t.Fatalf("Expected BIDDING, got %s", bidding.OTCState)
	}

	// Only the requester selects, and only among bidders.
	if _, err := engine.SelectTrader(ctx, bob, tx.Id, "bob"); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for non-requester select, got: %v", err)
	}
	if _, err := engine.SelectTrader(ctx, alice, tx.Id, "carol"); !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict selecting a non-bidder, got: %v", err)
	}
	selected, err := engine.SelectTrader(ctx, alice, tx.Id, "bob")
	if err != nil {
		t.Fatalf("SelectTrader failed: %v", err)
	}
	if selected.OTCState != models.StateSelectedTrader || selected.SelectedTraderId != "bob" {
		t.Fatalf("Expected SELECTED_TRADER with bob, got %s/%s", selected.OTCState, selected.SelectedTraderId)
	}

	// The requester deposits the offered USDT; the amount must match.
	order := models.RecordEscrowOrderRequest{
		ContractAddress:     contractAddress,
		CounterpartyAddress: bob.WalletAddress,
		Amount:              "99",
		OnchainOrderId:      "42",
	}
	if _, err := engine.RecordEscrowOrder(ctx, alice, tx.Id, order); !errors.Is(err, store.ErrValidation) {
		t.Errorf("Expected ErrValidation for amount mismatch, got: %v", err)
	}
	order.Amount = "100"
	if _, err := engine.RecordEscrowOrder(ctx, bob, tx.Id, order); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for trader deposit on fiat request, got: %v", err)
	}
	rec, err := engine.RecordEscrowOrder(ctx, alice, tx.Id, order)
	if err != nil {
		t.Fatalf("RecordEscrowOrder failed: %v", err)
	}
	if rec.OnchainOrderId != "42" {
		t.Errorf("Expected onchain order 42, got %s", rec.OnchainOrderId)
	}

	inEscrow, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if inEscrow.OTCState != models.StateUSDTInEscrow || !inEscrow.USDTInEscrow {
		t.Fatalf("Expected USDT_IN_ESCROW, got %s", inEscrow.OTCState)
	}

	// Bob pays the fiat off-platform and signs release with proof.
	result, err := engine.RecordSignature(ctx, bob, tx.Id, models.ChoiceRelease, "bank-ref-001")
	if err != nil {
		t.Fatalf("Payer signature failed: %v", err)
	}
	if result.Agreed {
		t.Fatalf("A single release signature must not settle the trade")
	}

	awaiting, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if awaiting.OTCState != models.StateAwaitingFiatConfirm {
		t.Fatalf("Expected AWAITING_FIAT_CONFIRMATION, got %s", awaiting.OTCState)
	}

	// Alice confirms the fiat arrived; the release executes.
	result, err = engine.RecordSignature(ctx, alice, tx.Id, models.ChoiceRelease, "")
	if err != nil {
		t.Fatalf("Receiver confirmation failed: %v", err)
	}
	if !result.Agreed || result.Escrow.Status != models.EscrowExecuted {
		t.Fatalf("Expected executed escrow, got agreed=%v status=%s", result.Agreed, result.Escrow.Status)
	}

	done, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if done.OTCState != models.StateCompleted {
		t.Fatalf("Expected COMPLETED, got %s", done.OTCState)
	}

	// Both value movements are mirrored into both parties' histories:
	// 100 USDT alice -> bob, 165000 NGN bob -> alice.
	activity, err := service.GetUserActivity(ctx, "bob", 10, 0)
	if err != nil {
		t.Fatalf("GetUserActivity failed: %v", err)
	}
	var usdtLeg, fiatLeg bool
	for _, entry := range activity {
		if entry.RelatedTransactionId != tx.Id {
			continue
		}
		switch {
		case entry.Currency == models.USDTSymbol && entry.FromUser == "alice" && entry.ToUser == "bob" &&
			entry.Amount.Equal(decimal.RequireFromString("100")):
			usdtLeg = true
		case entry.Currency == "NGN" && entry.FromUser == "bob" && entry.ToUser == "alice" &&
			entry.Amount.Equal(decimal.RequireFromString("165000")):
			fiatLeg = true
		}
	}
	if !usdtLeg || !fiatLeg {
		t.Errorf("Expected both mirrored legs, got usdt=%v fiat=%v", usdtLeg, fiatLeg)
	}

	// Settled trades accept no further action.
	if _, err := engine.RecordSignature(ctx, bob, tx.Id, models.ChoiceRelease, ""); !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict on a settled trade, got: %v", err)
	}
}

func TestUSDTRequestRefundEscalation(t *testing.T) {
	engine, service, cleanup := newTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	tx := createUSDTRequest(t, engine)

	// USDT requests take no bids; the trader self-selects.
	if _, err := engine.PlaceBid(ctx, bob, tx.Id, "bid"); !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict bidding on a USDT request, got: %v", err)
	}
	if _, err := engine.SelectTrader(ctx, carol, tx.Id, "bob"); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized selecting on a trader's behalf, got: %v", err)
	}
	if _, err := engine.SelectTrader(ctx, bob, tx.Id, "bob"); err != nil {
		t.Fatalf("Self-select failed: %v", err)
	}

	// The trader deposits the requested 50 USDT.
	rec, err := engine.RecordEscrowOrder(ctx, bob, tx.Id, models.RecordEscrowOrderRequest{
		ContractAddress:     contractAddress,
		CounterpartyAddress: carol.WalletAddress,
		Amount:              "50",
		OnchainOrderId:      "7",
	})
	if err != nil {
		t.Fatalf("RecordEscrowOrder failed: %v", err)
	}
	if rec.TraderAddress != bob.WalletAddress || rec.RequesterAddress != carol.WalletAddress {
		t.Fatalf("Deposit addresses recorded wrong way around")
	}

	// Carol owes the fiat; she signs release claiming to have paid.
	if _, err := engine.RecordSignature(ctx, carol, tx.Id, models.ChoiceRelease, "transfer-123"); err != nil {
		t.Fatalf("Payer signature failed: %v", err)
	}

	// Bob never saw the money. First claim re-opens the payment window.
	if _, err := engine.ClaimFiatNotReceived(ctx, carol, tx.Id); !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for payer claiming non-receipt, got: %v", err)
	}
	claimed, err := engine.ClaimFiatNotReceived(ctx, bob, tx.Id)
	if err != nil {
		t.Fatalf("First claim failed: %v", err)
	}
	if claimed.OTCState != models.StateAwaitingFiatPayment || claimed.FiatRejectionCount != 1 {
		t.Fatalf("Expected AWAITING_FIAT_PAYMENT with count 1, got %s/%d", claimed.OTCState, claimed.FiatRejectionCount)
	}

	// Carol insists she paid; her signature is already on file, so this
	// just re-opens the confirmation window.
	result, err := engine.RecordSignature(ctx, carol, tx.Id, models.ChoiceRelease, "")
	if err != nil {
		t.Fatalf("Release re-assertion failed: %v", err)
	}
	if result.Agreed {
		t.Fatalf("Re-assertion must not settle the trade")
	}
	reopened, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if reopened.OTCState != models.StateAwaitingFiatConfirm {
		t.Fatalf("Expected AWAITING_FIAT_CONFIRMATION, got %s", reopened.OTCState)
	}

	// Second claim auto-submits bob's refund signature.
	claimed, err = engine.ClaimFiatNotReceived(ctx, bob, tx.Id)
	if err != nil {
		t.Fatalf("Second claim failed: %v", err)
	}
	if claimed.FiatRejectionCount != 2 {
		t.Fatalf("Expected rejection count 2, got %d", claimed.FiatRejectionCount)
	}
	escrow, err := engine.GetEscrowRecord(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetEscrowRecord failed: %v", err)
	}
	if !escrow.RefundProposed() {
		t.Fatalf("Expected an auto-submitted refund proposal")
	}

	// Carol cannot refund-sign out of thin air on a fresh trade, but here a
	// proposal exists; her counter-signature executes the refund.
	result, err = engine.RecordSignature(ctx, carol, tx.Id, models.ChoiceRefund, "")
	if err != nil {
		t.Fatalf("Refund counter-signature failed: %v", err)
	}
	if !result.Agreed || result.Escrow.Status != models.EscrowExecuted {
		t.Fatalf("Expected executed refund, got agreed=%v status=%s", result.Agreed, result.Escrow.Status)
	}

	failed, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if failed.OTCState != models.StateFailed {
		t.Fatalf("Expected FAILED, got %s", failed.OTCState)
	}

	// A refund returns the deposit on-chain; nothing is mirrored.
	activity, err := service.GetUserActivity(ctx, "bob", 10, 0)
	if err != nil {
		t.Fatalf("GetUserActivity failed: %v", err)
	}
	for _, entry := range activity {
		if entry.RelatedTransactionId == tx.Id {
			t.Errorf("Refunded trade must not mirror activity legs, found %s %s",
				entry.Amount.String(), entry.Currency)
		}
	}
}

func TestRecordSignature_RefundWithoutProposal(t *testing.T) {
	engine, _, cleanup := newTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	tx := createFiatRequest(t, engine)
	if _, err := engine.PlaceBid(ctx, bob, tx.Id, ""); err != nil {
		t.Fatalf("PlaceBid failed: %v", err)
	}
	if _, err := engine.SelectTrader(ctx, alice, tx.Id, "bob"); err != nil {
		t.Fatalf("SelectTrader failed: %v", err)
	}
	if _, err := engine.RecordEscrowOrder(ctx, alice, tx.Id, models.RecordEscrowOrderRequest{
		ContractAddress:     contractAddress,
		CounterpartyAddress: bob.WalletAddress,
		Amount:              "100",
		OnchainOrderId:      "42",
	}); err != nil {
		t.Fatalf("RecordEscrowOrder failed: %v", err)
	}

	_, err := engine.RecordSignature(ctx, bob, tx.Id, models.ChoiceRefund, "")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict for unsolicited refund, got: %v", err)
	}

	// A stranger is no party to the trade at all.
	_, err = engine.RecordSignature(ctx, carol, tx.Id, models.ChoiceRelease, "")
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized for a stranger, got: %v", err)
	}
}

func TestRecordSignature_BeforeDeposit(t *testing.T) {
	engine, _, cleanup := newTestEngine(t)
	defer cleanup()

	tx := createFiatRequest(t, engine)
	_, err := engine.RecordSignature(context.Background(), alice, tx.Id, models.ChoiceRelease, "")
	if !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict before custody, got: %v", err)
	}
}

func TestRecordEscrowOrder_Duplicate(t *testing.T) {
	engine, _, cleanup := newTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	tx := createUSDTRequest(t, engine)
	if _, err := engine.SelectTrader(ctx, bob, tx.Id, "bob"); err != nil {
		t.Fatalf("Self-select failed: %v", err)
	}

	order := models.RecordEscrowOrderRequest{
		ContractAddress:     contractAddress,
		CounterpartyAddress: carol.WalletAddress,
		Amount:              "50",
		OnchainOrderId:      "7",
	}
	if _, err := engine.RecordEscrowOrder(ctx, bob, tx.Id, order); err != nil {
		t.Fatalf("RecordEscrowOrder failed: %v", err)
	}

	// Once custody began the state precondition rejects a second order.
	_, err := engine.RecordEscrowOrder(ctx, bob, tx.Id, order)
	if !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict for second order, got: %v", err)
	}
}

func TestRecordEscrowOrder_ResumesInterruptedTransition(t *testing.T) {
	engine, service, cleanup := newTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	tx := createFiatRequest(t, engine)
	if _, err := engine.PlaceBid(ctx, bob, tx.Id, "I can pay 165k"); err != nil {
		t.Fatalf("PlaceBid failed: %v", err)
	}
	if _, err := engine.SelectTrader(ctx, alice, tx.Id, "bob"); err != nil {
		t.Fatalf("SelectTrader failed: %v", err)
	}

	// A prior attempt committed the escrow record but the transaction row
	// lost the version race, so the state write never landed.
	if _, err := service.CreateEscrowRecord(ctx, &models.EscrowRecord{
		TransactionId:    tx.Id,
		ContractAddress:  contractAddress,
		RequesterAddress: alice.WalletAddress,
		TraderAddress:    bob.WalletAddress,
		USDTAmount:       decimal.RequireFromString("100"),
		OnchainOrderId:   "42",
	}); err != nil {
		t.Fatalf("Failed to seed orphaned escrow record: %v", err)
	}

	// A retry with a different order must not adopt the orphaned record.
	mismatched := models.RecordEscrowOrderRequest{
		ContractAddress:     contractAddress,
		CounterpartyAddress: bob.WalletAddress,
		Amount:              "100",
		OnchainOrderId:      "43",
	}
	if _, err := engine.RecordEscrowOrder(ctx, alice, tx.Id, mismatched); !errors.Is(err, store.ErrDuplicateAction) {
		t.Errorf("Expected ErrDuplicateAction for mismatched retry, got: %v", err)
	}

	// Retrying the same order resumes the interrupted transition.
	order := models.RecordEscrowOrderRequest{
		ContractAddress:     contractAddress,
		CounterpartyAddress: bob.WalletAddress,
		Amount:              "100",
		OnchainOrderId:      "42",
	}
	rec, err := engine.RecordEscrowOrder(ctx, alice, tx.Id, order)
	if err != nil {
		t.Fatalf("Retry after interrupted transition failed: %v", err)
	}
	if rec.OnchainOrderId != "42" {
		t.Errorf("Expected the committed order 42, got %s", rec.OnchainOrderId)
	}

	resumed, err := engine.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if resumed.OTCState != models.StateUSDTInEscrow || !resumed.USDTInEscrow {
		t.Fatalf("Expected USDT_IN_ESCROW after resume, got %s", resumed.OTCState)
	}

	// The deposit is no longer orphaned; signing proceeds normally.
	if _, err := engine.RecordSignature(ctx, bob, tx.Id, models.ChoiceRelease, "bank-ref-001"); err != nil {
		t.Fatalf("Payer signature after resume failed: %v", err)
	}
}
