package database

import (
	"context"
	"errors"
	"testing"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func createEscrowedTrade(t *testing.T, service *Service) (*models.Transaction, *models.EscrowRecord) {
	t.Helper()
	ctx := context.Background()

	tx, err := service.CreateTransaction(ctx, &models.Transaction{
		FromUser:         "alice",
		Amount:           decimal.RequireFromString("165000"),
		Currency:         "NGN",
		Type:             models.TypeRequest,
		IsOTC:            true,
		OTCState:         models.StateUSDTInEscrow,
		OTCFiatCurrency:  "NGN",
		OTCOfferAmount:   decimal.RequireFromString("100"),
		SelectedTraderId: "bob",
	})
	if err != nil {
		t.Fatalf("Failed to create trade: %v", err)
	}

	rec, err := service.CreateEscrowRecord(ctx, &models.EscrowRecord{
		TransactionId:    tx.Id,
		ContractAddress:  "0xe5c401000000000000000000000000000000e5c4",
		RequesterAddress: "0xaaaa000000000000000000000000000000000001",
		TraderAddress:    "0xbbbb000000000000000000000000000000000002",
		USDTAmount:       decimal.RequireFromString("100"),
		OnchainOrderId:   "42",
	})
	if err != nil {
		t.Fatalf("Failed to create escrow record: %v", err)
	}

	return tx, rec
}

func TestCreateEscrowRecord_Duplicate(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUsers(t, service)

	tx, _ := createEscrowedTrade(t, service)

	_, err := service.CreateEscrowRecord(context.Background(), &models.EscrowRecord{
		TransactionId:   tx.Id,
		ContractAddress: "0xe5c401000000000000000000000000000000e5c4",
		USDTAmount:      decimal.RequireFromString("100"),
		OnchainOrderId:  "43",
	})
	if !errors.Is(err, store.ErrDuplicateAction) {
		t.Errorf("Expected ErrDuplicateAction for second escrow record, got: %v", err)
	}
}

func TestSignEscrow_AgreementExecutes(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUsers(t, service)

	ctx := context.Background()
	tx, _ := createEscrowedTrade(t, service)

	// Counterparty (the fiat payer here) signs release first.
	rec, agreed, err := service.SignEscrow(ctx, store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   false,
		Choice:        models.ChoiceRelease,
		ProofRef:      "bank-ref-001",
		PendingState:  models.StateAwaitingFiatConfirm,
		ExecutedState: models.StateCompleted,
	})
	if err != nil {
		t.Fatalf("First SignEscrow failed: %v", err)
	}
	if agreed {
		t.Fatalf("One signature must not execute the escrow")
	}
	if rec.Status != models.EscrowOpen {
		t.Errorf("Expected status OPEN, got %s", rec.Status)
	}
	if rec.PaymentProofRef != "bank-ref-001" {
		t.Errorf("Expected proof ref recorded, got %q", rec.PaymentProofRef)
	}

	pending, err := service.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if pending.OTCState != models.StateAwaitingFiatConfirm {
		t.Errorf("Expected state %s, got %s", models.StateAwaitingFiatConfirm, pending.OTCState)
	}

	// Initiator counter-signs: 2-of-2 agreement, escrow executes.
	rec, agreed, err = service.SignEscrow(ctx, store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   true,
		Choice:        models.ChoiceRelease,
		ExecutedState: models.StateCompleted,
	})
	if err != nil {
		t.Fatalf("Second SignEscrow failed: %v", err)
	}
	if !agreed {
		t.Fatalf("Matching signatures must execute the escrow")
	}
	if rec.Status != models.EscrowExecuted {
		t.Errorf("Expected status EXECUTED, got %s", rec.Status)
	}

	done, err := service.GetTransaction(ctx, tx.Id)
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if done.OTCState != models.StateCompleted {
		t.Errorf("Expected state %s, got %s", models.StateCompleted, done.OTCState)
	}
}

func TestSignEscrow_SameChoiceTwice(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUsers(t, service)

	ctx := context.Background()
	tx, _ := createEscrowedTrade(t, service)

	params := store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   false,
		Choice:        models.ChoiceRelease,
		PendingState:  models.StateAwaitingFiatConfirm,
		ExecutedState: models.StateCompleted,
	}
	if _, _, err := service.SignEscrow(ctx, params); err != nil {
		t.Fatalf("First SignEscrow failed: %v", err)
	}

	_, _, err := service.SignEscrow(ctx, params)
	if !errors.Is(err, store.ErrDuplicateAction) {
		t.Errorf("Expected ErrDuplicateAction for repeated signature, got: %v", err)
	}
}

func TestSignEscrow_ChangeChoiceWhileOpen(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUsers(t, service)

	ctx := context.Background()
	tx, _ := createEscrowedTrade(t, service)

	if _, _, err := service.SignEscrow(ctx, store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   false,
		Choice:        models.ChoiceRelease,
		PendingState:  models.StateAwaitingFiatConfirm,
		ExecutedState: models.StateCompleted,
	}); err != nil {
		t.Fatalf("Release signature failed: %v", err)
	}

	// Same party switches to refund while the escrow is still OPEN.
	rec, agreed, err := service.SignEscrow(ctx, store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   false,
		Choice:        models.ChoiceRefund,
		ExecutedState: models.StateFailed,
	})
	if err != nil {
		t.Fatalf("Choice change failed: %v", err)
	}
	if agreed {
		t.Fatalf("A single refund signature must not execute")
	}
	if rec.CounterpartyChoice != models.ChoiceRefund {
		t.Errorf("Expected counterparty choice refund, got %d", rec.CounterpartyChoice)
	}
	if !rec.RefundProposed() {
		t.Errorf("Expected a proposed refund")
	}
}

func TestSignEscrow_AfterExecuted(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()
	createTestUsers(t, service)

	ctx := context.Background()
	tx, _ := createEscrowedTrade(t, service)

	for _, asInitiator := range []bool{false, true} {
		if _, _, err := service.SignEscrow(ctx, store.SignEscrowParams{
			TransactionId: tx.Id,
			AsInitiator:   asInitiator,
			Choice:        models.ChoiceRelease,
			ExecutedState: models.StateCompleted,
		}); err != nil {
			t.Fatalf("SignEscrow failed: %v", err)
		}
	}

	_, _, err := service.SignEscrow(ctx, store.SignEscrowParams{
		TransactionId: tx.Id,
		AsInitiator:   true,
		Choice:        models.ChoiceRefund,
		ExecutedState: models.StateFailed,
	})
	if !errors.Is(err, store.ErrStateConflict) {
		t.Errorf("Expected ErrStateConflict after execution, got: %v", err)
	}
}

func TestSignEscrow_MissingRecord(t *testing.T) {
	service, cleanup := setupTestDb(t)
	defer cleanup()

	_, _, err := service.SignEscrow(context.Background(), store.SignEscrowParams{
		TransactionId: "missing",
		AsInitiator:   true,
		Choice:        models.ChoiceRelease,
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}
