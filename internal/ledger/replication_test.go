package ledger

import (
	"context"
	"database/sql"
	"testing"

	"otc-settlement-go/internal/database"
	"otc-settlement-go/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

func setupReplicator(t *testing.T) (*Replicator, *database.Service, func()) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	service := database.NewServiceWithDB(db)
	if err := service.InitSchema(false); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	return NewReplicator(service), service, func() { db.Close() }
}

func settledTrade() (*models.Transaction, *models.EscrowRecord) {
	tx := &models.Transaction{
		Id:               "origin-tx",
		FromUser:         "alice",
		Amount:           decimal.RequireFromString("165000"),
		Currency:         "NGN",
		Type:             models.TypeRequest,
		IsOTC:            true,
		OTCState:         models.StateCompleted,
		OTCFiatCurrency:  "NGN",
		OTCOfferAmount:   decimal.RequireFromString("100"),
		SelectedTraderId: "bob",
	}
	rec := &models.EscrowRecord{
		TransactionId: tx.Id,
		USDTAmount:    decimal.RequireFromString("100"),
		Status:        models.EscrowExecuted,
	}
	return tx, rec
}

func countLegs(t *testing.T, service *database.Service, originId string) int {
	t.Helper()
	activity, err := service.GetUserActivity(context.Background(), "alice", 20, 0)
	if err != nil {
		t.Fatalf("GetUserActivity failed: %v", err)
	}
	count := 0
	for _, entry := range activity {
		if entry.RelatedTransactionId == originId {
			count++
		}
	}
	return count
}

func TestMirrorRelease_BothLegs(t *testing.T) {
	replicator, service, cleanup := setupReplicator(t)
	defer cleanup()

	tx, rec := settledTrade()
	replicator.MirrorRelease(context.Background(), tx, rec)

	if got := countLegs(t, service, tx.Id); got != 2 {
		t.Fatalf("Expected 2 mirrored legs, got %d", got)
	}
}

func TestMirrorRelease_Idempotent(t *testing.T) {
	replicator, service, cleanup := setupReplicator(t)
	defer cleanup()

	ctx := context.Background()
	tx, rec := settledTrade()

	// A duplicate trigger (client retry, double render) must not double
	// the history.
	replicator.MirrorRelease(ctx, tx, rec)
	replicator.MirrorRelease(ctx, tx, rec)
	replicator.MirrorRelease(ctx, tx, rec)

	if got := countLegs(t, service, tx.Id); got != 2 {
		t.Fatalf("Expected 2 mirrored legs after retries, got %d", got)
	}
}

func TestMirrorRelease_USDTRequestDirection(t *testing.T) {
	replicator, service, cleanup := setupReplicator(t)
	defer cleanup()

	tx := &models.Transaction{
		Id:               "origin-u",
		FromUser:         "carol",
		Amount:           decimal.RequireFromString("50"),
		Currency:         models.USDTSymbol,
		Type:             models.TypeRequest,
		IsOTC:            true,
		OTCState:         models.StateCompleted,
		OTCFiatCurrency:  "NGN",
		OTCOfferAmount:   decimal.RequireFromString("82500"),
		SelectedTraderId: "bob",
	}
	rec := &models.EscrowRecord{
		TransactionId: tx.Id,
		USDTAmount:    decimal.RequireFromString("50"),
		Status:        models.EscrowExecuted,
	}

	replicator.MirrorRelease(context.Background(), tx, rec)

	activity, err := service.GetUserActivity(context.Background(), "carol", 20, 0)
	if err != nil {
		t.Fatalf("GetUserActivity failed: %v", err)
	}

	var usdtOk, fiatOk bool
	for _, entry := range activity {
		if entry.RelatedTransactionId != tx.Id {
			continue
		}
		switch entry.Currency {
		case models.USDTSymbol:
			// The trader deposited, so USDT flows trader -> requester.
			usdtOk = entry.FromUser == "bob" && entry.ToUser == "carol"
		case "NGN":
			fiatOk = entry.FromUser == "carol" && entry.ToUser == "bob"
		}
	}
	if !usdtOk || !fiatOk {
		t.Errorf("Mirrored leg directions wrong: usdt=%v fiat=%v", usdtOk, fiatOk)
	}
}
