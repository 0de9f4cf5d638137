package ledger

import (
	"context"
	"errors"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Replicator mirrors each settled value movement into both parties'
// histories as an activity transaction. Mirroring is a side effect of
// settlement: failures are logged and never unwind the transition that
// triggered them.
type Replicator struct {
	store store.SettlementStore
}

func NewReplicator(s store.SettlementStore) *Replicator {
	return &Replicator{store: s}
}

type leg struct {
	fromUser string
	toUser   string
	amount   decimal.Decimal
	currency string
}

// MirrorRelease records both legs of an executed release: the USDT leg from
// the depositor to the counterparty, and the fiat leg in the opposite
// direction. Each leg is written exactly once; the dedup tuple is enforced
// by the storage layer, so a duplicate trigger (client retry, double
// render) is skipped rather than double-inserted.
func (r *Replicator) MirrorRelease(ctx context.Context, tx *models.Transaction, rec *models.EscrowRecord) {
	var usdtFrom, usdtTo string
	if tx.IsUSDTRequest() {
		usdtFrom, usdtTo = tx.SelectedTraderId, tx.FromUser
	} else {
		usdtFrom, usdtTo = tx.FromUser, tx.SelectedTraderId
	}

	legs := []leg{
		{usdtFrom, usdtTo, rec.USDTAmount, models.USDTSymbol},
	}
	if fiat := tx.FiatAmount(); fiat.IsPositive() && tx.OTCFiatCurrency != "" {
		// The fiat payment happened off-platform; the leg is recorded for
		// bookkeeping only.
		legs = append(legs, leg{usdtTo, usdtFrom, fiat, tx.OTCFiatCurrency})
	}

	for _, l := range legs {
		r.mirrorLeg(ctx, tx.Id, l)
	}
}

func (r *Replicator) mirrorLeg(ctx context.Context, originId string, l leg) {
	entry := &models.Transaction{
		FromUser:             l.fromUser,
		ToUser:               l.toUser,
		Amount:               l.amount,
		Currency:             l.currency,
		Type:                 models.TypePayment,
		OTCState:             models.StateNone,
		RelatedTransactionId: originId,
	}

	_, err := r.store.CreateActivityEntry(ctx, entry)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateAction) {
			zap.L().Info("Activity leg already mirrored, skipping",
				zap.String("origin_transaction_id", originId),
				zap.String("from_user", l.fromUser),
				zap.String("to_user", l.toUser),
				zap.String("amount", l.amount.String()),
				zap.String("currency", l.currency))
			return
		}
		zap.L().Error("Failed to mirror activity leg",
			zap.String("origin_transaction_id", originId),
			zap.String("from_user", l.fromUser),
			zap.String("to_user", l.toUser),
			zap.String("amount", l.amount.String()),
			zap.String("currency", l.currency),
			zap.Error(err))
		return
	}

	zap.L().Info("Activity leg mirrored",
		zap.String("origin_transaction_id", originId),
		zap.String("from_user", l.fromUser),
		zap.String("to_user", l.toUser),
		zap.String("amount", l.amount.String()),
		zap.String("currency", l.currency))
}
