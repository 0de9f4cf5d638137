/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package monitor

import (
	"context"
	"sync"
	"time"

	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/notify"
	"otc-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Watcher periodically sweeps for settlements stuck awaiting a fiat action
// and nudges the party whose move it is. It never mutates settlement state:
// there is no server-side timeout on a stuck counterparty, and the
// two-rejection escalation remains the only dispute path.
type Watcher struct {
	store           store.SettlementStore
	notifier        *notify.Emitter
	pollingInterval time.Duration
	staleThreshold  time.Duration

	mu       sync.Mutex
	reminded map[string]time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewWatcher(s store.SettlementStore, n *notify.Emitter, cfg models.MonitorConfig) *Watcher {
	return &Watcher{
		store:           s,
		notifier:        n,
		pollingInterval: cfg.PollingInterval,
		staleThreshold:  cfg.StaleThreshold,
		reminded:        make(map[string]time.Time),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (w *Watcher) Start(ctx context.Context) {
	zap.L().Info("Starting escrow watcher",
		zap.Duration("polling_interval", w.pollingInterval),
		zap.Duration("stale_threshold", w.staleThreshold))

	go w.pollLoop(ctx)
}

// Stop gracefully stops the watcher.
func (w *Watcher) Stop() {
	zap.L().Info("Stopping escrow watcher")
	close(w.stopChan)
	<-w.doneChan
	zap.L().Info("Escrow watcher stopped")
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollingInterval)
	defer ticker.Stop()

	w.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleThreshold)
	stale, err := w.store.ListStaleAwaiting(ctx, cutoff)
	if err != nil {
		zap.L().Error("Escrow watcher sweep failed", zap.Error(err))
		return
	}

	if len(stale) == 0 {
		return
	}
	zap.L().Info("Found stale settlements", zap.Int("count", len(stale)))

	for i := range stale {
		tx := &stale[i]
		if !w.shouldRemind(tx.Id) {
			continue
		}

		waitingOn := waitingParty(tx)
		if waitingOn == "" {
			continue
		}

		zap.L().Warn("Settlement stuck awaiting fiat action",
			zap.String("transaction_id", tx.Id),
			zap.String("otc_state", string(tx.OTCState)),
			zap.String("waiting_on", waitingOn),
			zap.Time("last_update", tx.UpdatedAt))

		w.notifier.Reminder(ctx, waitingOn, tx)
		w.markReminded(tx.Id)
	}
}

// waitingParty resolves whose action a stuck trade is waiting on: the fiat
// payer when the payment is outstanding, the depositor when confirmation is.
func waitingParty(tx *models.Transaction) string {
	requester, trader := tx.FromUser, tx.Counterparty()
	traderDeposits := tx.IsUSDTRequest()

	switch tx.OTCState {
	case models.StateAwaitingFiatPayment:
		if traderDeposits {
			return requester
		}
		return trader
	case models.StateAwaitingFiatConfirm:
		if traderDeposits {
			return trader
		}
		return requester
	default:
		return ""
	}
}

func (w *Watcher) shouldRemind(transactionId string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	last, ok := w.reminded[transactionId]
	return !ok || time.Since(last) >= w.staleThreshold
}

func (w *Watcher) markReminded(transactionId string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reminded[transactionId] = time.Now()
}
