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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"otc-settlement-go/internal/api"
	"otc-settlement-go/internal/common"
	"otc-settlement-go/internal/config"
	"otc-settlement-go/internal/monitor"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting OTC settlement server")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	apiService := api.NewSettlementService(services.Engine, services.DbService, cfg.Auth)

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: apiService.Router(),
	}

	var watcher *monitor.Watcher
	if cfg.Monitor.Enabled {
		watcher = monitor.NewWatcher(services.DbService, services.Notifier, cfg.Monitor)
		watcher.Start(ctx)
		zap.L().Info("Escrow watcher running",
			zap.Duration("polling_interval", cfg.Monitor.PollingInterval),
			zap.Duration("stale_threshold", cfg.Monitor.StaleThreshold))
	}

	go func() {
		zap.L().Info("Listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, stopping...")

	if watcher != nil {
		watcher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced shutdown after timeout", zap.Error(err))
	} else {
		zap.L().Info("Server stopped gracefully")
	}
}
