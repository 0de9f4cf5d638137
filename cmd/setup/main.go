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
	"flag"

	"otc-settlement-go/internal/common"
	"otc-settlement-go/internal/config"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	seedFlag := flag.Bool("seed", false, "Seed demo users into the database")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}
	cfg.Database.SeedDemoUsers = *seedFlag

	zap.L().Info("Setting up SQLite database", zap.String("path", cfg.Database.Path))

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := dbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	zap.L().Info("Database initialized",
		zap.Int("users", len(users)),
		zap.Bool("seeded_demo_users", *seedFlag))
}
