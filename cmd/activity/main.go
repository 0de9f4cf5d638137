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
	"fmt"

	"otc-settlement-go/internal/common"
	"otc-settlement-go/internal/config"
	"otc-settlement-go/internal/database"
	"otc-settlement-go/internal/models"

	"go.uber.org/zap"
)

const activityPageSize = 100

type activityStats struct {
	totalUsers        int
	totalEntries      int
	usersWithActivity int
}

func formatRelatedId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func describeEntry(tx models.Transaction) string {
	if !tx.IsOTC {
		return string(tx.Type)
	}
	return fmt.Sprintf("%s/OTC %s", tx.Type, tx.OTCState)
}

func printEntry(tx models.Transaction, isLast bool) {
	symbol := common.BoxPrefix(isLast)
	fmt.Printf("%s %-24s %12s %-5s  %s -> %s (rel: %s, %s)\n",
		symbol,
		describeEntry(tx),
		tx.Amount.String(),
		tx.Currency,
		tx.FromUser,
		tx.ToUser,
		formatRelatedId(tx.RelatedTransactionId),
		tx.CreatedAt.Format("2006-01-02 15:04:05"))
}

func printEntries(entries []models.Transaction) {
	for i, tx := range entries {
		printEntry(tx, i == len(entries)-1)
	}
}

func printUserHeader(user common.UserInfo, entryCount int) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s\n", user.Id)
	fmt.Printf("│  Entries: %d\n", entryCount)
	common.PrintBoxSeparator(78)
}

func processUser(ctx context.Context, user common.UserInfo, dbService *database.Service) (int, error) {
	entries, err := dbService.GetUserActivity(ctx, user.Id, activityPageSize, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to get activity: %w", err)
	}

	if len(entries) == 0 {
		return 0, nil
	}

	printUserHeader(user, len(entries))
	printEntries(entries)

	return len(entries), nil
}

func processUsersAndGenerateReport(ctx context.Context, users []common.UserInfo, dbService *database.Service, logger *zap.Logger) activityStats {
	stats := activityStats{}

	for _, user := range users {
		stats.totalUsers++

		entryCount, err := processUser(ctx, user, dbService)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
			continue
		}

		if entryCount > 0 {
			stats.usersWithActivity++
			stats.totalEntries += entryCount
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	flag.Parse()

	logger.Info("Starting activity query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	users, err := common.InitializeUsers(ctx, dbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER ACTIVITY REPORT", common.DefaultWidth)

	stats := processUsersAndGenerateReport(ctx, users, dbService, logger)

	summary := fmt.Sprintf("SUMMARY: %d users with activity (%d total entries across %d users queried)",
		stats.usersWithActivity, stats.totalEntries, stats.totalUsers)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Activity query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_activity", stats.usersWithActivity),
		zap.Int("total_entries", stats.totalEntries))
}
