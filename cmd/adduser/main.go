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
	"regexp"
	"strings"

	"otc-settlement-go/internal/common"
	"otc-settlement-go/internal/config"
	"otc-settlement-go/internal/middleware"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func validateWallet(address string) error {
	if address == "" {
		return fmt.Errorf("wallet address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") || len(address) != 42 {
		return fmt.Errorf("wallet address must be a 0x-prefixed 20-byte hex address")
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "Display name for the new user")
	emailFlag := flag.String("email", "", "Email for the new user")
	walletFlag := flag.String("wallet", "", "Wallet address the identity provider bound to this user")
	tokenFlag := flag.Bool("token", false, "Print a signed JWT for the new user")
	flag.Parse()

	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}
	if err := validateWallet(*walletFlag); err != nil {
		zap.L().Fatal("Invalid wallet address", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	userId := uuid.New().String()
	user, err := dbService.CreateUser(ctx, userId, *nameFlag, *emailFlag, *walletFlag)
	if err != nil {
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	zap.L().Info("Created user",
		zap.String("id", user.Id),
		zap.String("name", user.Name),
		zap.String("email", user.Email),
		zap.String("wallet_address", user.WalletAddress))

	if *tokenFlag {
		token, err := middleware.GenerateToken(user.Id, user.WalletAddress, cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
		if err != nil {
			zap.L().Fatal("Failed to generate token", zap.Error(err))
		}
		fmt.Println(token)
	}
}
