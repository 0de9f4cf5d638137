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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"otc-settlement-go/internal/models"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	shutdownTimeout, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	tokenExpiry, err := getEnvDuration("AUTH_TOKEN_EXPIRY", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("WATCHER_POLLING_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, err
	}

	staleThreshold, err := getEnvDuration("WATCHER_STALE_THRESHOLD", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	jwtSecret := os.Getenv("AUTH_JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("AUTH_JWT_SECRET must be set")
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "settlement.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			SeedDemoUsers:   getEnvBool("SEED_DEMO_USERS", false),
		},
		Server: models.ServerConfig{
			ListenAddr:      getEnvString("SERVER_LISTEN_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
			CurrenciesFile:  getEnvString("CURRENCIES_FILE", "currencies.yaml"),
		},
		Auth: models.AuthConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: tokenExpiry,
		},
		Monitor: models.MonitorConfig{
			Enabled:         getEnvBool("WATCHER_ENABLED", true),
			PollingInterval: pollingInterval,
			StaleThreshold:  staleThreshold,
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
