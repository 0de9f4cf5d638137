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

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"otc-settlement-go/internal/middleware"
	"otc-settlement-go/internal/models"
	"otc-settlement-go/internal/settlement"
	"otc-settlement-go/internal/store"

	"github.com/gin-gonic/gin"
)

// SettlementService exposes the settlement engine over HTTP.
type SettlementService struct {
	engine *settlement.Engine
	db     store.SettlementStore
	auth   models.AuthConfig
}

func NewSettlementService(engine *settlement.Engine, db store.SettlementStore, auth models.AuthConfig) *SettlementService {
	return &SettlementService{
		engine: engine,
		db:     db,
		auth:   auth,
	}
}

func (s *SettlementService) HealthCheck(ctx context.Context) error {
	_, err := s.db.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Router builds the gin engine with all routes mounted.
func (s *SettlementService) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		if err := s.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1")
	v1.Use(middleware.JwtAuthMiddleware(s.auth))
	{
		v1.GET("/feed", s.ListFeed)
		v1.GET("/activity", s.GetActivity)
		v1.GET("/notifications", s.ListNotifications)

		v1.POST("/transactions", s.CreateTransaction)
		v1.GET("/transactions/:id", s.GetTransaction)
		v1.PATCH("/transactions/:id", s.UpdateTransaction)
		v1.GET("/transactions/:id/actions", s.LegalActions)

		v1.POST("/transactions/:id/bids", s.PlaceBid)
		v1.GET("/transactions/:id/bids", s.ListBids)
		v1.POST("/transactions/:id/select-trader", s.SelectTrader)

		v1.GET("/transactions/:id/escrow", s.GetEscrowRecord)
		v1.POST("/transactions/:id/escrow/order", s.RecordEscrowOrder)
		v1.POST("/transactions/:id/escrow/signature", s.RecordSignature)
		v1.POST("/transactions/:id/escrow/claim-not-received", s.ClaimFiatNotReceived)
	}

	return router
}

// respondError maps the settlement error taxonomy onto HTTP statuses. The
// retryable provider/race failures get 409/502 so clients can distinguish
// "refused" from "infrastructure".
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrStateConflict), errors.Is(err, store.ErrDuplicateAction):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, store.ErrExternalProvider):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
