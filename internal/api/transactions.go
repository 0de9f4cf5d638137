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
	"net/http"
	"strconv"

	"otc-settlement-go/internal/middleware"
	"otc-settlement-go/internal/models"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func (s *SettlementService) CreateTransaction(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	var req models.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := s.engine.CreateTransaction(c.Request.Context(), sess, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (s *SettlementService) GetTransaction(c *gin.Context) {
	tx, err := s.engine.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *SettlementService) UpdateTransaction(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	var patch models.UpdateTransactionRequest
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := s.engine.UpdateTransaction(c.Request.Context(), sess, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *SettlementService) ListFeed(c *gin.Context) {
	limit, offset := pagination(c)
	feed, err := s.engine.ListFeed(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": feed})
}

func (s *SettlementService) GetActivity(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	limit, offset := pagination(c)

	activity, err := s.engine.GetUserActivity(c.Request.Context(), sess.UserId, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": activity})
}

func (s *SettlementService) ListNotifications(c *gin.Context) {
	sess := middleware.SessionFrom(c)
	limit, offset := pagination(c)

	notifications, err := s.db.ListNotifications(c.Request.Context(), sess.UserId, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (s *SettlementService) PlaceBid(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	var req models.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bid, err := s.engine.PlaceBid(c.Request.Context(), sess, c.Param("id"), req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bid)
}

func (s *SettlementService) ListBids(c *gin.Context) {
	bids, err := s.engine.ListBids(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids})
}

func (s *SettlementService) SelectTrader(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	var req models.SelectTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := s.engine.SelectTrader(c.Request.Context(), sess, c.Param("id"), req.TraderId)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
