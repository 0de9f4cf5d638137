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

	"otc-settlement-go/internal/middleware"
	"otc-settlement-go/internal/models"

	"github.com/gin-gonic/gin"
)

func (s *SettlementService) RecordEscrowOrder(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	var req models.RecordEscrowOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.engine.RecordEscrowOrder(c.Request.Context(), sess, c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *SettlementService) GetEscrowRecord(c *gin.Context) {
	record, err := s.engine.GetEscrowRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *SettlementService) RecordSignature(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	var req models.RecordSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.RecordSignature(c.Request.Context(), sess, c.Param("id"), models.EscrowChoice(req.Choice), req.ProofRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *SettlementService) ClaimFiatNotReceived(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	tx, err := s.engine.ClaimFiatNotReceived(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (s *SettlementService) LegalActions(c *gin.Context) {
	sess := middleware.SessionFrom(c)

	actions, err := s.engine.LegalActions(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}
