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

package models

// CreateTransactionRequest is the payload for posting a payment or request
// to the feed.
type CreateTransactionRequest struct {
	ToUser          string `json:"to_user"`
	Amount          string `json:"amount" binding:"required"`
	Currency        string `json:"currency" binding:"required"`
	Type            string `json:"type" binding:"required"`
	Message         string `json:"message"`
	IsOTC           bool   `json:"is_otc"`
	OTCFiatCurrency string `json:"otc_fiat_currency"`
	OTCOfferAmount  string `json:"otc_offer_amount"`
}

// UpdateTransactionRequest carries the social fields a client may patch.
// Settlement state is never writable through this path.
type UpdateTransactionRequest struct {
	Likes    *int    `json:"likes"`
	Comments *string `json:"comments"`
	Replies  *string `json:"replies"`
	XPostId  *string `json:"x_post_id"`
}

// PlaceBidRequest is the payload for bidding on an open fiat request.
type PlaceBidRequest struct {
	Message string `json:"message"`
}

// SelectTraderRequest names the bidder the requester is matching with.
type SelectTraderRequest struct {
	TraderId string `json:"trader_id" binding:"required"`
}

// RecordEscrowOrderRequest records the outcome of the client-side deposit
// to the escrow contract. The on-chain order already exists when this is
// submitted; the core only records it.
type RecordEscrowOrderRequest struct {
	ContractAddress     string `json:"contract_address" binding:"required"`
	CounterpartyAddress string `json:"counterparty_address" binding:"required"`
	Amount              string `json:"amount" binding:"required"`
	OnchainOrderId      string `json:"onchain_order_id" binding:"required"`
}

// RecordSignatureRequest records the outcome of a client-side signOrder call.
type RecordSignatureRequest struct {
	Choice   int    `json:"choice" binding:"required"`
	ProofRef string `json:"proof_ref"`
}

// SignatureResult reports the escrow record after a signature, and whether
// this signature completed the 2-of-2 agreement.
type SignatureResult struct {
	Escrow *EscrowRecord `json:"escrow"`
	Agreed bool          `json:"agreed"`
}
