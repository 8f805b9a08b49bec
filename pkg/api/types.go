package api

import (
	"encoding/json"

	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
)

// API request and response types for REST endpoints and WebSocket messages.
// Big integers travel as decimal strings, bytes as 0x-hex.

// ==============================
// REST Request Types
// ==============================

// SignedOrderRequest is an order plus its authorization evidence
type SignedOrderRequest struct {
	Order              order.Payload `json:"order"`
	Signature          string        `json:"signature,omitempty"`           // maker signature over the order digest
	AllowanceExpiry    uint64        `json:"allowance_expiry,omitempty"`    // unix seconds
	AllowanceSignature string        `json:"allowance_signature,omitempty"` // relayer signature
}

// MatchRequest submits one order pair for settlement. A named caller must
// sign the MatchCall (both order keys, value, expiry); without one the match
// is submitted anonymously and can neither self-authorize nor forward value.
type MatchRequest struct {
	Left            SignedOrderRequest `json:"left"`
	Right           SignedOrderRequest `json:"right"`
	Caller          string             `json:"caller,omitempty"`           // account submitting the match
	CallerExpiry    uint64             `json:"caller_expiry,omitempty"`    // unix seconds
	CallerSignature string             `json:"caller_signature,omitempty"` // caller signature over the MatchCall
	Value           string             `json:"value,omitempty"`            // native currency forwarded, wei
}

// ==============================
// REST Response Types
// ==============================

// MatchResponse describes a settled match
type MatchResponse struct {
	Status     string            `json:"status"` // "settled"
	LeftValue  string            `json:"left_value"`
	RightValue string            `json:"right_value"`
	Refund     string            `json:"refund"`
	LeftAuth   string            `json:"left_auth"`  // "self", "signature" or "allowance"
	RightAuth  string            `json:"right_auth"` // "self", "signature" or "allowance"
	Match      record.Match      `json:"match"`
	Transfers  []record.Transfer `json:"transfers"`
	Timestamp  int64             `json:"timestamp"` // Unix milliseconds
}

// FillResponse is the recorded fill of one order key
type FillResponse struct {
	Key  string `json:"key"`
	Fill string `json:"fill"`
}

// OrderKeyResponse is what a wallet needs to sign an order
type OrderKeyResponse struct {
	Key       string          `json:"key"`        // ledger key, hashStruct(Order)
	Digest    string          `json:"digest"`     // value to sign
	TypedData json.RawMessage `json:"typed_data"` // eth_signTypedData_v4 document
}

// BalanceInfo is one asset holding of an account
type BalanceInfo struct {
	AssetClass string `json:"asset_class"`
	AssetData  string `json:"asset_data,omitempty"`
	Balance    string `json:"balance"` // base units
	Display    string `json:"display"` // 18-decimal amount for fungible classes, unit count for NFTs
}

// HealthResponse reports node liveness
type HealthResponse struct {
	Status  string `json:"status"`
	Relayer string `json:"relayer,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`             // stable reason code
	Message string `json:"message,omitempty"` // human readable detail
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is a client subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["matches", "transfers"]
}

// MatchMessage is pushed on the "matches" channel
type MatchMessage struct {
	Type      string       `json:"type"` // "match"
	Match     record.Match `json:"match"`
	Transfers int          `json:"transfers"`
	Timestamp int64        `json:"timestamp"`
}

// TransferMessage is pushed on the "transfers" channel, once per disbursement
type TransferMessage struct {
	Type      string          `json:"type"` // "transfer"
	LeftKey   string          `json:"left_key"`
	RightKey  string          `json:"right_key"`
	Transfer  record.Transfer `json:"transfer"`
	Timestamp int64           `json:"timestamp"`
}
