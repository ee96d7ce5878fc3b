package api

// API request/response types for REST endpoints and WebSocket messages

import (
	"fmt"
	"math/big"

	"github.com/fundswap/swapd/pkg/swap"
)

// ==============================
// REST Request Types
// ==============================

// CreateOrderRequest is the payload for POST /api/v1/orders.
// Amounts are decimal strings in the asset's smallest unit.
type CreateOrderRequest struct {
	Caller               string `json:"caller"`
	MakerSellToken       string `json:"makerSellToken"`
	MakerSellTokenAmount string `json:"makerSellTokenAmount"`
	MakerBuyToken        string `json:"makerBuyToken"`
	MakerBuyTokenAmount  string `json:"makerBuyTokenAmount"`
	Deadline             int64  `json:"deadline"`
	CreationTimestamp    int64  `json:"creationTimestamp"`
}

// FillOrderRequest is the payload for POST /api/v1/orders/{hash}/fill.
// Omitting amountIn settles the order in full; omitting recipient
// delivers the proceeds to the caller.
type FillOrderRequest struct {
	Caller       string `json:"caller"`
	AmountIn     string `json:"amountIn,omitempty"`
	MinAmountOut string `json:"minAmountOut,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/{hash}/cancel.
type CancelOrderRequest struct {
	Caller string `json:"caller"`
}

// TransferOrderRequest is the payload for POST /api/v1/orders/{hash}/transfer.
type TransferOrderRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

// PrivateOrderBody mirrors swap.PrivateOrder with string amounts.
type PrivateOrderBody struct {
	Maker                string `json:"maker"`
	Recipient            string `json:"recipient"`
	MakerSellToken       string `json:"makerSellToken"`
	MakerSellTokenAmount string `json:"makerSellTokenAmount"`
	MakerBuyToken        string `json:"makerBuyToken"`
	MakerBuyTokenAmount  string `json:"makerBuyTokenAmount"`
	Deadline             int64  `json:"deadline"`
	Nonce                uint64 `json:"nonce"`
	CreationTimestamp    int64  `json:"creationTimestamp"`
}

// FillPrivateOrderRequest is the payload for POST /api/v1/private/fill.
type FillPrivateOrderRequest struct {
	Caller    string           `json:"caller"`
	Order     PrivateOrderBody `json:"order"`
	OrderHash string           `json:"orderHash"`
	Signature string           `json:"signature"` // hex, 65 bytes
}

// InvalidatePrivateOrderRequest is the payload for POST /api/v1/private/invalidate.
type InvalidatePrivateOrderRequest struct {
	Caller string           `json:"caller"`
	Order  PrivateOrderBody `json:"order"`
}

// BatchFillStep is one fill inside a batch request.
type BatchFillStep struct {
	OrderHash    string `json:"orderHash"`
	AmountIn     string `json:"amountIn"`
	MinAmountOut string `json:"minAmountOut,omitempty"`
}

// BatchFillRequest is the payload for POST /api/v1/batch. Sequence mode
// chains each step's output into the next step's input.
type BatchFillRequest struct {
	Taker    string          `json:"taker"`
	Sequence bool            `json:"sequence"`
	Fills    []BatchFillStep `json:"fills"`
}

// WithdrawRequest is the payload for POST /api/v1/admin/withdraw.
type WithdrawRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

// WhitelistRequest is the payload for the whitelist admin endpoints.
type WhitelistRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

// SetFeeRequest is the payload for POST /api/v1/admin/fees.
// Asset empty sets the default rate.
type SetFeeRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset,omitempty"`
	FeeBps int64  `json:"feeBps"`
}

// ==============================
// REST Response Types
// ==============================

// OrderInfo is one live public order.
type OrderInfo struct {
	Hash                 string `json:"hash"`
	Owner                string `json:"owner"`
	MakerSellToken       string `json:"makerSellToken"`
	MakerSellTokenAmount string `json:"makerSellTokenAmount"`
	MakerBuyToken        string `json:"makerBuyToken"`
	MakerBuyTokenAmount  string `json:"makerBuyTokenAmount"`
	Deadline             int64  `json:"deadline"`
	CreationTimestamp    int64  `json:"creationTimestamp"`
}

func orderInfo(rec *swap.OrderRecord) OrderInfo {
	return OrderInfo{
		Hash:                 rec.Hash.Hex(),
		Owner:                rec.Owner.Hex(),
		MakerSellToken:       rec.Order.MakerSellToken.Hex(),
		MakerSellTokenAmount: rec.Order.MakerSellTokenAmount.String(),
		MakerBuyToken:        rec.Order.MakerBuyToken.Hex(),
		MakerBuyTokenAmount:  rec.Order.MakerBuyTokenAmount.String(),
		Deadline:             rec.Order.Deadline,
		CreationTimestamp:    rec.Order.CreationTimestamp,
	}
}

// FillResponse reports what a settled fill delivered.
type FillResponse struct {
	Status    string `json:"status"`
	OrderHash string `json:"orderHash"`
	AmountOut string `json:"amountOut"`
}

// CreateOrderResponse reports a newly registered order.
type CreateOrderResponse struct {
	Status string `json:"status"`
	Hash   string `json:"hash"`
}

// RouteStepInfo is one planned fill in a route preview.
type RouteStepInfo struct {
	OrderHash string `json:"orderHash"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
	Full      bool   `json:"full"`
}

// RouteResponse is the route preview for GET /api/v1/route.
type RouteResponse struct {
	Steps     []RouteStepInfo `json:"steps"`
	AmountIn  string          `json:"amountIn"`
	AmountOut string          `json:"amountOut"`
}

// FeeLevelInfo is one tier of a pair fee schedule.
type FeeLevelInfo struct {
	FeeBps      int64  `json:"feeBps"`
	MinNotional string `json:"minNotional"`
}

// FeeInfo reports the current fee configuration.
type FeeInfo struct {
	DefaultFeeBps int64 `json:"defaultFeeBps"`
	MaxFeeBps     int64 `json:"maxFeeBps"`
}

// StatusResponse is the engine summary for GET /api/v1/status.
type StatusResponse struct {
	ChainID    int64    `json:"chainId"`
	Owner      string   `json:"owner"`
	OrderCount int      `json:"orderCount"`
	Plugins    []string `json:"plugins"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["events", "events:order_filled"]
}

// ==============================
// Parsing Helpers
// ==============================

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
