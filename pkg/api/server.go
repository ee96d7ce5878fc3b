package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/fundswap/swapd/pkg/router"
	"github.com/fundswap/swapd/pkg/swap"
	"github.com/fundswap/swapd/pkg/swap/plugins/fees"
	"github.com/fundswap/swapd/pkg/swap/plugins/whitelist"
	"github.com/fundswap/swapd/pkg/token"
)

// Server handles REST API and WebSocket connections
type Server struct {
	core      *swap.Core
	executor  *swap.BatchExecutor
	fees      *fees.Plugin
	whitelist *whitelist.Plugin
	mux       *mux.Router
	hub       *Hub
}

// NewServer creates a new API server. The fee and whitelist plugins may
// be nil when those policies are not enabled.
func NewServer(core *swap.Core, executor *swap.BatchExecutor, feePlugin *fees.Plugin, wl *whitelist.Plugin) *Server {
	s := &Server{
		core:      core,
		executor:  executor,
		fees:      feePlugin,
		whitelist: wl,
		mux:       mux.NewRouter(),
		hub:       NewHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	// Order endpoints
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{hash}/fill", s.handleFillOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{hash}/transfer", s.handleTransferOrder).Methods("POST")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")

	// Private order endpoints
	api.HandleFunc("/private/fill", s.handleFillPrivateOrder).Methods("POST")
	api.HandleFunc("/private/invalidate", s.handleInvalidatePrivateOrder).Methods("POST")

	// Batch execution and route preview
	api.HandleFunc("/batch", s.handleBatchFill).Methods("POST")
	api.HandleFunc("/route", s.handleRoute).Methods("GET")

	// Policy introspection
	api.HandleFunc("/fees", s.handleGetFees).Methods("GET")
	api.HandleFunc("/whitelist", s.handleGetWhitelist).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Admin endpoints
	api.HandleFunc("/admin/withdraw", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/admin/fees", s.handleSetFee).Methods("POST")
	api.HandleFunc("/admin/whitelist/add", s.handleWhitelistAdd).Methods("POST")
	api.HandleFunc("/admin/whitelist/remove", s.handleWhitelistRemove).Methods("POST")

	// WebSocket endpoint
	s.mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.mux.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server and begins relaying settlement events to
// WebSocket subscribers.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	go s.relayEvents()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.mux)

	log.Printf("[api] server starting on %s", addr)
	return http.ListenAndServe(addr, handler)
}

// relayEvents forwards the settlement feed to WebSocket channels:
// every event goes to "events", plus a typed "events:<type>" channel.
func (s *Server) relayEvents() {
	ch, cancel := s.core.Events().Subscribe(256)
	defer cancel()
	for ev := range ch {
		s.hub.BroadcastToChannel("events", ev)
		s.hub.BroadcastToChannel("events:"+string(ev.Type), ev)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var recs []*swap.OrderRecord
	if sell, buy := q.Get("sellToken"), q.Get("buyToken"); sell != "" && buy != "" {
		if !common.IsHexAddress(sell) || !common.IsHexAddress(buy) {
			respondError(w, http.StatusBadRequest, "invalid token address", "")
			return
		}
		recs = s.core.OrdersForPair(common.HexToAddress(sell), common.HexToAddress(buy))
	} else {
		recs = s.core.Orders()
	}

	response := make([]OrderInfo, len(recs))
	for i, rec := range recs {
		response[i] = orderInfo(rec)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	rec, ok := s.core.Order(hash)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, orderInfo(rec))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	recs := s.core.OrdersOf(common.HexToAddress(addressStr))
	response := make([]OrderInfo, len(recs))
	for i, rec := range recs {
		response[i] = orderInfo(rec)
	}
	respondJSON(w, response)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	sellAmount, err := parseAmount(req.MakerSellTokenAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sell amount", err.Error())
		return
	}
	buyAmount, err := parseAmount(req.MakerBuyTokenAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid buy amount", err.Error())
		return
	}

	order := swap.PublicOrder{
		MakerSellToken:       common.HexToAddress(req.MakerSellToken),
		MakerSellTokenAmount: sellAmount,
		MakerBuyToken:        common.HexToAddress(req.MakerBuyToken),
		MakerBuyTokenAmount:  buyAmount,
		Deadline:             req.Deadline,
		CreationTimestamp:    req.CreationTimestamp,
	}
	hash, err := s.core.CreatePublicOrder(caller, order, nil)
	if err != nil {
		respondSwapError(w, err)
		return
	}
	log.Printf("[api] order created: %s", hash.Hex())
	respondJSON(w, CreateOrderResponse{Status: "created", Hash: hash.Hex()})
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	var req FillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}

	var recipient common.Address
	if req.Recipient != "" {
		recipient, err = parseAddress(req.Recipient)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid recipient", err.Error())
			return
		}
	}

	var out *big.Int
	if req.AmountIn == "" {
		out, err = s.core.FillPublicOrder(caller, hash, recipient, nil)
	} else {
		amountIn, perr := parseAmount(req.AmountIn)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid amountIn", perr.Error())
			return
		}
		fill := swap.FillRequest{OrderHash: hash, AmountIn: amountIn, Recipient: recipient}
		if req.MinAmountOut != "" {
			fill.MinAmountOut, perr = parseAmount(req.MinAmountOut)
			if perr != nil {
				respondError(w, http.StatusBadRequest, "invalid minAmountOut", perr.Error())
				return
			}
		}
		out, err = s.core.FillPublicOrderPartially(caller, fill, nil)
	}
	if err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, FillResponse{Status: "filled", OrderHash: hash.Hex(), AmountOut: out.String()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	if err := s.core.CancelOrder(caller, hash); err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled", "hash": hash.Hex()})
}

func (s *Server) handleTransferOrder(w http.ResponseWriter, r *http.Request) {
	hash := common.HexToHash(mux.Vars(r)["hash"])
	var req TransferOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid destination", err.Error())
		return
	}
	if err := s.core.TransferOrderOwnership(caller, hash, to); err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "transferred", "hash": hash.Hex()})
}

func (s *Server) handleFillPrivateOrder(w http.ResponseWriter, r *http.Request) {
	var req FillPrivateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	sig, err := hexutilDecode(req.Signature)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	out, err := s.core.FillPrivateOrder(caller, order, common.HexToHash(req.OrderHash), sig, nil)
	if err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, FillResponse{Status: "filled", OrderHash: req.OrderHash, AmountOut: out.String()})
}

func (s *Server) handleInvalidatePrivateOrder(w http.ResponseWriter, r *http.Request) {
	var req InvalidatePrivateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if err := s.core.InvalidatePrivateOrder(caller, order); err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "invalidated"})
}

func (s *Server) handleBatchFill(w http.ResponseWriter, r *http.Request) {
	var req BatchFillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid taker", err.Error())
		return
	}

	fills := make([]swap.FillRequest, len(req.Fills))
	for i, step := range req.Fills {
		amountIn, perr := parseAmount(step.AmountIn)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid amountIn", perr.Error())
			return
		}
		fills[i] = swap.FillRequest{OrderHash: common.HexToHash(step.OrderHash), AmountIn: amountIn}
		if step.MinAmountOut != "" {
			fills[i].MinAmountOut, perr = parseAmount(step.MinAmountOut)
			if perr != nil {
				respondError(w, http.StatusBadRequest, "invalid minAmountOut", perr.Error())
				return
			}
		}
	}

	if req.Sequence {
		err = s.executor.BatchFillPublicOrdersInSequence(taker, fills, nil)
	} else {
		err = s.executor.BatchFillPublicOrders(taker, fills, nil)
	}
	if err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]interface{}{"status": "executed", "fills": len(fills)})
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenIn, tokenOut := q.Get("tokenIn"), q.Get("tokenOut")
	if !common.IsHexAddress(tokenIn) || !common.IsHexAddress(tokenOut) {
		respondError(w, http.StatusBadRequest, "invalid token address", "")
		return
	}
	amount, err := parseAmount(q.Get("amount"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	tradeType := router.ExactInput
	if q.Get("type") == "exactOutput" {
		tradeType = router.ExactOutput
	}

	in, out := common.HexToAddress(tokenIn), common.HexToAddress(tokenOut)
	route, err := router.BestRoute(s.core.OrdersForPair(out, in), router.Request{
		Type:     tradeType,
		TokenIn:  in,
		TokenOut: out,
		Amount:   amount,
	})
	if err != nil {
		respondSwapError(w, err)
		return
	}

	steps := make([]RouteStepInfo, len(route.Steps))
	for i, step := range route.Steps {
		steps[i] = RouteStepInfo{
			OrderHash: step.OrderHash.Hex(),
			AmountIn:  step.AmountIn.String(),
			AmountOut: step.AmountOut.String(),
			Full:      step.Full,
		}
	}
	respondJSON(w, RouteResponse{Steps: steps, AmountIn: route.AmountIn.String(), AmountOut: route.AmountOut.String()})
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	if s.fees == nil {
		respondError(w, http.StatusNotFound, "fee plugin not enabled", "")
		return
	}
	respondJSON(w, FeeInfo{DefaultFeeBps: s.fees.DefaultBps(), MaxFeeBps: fees.MaxFeeBps})
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	if s.whitelist == nil {
		respondError(w, http.StatusNotFound, "whitelist plugin not enabled", "")
		return
	}
	assets := s.whitelist.List()
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Hex()
	}
	respondJSON(w, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, StatusResponse{
		ChainID:    s.core.ChainID(),
		Owner:      s.core.Owner().Hex(),
		OrderCount: len(s.core.Orders()),
		Plugins:    s.core.Plugins().Names(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid destination", err.Error())
		return
	}
	if err := s.core.Withdraw(caller, common.HexToAddress(req.Asset), amount, to); err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "withdrawn"})
}

func (s *Server) handleSetFee(w http.ResponseWriter, r *http.Request) {
	if s.fees == nil {
		respondError(w, http.StatusNotFound, "fee plugin not enabled", "")
		return
	}
	var req SetFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	if req.Asset == "" {
		err = s.fees.SetDefaultFeeBps(caller, req.FeeBps)
	} else {
		err = s.fees.SetAssetFeeBps(caller, common.HexToAddress(req.Asset), req.FeeBps)
	}
	if err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "updated"})
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	s.handleWhitelistChange(w, r, true)
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	s.handleWhitelistChange(w, r, false)
}

func (s *Server) handleWhitelistChange(w http.ResponseWriter, r *http.Request, add bool) {
	if s.whitelist == nil {
		respondError(w, http.StatusNotFound, "whitelist plugin not enabled", "")
		return
	}
	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid caller", err.Error())
		return
	}
	asset := common.HexToAddress(req.Asset)
	if add {
		err = s.whitelist.Add(caller, asset)
	} else {
		err = s.whitelist.Remove(caller, asset)
	}
	if err != nil {
		respondSwapError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "updated"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondSwapError maps settlement errors to HTTP status codes.
func respondSwapError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, swap.ErrOrderDoesNotExist), errors.Is(err, token.ErrUnknownToken):
		status = http.StatusNotFound
	case errors.Is(err, swap.ErrNotAnOwner), errors.Is(err, swap.ErrYouAreNotARecipient):
		status = http.StatusForbidden
	case errors.Is(err, swap.ErrOrderAlreadyExists), errors.Is(err, swap.ErrOrderAlreadyExecuted):
		status = http.StatusConflict
	case errors.Is(err, swap.ErrReentrantCall):
		status = http.StatusServiceUnavailable
	}
	respondError(w, status, err.Error(), "")
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("not a hex address")
	}
	return common.HexToAddress(s), nil
}

func (b *PrivateOrderBody) toOrder() (*swap.PrivateOrder, error) {
	sellAmount, err := parseAmount(b.MakerSellTokenAmount)
	if err != nil {
		return nil, err
	}
	buyAmount, err := parseAmount(b.MakerBuyTokenAmount)
	if err != nil {
		return nil, err
	}
	return &swap.PrivateOrder{
		Maker:                common.HexToAddress(b.Maker),
		Recipient:            common.HexToAddress(b.Recipient),
		MakerSellToken:       common.HexToAddress(b.MakerSellToken),
		MakerSellTokenAmount: sellAmount,
		MakerBuyToken:        common.HexToAddress(b.MakerBuyToken),
		MakerBuyTokenAmount:  buyAmount,
		Deadline:             b.Deadline,
		Nonce:                b.Nonce,
		CreationTimestamp:    b.CreationTimestamp,
	}, nil
}

func hexutilDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
