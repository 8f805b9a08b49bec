package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/exchange/auth"
	"github.com/uhyunpark/hyperswap/pkg/exchange/engine"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/vault"
)

const maxHistory = 500

// Balances is the account view backing /accounts/{address}/balances
type Balances interface {
	Holdings(owner common.Address) []vault.Holding
}

// History is the settlement record index backing the match queries
type History interface {
	Recent(limit int) ([]record.Event, error)
	ByOrder(orderKey common.Hash, limit int) ([]record.Event, error)
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   *engine.Engine
	balances Balances
	history  History
	metrics  *metrics.Metrics
	relayer  common.Address
	calls    *auth.CallLog

	router *mux.Router
	hub    *Hub
	http   *http.Server
	log    *zap.SugaredLogger
}

// NewServer wires the routes. balances, history and m may be nil; their
// endpoints then answer 404.
func NewServer(e *engine.Engine, balances Balances, history History, m *metrics.Metrics, relayer common.Address, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		engine:   e,
		balances: balances,
		history:  history,
		metrics:  m,
		relayer:  relayer,
		calls:    auth.NewCallLog(),
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Settlement
	api.HandleFunc("/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/matches", s.handleRecentMatches).Methods("GET")

	// Orders
	api.HandleFunc("/orders/key", s.handleOrderKey).Methods("POST")
	api.HandleFunc("/orders/{key}/matches", s.handleOrderMatches).Methods("GET")
	api.HandleFunc("/fills/{key}", s.handleGetFill).Methods("GET")

	// Accounts
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub is the websocket record sink; register it with the engine
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	mreq, err := req.toEngine()
	if err != nil {
		respondError(w, http.StatusBadRequest, requestReason(err), err.Error())
		return
	}
	if err := s.authenticate(req, mreq); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, auth.ErrCallerUnauthenticated) {
			status = http.StatusUnauthorized
		}
		respondError(w, status, requestReason(err), err.Error())
		return
	}

	res, err := s.engine.Match(r.Context(), mreq)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, engine.Reason(err), err.Error())
		return
	}

	respondJSON(w, MatchResponse{
		Status:     "settled",
		LeftValue:  res.LeftValue.String(),
		RightValue: res.RightValue.String(),
		Refund:     res.Refund.String(),
		LeftAuth:   res.LeftAuth,
		RightAuth:  res.RightAuth,
		Match:      res.Event.Match,
		Transfers:  res.Event.Transfers,
		Timestamp:  res.Event.Timestamp,
	})
}

func (s *Server) handleGetFill(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, mux.Vars(r)["key"])
	if !ok {
		return
	}
	fill, err := s.engine.Fill(key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "LedgerFailed", err.Error())
		return
	}
	respondJSON(w, FillResponse{Key: key.Hex(), Fill: fill.String()})
}

func (s *Server) handleOrderKey(w http.ResponseWriter, r *http.Request) {
	var p order.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}
	o, err := p.ToOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, requestReason(err), err.Error())
		return
	}

	hasher := s.engine.Hasher()
	key, err := hasher.Key(o)
	if err != nil {
		respondError(w, http.StatusBadRequest, "InvalidOrder", err.Error())
		return
	}
	digest, err := hasher.Digest(key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	doc, err := hasher.TypedDataJSON(o)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	respondJSON(w, OrderKeyResponse{Key: key.Hex(), Digest: digest.Hex(), TypedData: json.RawMessage(doc)})
}

func (s *Server) handleRecentMatches(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "NoHistory", "record store not configured")
		return
	}
	events, err := s.history.Recent(limitParam(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	respondJSON(w, nonNil(events))
}

func (s *Server) handleOrderMatches(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "NoHistory", "record store not configured")
		return
	}
	key, ok := parseKey(w, mux.Vars(r)["key"])
	if !ok {
		return
	}
	events, err := s.history.ByOrder(key, limitParam(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	respondJSON(w, nonNil(events))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	if s.balances == nil {
		respondError(w, http.StatusNotFound, "NoBalances", "vault not configured")
		return
	}
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "InvalidAddress", "")
		return
	}

	holdings := s.balances.Holdings(common.HexToAddress(addressStr))
	response := make([]BalanceInfo, 0, len(holdings))
	for _, h := range holdings {
		info := BalanceInfo{
			AssetClass: h.Asset.Class.String(),
			Balance:    h.Balance.String(),
			Display:    displayAmount(h.Asset.Class, h.Balance),
		}
		if len(h.Asset.Data) > 0 {
			info.AssetData = hexutil.Encode(h.Asset.Data)
		}
		response = append(response, info)
	}
	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if s.relayer != (common.Address{}) {
		resp.Relayer = s.relayer.Hex()
	}
	respondJSON(w, resp)
}

// ==============================
// Helper Functions
// ==============================

// authenticate proves the caller signed this exact submission and burns the
// signature. Anonymous submissions may not forward native currency.
func (s *Server) authenticate(req MatchRequest, m engine.Request) error {
	if m.Caller == (common.Address{}) {
		if m.Value.Sign() > 0 {
			return fmt.Errorf("%w: forwarding value needs a signed caller", auth.ErrCallerUnauthenticated)
		}
		return nil
	}
	sig, err := hexutil.Decode(req.CallerSignature)
	if err != nil {
		return fmt.Errorf("%w: caller signature: %v", auth.ErrCallerUnauthenticated, err)
	}

	hasher := s.engine.Hasher()
	leftKey, err := hasher.Key(&m.Left.Order)
	if err != nil {
		return fmt.Errorf("left: %w", err)
	}
	rightKey, err := hasher.Key(&m.Right.Order)
	if err != nil {
		return fmt.Errorf("right: %w", err)
	}

	v := s.engine.Validator()
	digest, err := v.AuthenticateCall(auth.Call{
		Caller:    m.Caller,
		LeftKey:   leftKey,
		RightKey:  rightKey,
		Value:     m.Value,
		Expiry:    req.CallerExpiry,
		Signature: sig,
	})
	if err != nil {
		return err
	}
	return s.calls.Use(digest, req.CallerExpiry, v.Now())
}

func (req MatchRequest) toEngine() (engine.Request, error) {
	left, err := req.Left.toEngine()
	if err != nil {
		return engine.Request{}, fmt.Errorf("left: %w", err)
	}
	right, err := req.Right.toEngine()
	if err != nil {
		return engine.Request{}, fmt.Errorf("right: %w", err)
	}
	var caller common.Address
	if req.Caller != "" {
		if !common.IsHexAddress(req.Caller) {
			return engine.Request{}, fmt.Errorf("invalid caller %q", req.Caller)
		}
		caller = common.HexToAddress(req.Caller)
	}
	value := new(big.Int)
	if req.Value != "" {
		if _, ok := value.SetString(req.Value, 10); !ok || value.Sign() < 0 {
			return engine.Request{}, fmt.Errorf("invalid value %q", req.Value)
		}
	}
	return engine.Request{Left: left, Right: right, Caller: caller, Value: value}, nil
}

func (s SignedOrderRequest) toEngine() (engine.SignedOrder, error) {
	o, err := s.Order.ToOrder()
	if err != nil {
		return engine.SignedOrder{}, err
	}
	out := engine.SignedOrder{Order: *o, AllowanceExpiry: s.AllowanceExpiry}
	if s.Signature != "" {
		if out.Signature, err = hexutil.Decode(s.Signature); err != nil {
			return engine.SignedOrder{}, fmt.Errorf("signature: %w", err)
		}
	}
	if s.AllowanceSignature != "" {
		if out.AllowanceSignature, err = hexutil.Decode(s.AllowanceSignature); err != nil {
			return engine.SignedOrder{}, fmt.Errorf("allowance signature: %w", err)
		}
	}
	return out, nil
}

// requestReason is the reason code for a request that failed to decode
func requestReason(err error) string {
	if code := engine.Reason(err); code != "Internal" {
		return code
	}
	return "InvalidRequest"
}

// displayAmount renders fungible balances with 18 decimals
func displayAmount(class order.AssetClass, v *big.Int) string {
	if class.IsNFT() || class.Custom() {
		return v.String()
	}
	return decimal.NewFromBigInt(v, -18).String()
}

func parseKey(w http.ResponseWriter, raw string) (common.Hash, bool) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "InvalidKey", "expected 0x-prefixed 32 byte hex")
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > maxHistory {
		return maxHistory
	}
	return limit
}

func nonNil(events []record.Event) []record.Event {
	if events == nil {
		return []record.Event{}
	}
	return events
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}
