package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange/auth"
	"github.com/uhyunpark/hyperswap/pkg/exchange/engine"
	"github.com/uhyunpark/hyperswap/pkg/exchange/fee"
	"github.com/uhyunpark/hyperswap/pkg/exchange/ledger"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
	"github.com/uhyunpark/hyperswap/pkg/exchange/record"
	"github.com/uhyunpark/hyperswap/pkg/exchange/transfer"
	"github.com/uhyunpark/hyperswap/pkg/metrics"
	"github.com/uhyunpark/hyperswap/pkg/util"
	"github.com/uhyunpark/hyperswap/pkg/vault"
)

var (
	collection = common.HexToAddress("0x3000000000000000000000000000000000000003")
	receiver   = common.HexToAddress("0xfee0000000000000000000000000000000000001")
)

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18)) }

type fixture struct {
	server *Server
	engine *engine.Engine
	vault  *vault.Vault
	clock  *util.ManualClock
	maker  *crypto.Signer
	taker  *crypto.Signer
	nft    order.AssetType
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	maker, _ := crypto.GenerateKey()
	taker, _ := crypto.GenerateKey()

	hasher := order.NewHasher(crypto.DefaultDomain())
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	fees, err := fee.NewCalculator(fee.Config{ProtocolBps: 100, Receiver: receiver, MaxFeeBps: 5000}, nil)
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	v := vault.New(nil)
	router := transfer.NewRouter(nil)
	v.RegisterHandlers(router)

	e, err := engine.NewEngine(engine.Config{Escrow: common.HexToAddress("0xe5c0")}, hasher,
		auth.NewValidator(hasher, common.Address{}, clock), fees, router, ledger.NewMemory(), clock, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	nft, _ := order.NFT(order.ClassERC721, collection, big.NewInt(9))
	if err := v.Mint(maker.Address(), nft, big.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := v.Mint(taker.Address(), order.Native(), eth(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	s := NewServer(e, v, nil, metrics.New(), common.Address{}, nil)
	e.SetSink(s.Hub())
	return &fixture{server: s, engine: e, vault: v, clock: clock, maker: maker, taker: taker, nft: nft}
}

// signedBy fills in the caller fields of req with a fresh MatchCall signature
func (f *fixture) signedBy(t *testing.T, caller *crypto.Signer, req MatchRequest) MatchRequest {
	t.Helper()
	m, err := req.toEngine()
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	hasher := f.engine.Hasher()
	leftKey, _ := hasher.Key(&m.Left.Order)
	rightKey, _ := hasher.Key(&m.Right.Order)
	expiry := uint64(f.clock.Now().Add(10 * time.Minute).Unix())
	sig, err := auth.SignCall(hasher.Domain(), caller, leftKey, rightKey, m.Value, expiry)
	if err != nil {
		t.Fatalf("sign call: %v", err)
	}
	req.Caller = caller.Address().Hex()
	req.CallerExpiry = expiry
	req.CallerSignature = hexutil.Encode(sig)
	return req
}

func (f *fixture) orders() (left, right *order.Order) {
	right = &order.Order{
		Maker:     f.maker.Address(),
		MakeAsset: order.NewAsset(f.nft, big.NewInt(1)),
		TakeAsset: order.NewAsset(order.Native(), eth(2)),
		Salt:      big.NewInt(1),
		DataType:  order.DataDefault,
	}
	left = &order.Order{
		Maker:     f.taker.Address(),
		MakeAsset: order.NewAsset(order.Native(), eth(2)),
		TakeAsset: order.NewAsset(f.nft, big.NewInt(1)),
		Salt:      big.NewInt(2),
		DataType:  order.DataDefault,
	}
	return left, right
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestMatchEndpoint(t *testing.T) {
	f := newFixture(t)
	left, right := f.orders()
	sig, err := f.engine.Hasher().Sign(f.maker, right)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	unsigned := MatchRequest{
		Left:  SignedOrderRequest{Order: *order.FromOrder(left)},
		Right: SignedOrderRequest{Order: *order.FromOrder(right), Signature: hexutil.Encode(sig)},
		Value: eth(3).String(),
	}
	req := f.signedBy(t, f.taker, unsigned)
	rec := f.do(t, "POST", "/api/v1/match", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var resp MatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "settled" || resp.Refund != eth(1).String() || resp.RightAuth != "signature" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Transfers) != 3 {
		t.Errorf("transfers = %d, want protocol, payout and nft", len(resp.Transfers))
	}

	rightKey, _ := f.engine.Hasher().Key(right)
	rec = f.do(t, "GET", "/api/v1/fills/"+rightKey.Hex(), nil)
	var fill FillResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &fill)
	if fill.Fill != eth(2).String() {
		t.Errorf("fill = %+v", fill)
	}

	rec = f.do(t, "GET", "/api/v1/accounts/"+f.taker.Address().Hex()+"/balances", nil)
	var balances []BalanceInfo
	_ = json.Unmarshal(rec.Body.Bytes(), &balances)
	if len(balances) != 2 {
		t.Fatalf("balances = %s", rec.Body)
	}
	for _, b := range balances {
		switch b.AssetClass {
		case "ETH":
			if b.Display != "8" {
				t.Errorf("eth display = %s", b.Display)
			}
		case "ERC721":
			if b.Balance != "1" {
				t.Errorf("nft balance = %s", b.Balance)
			}
		}
	}

	// the same caller signature is accepted once
	rec = f.do(t, "POST", "/api/v1/match", req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed call status = %d", rec.Code)
	}

	// a fresh signature reaches the engine, which finds the unit gone
	f.clock.Advance(time.Second)
	rec = f.do(t, "POST", "/api/v1/match", f.signedBy(t, f.taker, unsigned))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("second match status = %d", rec.Code)
	}
}

func TestMatchEndpointErrors(t *testing.T) {
	f := newFixture(t)
	left, right := f.orders()

	rec := f.do(t, "POST", "/api/v1/match", f.signedBy(t, f.taker, MatchRequest{
		Left:  SignedOrderRequest{Order: *order.FromOrder(left)},
		Right: SignedOrderRequest{Order: *order.FromOrder(right)},
		Value: eth(2).String(),
	}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var e ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &e)
	if e.Error != "InvalidSignature" {
		t.Errorf("error = %+v", e)
	}

	rec = f.do(t, "POST", "/api/v1/match", MatchRequest{Caller: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed request status = %d", rec.Code)
	}

	rec = f.do(t, "GET", "/api/v1/fills/0x1234", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad key status = %d", rec.Code)
	}

	rec = f.do(t, "GET", "/api/v1/matches", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("history without store status = %d", rec.Code)
	}
}

func TestOrderKeyEndpoint(t *testing.T) {
	f := newFixture(t)
	_, right := f.orders()

	rec := f.do(t, "POST", "/api/v1/orders/key", order.FromOrder(right))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var resp OrderKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	key, _ := f.engine.Hasher().Key(right)
	digest, _ := f.engine.Hasher().Digest(key)
	if resp.Key != key.Hex() || resp.Digest != digest.Hex() {
		t.Errorf("key/digest = %s/%s", resp.Key, resp.Digest)
	}

	// the wallet document must hash to the same key and digest
	var td apitypes.TypedData
	if err := json.Unmarshal(resp.TypedData, &td); err != nil {
		t.Fatalf("typed data: %v", err)
	}
	if td.PrimaryType != "Order" {
		t.Errorf("primary type = %q", td.PrimaryType)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		t.Fatalf("hash struct: %v", err)
	}
	if common.BytesToHash(structHash) != key {
		t.Errorf("document hashes to %x, key %s", structHash, key.Hex())
	}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		t.Fatalf("hash domain: %v", err)
	}
	raw := append([]byte{0x19, 0x01}, sep...)
	raw = append(raw, structHash...)
	if gethcrypto.Keccak256Hash(raw) != digest {
		t.Errorf("document digest differs from %s", digest.Hex())
	}
}

func TestMatchNeedsAuthenticatedCaller(t *testing.T) {
	f := newFixture(t)
	attacker, victim := f.maker, f.taker

	// attacker lists a worthless token for the victim's whole balance
	right := &order.Order{
		Maker:     attacker.Address(),
		MakeAsset: order.NewAsset(f.nft, big.NewInt(1)),
		TakeAsset: order.NewAsset(order.Native(), eth(10)),
		Salt:      big.NewInt(11),
		DataType:  order.DataDefault,
	}
	left := &order.Order{
		Maker:     victim.Address(),
		MakeAsset: order.NewAsset(order.Native(), eth(10)),
		TakeAsset: order.NewAsset(f.nft, big.NewInt(1)),
		Salt:      big.NewInt(12),
		DataType:  order.DataDefault,
	}
	sig, _ := f.engine.Hasher().Sign(attacker, right)
	base := MatchRequest{
		Left:  SignedOrderRequest{Order: *order.FromOrder(left)},
		Right: SignedOrderRequest{Order: *order.FromOrder(right), Signature: hexutil.Encode(sig)},
		Value: eth(10).String(),
	}

	claimed := base
	claimed.Caller = victim.Address().Hex()

	forged := f.signedBy(t, attacker, base)
	forged.Caller = victim.Address().Hex()

	anonymous := base
	noValue := base
	noValue.Value = ""

	tests := []struct {
		name   string
		req    MatchRequest
		status int
		code   string
	}{
		{"claimed caller without signature", claimed, http.StatusUnauthorized, "CallerUnauthenticated"},
		{"caller signature by someone else", forged, http.StatusUnauthorized, "CallerUnauthenticated"},
		{"anonymous with value", anonymous, http.StatusUnauthorized, "CallerUnauthenticated"},
		{"anonymous without value", noValue, http.StatusUnprocessableEntity, "InvalidSignature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, "POST", "/api/v1/match", tt.req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
			}
			var e ErrorResponse
			_ = json.Unmarshal(rec.Body.Bytes(), &e)
			if e.Error != tt.code {
				t.Errorf("error = %+v, want %s", e, tt.code)
			}
		})
	}

	if got := f.vault.Balance(victim.Address(), order.Native()); got.Cmp(eth(10)) != 0 {
		t.Errorf("victim balance = %s", got)
	}
	if got := f.vault.Balance(attacker.Address(), order.Native()); got.Sign() != 0 {
		t.Errorf("attacker balance = %s", got)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	if rec := f.do(t, "GET", "/health", nil); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("health = %d %s", rec.Code, rec.Body)
	}
	if rec := f.do(t, "GET", "/metrics", nil); rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

func TestHubPushesSubscribedChannels(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.server.Hub().Run(ctx)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelTransfers}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil || ack["type"] != "ack" {
		t.Fatalf("ack = %v, err = %v", ack, err)
	}

	ev := record.Event{
		Match: record.Match{LeftKey: common.HexToHash("0x1"), RightKey: common.HexToHash("0x2")},
		Transfers: []record.Transfer{{
			AssetClass: order.ClassNative,
			Value:      big.NewInt(42),
			Category:   fee.CategoryPayout,
		}},
		Timestamp: 7,
	}
	if err := f.server.Hub().Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var msg TransferMessage
	var raw map[string]interface{}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	_ = json.Unmarshal(data, &raw)
	if raw["type"] != "transfer" {
		t.Fatalf("got %s, want only the transfers channel", data)
	}
	_ = json.Unmarshal(data, &msg)
	if msg.Timestamp != 7 || msg.LeftKey != common.HexToHash("0x1").Hex() {
		t.Errorf("message = %s", data)
	}
}

func TestHubShutdownReleasesClients(t *testing.T) {
	f := newFixture(t)
	hub := f.server.Hub()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{ChannelMatches}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("ack: %v", err)
	}

	cancel()
	<-stopped
	if n := hub.Clients(); n != 0 {
		t.Errorf("clients after shutdown = %d", n)
	}

	// the server side closes the connection instead of hanging
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after shutdown")
	}

	// late subscribers are turned away
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("late dial: %v", err)
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = late.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("late client err = %v, want going away", err)
	}

	// publishing after shutdown is harmless
	if err := hub.Publish(context.Background(), record.Event{Timestamp: 1}); err != nil {
		t.Errorf("publish: %v", err)
	}
	if n := hub.Clients(); n != 0 {
		t.Errorf("clients after late dial = %d", n)
	}
}
