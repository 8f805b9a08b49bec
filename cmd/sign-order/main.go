package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/exchange/auth"
	"github.com/uhyunpark/hyperswap/pkg/exchange/order"
)

func fail(step string, err error) {
	fmt.Printf("Error %s: %v\n", step, err)
	os.Exit(1)
}

func main() {
	// Signatures must be made under the same domain the node verifies with
	cfg := params.LoadFromEnv("")
	hasher := order.NewHasher(cfg.Domain())

	// Step 1: Generate keys
	fmt.Println("Generating keypairs...")
	maker, err := crypto.GenerateKey()
	if err != nil {
		fail("generating maker key", err)
	}
	taker, err := crypto.GenerateKey()
	if err != nil {
		fail("generating taker key", err)
	}
	relayer, err := crypto.GenerateKey()
	if err != nil {
		fail("generating relayer key", err)
	}
	fmt.Printf("Maker:   %s (key %s)\n", maker.Address().Hex(), maker.PrivateKeyHex())
	fmt.Printf("Taker:   %s (key %s)\n", taker.Address().Hex(), taker.PrivateKeyHex())
	fmt.Printf("Relayer: %s (key %s)\n\n", relayer.Address().Hex(), relayer.PrivateKeyHex())

	// Step 2: Build the order pair. The maker lists an NFT for 1.5 WETH; the
	// taker bids exactly that and grants the relayer a 2.5% origin fee.
	price := decimal.RequireFromString("1.5")
	priceWei := price.Shift(18).BigInt()
	weth := order.Token(order.ClassWrapped, cfg.Devnet.WETH)
	// devnet funding gives the first account token #1
	nft, err := order.NFT(order.ClassERC721, cfg.Devnet.Collection, big.NewInt(1))
	if err != nil {
		fail("encoding nft", err)
	}

	sellData, err := order.EncodeDataV1(
		[]order.Part{{Account: maker.Address(), Value: 10000}},
		nil,
	)
	if err != nil {
		fail("encoding sell data", err)
	}
	buyData, err := order.EncodeDataV1(
		[]order.Part{{Account: taker.Address(), Value: 10000}},
		[]order.Part{{Account: relayer.Address(), Value: 250}},
	)
	if err != nil {
		fail("encoding buy data", err)
	}
	sell := &order.Order{
		Maker:     maker.Address(),
		MakeAsset: order.NewAsset(nft, big.NewInt(1)),
		TakeAsset: order.NewAsset(weth, priceWei),
		Salt:      big.NewInt(time.Now().UnixNano()),
		End:       uint64(time.Now().Add(24 * time.Hour).Unix()),
		DataType:  order.DataV1,
		Data:      sellData,
	}
	buy := &order.Order{
		Maker:     taker.Address(),
		MakeAsset: order.NewAsset(weth, priceWei),
		TakeAsset: order.NewAsset(nft, big.NewInt(1)),
		Salt:      big.NewInt(time.Now().UnixNano() + 1),
		DataType:  order.DataV1,
		Data:      buyData,
	}

	fmt.Println("Orders:")
	fmt.Printf("  Sell: 1 ERC721 #1 for %s WETH (maker %s)\n", price, sell.Maker.Hex())
	fmt.Printf("  Buy:  %s WETH for 1 ERC721 #1 (maker %s)\n\n", price, buy.Maker.Hex())

	// Step 3: Maker signs the sell order; the relayer grants the buy order a
	// match allowance valid for ten minutes
	sellSig, err := hasher.Sign(maker, sell)
	if err != nil {
		fail("signing sell order", err)
	}
	buyKey, err := hasher.Key(buy)
	if err != nil {
		fail("hashing buy order", err)
	}
	expiry := uint64(time.Now().Add(10 * time.Minute).Unix())
	allowance, err := auth.SignAllowance(cfg.Domain(), relayer, buyKey, expiry)
	if err != nil {
		fail("signing allowance", err)
	}

	sellKey, _ := hasher.Key(sell)
	fmt.Printf("Sell key: %s\n", sellKey.Hex())
	fmt.Printf("Buy key:  %s\n\n", buyKey.Hex())

	// Step 4: Verify before printing
	validator := auth.NewValidator(hasher, relayer.Address(), nil)
	if _, err := validator.Authorize(sell, sellKey, relayer.Address(), auth.Evidence{Signature: sellSig}); err != nil {
		fail("verifying sell signature", err)
	}
	if _, err := validator.Authorize(buy, buyKey, relayer.Address(), auth.Evidence{AllowanceExpiry: expiry, AllowanceSignature: allowance}); err != nil {
		fail("verifying allowance", err)
	}
	fmt.Println("✓ Signature and allowance VALID")
	fmt.Println()

	// The relayer submits the pair and signs for exactly this submission
	callSig, err := auth.SignCall(cfg.Domain(), relayer, buyKey, sellKey, big.NewInt(0), expiry)
	if err != nil {
		fail("signing call", err)
	}

	// Step 5: Serialize the match request
	req := api.MatchRequest{
		Left: api.SignedOrderRequest{
			Order:              *order.FromOrder(buy),
			AllowanceExpiry:    expiry,
			AllowanceSignature: hexutil.Encode(allowance),
		},
		Right: api.SignedOrderRequest{
			Order:     *order.FromOrder(sell),
			Signature: hexutil.Encode(sellSig),
		},
		Caller:          relayer.Address().Hex(),
		CallerExpiry:    expiry,
		CallerSignature: hexutil.Encode(callSig),
	}
	body, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		fail("marshaling JSON", err)
	}

	fmt.Println("Start the node with:")
	fmt.Printf("  RELAYER_ADDRESS=%s DEVNET_ACCOUNTS=%s\n",
		relayer.Address().Hex(),
		strings.Join([]string{maker.Address().Hex(), taker.Address().Hex()}, ","))
	fmt.Println()
	fmt.Println("To settle this pair:")
	fmt.Println("  POST http://localhost:8080/api/v1/match")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}
