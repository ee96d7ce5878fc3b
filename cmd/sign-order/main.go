package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/params"
	"github.com/fundswap/swapd/pkg/crypto"
	"github.com/fundswap/swapd/pkg/swap"
)

func main() {
	var (
		keyHex    = flag.String("key", "", "maker private key hex (generated when empty)")
		recipient = flag.String("recipient", "", "recipient address")
		sellToken = flag.String("sell-token", "", "maker sell token address")
		sellAmt   = flag.String("sell-amount", "1000000000000000000", "maker sell amount")
		buyToken  = flag.String("buy-token", "", "maker buy token address")
		buyAmt    = flag.String("buy-amount", "1000000000000000000", "maker buy amount")
		deadline  = flag.Int64("deadline", 0, "unix deadline, 0 = never")
		nonce     = flag.Uint64("nonce", 0, "maker nonce")
		chainID   = flag.Int64("chain-id", 31337, "chain id the order is scoped to")
	)
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Maker: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	sellAmount, ok := new(big.Int).SetString(*sellAmt, 10)
	if !ok {
		fmt.Printf("Error: invalid sell amount %q\n", *sellAmt)
		os.Exit(1)
	}
	buyAmount, ok := new(big.Int).SetString(*buyAmt, 10)
	if !ok {
		fmt.Printf("Error: invalid buy amount %q\n", *buyAmt)
		os.Exit(1)
	}

	order := &swap.PrivateOrder{
		Maker:                signer.Address(),
		Recipient:            common.HexToAddress(*recipient),
		MakerSellToken:       common.HexToAddress(*sellToken),
		MakerSellTokenAmount: sellAmount,
		MakerBuyToken:        common.HexToAddress(*buyToken),
		MakerBuyTokenAmount:  buyAmount,
		Deadline:             *deadline,
		Nonce:                *nonce,
		CreationTimestamp:    time.Now().Unix(),
	}
	if err := order.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	hash := order.Hash(*chainID)
	signature, err := signer.SignPersonal(hash.Bytes())
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Recipient: %s\n", order.Recipient.Hex())
	fmt.Printf("  Sell: %s of %s\n", order.MakerSellTokenAmount, order.MakerSellToken.Hex())
	fmt.Printf("  Buy:  %s of %s\n", order.MakerBuyTokenAmount, order.MakerBuyToken.Hex())
	fmt.Printf("  Deadline: %d  Nonce: %d\n\n", order.Deadline, order.Nonce)
	fmt.Printf("Order Hash: %s\n", hash.Hex())
	fmt.Printf("Signature: 0x%x\n\n", signature)

	// Verify before printing the submission payload
	recovered, err := crypto.RecoverPersonal(hash.Bytes(), signature)
	if err != nil || recovered != order.Maker {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Amounts go over the wire as decimal strings.
	payload := map[string]interface{}{
		"caller": order.Recipient.Hex(),
		"order": map[string]interface{}{
			"maker":                order.Maker.Hex(),
			"recipient":            order.Recipient.Hex(),
			"makerSellToken":       order.MakerSellToken.Hex(),
			"makerSellTokenAmount": order.MakerSellTokenAmount.String(),
			"makerBuyToken":        order.MakerBuyToken.Hex(),
			"makerBuyTokenAmount":  order.MakerBuyTokenAmount.String(),
			"deadline":             order.Deadline,
			"nonce":                order.Nonce,
			"creationTimestamp":    order.CreationTimestamp,
		},
		"orderHash": hash.Hex(),
		"signature": fmt.Sprintf("0x%x", signature),
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("To fill this order on %s:\n", params.ProtocolName)
	fmt.Println("  POST http://localhost:8080/api/v1/private/fill")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}
