package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fundswap/swapd/params"
)

// PublicOrder is a maker's open offer: the sell side is escrowed in the
// settlement core until the order is filled or cancelled.
//
// CreationTimestamp acts as a salt: two orders with identical economic
// terms but different timestamps hash to distinct keys, while a byte-for-
// byte duplicate of a live order is rejected.
type PublicOrder struct {
	MakerSellToken       common.Address `json:"makerSellToken"`
	MakerSellTokenAmount *big.Int       `json:"makerSellTokenAmount"`
	MakerBuyToken        common.Address `json:"makerBuyToken"`
	MakerBuyTokenAmount  *big.Int       `json:"makerBuyTokenAmount"`
	Deadline             int64          `json:"deadline"` // Unix seconds, 0 = never expires
	CreationTimestamp    int64          `json:"creationTimestamp"`
}

// Hash derives the order's identity: keccak256 over the packed
// {chainId, deadline, sell token, sell amount, buy token, buy amount,
// creationTimestamp}. The chain id scopes the hash to one network.
func (o *PublicOrder) Hash(chainID int64) common.Hash {
	return crypto.Keccak256Hash(packValues(
		big.NewInt(chainID),
		big.NewInt(o.Deadline),
		o.MakerSellToken,
		o.MakerSellTokenAmount,
		o.MakerBuyToken,
		o.MakerBuyTokenAmount,
		big.NewInt(o.CreationTimestamp),
	))
}

// Validate checks structural invariants common to order creation.
func (o *PublicOrder) Validate() error {
	if o.MakerSellToken == o.MakerBuyToken {
		return ErrInvalidPath
	}
	if o.MakerSellTokenAmount == nil || o.MakerSellTokenAmount.Sign() <= 0 {
		return ErrMakerSellTokenAmountIsZero
	}
	if o.MakerBuyTokenAmount == nil || o.MakerBuyTokenAmount.Sign() <= 0 {
		return ErrMakerBuyTokenAmountIsZero
	}
	return nil
}

// Expired reports whether the order's deadline has passed (0 = never).
func (o *PublicOrder) Expired(now int64) bool {
	return o.Deadline != 0 && o.Deadline < now
}

// Price is the taker-facing exchange rate scaled by 1e18:
// buyAmount * 1e18 / sellAmount. Lower is cheaper for the taker.
func (o *PublicOrder) Price() *big.Int {
	p := new(big.Int).Mul(o.MakerBuyTokenAmount, priceScale)
	return p.Div(p, o.MakerSellTokenAmount)
}

var priceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// PrivateOrder is never stored at creation: it lives off-chain as a
// maker-signed message, fillable only by the designated recipient.
// Only an executed/invalidated marker for its hash is ever persisted.
type PrivateOrder struct {
	Maker                common.Address `json:"maker"`
	Recipient            common.Address `json:"recipient"`
	MakerSellToken       common.Address `json:"makerSellToken"`
	MakerSellTokenAmount *big.Int       `json:"makerSellTokenAmount"`
	MakerBuyToken        common.Address `json:"makerBuyToken"`
	MakerBuyTokenAmount  *big.Int       `json:"makerBuyTokenAmount"`
	Deadline             int64          `json:"deadline"`
	Nonce                uint64         `json:"nonce"`
	CreationTimestamp    int64          `json:"creationTimestamp"`
}

// privateOrderTag scopes private order hashes to this protocol so a
// signature can never be replayed against another packed-encoding scheme.
var privateOrderTag = crypto.Keccak256Hash(
	[]byte(params.ProtocolName + ":" + params.ProtocolVersion + ":private-order"),
)

// Hash derives the private order's identity over every field except the
// signature. Any tampering, including by the recipient, changes the hash.
func (o *PrivateOrder) Hash(chainID int64) common.Hash {
	return crypto.Keccak256Hash(packValues(
		privateOrderTag,
		big.NewInt(chainID),
		o.Maker,
		big.NewInt(o.Deadline),
		o.MakerSellToken,
		o.MakerSellTokenAmount,
		o.MakerBuyToken,
		o.MakerBuyTokenAmount,
		o.Recipient,
		new(big.Int).SetUint64(o.Nonce),
		big.NewInt(o.CreationTimestamp),
	))
}

// Validate checks structural invariants of a private order.
func (o *PrivateOrder) Validate() error {
	if o.MakerSellToken == o.MakerBuyToken {
		return ErrInvalidPath
	}
	if o.MakerSellTokenAmount == nil || o.MakerSellTokenAmount.Sign() <= 0 {
		return ErrMakerSellTokenAmountIsZero
	}
	if o.MakerBuyTokenAmount == nil || o.MakerBuyTokenAmount.Sign() <= 0 {
		return ErrMakerBuyTokenAmountIsZero
	}
	return nil
}

// Expired reports whether the private order's deadline has passed.
func (o *PrivateOrder) Expired(now int64) bool {
	return o.Deadline != 0 && o.Deadline < now
}

// asPublic exposes the private order's swap legs to the plugin pipeline,
// which only inspects token addresses and amounts.
func (o *PrivateOrder) asPublic() *PublicOrder {
	return &PublicOrder{
		MakerSellToken:       o.MakerSellToken,
		MakerSellTokenAmount: new(big.Int).Set(o.MakerSellTokenAmount),
		MakerBuyToken:        o.MakerBuyToken,
		MakerBuyTokenAmount:  new(big.Int).Set(o.MakerBuyTokenAmount),
		Deadline:             o.Deadline,
		CreationTimestamp:    o.CreationTimestamp,
	}
}

// FillRequest is one unit of work for a partial fill or a batch step:
// amountIn is denominated in the order's buy asset (what the taker
// supplies), minAmountOut is a slippage floor on what the recipient
// receives. A zero recipient delivers the proceeds to the caller.
type FillRequest struct {
	OrderHash    common.Hash    `json:"orderHash"`
	AmountIn     *big.Int       `json:"amountIn"`
	MinAmountOut *big.Int       `json:"minAmountOut"`
	Recipient    common.Address `json:"recipient"`
}

// packValues emulates tightly packed ABI encoding: addresses as 20 bytes,
// integers and hashes as 32-byte big-endian words.
func packValues(values ...interface{}) []byte {
	var packed []byte
	for _, v := range values {
		switch x := v.(type) {
		case common.Address:
			packed = append(packed, x.Bytes()...)
		case common.Hash:
			packed = append(packed, x.Bytes()...)
		case *big.Int:
			packed = append(packed, common.LeftPadBytes(x.Bytes(), 32)...)
		default:
			panic("swap: unsupported packed value")
		}
	}
	return packed
}
