// Package router plans fills over a snapshot of live public orders. It
// is purely computational: planning touches no settlement state, and a
// plan is only as fresh as the snapshot it was computed from.
package router

import (
	"errors"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

var ErrNotEnoughLiquidity = errors.New("router: not enough liquidity for the requested amount")

// TradeType selects which side of the swap is fixed.
type TradeType int

const (
	// ExactInput fixes the amount the taker spends; the route maximizes
	// what they receive.
	ExactInput TradeType = iota
	// ExactOutput fixes the amount the taker receives; the route
	// minimizes what they spend.
	ExactOutput
)

// Step is one planned fill: AmountIn in the order's buy asset, AmountOut
// in its sell asset, both gross of fees.
type Step struct {
	OrderHash common.Hash `json:"orderHash"`
	AmountIn  *big.Int    `json:"amountIn"`
	AmountOut *big.Int    `json:"amountOut"`
	// Full marks a step that consumes the order's entire outstanding
	// amounts and should settle on the full-fill path.
	Full bool `json:"full"`
}

// Route is a fill plan over one pair.
type Route struct {
	Steps     []Step   `json:"steps"`
	AmountIn  *big.Int `json:"amountIn"`
	AmountOut *big.Int `json:"amountOut"`
}

// Request describes what the taker wants routed. TokenIn is the asset
// the taker spends (the orders' buy asset), TokenOut what they receive.
type Request struct {
	Type     TradeType
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *big.Int
	Now      int64
}

// BestRoute plans a trade against a snapshot of live orders. Orders on
// the requested pair are consumed cheapest-first; at most the final step
// is a partial fill. Returns ErrNotEnoughLiquidity when the snapshot
// cannot cover the requested amount.
func BestRoute(orders []*swap.OrderRecord, req Request) (*Route, error) {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, ErrNotEnoughLiquidity
	}
	candidates := eligible(orders, req)
	switch req.Type {
	case ExactOutput:
		return routeExactOutput(candidates, req.Amount)
	default:
		return routeExactInput(candidates, req.Amount)
	}
}

// eligible filters the snapshot to unexpired orders selling TokenOut for
// TokenIn, sorted by taker-facing price ascending. Hash breaks ties so
// routes are deterministic.
func eligible(orders []*swap.OrderRecord, req Request) []*swap.OrderRecord {
	var out []*swap.OrderRecord
	for _, rec := range orders {
		if rec.Order.MakerSellToken != req.TokenOut || rec.Order.MakerBuyToken != req.TokenIn {
			continue
		}
		if rec.Order.Expired(req.Now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Order.Price(), out[j].Order.Price()
		if c := pi.Cmp(pj); c != 0 {
			return c < 0
		}
		return out[i].Hash.Hex() < out[j].Hash.Hex()
	})
	return out
}

func routeExactInput(orders []*swap.OrderRecord, amountIn *big.Int) (*Route, error) {
	route := &Route{AmountIn: new(big.Int), AmountOut: new(big.Int)}
	remaining := new(big.Int).Set(amountIn)

	for _, rec := range orders {
		if remaining.Sign() == 0 {
			break
		}
		buy := rec.Order.MakerBuyTokenAmount
		sell := rec.Order.MakerSellTokenAmount

		if remaining.Cmp(buy) >= 0 {
			route.addStep(rec.Hash, buy, sell, true)
			remaining.Sub(remaining, buy)
			continue
		}

		// Partial tail: proceeds round down, matching settlement.
		out := new(big.Int).Mul(sell, remaining)
		out.Div(out, buy)
		route.addStep(rec.Hash, remaining, out, false)
		remaining = new(big.Int)
	}

	if remaining.Sign() > 0 {
		return nil, ErrNotEnoughLiquidity
	}
	return route, nil
}

func routeExactOutput(orders []*swap.OrderRecord, amountOut *big.Int) (*Route, error) {
	route := &Route{AmountIn: new(big.Int), AmountOut: new(big.Int)}
	remaining := new(big.Int).Set(amountOut)

	for _, rec := range orders {
		if remaining.Sign() == 0 {
			break
		}
		buy := rec.Order.MakerBuyTokenAmount
		sell := rec.Order.MakerSellTokenAmount

		if remaining.Cmp(sell) >= 0 {
			route.addStep(rec.Hash, buy, sell, true)
			remaining.Sub(remaining, sell)
			continue
		}

		// Partial tail: the input owed rounds up so the maker is never
		// short-paid for the requested output.
		in := new(big.Int).Mul(buy, remaining)
		in.Add(in, new(big.Int).Sub(sell, big.NewInt(1)))
		in.Div(in, sell)
		route.addStep(rec.Hash, in, remaining, false)
		remaining = new(big.Int)
	}

	if remaining.Sign() > 0 {
		return nil, ErrNotEnoughLiquidity
	}
	return route, nil
}

func (r *Route) addStep(hash common.Hash, in, out *big.Int, full bool) {
	r.Steps = append(r.Steps, Step{
		OrderHash: hash,
		AmountIn:  new(big.Int).Set(in),
		AmountOut: new(big.Int).Set(out),
		Full:      full,
	})
	r.AmountIn.Add(r.AmountIn, in)
	r.AmountOut.Add(r.AmountOut, out)
}

// FillRequests converts a route into executor work items. MinAmountOut
// is left unset; callers apply their own slippage policy.
func (r *Route) FillRequests() []swap.FillRequest {
	reqs := make([]swap.FillRequest, len(r.Steps))
	for i, step := range r.Steps {
		reqs[i] = swap.FillRequest{OrderHash: step.OrderHash, AmountIn: step.AmountIn}
	}
	return reqs
}
