// Package fees charges protocol fees on fills. The fee is deducted from
// the filler's proceeds in the maker sell asset and accrues to the
// settlement core's balance, where the owner can withdraw it as surplus.
package fees

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

const (
	// PluginName identifies this plugin in the pipeline.
	PluginName = "fees"

	// DefaultFeeBps is the protocol-wide fee applied when no override
	// matches: 24 basis points.
	DefaultFeeBps = 24

	// MaxFeeBps caps every configurable rate at 3%.
	MaxFeeBps = 300

	feeDenominator = 10_000
)

var ErrFeeExceedsMax = errors.New("fees: rate exceeds the maximum")

// FeeLevel is one tier of a pair fee schedule: the rate applies to fills
// whose notional (maker sell amount consumed) is at least MinNotional.
type FeeLevel struct {
	FeeBps      int64    `json:"feeBps"`
	MinNotional *big.Int `json:"minNotional"`
}

// pairKey orders the two asset addresses canonically so the schedule is
// direction-independent.
type pairKey struct {
	lo common.Address
	hi common.Address
}

func keyFor(a, b common.Address) pairKey {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

// Plugin computes the fill fee. Resolution order: pair schedule (best
// matching tier), then per-asset override on the maker sell asset, then
// the default rate.
type Plugin struct {
	swap.PluginBase

	mu         sync.RWMutex
	owner      common.Address
	defaultBps int64
	assetBps   map[common.Address]int64
	pairLevels map[pairKey][]FeeLevel
	feed       *swap.Feed
}

// New creates the fee plugin with the default rate. The feed may be nil.
func New(owner common.Address, feed *swap.Feed) *Plugin {
	return &Plugin{
		owner:      owner,
		defaultBps: DefaultFeeBps,
		assetBps:   make(map[common.Address]int64),
		pairLevels: make(map[pairKey][]FeeLevel),
		feed:       feed,
	}
}

func (p *Plugin) Name() string { return PluginName }

// BeforeFill adds this plugin's fee to the fill context.
func (p *Plugin) BeforeFill(ctx *swap.HookContext) error {
	fee := p.FeeFor(ctx.Order.MakerSellToken, ctx.Order.MakerBuyToken, ctx.AmountOut)
	ctx.Fee.Add(ctx.Fee, fee)
	return nil
}

// FeeFor computes the fee charged on a fill that consumes notional of
// the maker sell asset.
func (p *Plugin) FeeFor(sellToken, buyToken common.Address, notional *big.Int) *big.Int {
	bps := p.rateFor(sellToken, buyToken, notional)
	fee := new(big.Int).Mul(notional, big.NewInt(bps))
	return fee.Div(fee, big.NewInt(feeDenominator))
}

func (p *Plugin) rateFor(sellToken, buyToken common.Address, notional *big.Int) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if levels, ok := p.pairLevels[keyFor(sellToken, buyToken)]; ok {
		// Levels are kept sorted ascending by MinNotional; the last tier
		// the notional clears wins.
		rate := int64(-1)
		for _, lvl := range levels {
			if notional.Cmp(lvl.MinNotional) >= 0 {
				rate = lvl.FeeBps
			}
		}
		if rate >= 0 {
			return rate
		}
	}
	if bps, ok := p.assetBps[sellToken]; ok {
		return bps
	}
	return p.defaultBps
}

// SetDefaultFeeBps replaces the protocol-wide rate. Owner only.
func (p *Plugin) SetDefaultFeeBps(caller common.Address, bps int64) error {
	if err := p.authorize(caller, bps); err != nil {
		return err
	}
	p.mu.Lock()
	p.defaultBps = bps
	p.mu.Unlock()
	p.notify()
	return nil
}

// SetAssetFeeBps overrides the rate for fills selling one asset. Owner only.
func (p *Plugin) SetAssetFeeBps(caller common.Address, asset common.Address, bps int64) error {
	if err := p.authorize(caller, bps); err != nil {
		return err
	}
	p.mu.Lock()
	p.assetBps[asset] = bps
	p.mu.Unlock()
	p.notify()
	return nil
}

// RemoveAssetFee deletes a per-asset override. Owner only.
func (p *Plugin) RemoveAssetFee(caller common.Address, asset common.Address) error {
	if err := p.authorize(caller, 0); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.assetBps, asset)
	p.mu.Unlock()
	p.notify()
	return nil
}

// SetPairFeeLevels replaces the tiered schedule for a pair. The key is
// canonical: the schedule applies to fills in either direction. Owner only.
func (p *Plugin) SetPairFeeLevels(caller common.Address, a, b common.Address, levels []FeeLevel) error {
	if caller != p.ownerAddr() {
		return swap.ErrNotAnOwner
	}
	sorted := make([]FeeLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.FeeBps < 0 || lvl.FeeBps > MaxFeeBps {
			return fmt.Errorf("%w: %d bps > %d bps", ErrFeeExceedsMax, lvl.FeeBps, MaxFeeBps)
		}
		if lvl.MinNotional == nil {
			lvl.MinNotional = new(big.Int)
		}
		sorted = append(sorted, lvl)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinNotional.Cmp(sorted[j].MinNotional) < 0
	})

	p.mu.Lock()
	if len(sorted) == 0 {
		delete(p.pairLevels, keyFor(a, b))
	} else {
		p.pairLevels[keyFor(a, b)] = sorted
	}
	p.mu.Unlock()
	p.notify()
	return nil
}

// DefaultBps returns the protocol-wide rate.
func (p *Plugin) DefaultBps() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultBps
}

// AssetBps returns the per-asset override, if set.
func (p *Plugin) AssetBps(asset common.Address) (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bps, ok := p.assetBps[asset]
	return bps, ok
}

// PairLevels returns the tiered schedule for a pair, in ascending
// MinNotional order.
func (p *Plugin) PairLevels(a, b common.Address) []FeeLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	levels := p.pairLevels[keyFor(a, b)]
	out := make([]FeeLevel, len(levels))
	copy(out, levels)
	return out
}

func (p *Plugin) authorize(caller common.Address, bps int64) error {
	if caller != p.ownerAddr() {
		return swap.ErrNotAnOwner
	}
	if bps < 0 || bps > MaxFeeBps {
		return fmt.Errorf("%w: %d bps > %d bps", ErrFeeExceedsMax, bps, MaxFeeBps)
	}
	return nil
}

func (p *Plugin) ownerAddr() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.owner
}

func (p *Plugin) notify() {
	if p.feed != nil {
		p.feed.Publish(swap.Event{Type: swap.EventFeeUpdated, Plugin: PluginName})
	}
}
