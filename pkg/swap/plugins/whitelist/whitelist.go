// Package whitelist restricts order creation and fills to an approved
// asset set. Cancellation never consults the whitelist: makers can
// always reclaim escrow for a delisted asset.
package whitelist

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

// PluginName identifies this plugin in the pipeline.
const PluginName = "whitelist"

// Plugin rejects any create or fill touching an asset outside the
// approved set. Both legs of the swap must be listed.
type Plugin struct {
	swap.PluginBase

	mu      sync.RWMutex
	owner   common.Address
	allowed map[common.Address]struct{}
	feed    *swap.Feed
}

// New creates an empty whitelist owned by owner. The feed may be nil.
func New(owner common.Address, feed *swap.Feed) *Plugin {
	return &Plugin{
		owner:   owner,
		allowed: make(map[common.Address]struct{}),
		feed:    feed,
	}
}

func (p *Plugin) Name() string { return PluginName }

func (p *Plugin) BeforeCreate(ctx *swap.HookContext) error {
	return p.checkLegs(ctx.Order.MakerSellToken, ctx.Order.MakerBuyToken)
}

func (p *Plugin) BeforeFill(ctx *swap.HookContext) error {
	return p.checkLegs(ctx.Order.MakerSellToken, ctx.Order.MakerBuyToken)
}

func (p *Plugin) checkLegs(sellToken, buyToken common.Address) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.allowed[sellToken]; !ok {
		return fmt.Errorf("%w: %s", swap.ErrTokenNotWhitelisted, sellToken.Hex())
	}
	if _, ok := p.allowed[buyToken]; !ok {
		return fmt.Errorf("%w: %s", swap.ErrTokenNotWhitelisted, buyToken.Hex())
	}
	return nil
}

// Add approves an asset. Owner only; adding an approved asset is a no-op.
func (p *Plugin) Add(caller common.Address, asset common.Address) error {
	p.mu.Lock()
	if caller != p.owner {
		p.mu.Unlock()
		return swap.ErrNotAnOwner
	}
	_, existed := p.allowed[asset]
	p.allowed[asset] = struct{}{}
	p.mu.Unlock()
	if !existed {
		p.notify()
	}
	return nil
}

// Remove delists an asset. Live orders referencing it stop being
// fillable but remain cancellable. Owner only.
func (p *Plugin) Remove(caller common.Address, asset common.Address) error {
	p.mu.Lock()
	if caller != p.owner {
		p.mu.Unlock()
		return swap.ErrNotAnOwner
	}
	_, existed := p.allowed[asset]
	delete(p.allowed, asset)
	p.mu.Unlock()
	if existed {
		p.notify()
	}
	return nil
}

// Contains reports whether an asset is approved.
func (p *Plugin) Contains(asset common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.allowed[asset]
	return ok
}

// List returns the approved assets sorted by address.
func (p *Plugin) List() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]common.Address, 0, len(p.allowed))
	for a := range p.allowed {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

func (p *Plugin) notify() {
	if p.feed != nil {
		p.feed.Publish(swap.Event{Type: swap.EventWhitelistUpdated, Plugin: PluginName})
	}
}
