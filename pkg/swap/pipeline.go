package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// HookPhase identifies the extension point a plugin is being invoked at.
type HookPhase int

const (
	HookBeforeCreate HookPhase = iota
	HookAfterCreate
	HookBeforeFill
	HookAfterFill
)

func (p HookPhase) String() string {
	switch p {
	case HookBeforeCreate:
		return "before_create"
	case HookAfterCreate:
		return "after_create"
	case HookBeforeFill:
		return "before_fill"
	case HookAfterFill:
		return "after_fill"
	default:
		return "unknown"
	}
}

// HookContext is handed to every plugin at an extension point. Plugins may
// veto the transition by returning an error, and fill-phase plugins may
// decorate Fee. Token addresses are guarded by the pipeline itself: any
// mutation aborts the whole operation.
type HookContext struct {
	Phase  HookPhase
	Caller common.Address

	// Order is the swap under consideration. For private orders this is a
	// synthesized view of the two legs.
	Order *PublicOrder

	// Payload is an opaque caller-supplied blob, passed through untouched.
	Payload []byte

	// AmountOut is the maker-sell amount leaving escrow in this fill
	// (set for fill phases only).
	AmountOut *big.Int

	// Fee accumulates plugin-charged fees denominated in the maker sell
	// asset. Deducted from the filler's proceeds, never from the maker.
	Fee *big.Int
}

// Plugin is a pluggable policy invoked synchronously inside settlement
// transitions. Any error aborts the whole operation.
type Plugin interface {
	Name() string
	BeforeCreate(ctx *HookContext) error
	AfterCreate(ctx *HookContext) error
	BeforeFill(ctx *HookContext) error
	AfterFill(ctx *HookContext) error
}

// PluginBase is a no-op implementation plugins can embed to only override
// the hooks they care about.
type PluginBase struct{}

func (PluginBase) BeforeCreate(*HookContext) error { return nil }
func (PluginBase) AfterCreate(*HookContext) error  { return nil }
func (PluginBase) BeforeFill(*HookContext) error   { return nil }
func (PluginBase) AfterFill(*HookContext) error    { return nil }

// Pipeline is the ordered set of enabled plugins. It enforces, independent
// of any single plugin's correctness, that no hook run changes the
// identity of the two assets being swapped.
type Pipeline struct {
	plugins []Plugin
	feed    *Feed
}

func NewPipeline(feed *Feed) *Pipeline {
	return &Pipeline{feed: feed}
}

// Enable appends a plugin to the pipeline. Enabling an already-enabled
// plugin is a no-op: no event is emitted on that path.
func (p *Pipeline) Enable(plugin Plugin, payload []byte) {
	for _, existing := range p.plugins {
		if existing.Name() == plugin.Name() {
			return
		}
	}
	p.plugins = append(p.plugins, plugin)
	p.feed.publish(Event{Type: EventPluginEnabled, Plugin: plugin.Name()})
}

// Disable removes a plugin. Disabling an already-disabled plugin is a
// no-op with no event.
func (p *Pipeline) Disable(name string, payload []byte) {
	for i, plugin := range p.plugins {
		if plugin.Name() == name {
			p.plugins = append(p.plugins[:i], p.plugins[i+1:]...)
			p.feed.publish(Event{Type: EventPluginDisabled, Plugin: name})
			return
		}
	}
}

// Names lists the enabled plugins in invocation order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.plugins))
	for i, plugin := range p.plugins {
		out[i] = plugin.Name()
	}
	return out
}

// Run invokes every enabled plugin at the given phase, aborting on the
// first error. After all hooks return, the sell and buy token addresses
// must be bit-identical to their pre-hook values.
func (p *Pipeline) Run(ctx *HookContext) error {
	sellToken := ctx.Order.MakerSellToken
	buyToken := ctx.Order.MakerBuyToken

	for _, plugin := range p.plugins {
		var err error
		switch ctx.Phase {
		case HookBeforeCreate:
			err = plugin.BeforeCreate(ctx)
		case HookAfterCreate:
			err = plugin.AfterCreate(ctx)
		case HookBeforeFill:
			err = plugin.BeforeFill(ctx)
		case HookAfterFill:
			err = plugin.AfterFill(ctx)
		}
		if err != nil {
			return fmt.Errorf("plugin %s rejected %s: %w", plugin.Name(), ctx.Phase, err)
		}
	}

	if ctx.Order.MakerSellToken != sellToken || ctx.Order.MakerBuyToken != buyToken {
		return ErrTokenAddressChangeNotAllowed
	}
	return nil
}
