package whitelist

import (
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	mallory = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	weth    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc    = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func hookCtx(sell, buy common.Address) *swap.HookContext {
	return &swap.HookContext{
		Order: &swap.PublicOrder{MakerSellToken: sell, MakerBuyToken: buy},
	}
}

func TestBothLegsMustBeListed(t *testing.T) {
	p := New(owner, nil)
	p.Add(owner, weth)

	err := p.BeforeCreate(hookCtx(weth, usdc))
	if !errors.Is(err, swap.ErrTokenNotWhitelisted) {
		t.Errorf("unlisted buy leg error = %v, want ErrTokenNotWhitelisted", err)
	}
	// The rejection names the offending asset.
	if err == nil || !strings.Contains(err.Error(), usdc.Hex()) {
		t.Errorf("error %q does not name %s", err, usdc.Hex())
	}
	if err := p.BeforeCreate(hookCtx(usdc, weth)); !errors.Is(err, swap.ErrTokenNotWhitelisted) {
		t.Errorf("unlisted sell leg error = %v, want ErrTokenNotWhitelisted", err)
	}

	p.Add(owner, usdc)
	if err := p.BeforeCreate(hookCtx(weth, usdc)); err != nil {
		t.Errorf("fully listed pair rejected: %v", err)
	}
	if err := p.BeforeFill(hookCtx(weth, usdc)); err != nil {
		t.Errorf("fill of listed pair rejected: %v", err)
	}
}

func TestRemoveBlocksFills(t *testing.T) {
	p := New(owner, nil)
	p.Add(owner, weth)
	p.Add(owner, usdc)
	p.Remove(owner, usdc)

	if err := p.BeforeFill(hookCtx(weth, usdc)); !errors.Is(err, swap.ErrTokenNotWhitelisted) {
		t.Errorf("delisted asset fill error = %v, want ErrTokenNotWhitelisted", err)
	}
}

func TestOwnerGating(t *testing.T) {
	p := New(owner, nil)

	if err := p.Add(mallory, weth); !errors.Is(err, swap.ErrNotAnOwner) {
		t.Errorf("add error = %v, want ErrNotAnOwner", err)
	}
	p.Add(owner, weth)
	if err := p.Remove(mallory, weth); !errors.Is(err, swap.ErrNotAnOwner) {
		t.Errorf("remove error = %v, want ErrNotAnOwner", err)
	}
	if !p.Contains(weth) {
		t.Error("rejected remove still delisted the asset")
	}
}

func TestIdempotentUpdatesPublishOnce(t *testing.T) {
	feed := swap.NewFeed()
	ch, cancel := feed.Subscribe(8)
	defer cancel()

	p := New(owner, feed)
	p.Add(owner, weth)
	p.Add(owner, weth)
	p.Remove(owner, weth)
	p.Remove(owner, weth)

	count := 0
	for {
		select {
		case <-ch:
			count++
			continue
		default:
		}
		break
	}
	if count != 2 {
		t.Errorf("published %d events, want 2 (one add, one remove)", count)
	}
}

func TestListSorted(t *testing.T) {
	p := New(owner, nil)
	p.Add(owner, usdc)
	p.Add(owner, weth)

	list := p.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
	if list[0] != weth || list[1] != usdc {
		t.Errorf("list = %v, want sorted [weth usdc]", list)
	}
	if p.Contains(common.Address{}) {
		t.Error("zero address reported as listed")
	}
}
