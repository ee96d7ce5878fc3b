package fees

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

var (
	owner = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	weth  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	usdc  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	dai   = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestDefaultFee(t *testing.T) {
	p := New(owner, nil)

	// 24 bps of 1e18 = 0.0024e18.
	want := big.NewInt(2_400_000_000_000_000)
	if got := p.FeeFor(weth, usdc, e18(1)); got.Cmp(want) != 0 {
		t.Errorf("fee = %s, want %s", got, want)
	}

	// Tiny notionals round the fee down to zero.
	if got := p.FeeFor(weth, usdc, big.NewInt(100)); got.Sign() != 0 {
		t.Errorf("fee on dust = %s, want 0", got)
	}
}

func TestAssetOverride(t *testing.T) {
	p := New(owner, nil)
	if err := p.SetAssetFeeBps(owner, weth, 50); err != nil {
		t.Fatalf("set asset fee: %v", err)
	}

	// Override keys on the sell asset only.
	if got := p.FeeFor(weth, usdc, e18(1)); got.Cmp(big.NewInt(5e15)) != 0 {
		t.Errorf("sell-side override fee = %s, want 5e15", got)
	}
	if got := p.FeeFor(usdc, weth, e18(1)); got.Cmp(big.NewInt(2_400_000_000_000_000)) != 0 {
		t.Errorf("buy-side fee = %s, want default", got)
	}

	if err := p.RemoveAssetFee(owner, weth); err != nil {
		t.Fatalf("remove asset fee: %v", err)
	}
	if _, ok := p.AssetBps(weth); ok {
		t.Error("override survived removal")
	}
}

func TestPairLevels(t *testing.T) {
	p := New(owner, nil)
	err := p.SetPairFeeLevels(owner, weth, usdc, []FeeLevel{
		// Deliberately unsorted: the plugin sorts by MinNotional.
		{FeeBps: 10, MinNotional: e18(100)},
		{FeeBps: 30, MinNotional: nil}, // nil means zero
		{FeeBps: 20, MinNotional: e18(10)},
	})
	if err != nil {
		t.Fatalf("set pair levels: %v", err)
	}

	tests := []struct {
		notional *big.Int
		wantBps  int64
	}{
		{e18(1), 30},
		{e18(10), 20},
		{e18(99), 20},
		{e18(100), 10},
		{e18(5000), 10},
	}
	for _, tt := range tests {
		want := new(big.Int).Mul(tt.notional, big.NewInt(tt.wantBps))
		want.Div(want, big.NewInt(10_000))
		if got := p.FeeFor(weth, usdc, tt.notional); got.Cmp(want) != 0 {
			t.Errorf("notional %s: fee = %s, want %s (%d bps)", tt.notional, got, want, tt.wantBps)
		}
	}
}

func TestPairLevelsDirectionIndependent(t *testing.T) {
	p := New(owner, nil)
	if err := p.SetPairFeeLevels(owner, weth, usdc, []FeeLevel{{FeeBps: 100}}); err != nil {
		t.Fatalf("set pair levels: %v", err)
	}

	a := p.FeeFor(weth, usdc, e18(1))
	b := p.FeeFor(usdc, weth, e18(1))
	if a.Cmp(b) != 0 {
		t.Errorf("fee depends on direction: %s vs %s", a, b)
	}
	if a.Cmp(big.NewInt(1e16)) != 0 {
		t.Errorf("pair fee = %s, want 1e16", a)
	}
}

func TestPairLevelsBeatAssetOverride(t *testing.T) {
	p := New(owner, nil)
	p.SetAssetFeeBps(owner, weth, 200)
	p.SetPairFeeLevels(owner, weth, usdc, []FeeLevel{{FeeBps: 10}})

	// Pair schedule wins for its pair, override still applies elsewhere.
	if got := p.FeeFor(weth, usdc, e18(1)); got.Cmp(big.NewInt(1e15)) != 0 {
		t.Errorf("pair fee = %s, want 1e15", got)
	}
	if got := p.FeeFor(weth, dai, e18(1)); got.Cmp(big.NewInt(2e16)) != 0 {
		t.Errorf("override fee = %s, want 2e16", got)
	}
}

func TestEmptyLevelsClearSchedule(t *testing.T) {
	p := New(owner, nil)
	p.SetPairFeeLevels(owner, weth, usdc, []FeeLevel{{FeeBps: 100}})
	p.SetPairFeeLevels(owner, weth, usdc, nil)

	if levels := p.PairLevels(weth, usdc); len(levels) != 0 {
		t.Errorf("levels = %v after clearing, want none", levels)
	}
	if got := p.FeeFor(weth, usdc, e18(1)); got.Cmp(big.NewInt(2_400_000_000_000_000)) != 0 {
		t.Errorf("fee = %s after clearing, want default", got)
	}
}

func TestFeeCapEnforced(t *testing.T) {
	p := New(owner, nil)

	if err := p.SetDefaultFeeBps(owner, MaxFeeBps+1); !errors.Is(err, ErrFeeExceedsMax) {
		t.Errorf("default error = %v, want ErrFeeExceedsMax", err)
	}
	if err := p.SetAssetFeeBps(owner, weth, -1); !errors.Is(err, ErrFeeExceedsMax) {
		t.Errorf("negative error = %v, want ErrFeeExceedsMax", err)
	}
	err := p.SetPairFeeLevels(owner, weth, usdc, []FeeLevel{{FeeBps: MaxFeeBps + 1}})
	if !errors.Is(err, ErrFeeExceedsMax) {
		t.Errorf("pair error = %v, want ErrFeeExceedsMax", err)
	}
	if err := p.SetDefaultFeeBps(owner, MaxFeeBps); err != nil {
		t.Errorf("max rate rejected: %v", err)
	}
}

func TestOwnerGating(t *testing.T) {
	p := New(owner, nil)
	mallory := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	if err := p.SetDefaultFeeBps(mallory, 10); !errors.Is(err, swap.ErrNotAnOwner) {
		t.Errorf("default error = %v, want ErrNotAnOwner", err)
	}
	if err := p.SetAssetFeeBps(mallory, weth, 10); !errors.Is(err, swap.ErrNotAnOwner) {
		t.Errorf("asset error = %v, want ErrNotAnOwner", err)
	}
	if err := p.SetPairFeeLevels(mallory, weth, usdc, nil); !errors.Is(err, swap.ErrNotAnOwner) {
		t.Errorf("pair error = %v, want ErrNotAnOwner", err)
	}
	if got := p.DefaultBps(); got != DefaultFeeBps {
		t.Errorf("default bps = %d after rejected calls, want %d", got, DefaultFeeBps)
	}
}

func TestBeforeFillAccumulates(t *testing.T) {
	p := New(owner, nil)
	ctx := &swap.HookContext{
		Phase:     swap.HookBeforeFill,
		Order:     &swap.PublicOrder{MakerSellToken: weth, MakerBuyToken: usdc},
		AmountOut: e18(1),
		Fee:       big.NewInt(7),
	}
	if err := p.BeforeFill(ctx); err != nil {
		t.Fatalf("before fill: %v", err)
	}
	want := new(big.Int).Add(big.NewInt(7), big.NewInt(2_400_000_000_000_000))
	if ctx.Fee.Cmp(want) != 0 {
		t.Errorf("accumulated fee = %s, want %s", ctx.Fee, want)
	}
}

func TestFeeUpdateEvents(t *testing.T) {
	feed := swap.NewFeed()
	ch, cancel := feed.Subscribe(4)
	defer cancel()

	p := New(owner, feed)
	if err := p.SetDefaultFeeBps(owner, 10); err != nil {
		t.Fatalf("set default: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Type != swap.EventFeeUpdated {
			t.Errorf("event = %s, want %s", ev.Type, swap.EventFeeUpdated)
		}
	default:
		t.Fatal("no fee update event published")
	}
}
