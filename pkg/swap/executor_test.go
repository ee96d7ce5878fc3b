package swap_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	swapcrypto "github.com/fundswap/swapd/pkg/crypto"
	"github.com/fundswap/swapd/pkg/swap"
	"github.com/fundswap/swapd/pkg/token"
	"github.com/fundswap/swapd/pkg/util"
)

type batchEnv struct {
	t        *testing.T
	core     *swap.Core
	executor *swap.BatchExecutor
	weth     *token.StandardToken
	usdc     *token.StandardToken
	dai      *token.StandardToken
}

func newBatchEnv(t *testing.T) *batchEnv {
	t.Helper()
	tokens := token.NewRegistry()
	weth := token.NewStandardToken("Wrapped Ether", "WETH", 18, chainID)
	usdc := token.NewStandardToken("USD Coin", "USDC", 18, chainID)
	dai := token.NewStandardToken("Dai Stablecoin", "DAI", 18, chainID)
	tokens.Register(weth)
	tokens.Register(usdc)
	tokens.Register(dai)

	core, err := swap.NewCore(swap.CoreOpts{
		ChainID: chainID,
		Self:    coreAddr,
		Owner:   ownerAddr,
		Tokens:  tokens,
		Clock:   util.NewFakeClock(testStart),
	})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	executor := swap.NewBatchExecutor(core, nil)

	for _, tok := range []*token.StandardToken{weth, usdc, dai} {
		tok.Mint(makerAddr, e18(10_000))
		tok.Approve(makerAddr, coreAddr, e18(10_000))
	}
	usdc.Mint(takerAddr, e18(10000))
	usdc.Approve(takerAddr, executor.Address(), e18(10000))

	return &batchEnv{t: t, core: core, executor: executor, weth: weth, usdc: usdc, dai: dai}
}

func (e *batchEnv) create(sell *token.StandardToken, sellAmount *big.Int, buy *token.StandardToken, buyAmount *big.Int) common.Hash {
	e.t.Helper()
	hash, err := e.core.CreatePublicOrder(makerAddr, swap.PublicOrder{
		MakerSellToken:       sell.Address(),
		MakerSellTokenAmount: sellAmount,
		MakerBuyToken:        buy.Address(),
		MakerBuyTokenAmount:  buyAmount,
	}, nil)
	if err != nil {
		e.t.Fatalf("create order: %v", err)
	}
	return hash
}

func TestBatchFillIndependent(t *testing.T) {
	e := newBatchEnv(t)
	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))
	h2 := e.create(e.dai, e18(500), e.usdc, e18(500))

	err := e.executor.BatchFillPublicOrders(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000)},
		{OrderHash: h2, AmountIn: e18(250)},
	}, nil)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	// Full fill of h1, half fill of h2, all proceeds forwarded.
	if got := e.weth.BalanceOf(takerAddr); got.Cmp(e18(1)) != 0 {
		t.Errorf("taker WETH = %s, want 1e18", got)
	}
	if got := e.dai.BalanceOf(takerAddr); got.Cmp(e18(250)) != 0 {
		t.Errorf("taker DAI = %s, want 250e18", got)
	}
	if got := e.usdc.BalanceOf(takerAddr); got.Cmp(e18(10000-3250)) != 0 {
		t.Errorf("taker USDC = %s, want %s", got, e18(10000-3250))
	}
	if _, ok := e.core.Order(h1); ok {
		t.Error("fully filled order still registered")
	}
	if rec, ok := e.core.Order(h2); !ok {
		t.Error("partially filled order was deleted")
	} else if rec.Order.MakerBuyTokenAmount.Cmp(e18(250)) != 0 {
		t.Errorf("h2 remaining buy = %s, want 250e18", rec.Order.MakerBuyTokenAmount)
	}

	// Nothing sticks to the intermediary account.
	for name, tok := range map[string]*token.StandardToken{"WETH": e.weth, "USDC": e.usdc, "DAI": e.dai} {
		if held := tok.BalanceOf(e.executor.Address()); held.Sign() != 0 {
			t.Errorf("executor holds %s %s after batch", held, name)
		}
	}
}

func TestBatchFillSequenceChainsOutputs(t *testing.T) {
	e := newBatchEnv(t)
	// USDC -> WETH -> DAI: the taker only supplies USDC.
	h1 := e.create(e.weth, e18(2), e.usdc, e18(6000))
	h2 := e.create(e.dai, e18(7000), e.weth, e18(2))

	err := e.executor.BatchFillPublicOrdersInSequence(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(6000)},
		{OrderHash: h2},
	}, nil)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}

	if got := e.dai.BalanceOf(takerAddr); got.Cmp(e18(7000)) != 0 {
		t.Errorf("taker DAI = %s, want 7000e18", got)
	}
	if got := e.usdc.BalanceOf(takerAddr); got.Cmp(e18(10000-6000)) != 0 {
		t.Errorf("taker USDC = %s, want 4000e18", got)
	}
	if got := e.weth.BalanceOf(takerAddr); got.Sign() != 0 {
		t.Errorf("taker WETH = %s, intermediate asset should be fully consumed", got)
	}
	for name, tok := range map[string]*token.StandardToken{"WETH": e.weth, "USDC": e.usdc, "DAI": e.dai} {
		if held := tok.BalanceOf(e.executor.Address()); held.Sign() != 0 {
			t.Errorf("executor holds %s %s after sequence", held, name)
		}
	}
}

func TestBatchFillSequenceSweepsLeftovers(t *testing.T) {
	e := newBatchEnv(t)
	// Step 1 produces 2 WETH but step 2 only needs 1: the surplus WETH
	// must come back to the taker with the final DAI.
	h1 := e.create(e.weth, e18(2), e.usdc, e18(6000))
	h2 := e.create(e.dai, e18(3500), e.weth, e18(1))

	err := e.executor.BatchFillPublicOrdersInSequence(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(6000)},
		{OrderHash: h2},
	}, nil)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}

	if got := e.dai.BalanceOf(takerAddr); got.Cmp(e18(3500)) != 0 {
		t.Errorf("taker DAI = %s, want 3500e18", got)
	}
	if got := e.weth.BalanceOf(takerAddr); got.Cmp(e18(1)) != 0 {
		t.Errorf("taker WETH leftover = %s, want 1e18", got)
	}
}

func TestBatchFillRollsBackAtomically(t *testing.T) {
	e := newBatchEnv(t)
	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))
	missing := common.HexToHash("0x1111")

	err := e.executor.BatchFillPublicOrders(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000)},
		{OrderHash: missing, AmountIn: e18(1)},
	}, nil)
	if !errors.Is(err, swap.ErrOrderDoesNotExist) {
		t.Fatalf("batch error = %v, want ErrOrderDoesNotExist", err)
	}

	// The successful first fill unwound with the failed second one.
	if _, ok := e.core.Order(h1); !ok {
		t.Error("first order consumed despite batch failure")
	}
	if got := e.usdc.BalanceOf(takerAddr); got.Cmp(e18(10000)) != 0 {
		t.Errorf("taker USDC = %s after rollback, want 10000e18", got)
	}
	if got := e.weth.BalanceOf(takerAddr); got.Sign() != 0 {
		t.Errorf("taker WETH = %s after rollback, want 0", got)
	}
}

func TestBatchFillRejectsOversizedStep(t *testing.T) {
	e := newBatchEnv(t)
	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))

	err := e.executor.BatchFillPublicOrders(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3001)},
	}, nil)
	if !errors.Is(err, swap.ErrAmountInExceededLimit) {
		t.Errorf("error = %v, want ErrAmountInExceededLimit", err)
	}
}

func TestBatchFillWithPermit(t *testing.T) {
	e := newBatchEnv(t)

	// A fresh taker who never called Approve: the batch carries the
	// signed permit instead.
	key, err := swapcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	taker := key.Address()
	e.usdc.Mint(taker, e18(3000))

	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))

	permit := &swapcrypto.Permit{
		Owner:    taker,
		Spender:  e.executor.Address(),
		Value:    e18(3000),
		Nonce:    new(big.Int).SetUint64(e.usdc.PermitNonce(taker)),
		Deadline: big.NewInt(0),
	}
	sig, err := swapcrypto.SignPermit(key, e.usdc.PermitDomain(), permit)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}

	err = e.executor.BatchFillPublicOrdersWithPermit(taker, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000)},
	}, []swap.TokenPermit{
		{Token: e.usdc.Address(), Value: e18(3000), Deadline: 0, Signature: sig},
	}, nil)
	if err != nil {
		t.Fatalf("batch with permit: %v", err)
	}
	if got := e.weth.BalanceOf(taker); got.Cmp(e18(1)) != 0 {
		t.Errorf("taker WETH = %s, want 1e18", got)
	}
}

func TestBatchFillSequenceTakerFundedStep(t *testing.T) {
	e := newBatchEnv(t)
	// h2's input asset is USDC, which step 1 does not produce. With an
	// explicit amountIn the step falls back to taker funding instead of
	// failing on the broken chain.
	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))
	h2 := e.create(e.dai, e18(500), e.usdc, e18(500))

	err := e.executor.BatchFillPublicOrdersInSequence(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000)},
		{OrderHash: h2, AmountIn: e18(500)},
	}, nil)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}

	if got := e.weth.BalanceOf(takerAddr); got.Cmp(e18(1)) != 0 {
		t.Errorf("taker WETH = %s, want 1e18", got)
	}
	if got := e.dai.BalanceOf(takerAddr); got.Cmp(e18(500)) != 0 {
		t.Errorf("taker DAI = %s, want 500e18", got)
	}
	if got := e.usdc.BalanceOf(takerAddr); got.Cmp(e18(10000-3500)) != 0 {
		t.Errorf("taker USDC = %s, want 6500e18", got)
	}
}

func TestBatchFillSequenceUnfundedBreakFails(t *testing.T) {
	e := newBatchEnv(t)
	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))
	h2 := e.create(e.dai, e18(500), e.usdc, e18(500))

	// No amountIn on the broken step: nothing funds it, so the whole
	// sequence unwinds.
	err := e.executor.BatchFillPublicOrdersInSequence(takerAddr, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000)},
		{OrderHash: h2},
	}, nil)
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}
	if got := e.usdc.BalanceOf(takerAddr); got.Cmp(e18(10000)) != 0 {
		t.Errorf("taker USDC = %s after rollback, want 10000e18", got)
	}
	if _, ok := e.core.Order(h1); !ok {
		t.Error("first order consumed despite sequence failure")
	}
}

func TestBatchPermitRollbackRestoresApproval(t *testing.T) {
	e := newBatchEnv(t)
	key, err := swapcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	taker := key.Address()
	e.usdc.Mint(taker, e18(3000))

	h1 := e.create(e.weth, e18(1), e.usdc, e18(3000))

	permit := &swapcrypto.Permit{
		Owner:    taker,
		Spender:  e.executor.Address(),
		Value:    e18(3000),
		Nonce:    new(big.Int).SetUint64(e.usdc.PermitNonce(taker)),
		Deadline: big.NewInt(0),
	}
	sig, err := swapcrypto.SignPermit(key, e.usdc.PermitDomain(), permit)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}
	permits := []swap.TokenPermit{
		{Token: e.usdc.Address(), Value: e18(3000), Deadline: 0, Signature: sig},
	}

	// The order yields 1 WETH, so demanding 2 aborts the batch after
	// the permit was already consumed inside the transaction.
	err = e.executor.BatchFillPublicOrdersWithPermit(taker, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000), MinAmountOut: e18(2)},
	}, permits, nil)
	if !errors.Is(err, swap.ErrInsufficientOutputAmount) {
		t.Fatalf("error = %v, want ErrInsufficientOutputAmount", err)
	}

	// Rollback returned the signed approval untouched.
	if got := e.usdc.PermitNonce(taker); got != 0 {
		t.Errorf("permit nonce = %d after rollback, want 0", got)
	}
	if got := e.usdc.Allowance(taker, e.executor.Address()); got.Sign() != 0 {
		t.Errorf("executor allowance = %s after rollback, want 0", got)
	}

	// The identical signature settles on retry.
	err = e.executor.BatchFillPublicOrdersWithPermit(taker, []swap.FillRequest{
		{OrderHash: h1, AmountIn: e18(3000)},
	}, permits, nil)
	if err != nil {
		t.Fatalf("retry with same permit: %v", err)
	}
	if got := e.weth.BalanceOf(taker); got.Cmp(e18(1)) != 0 {
		t.Errorf("taker WETH = %s, want 1e18", got)
	}
}

func TestBatchFillEmptyIsNoop(t *testing.T) {
	e := newBatchEnv(t)
	if err := e.executor.BatchFillPublicOrders(takerAddr, nil, nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}
	if err := e.executor.BatchFillPublicOrdersInSequence(takerAddr, nil, nil); err != nil {
		t.Errorf("empty sequence: %v", err)
	}
}
