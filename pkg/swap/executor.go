package swap

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	swapcrypto "github.com/fundswap/swapd/pkg/crypto"
	"github.com/fundswap/swapd/pkg/token"
)

// TokenPermit is an EIP-2612 approval a taker signs off-line so a batch
// can run without a prior Approve call. Spender is always the executor.
type TokenPermit struct {
	Token     common.Address `json:"token"`
	Value     *big.Int       `json:"value"`
	Deadline  int64          `json:"deadline"`
	Signature []byte         `json:"signature"`
}

// BatchExecutor settles several fills as one atomic unit under its own
// intermediary account: it pulls inputs from the taker, runs every fill
// inside a single core transaction, and forwards all proceeds back to
// the taker. If any step fails the whole batch unwinds.
type BatchExecutor struct {
	core *Core
	self common.Address
	log  *zap.Logger
}

func NewBatchExecutor(core *Core, log *zap.Logger) *BatchExecutor {
	if log == nil {
		log = zap.NewNop()
	}
	seed := fmt.Sprintf("fundswap:batch-executor:%d", core.ChainID())
	return &BatchExecutor{
		core: core,
		self: common.BytesToAddress(swapcrypto.DeriveAddress([]byte(seed))),
		log:  log,
	}
}

// Address returns the executor's intermediary account. Takers approve
// this address (or sign permits for it) before batching.
func (b *BatchExecutor) Address() common.Address { return b.self }

// BatchFillPublicOrders executes independent fill requests atomically.
// Each request settles on its own: input pulled from the taker, output
// delivered to the taker. Requests whose amountIn equals the outstanding
// buy amount settle as full fills.
func (b *BatchExecutor) BatchFillPublicOrders(taker common.Address, requests []FillRequest, payload []byte) error {
	if len(requests) == 0 {
		return nil
	}
	return b.core.Atomic(func(tx *Tx) error {
		return b.runBatch(tx, taker, requests, payload)
	})
}

// BatchFillPublicOrdersWithPermit is BatchFillPublicOrders with the
// taker's signed token approvals consumed inside the same transaction:
// a failed batch restores the permit nonces and allowances too.
func (b *BatchExecutor) BatchFillPublicOrdersWithPermit(taker common.Address, requests []FillRequest, permits []TokenPermit, payload []byte) error {
	if len(requests) == 0 {
		return nil
	}
	return b.core.Atomic(func(tx *Tx) error {
		if err := b.applyPermits(taker, permits); err != nil {
			return err
		}
		return b.runBatch(tx, taker, requests, payload)
	})
}

func (b *BatchExecutor) runBatch(tx *Tx, taker common.Address, requests []FillRequest, payload []byte) error {
	for i, req := range requests {
		rec, ok := tx.Order(req.OrderHash)
		if !ok {
			return fmt.Errorf("batch step %d: %w", i, ErrOrderDoesNotExist)
		}
		sellToken := rec.Order.MakerSellToken
		if err := b.acquire(taker, rec.Order.MakerBuyToken, req.AmountIn); err != nil {
			return fmt.Errorf("batch step %d: %w", i, err)
		}
		net, err := b.settle(tx, req, rec, payload)
		if err != nil {
			return fmt.Errorf("batch step %d: %w", i, err)
		}
		if err := b.forward(sellToken, taker, net); err != nil {
			return fmt.Errorf("batch step %d: %w", i, err)
		}
	}
	b.log.Info("batch executed",
		zap.String("taker", taker.Hex()),
		zap.Int("fills", len(requests)))
	return nil
}

// BatchFillPublicOrdersInSequence chains fills: the output of each step
// funds the input of the next, so the taker only supplies the very first
// input asset. A later step whose input asset nothing upstream produced
// falls back to pulling its declared amountIn from the taker.
// Intermediate leftovers and the final output are all swept to the taker
// when the sequence completes.
func (b *BatchExecutor) BatchFillPublicOrdersInSequence(taker common.Address, requests []FillRequest, payload []byte) error {
	if len(requests) == 0 {
		return nil
	}
	return b.core.Atomic(func(tx *Tx) error {
		return b.runSequence(tx, taker, requests, payload)
	})
}

// BatchFillPublicOrdersInSequenceWithPermit is the sequence variant with
// the taker's signed token approvals consumed inside the transaction.
func (b *BatchExecutor) BatchFillPublicOrdersInSequenceWithPermit(taker common.Address, requests []FillRequest, permits []TokenPermit, payload []byte) error {
	if len(requests) == 0 {
		return nil
	}
	return b.core.Atomic(func(tx *Tx) error {
		if err := b.applyPermits(taker, permits); err != nil {
			return err
		}
		return b.runSequence(tx, taker, requests, payload)
	})
}

func (b *BatchExecutor) runSequence(tx *Tx, taker common.Address, requests []FillRequest, payload []byte) error {
	touched := make(map[common.Address]struct{})

	for i, req := range requests {
		rec, ok := tx.Order(req.OrderHash)
		if !ok {
			return fmt.Errorf("sequence step %d: %w", i, ErrOrderDoesNotExist)
		}
		touched[rec.Order.MakerSellToken] = struct{}{}
		touched[rec.Order.MakerBuyToken] = struct{}{}

		amountIn := req.AmountIn
		if i == 0 {
			if err := b.acquire(taker, rec.Order.MakerBuyToken, amountIn); err != nil {
				return fmt.Errorf("sequence step 0: %w", err)
			}
		} else {
			tok, err := b.core.Tokens().Get(rec.Order.MakerBuyToken)
			if err != nil {
				return fmt.Errorf("sequence step %d: %w", i, err)
			}
			held := tok.BalanceOf(b.self)
			switch {
			case held.Sign() > 0:
				// Spend what the previous steps produced, capped at the
				// order's outstanding buy amount.
				amountIn = held
				if amountIn.Cmp(rec.Order.MakerBuyTokenAmount) > 0 {
					amountIn = new(big.Int).Set(rec.Order.MakerBuyTokenAmount)
				}
				tok.Approve(b.self, b.core.Address(), amountIn)
			case req.AmountIn != nil:
				// Chain break: no upstream output in this asset, so the
				// step runs on taker funding like an independent fill.
				if err := b.acquire(taker, rec.Order.MakerBuyToken, req.AmountIn); err != nil {
					return fmt.Errorf("sequence step %d: %w", i, err)
				}
			default:
				return fmt.Errorf("sequence step %d: %w", i, token.ErrInsufficientBalance)
			}
		}

		step := FillRequest{OrderHash: req.OrderHash, AmountIn: amountIn, MinAmountOut: req.MinAmountOut}
		if _, err := b.settle(tx, step, rec, payload); err != nil {
			return fmt.Errorf("sequence step %d: %w", i, err)
		}
	}

	if err := b.sweep(touched, taker); err != nil {
		return err
	}
	b.log.Info("sequence executed",
		zap.String("taker", taker.Hex()),
		zap.Int("fills", len(requests)))
	return nil
}

// settle routes a request to the full or partial fill path based on how
// much of the outstanding buy amount it consumes. Proceeds always land
// on the executor so forward/sweep stay the single path back to the
// taker; any recipient on the request is ignored.
func (b *BatchExecutor) settle(tx *Tx, req FillRequest, rec *OrderRecord, payload []byte) (*big.Int, error) {
	switch req.AmountIn.Cmp(rec.Order.MakerBuyTokenAmount) {
	case 1:
		return nil, ErrAmountInExceededLimit
	case 0:
		net, err := tx.FillPublicOrder(b.self, req.OrderHash, common.Address{}, payload)
		if err != nil {
			return nil, err
		}
		if req.MinAmountOut != nil && net.Cmp(req.MinAmountOut) < 0 {
			return nil, ErrInsufficientOutputAmount
		}
		return net, nil
	default:
		step := FillRequest{OrderHash: req.OrderHash, AmountIn: req.AmountIn, MinAmountOut: req.MinAmountOut}
		return tx.FillPublicOrderPartially(b.self, step, payload)
	}
}

// acquire pulls amount of asset from the taker into the executor and
// grants the core the matching allowance.
func (b *BatchExecutor) acquire(taker common.Address, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrMakerBuyTokenAmountIsZero
	}
	tok, err := b.core.Tokens().Get(asset)
	if err != nil {
		return err
	}
	if err := tok.TransferFrom(b.self, taker, b.self, amount); err != nil {
		return err
	}
	tok.Approve(b.self, b.core.Address(), amount)
	return nil
}

// forward sends a fill's proceeds from the executor to the taker.
func (b *BatchExecutor) forward(asset common.Address, taker common.Address, net *big.Int) error {
	tok, err := b.core.Tokens().Get(asset)
	if err != nil {
		return err
	}
	return tok.Transfer(b.self, taker, net)
}

// sweep drains the executor's balance of every touched asset to the
// taker, covering both the final output and any intermediate leftovers.
func (b *BatchExecutor) sweep(assets map[common.Address]struct{}, taker common.Address) error {
	for asset := range assets {
		tok, err := b.core.Tokens().Get(asset)
		if err != nil {
			return err
		}
		held := tok.BalanceOf(b.self)
		if held.Sign() > 0 {
			if err := tok.Transfer(b.self, taker, held); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *BatchExecutor) applyPermits(taker common.Address, permits []TokenPermit) error {
	for _, p := range permits {
		tok, err := b.core.Tokens().Get(p.Token)
		if err != nil {
			return err
		}
		permitter, ok := tok.(token.Permitter)
		if !ok {
			return fmt.Errorf("swap: token %s does not support permits", p.Token.Hex())
		}
		if err := permitter.Permit(taker, b.self, p.Value, p.Deadline, p.Signature); err != nil {
			return err
		}
	}
	return nil
}
