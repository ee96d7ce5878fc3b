package swap

import (
	"bytes"
	"fmt"
	"math/big"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	swapcrypto "github.com/fundswap/swapd/pkg/crypto"
	"github.com/fundswap/swapd/pkg/token"
	"github.com/fundswap/swapd/pkg/util"
)

// Persistence is the durable record of settlement state: live public
// orders plus the executed/invalidated markers for private order hashes.
// Writes are buffered per transaction and flushed only after it commits.
type Persistence interface {
	SaveOrder(rec *OrderRecord) error
	DeleteOrder(hash common.Hash) error
	MarkExecuted(hash common.Hash) error
	LoadOrders() ([]*OrderRecord, error)
	LoadExecuted() ([]common.Hash, error)
}

// Core is the settlement engine. It escrows maker deposits under its own
// address, matches fills against live orders, collects fees and enforces
// the full backing requirement on withdrawals.
//
// Every state-mutating entry point runs as one transaction: it either
// commits in full or leaves no trace. Concurrent callers serialize on
// the core's mutex; a call that re-enters from inside an open
// transaction, such as a token transfer callback, fails with
// ErrReentrantCall instead of deadlocking.
type Core struct {
	mu sync.Mutex

	// holder is the id of the goroutine currently inside a transaction,
	// 0 when none. Telling re-entry apart from ordinary contention needs
	// the caller's identity, not just the mutex state.
	holder atomic.Uint64

	chainID int64
	self    common.Address
	owner   common.Address

	tokens   *token.Registry
	registry *OrderRegistry
	pipeline *Pipeline
	events   *Feed

	// executed marks private order hashes that were filled or invalidated.
	executed map[common.Hash]bool

	store Persistence
	clock util.Clock
	log   *zap.Logger

	// per-transaction dirty sets, flushed on commit
	dirtyOrders   map[common.Hash]struct{}
	dirtyExecuted map[common.Hash]struct{}
}

// CoreOpts carries construction-time wiring for the settlement core.
type CoreOpts struct {
	ChainID int64
	Self    common.Address
	Owner   common.Address
	Tokens  *token.Registry
	Store   Persistence
	Clock   util.Clock
	Log     *zap.Logger
}

func NewCore(opts CoreOpts) (*Core, error) {
	if opts.Tokens == nil {
		opts.Tokens = token.NewRegistry()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	feed := NewFeed()
	c := &Core{
		chainID:  opts.ChainID,
		self:     opts.Self,
		owner:    opts.Owner,
		tokens:   opts.Tokens,
		registry: NewOrderRegistry(),
		pipeline: NewPipeline(feed),
		events:   feed,
		executed: make(map[common.Hash]bool),
		store:    opts.Store,
		clock:    opts.Clock,
		log:      opts.Log,
	}

	if c.store != nil {
		orders, err := c.store.LoadOrders()
		if err != nil {
			return nil, fmt.Errorf("load orders: %w", err)
		}
		for _, rec := range orders {
			if err := c.registry.Create(rec); err != nil {
				return nil, fmt.Errorf("restore order %s: %w", rec.Hash.Hex(), err)
			}
		}
		executed, err := c.store.LoadExecuted()
		if err != nil {
			return nil, fmt.Errorf("load executed markers: %w", err)
		}
		for _, h := range executed {
			c.executed[h] = true
		}
		c.log.Info("restored settlement state",
			zap.Int("orders", len(orders)),
			zap.Int("executedMarkers", len(executed)))
	}
	return c, nil
}

// ChainID returns the network the core scopes order hashes to.
func (c *Core) ChainID() int64 { return c.chainID }

// Address returns the core's own escrow account.
func (c *Core) Address() common.Address { return c.self }

// Owner returns the current administrative owner.
func (c *Core) Owner() common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Events exposes the settlement event feed.
func (c *Core) Events() *Feed { return c.events }

// Tokens exposes the asset registry the core settles against.
func (c *Core) Tokens() *token.Registry { return c.tokens }

// Plugins exposes the hook pipeline for owner-side administration.
func (c *Core) Plugins() *Pipeline { return c.pipeline }

// EnablePlugin adds a plugin to the pipeline. Owner only.
func (c *Core) EnablePlugin(caller common.Address, plugin Plugin, payload []byte) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()
	if caller != c.owner {
		return ErrNotAnOwner
	}
	c.pipeline.Enable(plugin, payload)
	return nil
}

// DisablePlugin removes a plugin from the pipeline. Owner only.
func (c *Core) DisablePlugin(caller common.Address, name string, payload []byte) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()
	if caller != c.owner {
		return ErrNotAnOwner
	}
	c.pipeline.Disable(name, payload)
	return nil
}

// TransferOwnership hands administrative control to a new owner.
func (c *Core) TransferOwnership(caller, newOwner common.Address) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()
	if caller != c.owner {
		return ErrNotAnOwner
	}
	c.owner = newOwner
	c.events.publish(Event{Type: EventOwnershipTransferred, Actor: newOwner})
	return nil
}

// Orders enumerates every live public order.
func (c *Core) Orders() []*OrderRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Orders()
}

// OrdersOf enumerates the live public orders owned by one address.
func (c *Core) OrdersOf(owner common.Address) []*OrderRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.OrdersOf(owner)
}

// OrdersForPair enumerates live orders selling sellToken for buyToken.
func (c *Core) OrdersForPair(sellToken, buyToken common.Address) []*OrderRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.OrdersForPair(sellToken, buyToken)
}

// Order returns the live record for a hash.
func (c *Core) Order(hash common.Hash) (*OrderRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Get(hash)
}

// IsExecuted reports whether a private order hash has been consumed.
func (c *Core) IsExecuted(hash common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed[hash]
}

// transact serializes one settlement transaction: snapshot, run, and
// either commit (flushing buffered persistence writes) or roll back.
func (c *Core) transact(fn func() error) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()
	return c.runLocked(fn)
}

// lock acquires the settlement mutex, blocking behind other goroutines
// but rejecting re-entry from the transaction already open on this one.
func (c *Core) lock() error {
	id := goid()
	if c.holder.Load() == id {
		return ErrReentrantCall
	}
	c.mu.Lock()
	c.holder.Store(id)
	return nil
}

func (c *Core) unlock() {
	c.holder.Store(0)
	c.mu.Unlock()
}

// goid parses the running goroutine's id from its stack header
// ("goroutine N [running]:"). The runtime exposes no cheaper handle on
// goroutine identity, and ids are never 0 or reused while live.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := buf[len("goroutine "):n]
	if i := bytes.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	id, err := strconv.ParseUint(string(s), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("swap: unparseable stack header: %v", err))
	}
	return id
}

func (c *Core) runLocked(fn func() error) error {
	regSnap := c.registry.snapshot()
	tokSnap := c.tokens.SnapshotAll()
	execSnap := make(map[common.Hash]bool, len(c.executed))
	for h, v := range c.executed {
		execSnap[h] = v
	}
	c.dirtyOrders = make(map[common.Hash]struct{})
	c.dirtyExecuted = make(map[common.Hash]struct{})

	if err := fn(); err != nil {
		c.registry.restore(regSnap)
		c.tokens.RestoreAll(tokSnap)
		c.executed = execSnap
		return err
	}
	c.flush()
	return nil
}

// flush pushes the transaction's dirty records to the persistence layer.
// Failures are logged, not surfaced: settlement state is authoritative
// in memory and the store is rebuilt from it on the next clean save.
func (c *Core) flush() {
	if c.store == nil {
		return
	}
	for h := range c.dirtyOrders {
		var err error
		if rec, ok := c.registry.Get(h); ok {
			err = c.store.SaveOrder(rec)
		} else {
			err = c.store.DeleteOrder(h)
		}
		if err != nil {
			c.log.Warn("persist order failed", zap.String("hash", h.Hex()), zap.Error(err))
		}
	}
	for h := range c.dirtyExecuted {
		if err := c.store.MarkExecuted(h); err != nil {
			c.log.Warn("persist executed marker failed", zap.String("hash", h.Hex()), zap.Error(err))
		}
	}
}

func (c *Core) touchOrder(hash common.Hash)    { c.dirtyOrders[hash] = struct{}{} }
func (c *Core) touchExecuted(hash common.Hash) { c.dirtyExecuted[hash] = struct{}{} }

// CreatePublicOrder escrows the maker's sell amount and registers the
// order. Returns the order hash on success.
func (c *Core) CreatePublicOrder(caller common.Address, order PublicOrder, payload []byte) (common.Hash, error) {
	var hash common.Hash
	err := c.transact(func() error {
		var err error
		hash, err = c.createPublicOrder(caller, order, payload)
		return err
	})
	return hash, err
}

func (c *Core) createPublicOrder(caller common.Address, order PublicOrder, payload []byte) (common.Hash, error) {
	if err := order.Validate(); err != nil {
		return common.Hash{}, err
	}
	if order.Expired(c.now()) {
		return common.Hash{}, ErrOrderExpired
	}
	if order.CreationTimestamp == 0 {
		order.CreationTimestamp = c.now()
	}

	ctx := &HookContext{
		Phase:   HookBeforeCreate,
		Caller:  caller,
		Order:   &order,
		Payload: payload,
	}
	if err := c.pipeline.Run(ctx); err != nil {
		return common.Hash{}, err
	}

	hash := order.Hash(c.chainID)
	rec := &OrderRecord{
		Hash: hash,
		Order: PublicOrder{
			MakerSellToken:       order.MakerSellToken,
			MakerSellTokenAmount: new(big.Int).Set(order.MakerSellTokenAmount),
			MakerBuyToken:        order.MakerBuyToken,
			MakerBuyTokenAmount:  new(big.Int).Set(order.MakerBuyTokenAmount),
			Deadline:             order.Deadline,
			CreationTimestamp:    order.CreationTimestamp,
		},
		Owner: caller,
	}
	if err := c.registry.Create(rec); err != nil {
		return common.Hash{}, err
	}

	if err := c.pullExact(order.MakerSellToken, caller, order.MakerSellTokenAmount); err != nil {
		return common.Hash{}, err
	}

	ctx.Phase = HookAfterCreate
	if err := c.pipeline.Run(ctx); err != nil {
		return common.Hash{}, err
	}

	c.touchOrder(hash)
	c.log.Info("order created",
		zap.String("hash", hash.Hex()),
		zap.String("owner", caller.Hex()),
		zap.String("sellToken", order.MakerSellToken.Hex()),
		zap.String("sellAmount", order.MakerSellTokenAmount.String()),
		zap.String("buyToken", order.MakerBuyToken.Hex()),
		zap.String("buyAmount", order.MakerBuyTokenAmount.String()))
	c.events.publish(Event{Type: EventOrderCreated, OrderHash: hash, Actor: caller})
	return hash, nil
}

// pullExact escrows amount of asset from payer into the core, rejecting
// tokens whose transfer delivers less than requested.
func (c *Core) pullExact(asset common.Address, payer common.Address, amount *big.Int) error {
	tok, err := c.tokens.Get(asset)
	if err != nil {
		return err
	}
	before := tok.BalanceOf(c.self)
	if err := tok.TransferFrom(c.self, payer, c.self, amount); err != nil {
		return err
	}
	received := new(big.Int).Sub(tok.BalanceOf(c.self), before)
	if received.Cmp(amount) != 0 {
		return ErrTransferFeeTokensNotSupported
	}
	return nil
}

// FillPublicOrder consumes a live order in full: the caller pays the
// whole buy amount to the order owner and the whole escrowed sell amount
// minus fees goes to recipient. A zero recipient means the caller keeps
// the proceeds. Returns the net amount delivered.
func (c *Core) FillPublicOrder(caller common.Address, hash common.Hash, recipient common.Address, payload []byte) (*big.Int, error) {
	var out *big.Int
	err := c.transact(func() error {
		var err error
		out, err = c.fillPublicOrder(caller, hash, recipient, payload)
		return err
	})
	return out, err
}

func (c *Core) fillPublicOrder(caller common.Address, hash common.Hash, recipient common.Address, payload []byte) (*big.Int, error) {
	if recipient == (common.Address{}) {
		recipient = caller
	}
	rec, ok := c.registry.Get(hash)
	if !ok {
		return nil, ErrOrderDoesNotExist
	}
	if rec.Order.Expired(c.now()) {
		return nil, ErrOrderExpired
	}

	amountIn := new(big.Int).Set(rec.Order.MakerBuyTokenAmount)
	amountOut := new(big.Int).Set(rec.Order.MakerSellTokenAmount)

	net, fee, err := c.settleFill(caller, recipient, rec, amountIn, amountOut, payload)
	if err != nil {
		return nil, err
	}

	c.registry.Reduce(hash, amountOut, amountIn)
	c.touchOrder(hash)
	c.log.Info("order filled",
		zap.String("hash", hash.Hex()),
		zap.String("taker", caller.Hex()),
		zap.String("amountIn", amountIn.String()),
		zap.String("amountOut", net.String()),
		zap.String("fee", fee.String()))
	c.events.publish(Event{
		Type:      EventOrderFilled,
		OrderHash: hash,
		Actor:     caller,
		AmountIn:  amountIn,
		AmountOut: net,
		Fee:       fee,
	})
	return net, nil
}

// FillPublicOrderPartially consumes part of a live order. The request's
// amountIn is denominated in the order's buy asset and must be strictly
// less than the outstanding buy amount; a fill that would consume the
// whole order must use FillPublicOrder. Proceeds go to the request's
// recipient, or to the caller when it is zero. Returns the net amount
// delivered.
func (c *Core) FillPublicOrderPartially(caller common.Address, req FillRequest, payload []byte) (*big.Int, error) {
	var out *big.Int
	err := c.transact(func() error {
		var err error
		out, err = c.fillPublicOrderPartially(caller, req, payload)
		return err
	})
	return out, err
}

func (c *Core) fillPublicOrderPartially(caller common.Address, req FillRequest, payload []byte) (*big.Int, error) {
	recipient := req.Recipient
	if recipient == (common.Address{}) {
		recipient = caller
	}
	rec, ok := c.registry.Get(req.OrderHash)
	if !ok {
		return nil, ErrOrderDoesNotExist
	}
	if rec.Order.Expired(c.now()) {
		return nil, ErrOrderExpired
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, ErrMakerBuyTokenAmountIsZero
	}
	if req.AmountIn.Cmp(rec.Order.MakerBuyTokenAmount) >= 0 {
		return nil, ErrAmountInExceededLimit
	}

	// Maker-favoring rounding: the taker's proceeds round down, so the
	// escrow can never be over-drawn by accumulated partial fills.
	amountOut := new(big.Int).Mul(rec.Order.MakerSellTokenAmount, req.AmountIn)
	amountOut.Div(amountOut, rec.Order.MakerBuyTokenAmount)

	net, fee, err := c.settleFill(caller, recipient, rec, req.AmountIn, amountOut, payload)
	if err != nil {
		return nil, err
	}
	if req.MinAmountOut != nil && net.Cmp(req.MinAmountOut) < 0 {
		return nil, ErrInsufficientOutputAmount
	}

	c.registry.Reduce(req.OrderHash, amountOut, req.AmountIn)
	c.touchOrder(req.OrderHash)
	c.log.Info("order partially filled",
		zap.String("hash", req.OrderHash.Hex()),
		zap.String("taker", caller.Hex()),
		zap.String("amountIn", req.AmountIn.String()),
		zap.String("amountOut", net.String()),
		zap.String("fee", fee.String()))
	c.events.publish(Event{
		Type:      EventOrderPartiallyFilled,
		OrderHash: req.OrderHash,
		Actor:     caller,
		AmountIn:  req.AmountIn,
		AmountOut: net,
		Fee:       fee,
	})
	return net, nil
}

// settleFill runs the fill hooks and moves both legs: the caller's buy
// asset to the order owner, and the escrowed sell asset to recipient net
// of fees. The fee stays in the core's balance. Returns (net, fee).
func (c *Core) settleFill(caller, recipient common.Address, rec *OrderRecord, amountIn, amountOut *big.Int, payload []byte) (*big.Int, *big.Int, error) {
	view := rec.Order
	ctx := &HookContext{
		Phase:     HookBeforeFill,
		Caller:    caller,
		Order:     &view,
		Payload:   payload,
		AmountOut: new(big.Int).Set(amountOut),
		Fee:       new(big.Int),
	}
	if err := c.pipeline.Run(ctx); err != nil {
		return nil, nil, err
	}

	fee := ctx.Fee
	if fee.Sign() < 0 || fee.Cmp(amountOut) > 0 {
		return nil, nil, fmt.Errorf("swap: plugin fee %s out of range for amount out %s", fee, amountOut)
	}
	net := new(big.Int).Sub(amountOut, fee)

	if err := c.pullToOwner(rec.Order.MakerBuyToken, caller, rec.Owner, amountIn); err != nil {
		return nil, nil, err
	}
	sellTok, err := c.tokens.Get(rec.Order.MakerSellToken)
	if err != nil {
		return nil, nil, err
	}
	if err := sellTok.Transfer(c.self, recipient, net); err != nil {
		return nil, nil, err
	}

	ctx.Phase = HookAfterFill
	if err := c.pipeline.Run(ctx); err != nil {
		return nil, nil, err
	}
	return net, fee, nil
}

// pullToOwner moves the taker's payment straight to the order owner,
// with the same exact-received discipline as escrow deposits.
func (c *Core) pullToOwner(asset common.Address, payer, owner common.Address, amount *big.Int) error {
	tok, err := c.tokens.Get(asset)
	if err != nil {
		return err
	}
	before := tok.BalanceOf(owner)
	if err := tok.TransferFrom(c.self, payer, owner, amount); err != nil {
		return err
	}
	received := new(big.Int).Sub(tok.BalanceOf(owner), before)
	if received.Cmp(amount) != 0 {
		return ErrTransferFeeTokensNotSupported
	}
	return nil
}

// CreatePublicOrderWithPermit escrows the sell amount using a signed
// EIP-2612 approval instead of a prior Approve call. The permit and the
// create settle in one transaction: if the order is rejected the
// permit's nonce and allowance are restored.
func (c *Core) CreatePublicOrderWithPermit(caller common.Address, order PublicOrder, permit TokenPermit, payload []byte) (common.Hash, error) {
	var hash common.Hash
	err := c.transact(func() error {
		if err := c.applyPermit(caller, permit); err != nil {
			return err
		}
		var err error
		hash, err = c.createPublicOrder(caller, order, payload)
		return err
	})
	return hash, err
}

// FillPublicOrderWithPermit is FillPublicOrder with the caller's payment
// allowance granted by a signed permit inside the same transaction.
func (c *Core) FillPublicOrderWithPermit(caller common.Address, hash common.Hash, recipient common.Address, permit TokenPermit, payload []byte) (*big.Int, error) {
	var out *big.Int
	err := c.transact(func() error {
		if err := c.applyPermit(caller, permit); err != nil {
			return err
		}
		var err error
		out, err = c.fillPublicOrder(caller, hash, recipient, payload)
		return err
	})
	return out, err
}

// applyPermit consumes a signed approval naming the core as spender.
func (c *Core) applyPermit(owner common.Address, p TokenPermit) error {
	tok, err := c.tokens.Get(p.Token)
	if err != nil {
		return err
	}
	permitter, ok := tok.(token.Permitter)
	if !ok {
		return fmt.Errorf("swap: token %s does not support permits", p.Token.Hex())
	}
	return permitter.Permit(owner, c.self, p.Value, p.Deadline, p.Signature)
}

// CancelOrder removes a live order and refunds the remaining escrowed
// sell amount to the owner. Owner of the order only; no fill hooks run
// and no whitelist applies, so cancellation always remains possible.
func (c *Core) CancelOrder(caller common.Address, hash common.Hash) error {
	return c.transact(func() error {
		return c.cancelOrder(caller, hash)
	})
}

func (c *Core) cancelOrder(caller common.Address, hash common.Hash) error {
	rec, ok := c.registry.Get(hash)
	if !ok {
		return ErrOrderDoesNotExist
	}
	if rec.Owner != caller {
		return ErrNotAnOwner
	}

	tok, err := c.tokens.Get(rec.Order.MakerSellToken)
	if err != nil {
		return err
	}
	if err := tok.Transfer(c.self, rec.Owner, rec.Order.MakerSellTokenAmount); err != nil {
		return err
	}
	c.registry.Remove(hash)
	c.touchOrder(hash)
	c.log.Info("order cancelled", zap.String("hash", hash.Hex()), zap.String("owner", caller.Hex()))
	c.events.publish(Event{Type: EventOrderCancelled, OrderHash: hash, Actor: caller})
	return nil
}

// TransferOrderOwnership moves a live position to a new owner. The new
// owner gains cancel rights and future fill proceeds; economic terms and
// escrow are untouched.
func (c *Core) TransferOrderOwnership(caller common.Address, hash common.Hash, to common.Address) error {
	return c.transact(func() error {
		if err := c.registry.TransferOwnership(hash, caller, to); err != nil {
			return err
		}
		c.touchOrder(hash)
		c.events.publish(Event{Type: EventOrderOwnershipMoved, OrderHash: hash, Actor: to})
		return nil
	})
}

// HashPrivateOrder returns the chain-scoped identity of a private order.
func (c *Core) HashPrivateOrder(order *PrivateOrder) common.Hash {
	return order.Hash(c.chainID)
}

// VerifyOrder checks a private order against its claimed hash and the
// maker's signature without touching any state.
func (c *Core) VerifyOrder(order *PrivateOrder, claimedHash common.Hash, signature []byte) error {
	hash := order.Hash(c.chainID)
	if hash != claimedHash {
		return ErrInvalidOrderHash
	}
	return verifyMakerSignature(order.Maker, hash, signature)
}

// FillPrivateOrder settles a maker-signed private order. Only the
// designated recipient may execute it, exactly once, before its deadline.
// The maker's sell amount moves maker to recipient net of fees; the fee
// accrues to the core; the recipient's buy amount moves to the maker.
func (c *Core) FillPrivateOrder(caller common.Address, order *PrivateOrder, claimedHash common.Hash, signature []byte, payload []byte) (*big.Int, error) {
	var out *big.Int
	err := c.transact(func() error {
		var err error
		out, err = c.fillPrivateOrder(caller, order, claimedHash, signature, payload)
		return err
	})
	return out, err
}

func (c *Core) fillPrivateOrder(caller common.Address, order *PrivateOrder, claimedHash common.Hash, signature []byte, payload []byte) (*big.Int, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	hash := order.Hash(c.chainID)
	if hash != claimedHash {
		return nil, ErrInvalidOrderHash
	}
	if c.executed[hash] {
		return nil, ErrOrderAlreadyExecuted
	}
	if order.Expired(c.now()) {
		return nil, ErrOrderExpired
	}
	if caller != order.Recipient {
		return nil, ErrYouAreNotARecipient
	}
	if err := verifyMakerSignature(order.Maker, hash, signature); err != nil {
		return nil, err
	}

	view := order.asPublic()
	ctx := &HookContext{
		Phase:     HookBeforeFill,
		Caller:    caller,
		Order:     view,
		Payload:   payload,
		AmountOut: new(big.Int).Set(order.MakerSellTokenAmount),
		Fee:       new(big.Int),
	}
	if err := c.pipeline.Run(ctx); err != nil {
		return nil, err
	}
	fee := ctx.Fee
	if fee.Sign() < 0 || fee.Cmp(order.MakerSellTokenAmount) > 0 {
		return nil, fmt.Errorf("swap: plugin fee %s out of range for amount out %s", fee, order.MakerSellTokenAmount)
	}
	net := new(big.Int).Sub(order.MakerSellTokenAmount, fee)

	// Buy leg: recipient pays the maker directly.
	if err := c.pullToOwner(order.MakerBuyToken, caller, order.Maker, order.MakerBuyTokenAmount); err != nil {
		return nil, err
	}
	// Sell leg: maker pays the recipient net of fees, fee lands in the core.
	sellTok, err := c.tokens.Get(order.MakerSellToken)
	if err != nil {
		return nil, err
	}
	if err := sellTok.TransferFrom(c.self, order.Maker, order.Recipient, net); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := sellTok.TransferFrom(c.self, order.Maker, c.self, fee); err != nil {
			return nil, err
		}
	}

	ctx.Phase = HookAfterFill
	if err := c.pipeline.Run(ctx); err != nil {
		return nil, err
	}

	c.executed[hash] = true
	c.touchExecuted(hash)
	c.log.Info("private order filled",
		zap.String("hash", hash.Hex()),
		zap.String("maker", order.Maker.Hex()),
		zap.String("recipient", order.Recipient.Hex()),
		zap.String("amountOut", net.String()),
		zap.String("fee", fee.String()))
	c.events.publish(Event{
		Type:      EventPrivateOrderFilled,
		OrderHash: hash,
		Actor:     caller,
		AmountIn:  order.MakerBuyTokenAmount,
		AmountOut: net,
		Fee:       fee,
	})
	return net, nil
}

// InvalidatePrivateOrder lets the maker revoke a signed private order
// before the recipient executes it. The hash is marked consumed exactly
// as if it had been filled.
func (c *Core) InvalidatePrivateOrder(caller common.Address, order *PrivateOrder) error {
	return c.transact(func() error {
		if caller != order.Maker {
			return ErrNotAnOwner
		}
		hash := order.Hash(c.chainID)
		if c.executed[hash] {
			return ErrOrderAlreadyExecuted
		}
		c.executed[hash] = true
		c.touchExecuted(hash)
		c.log.Info("private order invalidated", zap.String("hash", hash.Hex()))
		c.events.publish(Event{Type: EventPrivateOrderInvalid, OrderHash: hash, Actor: caller})
		return nil
	})
}

// Withdraw moves surplus core balance (accrued fees, stray deposits) to
// a destination account. Owner only. The surplus is recomputed at call
// time: the escrow reserve backing live orders can never be withdrawn.
func (c *Core) Withdraw(caller common.Address, asset common.Address, amount *big.Int, to common.Address) error {
	return c.transact(func() error {
		if caller != c.owner {
			return ErrNotAnOwner
		}
		tok, err := c.tokens.Get(asset)
		if err != nil {
			return err
		}
		surplus := new(big.Int).Sub(tok.BalanceOf(c.self), c.registry.Reserved(asset))
		if amount.Cmp(surplus) > 0 {
			return ErrWithdrawalViolatesFullBacking
		}
		if err := tok.Transfer(c.self, to, amount); err != nil {
			return err
		}
		c.log.Info("withdrawal",
			zap.String("asset", asset.Hex()),
			zap.String("amount", amount.String()),
			zap.String("to", to.Hex()))
		c.events.publish(Event{Type: EventWithdrawal, Actor: to, Asset: asset, AmountOut: amount})
		return nil
	})
}

// Surplus reports the withdrawable amount of an asset: core balance less
// the escrow reserve backing live orders.
func (c *Core) Surplus(asset common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, err := c.tokens.Get(asset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(tok.BalanceOf(c.self), c.registry.Reserved(asset)), nil
}

// Atomic runs fn as one settlement transaction: every fill inside either
// commits together or the whole batch rolls back. The batch executor is
// the intended caller.
func (c *Core) Atomic(fn func(tx *Tx) error) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.unlock()
	return c.runLocked(func() error {
		return fn(&Tx{core: c})
	})
}

// Tx exposes settlement operations inside an open transaction. Valid
// only for the duration of the Atomic callback that produced it.
type Tx struct {
	core *Core
}

func (tx *Tx) FillPublicOrder(caller common.Address, hash common.Hash, recipient common.Address, payload []byte) (*big.Int, error) {
	return tx.core.fillPublicOrder(caller, hash, recipient, payload)
}

func (tx *Tx) FillPublicOrderPartially(caller common.Address, req FillRequest, payload []byte) (*big.Int, error) {
	return tx.core.fillPublicOrderPartially(caller, req, payload)
}

// Order returns the live record for a hash inside the transaction.
func (tx *Tx) Order(hash common.Hash) (*OrderRecord, bool) {
	return tx.core.registry.Get(hash)
}

func (c *Core) now() int64 { return c.clock.Now().Unix() }

func verifyMakerSignature(maker common.Address, hash common.Hash, signature []byte) error {
	recovered, err := swapcrypto.RecoverPersonal(hash.Bytes(), signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != maker {
		return ErrInvalidSignature
	}
	return nil
}
