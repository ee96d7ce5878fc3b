package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	swapcrypto "github.com/fundswap/swapd/pkg/crypto"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token address")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrPermitExpired         = errors.New("token: permit deadline passed")
	ErrInvalidPermit         = errors.New("token: permit signature does not recover to owner")
)

// Token is the escrow-transfer interface the settlement core consumes.
// Implementations may run arbitrary code on transfer (third-party asset
// contracts do), which is why the core carries a reentrancy guard.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) *big.Int

	// Transfer moves amount from the caller's balance to another account.
	Transfer(from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from owner to another account on behalf of
	// spender, consuming spender's allowance.
	TransferFrom(spender, owner, to common.Address, amount *big.Int) error

	Approve(owner, spender common.Address, amount *big.Int)
	Allowance(owner, spender common.Address) *big.Int
}

// Permitter is implemented by tokens that accept EIP-2612 off-chain
// approvals in place of a prior Approve call.
type Permitter interface {
	Permit(owner, spender common.Address, value *big.Int, deadline int64, signature []byte) error
	PermitNonce(owner common.Address) uint64
}

// Snapshotter lets the settlement core capture and restore ledger state
// around an atomic batch. Every step of a batch either commits or the whole
// batch rolls back.
type Snapshotter interface {
	Snapshot() Snapshot
	Restore(Snapshot)
}

// Snapshot is an opaque copy of a token's balances, allowances and
// permit nonces. Restoring it undoes any permits consumed since it was
// taken, so an aborted settlement never burns a signed approval.
type Snapshot struct {
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	nonces     map[common.Address]uint64
}

// Registry resolves asset addresses to token implementations.
// Concurrent-safe: the router and API read it while settlement runs.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]Token
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]Token)}
}

func (r *Registry) Register(t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Address()] = t
}

func (r *Registry) Get(addr common.Address) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// All returns every registered token.
func (r *Registry) All() []Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	return out
}

// SnapshotAll captures the state of every token that supports snapshots.
func (r *Registry) SnapshotAll() map[common.Address]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snaps := make(map[common.Address]Snapshot)
	for addr, t := range r.tokens {
		if s, ok := t.(Snapshotter); ok {
			snaps[addr] = s.Snapshot()
		}
	}
	return snaps
}

// RestoreAll rolls tokens back to a previously captured state.
func (r *Registry) RestoreAll(snaps map[common.Address]Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for addr, snap := range snaps {
		if s, ok := r.tokens[addr].(Snapshotter); ok {
			s.Restore(snap)
		}
	}
}

// StandardToken is an in-memory asset ledger with ERC20 semantics:
// balances, allowances and EIP-2612 permits. The address is derived
// deterministically from {name, symbol, chainID} so hashes of orders
// referencing it are stable across runs.
type StandardToken struct {
	mu         sync.Mutex
	name       string
	symbol     string
	decimals   uint8
	chainID    int64
	address    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	nonces     map[common.Address]uint64
}

func NewStandardToken(name, symbol string, decimals uint8, chainID int64) *StandardToken {
	seed := fmt.Sprintf("token:%s:%s:%d", name, symbol, chainID)
	return &StandardToken{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		chainID:    chainID,
		address:    common.BytesToAddress(swapcrypto.DeriveAddress([]byte(seed))),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		nonces:     make(map[common.Address]uint64),
	}
}

func (t *StandardToken) Address() common.Address { return t.address }
func (t *StandardToken) Name() string            { return t.name }
func (t *StandardToken) Symbol() string          { return t.symbol }
func (t *StandardToken) Decimals() uint8         { return t.decimals }

// Mint credits newly issued units to an account.
func (t *StandardToken) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(to, amount)
}

func (t *StandardToken) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *StandardToken) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *StandardToken) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowance(owner, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allows %s to spend %s, need %s",
			ErrInsufficientAllowance, owner.Hex(), spender.Hex(), allowance, amount)
	}
	if err := t.move(owner, to, amount); err != nil {
		return err
	}
	t.setAllowance(owner, spender, new(big.Int).Sub(allowance, amount))
	return nil
}

func (t *StandardToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, new(big.Int).Set(amount))
}

func (t *StandardToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.allowance(owner, spender))
}

// Permit consumes an EIP-2612 signed approval: verifies the typed-data
// signature against owner, checks the deadline and nonce, then grants
// spender the allowance. Nonce increments on success, making each permit
// single-use.
func (t *StandardToken) Permit(owner, spender common.Address, value *big.Int, deadline int64, signature []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline != 0 && deadline < nowUnix() {
		return ErrPermitExpired
	}

	permit := &swapcrypto.Permit{
		Owner:    owner,
		Spender:  spender,
		Value:    value,
		Nonce:    new(big.Int).SetUint64(t.nonces[owner]),
		Deadline: big.NewInt(deadline),
	}
	recovered, err := swapcrypto.RecoverPermitSigner(t.permitDomain(), permit, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPermit, err)
	}
	if recovered != owner {
		return ErrInvalidPermit
	}

	t.nonces[owner]++
	t.setAllowance(owner, spender, new(big.Int).Set(value))
	return nil
}

func (t *StandardToken) PermitNonce(owner common.Address) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nonces[owner]
}

// PermitDomain returns the EIP-712 domain a wallet needs to produce a
// valid permit for this token.
func (t *StandardToken) PermitDomain() swapcrypto.PermitDomain {
	return t.permitDomain()
}

func (t *StandardToken) permitDomain() swapcrypto.PermitDomain {
	return swapcrypto.PermitDomain{
		Name:              t.name,
		Version:           "1",
		ChainID:           big.NewInt(t.chainID),
		VerifyingContract: t.address,
	}
}

func (t *StandardToken) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		balances:   make(map[common.Address]*big.Int, len(t.balances)),
		allowances: make(map[common.Address]map[common.Address]*big.Int, len(t.allowances)),
		nonces:     make(map[common.Address]uint64, len(t.nonces)),
	}
	for addr, b := range t.balances {
		snap.balances[addr] = new(big.Int).Set(b)
	}
	for owner, spenders := range t.allowances {
		m := make(map[common.Address]*big.Int, len(spenders))
		for spender, a := range spenders {
			m[spender] = new(big.Int).Set(a)
		}
		snap.allowances[owner] = m
	}
	for owner, n := range t.nonces {
		snap.nonces[owner] = n
	}
	return snap
}

func (t *StandardToken) Restore(snap Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.balances = make(map[common.Address]*big.Int, len(snap.balances))
	for addr, b := range snap.balances {
		t.balances[addr] = new(big.Int).Set(b)
	}
	t.allowances = make(map[common.Address]map[common.Address]*big.Int, len(snap.allowances))
	for owner, spenders := range snap.allowances {
		m := make(map[common.Address]*big.Int, len(spenders))
		for spender, a := range spenders {
			m[spender] = new(big.Int).Set(a)
		}
		t.allowances[owner] = m
	}
	t.nonces = make(map[common.Address]uint64, len(snap.nonces))
	for owner, n := range snap.nonces {
		t.nonces[owner] = n
	}
}

// move and credit assume t.mu is held.
func (t *StandardToken) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount %s", amount)
	}
	balance, ok := t.balances[from]
	if !ok || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), balance, amount)
	}
	balance.Sub(balance, amount)
	t.credit(to, amount)
	return nil
}

func (t *StandardToken) credit(to common.Address, amount *big.Int) {
	if b, ok := t.balances[to]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[to] = new(big.Int).Set(amount)
}

func (t *StandardToken) allowance(owner, spender common.Address) *big.Int {
	if spenders, ok := t.allowances[owner]; ok {
		if a, ok := spenders[spender]; ok {
			return a
		}
	}
	return new(big.Int)
}

func (t *StandardToken) setAllowance(owner, spender common.Address, amount *big.Int) {
	spenders, ok := t.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		t.allowances[owner] = spenders
	}
	spenders[spender] = amount
}

func nowUnix() int64 { return time.Now().Unix() }
