package swap

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// OrderRecord is a live public order plus its ownable position. The owner
// receives the buy asset on fill and may cancel or transfer the position;
// economic terms never change on transfer.
type OrderRecord struct {
	Hash  common.Hash    `json:"hash"`
	Order PublicOrder    `json:"order"`
	Owner common.Address `json:"owner"`
}

// OrderRegistry owns the lifecycle of public order records: create,
// mutate-on-partial-fill, delete-on-full-fill/cancel. It also tracks the
// per-asset escrow reserve backing every live order, which the core
// checks against on withdrawals.
//
// Not safe for concurrent use on its own: all mutations run inside the
// settlement core's serialized transactions.
type OrderRegistry struct {
	orders  map[common.Hash]*OrderRecord
	byOwner map[common.Address]map[common.Hash]struct{}

	// reserved[asset] = sum of outstanding MakerSellTokenAmount over all
	// live orders selling that asset (the full-backing requirement).
	reserved map[common.Address]*big.Int
}

func NewOrderRegistry() *OrderRegistry {
	return &OrderRegistry{
		orders:   make(map[common.Hash]*OrderRecord),
		byOwner:  make(map[common.Address]map[common.Hash]struct{}),
		reserved: make(map[common.Address]*big.Int),
	}
}

// Create registers a new live order. Fails when a live order already
// claims the same hash; creationTimestamp salting lets identical economic
// terms coexist under distinct hashes.
func (r *OrderRegistry) Create(rec *OrderRecord) error {
	if _, exists := r.orders[rec.Hash]; exists {
		return ErrOrderAlreadyExists
	}
	r.orders[rec.Hash] = rec
	r.index(rec.Owner, rec.Hash)
	r.reserve(rec.Order.MakerSellToken, rec.Order.MakerSellTokenAmount)
	return nil
}

// Get returns the live record for a hash.
func (r *OrderRegistry) Get(hash common.Hash) (*OrderRecord, bool) {
	rec, ok := r.orders[hash]
	return rec, ok
}

// Reduce shrinks a live order's outstanding amounts after a partial fill.
// The record is deleted once either amount reaches zero.
func (r *OrderRegistry) Reduce(hash common.Hash, sellConsumed, buyConsumed *big.Int) {
	rec, ok := r.orders[hash]
	if !ok {
		return
	}
	rec.Order.MakerSellTokenAmount = new(big.Int).Sub(rec.Order.MakerSellTokenAmount, sellConsumed)
	rec.Order.MakerBuyTokenAmount = new(big.Int).Sub(rec.Order.MakerBuyTokenAmount, buyConsumed)
	r.release(rec.Order.MakerSellToken, sellConsumed)

	if rec.Order.MakerSellTokenAmount.Sign() <= 0 || rec.Order.MakerBuyTokenAmount.Sign() <= 0 {
		r.remove(rec)
	}
}

// Remove deregisters a live order and releases its escrow reserve.
func (r *OrderRegistry) Remove(hash common.Hash) {
	if rec, ok := r.orders[hash]; ok {
		r.release(rec.Order.MakerSellToken, rec.Order.MakerSellTokenAmount)
		r.remove(rec)
	}
}

func (r *OrderRegistry) remove(rec *OrderRecord) {
	delete(r.orders, rec.Hash)
	r.unindex(rec.Owner, rec.Hash)
}

// TransferOwnership moves the position to a new owner. Escrowed balances
// are untouched: only who may cancel or receive proceeds changes.
func (r *OrderRegistry) TransferOwnership(hash common.Hash, from, to common.Address) error {
	rec, ok := r.orders[hash]
	if !ok {
		return ErrOrderDoesNotExist
	}
	if rec.Owner != from {
		return ErrNotAnOwner
	}
	r.unindex(rec.Owner, hash)
	rec.Owner = to
	r.index(to, hash)
	return nil
}

// Count returns the number of live orders.
func (r *OrderRegistry) Count() int { return len(r.orders) }

// Orders enumerates every live order, sorted by hash for deterministic
// output.
func (r *OrderRegistry) Orders() []*OrderRecord {
	out := make([]*OrderRecord, 0, len(r.orders))
	for _, rec := range r.orders {
		out = append(out, rec)
	}
	sortRecords(out)
	return out
}

// OrdersOf enumerates the live orders owned by one address.
func (r *OrderRegistry) OrdersOf(owner common.Address) []*OrderRecord {
	hashes, ok := r.byOwner[owner]
	if !ok {
		return nil
	}
	out := make([]*OrderRecord, 0, len(hashes))
	for h := range hashes {
		out = append(out, r.orders[h])
	}
	sortRecords(out)
	return out
}

// OrdersForPair enumerates live orders selling sellToken for buyToken —
// the candidate set router clients feed into path construction.
func (r *OrderRegistry) OrdersForPair(sellToken, buyToken common.Address) []*OrderRecord {
	var out []*OrderRecord
	for _, rec := range r.orders {
		if rec.Order.MakerSellToken == sellToken && rec.Order.MakerBuyToken == buyToken {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out
}

// Reserved returns the escrow reserve required for an asset: the amount
// of the core's balance that belongs to makers, not to accrued fees.
func (r *OrderRegistry) Reserved(asset common.Address) *big.Int {
	if v, ok := r.reserved[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (r *OrderRegistry) index(owner common.Address, hash common.Hash) {
	set, ok := r.byOwner[owner]
	if !ok {
		set = make(map[common.Hash]struct{})
		r.byOwner[owner] = set
	}
	set[hash] = struct{}{}
}

func (r *OrderRegistry) unindex(owner common.Address, hash common.Hash) {
	if set, ok := r.byOwner[owner]; ok {
		delete(set, hash)
		if len(set) == 0 {
			delete(r.byOwner, owner)
		}
	}
}

func (r *OrderRegistry) reserve(asset common.Address, amount *big.Int) {
	if v, ok := r.reserved[asset]; ok {
		v.Add(v, amount)
		return
	}
	r.reserved[asset] = new(big.Int).Set(amount)
}

func (r *OrderRegistry) release(asset common.Address, amount *big.Int) {
	if v, ok := r.reserved[asset]; ok {
		v.Sub(v, amount)
		if v.Sign() <= 0 {
			delete(r.reserved, asset)
		}
	}
}

// registrySnapshot is a deep copy used to roll back failed transactions.
type registrySnapshot struct {
	orders   map[common.Hash]*OrderRecord
	reserved map[common.Address]*big.Int
}

func (r *OrderRegistry) snapshot() registrySnapshot {
	snap := registrySnapshot{
		orders:   make(map[common.Hash]*OrderRecord, len(r.orders)),
		reserved: make(map[common.Address]*big.Int, len(r.reserved)),
	}
	for h, rec := range r.orders {
		cp := *rec
		cp.Order.MakerSellTokenAmount = new(big.Int).Set(rec.Order.MakerSellTokenAmount)
		cp.Order.MakerBuyTokenAmount = new(big.Int).Set(rec.Order.MakerBuyTokenAmount)
		snap.orders[h] = &cp
	}
	for a, v := range r.reserved {
		snap.reserved[a] = new(big.Int).Set(v)
	}
	return snap
}

func (r *OrderRegistry) restore(snap registrySnapshot) {
	r.orders = snap.orders
	r.reserved = snap.reserved
	r.byOwner = make(map[common.Address]map[common.Hash]struct{})
	for h, rec := range snap.orders {
		r.index(rec.Owner, h)
	}
}

func sortRecords(recs []*OrderRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Hash.Hex() < recs[j].Hash.Hex()
	})
}
