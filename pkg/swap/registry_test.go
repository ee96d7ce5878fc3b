package swap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	sellAsset = common.HexToAddress("0x1000000000000000000000000000000000000001")
	buyAsset  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	ownerA    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ownerB    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newRecord(owner common.Address, sell, buy, salt int64) *OrderRecord {
	order := PublicOrder{
		MakerSellToken:       sellAsset,
		MakerSellTokenAmount: big.NewInt(sell),
		MakerBuyToken:        buyAsset,
		MakerBuyTokenAmount:  big.NewInt(buy),
		CreationTimestamp:    salt,
	}
	return &OrderRecord{Hash: order.Hash(31337), Order: order, Owner: owner}
}

func TestRegistryCreateTracksReserve(t *testing.T) {
	r := NewOrderRegistry()
	rec := newRecord(ownerA, 100, 300, 1)

	if err := r.Create(rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Create(rec); err != ErrOrderAlreadyExists {
		t.Errorf("duplicate create error = %v, want ErrOrderAlreadyExists", err)
	}
	if got := r.Reserved(sellAsset); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("reserved = %s, want 100", got)
	}

	r.Create(newRecord(ownerA, 50, 150, 2))
	if got := r.Reserved(sellAsset); got.Cmp(big.NewInt(150)) != 0 {
		t.Errorf("reserved = %s after second order, want 150", got)
	}
}

func TestRegistryReduce(t *testing.T) {
	r := NewOrderRegistry()
	rec := newRecord(ownerA, 100, 300, 1)
	r.Create(rec)

	r.Reduce(rec.Hash, big.NewInt(40), big.NewInt(120))

	got, ok := r.Get(rec.Hash)
	if !ok {
		t.Fatal("reduced order was deleted")
	}
	if got.Order.MakerSellTokenAmount.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("remaining sell = %s, want 60", got.Order.MakerSellTokenAmount)
	}
	if got.Order.MakerBuyTokenAmount.Cmp(big.NewInt(180)) != 0 {
		t.Errorf("remaining buy = %s, want 180", got.Order.MakerBuyTokenAmount)
	}
	if got := r.Reserved(sellAsset); got.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("reserved = %s, want 60", got)
	}

	// Consuming the rest deletes the record and frees the reserve.
	r.Reduce(rec.Hash, big.NewInt(60), big.NewInt(180))
	if _, ok := r.Get(rec.Hash); ok {
		t.Error("exhausted order still registered")
	}
	if got := r.Reserved(sellAsset); got.Sign() != 0 {
		t.Errorf("reserved = %s after exhaustion, want 0", got)
	}
}

func TestRegistryRemoveReleasesReserve(t *testing.T) {
	r := NewOrderRegistry()
	rec := newRecord(ownerA, 100, 300, 1)
	r.Create(rec)

	r.Remove(rec.Hash)
	if _, ok := r.Get(rec.Hash); ok {
		t.Error("removed order still registered")
	}
	if got := r.Reserved(sellAsset); got.Sign() != 0 {
		t.Errorf("reserved = %s after remove, want 0", got)
	}
	if got := r.OrdersOf(ownerA); len(got) != 0 {
		t.Errorf("owner index holds %d orders after remove, want 0", len(got))
	}
}

func TestRegistryOwnerIndex(t *testing.T) {
	r := NewOrderRegistry()
	a1 := newRecord(ownerA, 10, 20, 1)
	a2 := newRecord(ownerA, 30, 40, 2)
	b1 := newRecord(ownerB, 50, 60, 3)
	r.Create(a1)
	r.Create(a2)
	r.Create(b1)

	if got := r.OrdersOf(ownerA); len(got) != 2 {
		t.Errorf("ownerA orders = %d, want 2", len(got))
	}
	if got := r.OrdersOf(ownerB); len(got) != 1 {
		t.Errorf("ownerB orders = %d, want 1", len(got))
	}

	if err := r.TransferOwnership(a1.Hash, ownerB, ownerB); err != ErrNotAnOwner {
		t.Errorf("transfer by non-owner error = %v, want ErrNotAnOwner", err)
	}
	if err := r.TransferOwnership(a1.Hash, ownerA, ownerB); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := r.OrdersOf(ownerA); len(got) != 1 {
		t.Errorf("ownerA orders = %d after transfer, want 1", len(got))
	}
	if got := r.OrdersOf(ownerB); len(got) != 2 {
		t.Errorf("ownerB orders = %d after transfer, want 2", len(got))
	}
}

func TestRegistrySnapshotRestore(t *testing.T) {
	r := NewOrderRegistry()
	rec := newRecord(ownerA, 100, 300, 1)
	r.Create(rec)

	snap := r.snapshot()

	r.Reduce(rec.Hash, big.NewInt(100), big.NewInt(300))
	r.Create(newRecord(ownerB, 5, 10, 2))

	r.restore(snap)
	got, ok := r.Get(rec.Hash)
	if !ok {
		t.Fatal("restored registry lost the original order")
	}
	if got.Order.MakerSellTokenAmount.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("restored sell = %s, want 100", got.Order.MakerSellTokenAmount)
	}
	if r.Count() != 1 {
		t.Errorf("restored count = %d, want 1", r.Count())
	}
	if got := r.Reserved(sellAsset); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("restored reserve = %s, want 100", got)
	}
	if got := r.OrdersOf(ownerA); len(got) != 1 {
		t.Errorf("restored owner index = %d, want 1", len(got))
	}
}
