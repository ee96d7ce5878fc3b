package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

// PebbleStore persists settlement state so a node restart resumes with
// the same live orders and private order markers.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// SaveOrder persists a live order record. Called on create and after
// every partial fill with the reduced amounts.
func (s *PebbleStore) SaveOrder(rec *swap.OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(rec.Hash), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// DeleteOrder removes a fully filled or cancelled order record.
func (s *PebbleStore) DeleteOrder(hash common.Hash) error {
	if err := s.db.Delete(orderKey(hash), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}

// MarkExecuted records that a private order hash has been consumed.
// Markers are never deleted.
func (s *PebbleStore) MarkExecuted(hash common.Hash) error {
	if err := s.db.Set(executedKey(hash), []byte{1}, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save executed marker: %w", err)
	}
	return nil
}

// LoadOrders returns every persisted live order record.
func (s *PebbleStore) LoadOrders() ([]*swap.OrderRecord, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*swap.OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec swap.OrderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue // Skip invalid entries
		}
		orders = append(orders, &rec)
	}
	return orders, nil
}

// LoadExecuted returns every consumed private order hash.
func (s *PebbleStore) LoadExecuted() ([]common.Hash, error) {
	prefix := []byte(prefixExecuted)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var hashes []common.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		hex := string(iter.Key()[len(prefix):])
		hashes = append(hashes, common.HexToHash(hex))
	}
	return hashes, nil
}

var _ swap.Persistence = (*PebbleStore)(nil)
