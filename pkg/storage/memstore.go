package storage

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fundswap/swapd/pkg/swap"
)

// MemoryStore is an in-process Persistence used by tests and ephemeral
// nodes that do not need durability across restarts.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[common.Hash]*swap.OrderRecord
	executed map[common.Hash]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[common.Hash]*swap.OrderRecord),
		executed: make(map[common.Hash]struct{}),
	}
}

func (s *MemoryStore) SaveOrder(rec *swap.OrderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.orders[rec.Hash] = &cp
	return nil
}

func (s *MemoryStore) DeleteOrder(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, hash)
	return nil
}

func (s *MemoryStore) MarkExecuted(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[hash] = struct{}{}
	return nil
}

func (s *MemoryStore) LoadOrders() ([]*swap.OrderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*swap.OrderRecord, 0, len(s.orders))
	for _, rec := range s.orders {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) LoadExecuted() ([]common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.Hash, 0, len(s.executed))
	for h := range s.executed {
		out = append(out, h)
	}
	return out, nil
}

var _ swap.Persistence = (*MemoryStore)(nil)
