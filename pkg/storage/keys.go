package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema for Pebble storage:
//
//   ord:<hash>  → live public order record (JSON)
//   exec:<hash> → executed/invalidated private order marker
const (
	prefixOrder    = "ord:"
	prefixExecuted = "exec:"
)

// orderKey returns the key for a live order record.
// Format: "ord:{hash}"
func orderKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixOrder, hash.Hex()))
}

// executedKey returns the key for an executed private order marker.
// Format: "exec:{hash}"
func executedKey(hash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixExecuted, hash.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
