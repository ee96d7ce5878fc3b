package crypto

import "golang.org/x/crypto/sha3"

// DeriveAddress deterministically derives a 20-byte address from an
// arbitrary seed (keccak256(seed)[12:]). Used to mint stable addresses
// for in-process token ledgers so order hashes stay reproducible
// across restarts.
func DeriveAddress(seed []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(seed)
	sum := h.Sum(nil)
	return sum[12:]
}
