package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PermitDomain is the EIP-712 domain of the token granting the approval.
// Name is the token name, VerifyingContract its address.
type PermitDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Permit is an EIP-2612 off-chain approval: owner lets spender move up to
// Value of the token without a prior on-chain approve transaction
type Permit struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int // Unix seconds, expiry of the approval itself
}

// HashPermit computes the EIP-712 digest the owner signs
func HashPermit(domain PermitDomain, permit *Permit) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Permit": []apitypes.Type{
				{Name: "owner", Type: "address"},
				{Name: "spender", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "Permit",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"owner":    permit.Owner.Hex(),
			"spender":  permit.Spender.Hex(),
			"value":    permit.Value.String(),
			"nonce":    permit.Nonce.String(),
			"deadline": permit.Deadline.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// Final digest: keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	digest := crypto.Keccak256Hash(rawData)
	return digest.Bytes(), nil
}

// SignPermit signs a permit with the owner's key
func SignPermit(signer *Signer, domain PermitDomain, permit *Permit) ([]byte, error) {
	hash, err := HashPermit(domain, permit)
	if err != nil {
		return nil, fmt.Errorf("failed to hash permit: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign permit: %w", err)
	}
	return signature, nil
}

// RecoverPermitSigner recovers the address that signed a permit
func RecoverPermitSigner(domain PermitDomain, permit *Permit, signature []byte) (common.Address, error) {
	hash, err := HashPermit(domain, permit)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash permit: %w", err)
	}
	return RecoverAddress(hash, signature)
}
