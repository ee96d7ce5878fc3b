package crypto

import (
	"bytes"
	"math/big"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	digest := gethcrypto.Keccak256([]byte("order payload"))
	sig, err := signer.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestSignPersonalRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	hash := gethcrypto.Keccak256([]byte("private order"))
	sig, err := signer.SignPersonal(hash)
	if err != nil {
		t.Fatalf("sign personal: %v", err)
	}

	recovered, err := RecoverPersonal(hash, sig)
	if err != nil {
		t.Fatalf("recover personal: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	// A raw recover over the same hash must NOT yield the signer: the
	// personal prefix separates the two signature domains.
	raw, err := RecoverAddress(hash, sig)
	if err == nil && raw == signer.Address() {
		t.Error("personal signature verified without prefix")
	}
}

func TestRecoverRejectsTamperedHash(t *testing.T) {
	signer, _ := GenerateKey()
	hash := gethcrypto.Keccak256([]byte("original"))
	sig, _ := signer.SignPersonal(hash)

	tampered := gethcrypto.Keccak256([]byte("tampered"))
	recovered, err := RecoverPersonal(tampered, sig)
	if err == nil && recovered == signer.Address() {
		t.Error("tampered hash recovered to original signer")
	}
}

func TestRecoverNormalizesV(t *testing.T) {
	signer, _ := GenerateKey()
	digest := gethcrypto.Keccak256([]byte("v normalization"))
	sig, _ := signer.Sign(digest)

	// Wallets emit V as 27/28 instead of 0/1.
	walletSig := make([]byte, 65)
	copy(walletSig, sig)
	walletSig[64] += 27

	recovered, err := RecoverAddress(digest, walletSig)
	if err != nil {
		t.Fatalf("recover with wallet V: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer, _ := GenerateKey()
	restored, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.Address() != signer.Address() {
		t.Errorf("restored address %s, want %s", restored.Address().Hex(), signer.Address().Hex())
	}
}

func TestSignatureRSVRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	digest := gethcrypto.Keccak256([]byte("rsv"))
	sig, _ := signer.Sign(digest)

	r, s, v, err := SignatureToRSV(sig)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !bytes.Equal(RSVToSignature(r, s, v), sig) {
		t.Error("RSV round trip does not reproduce the signature")
	}
}

func TestPermitSignAndRecover(t *testing.T) {
	owner, _ := GenerateKey()
	spender, _ := GenerateKey()

	domain := PermitDomain{
		Name:              "USD Coin",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: spender.Address(),
	}
	permit := &Permit{
		Owner:    owner.Address(),
		Spender:  spender.Address(),
		Value:    big.NewInt(1_000_000),
		Nonce:    big.NewInt(0),
		Deadline: big.NewInt(0),
	}

	sig, err := SignPermit(owner, domain, permit)
	if err != nil {
		t.Fatalf("sign permit: %v", err)
	}
	recovered, err := RecoverPermitSigner(domain, permit, sig)
	if err != nil {
		t.Fatalf("recover permit: %v", err)
	}
	if recovered != owner.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), owner.Address().Hex())
	}

	// Changing any field invalidates the signature.
	permit.Value = big.NewInt(2_000_000)
	recovered, err = RecoverPermitSigner(domain, permit, sig)
	if err == nil && recovered == owner.Address() {
		t.Error("modified permit recovered to original signer")
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddress([]byte("token:USD Coin:USDC:31337"))
	b := DeriveAddress([]byte("token:USD Coin:USDC:31337"))
	if !bytes.Equal(a, b) {
		t.Error("same seed derived different addresses")
	}
	c := DeriveAddress([]byte("token:USD Coin:USDC:1"))
	if bytes.Equal(a, c) {
		t.Error("different seeds derived the same address")
	}
	if len(a) != 20 {
		t.Errorf("address length = %d, want 20", len(a))
	}
}
