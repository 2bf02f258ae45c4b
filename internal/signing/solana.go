package signing

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// solanaVerifier verifies ed25519 signatures over the raw canonical message
// bytes, with base58 addresses and signatures as produced by Solana wallets.
type solanaVerifier struct{}

func (solanaVerifier) Verify(message []byte, signature string, address string) (bool, error) {
	pubKey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return false, fmt.Errorf("invalid solana address: %w", err)
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}

	return sig.Verify(pubKey, message), nil
}

func (solanaVerifier) ValidAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

// Normalize is the identity for solana; base58 is case-sensitive and has
// a single rendering per key.
func (solanaVerifier) Normalize(address string) string {
	return address
}
