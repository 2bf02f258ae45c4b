// Package signing abstracts per-chain signature verification. Each chain
// has its own scheme and address format; business logic selects a verifier
// by the chain carried on the approval and never branches on chain names.
package signing

import (
	"fmt"

	"crosspay/internal/models"
)

// Verifier checks that signature over message was produced by the holder
// of address on its chain.
type Verifier interface {
	// Verify returns (true, nil) for a valid signature, (false, nil) for a
	// well-formed but non-matching one, and an error for malformed input.
	Verify(message []byte, signature string, address string) (bool, error)

	// ValidAddress reports whether address is well-formed for the chain.
	ValidAddress(address string) bool

	// Normalize returns the chain's canonical rendering of address. Callers
	// normalize before storing or looking up an address so format variants
	// of one account map to one row.
	Normalize(address string) string
}

// ForChain returns the verifier for a chain.
func ForChain(chain models.Chain) (Verifier, error) {
	switch {
	case chain.IsEVM():
		return evmVerifier{}, nil
	case chain == models.ChainSolana:
		return solanaVerifier{}, nil
	default:
		return nil, fmt.Errorf("no signature scheme for chain %q", chain)
	}
}
