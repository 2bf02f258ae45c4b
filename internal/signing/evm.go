package signing

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// evmVerifier verifies EIP-191 personal-sign signatures (ethereum, bsc).
// The wallet signs accounts.TextHash(message); we recover the public key
// and compare the derived address.
type evmVerifier struct{}

func (evmVerifier) Verify(message []byte, signature string, address string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("invalid EVM address %q", address)
	}

	sigHex := strings.TrimPrefix(signature, "0x")
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Wallets return V as 27/28; SigToPub wants 0/1.
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	hash := accounts.TextHash(message)
	pubKey, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey)
	return recovered == common.HexToAddress(address), nil
}

func (evmVerifier) ValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// Normalize returns the EIP-55 checksummed rendering. Hex addresses are
// case-insensitive on chain, so casing variants must collapse to one form
// before they reach the wallet uniqueness index.
func (evmVerifier) Normalize(address string) string {
	return common.HexToAddress(address).Hex()
}
