package cryptoutils

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

// SplitKey splits secret into parts hex-encoded shares, any threshold of which
// recombine to it.
func SplitKey(secret []byte, parts, threshold int) ([]string, error) {
	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split key: %w", err)
	}
	out := make([]string, len(shares))
	for i, s := range shares {
		out[i] = hex.EncodeToString(s)
	}
	return out, nil
}

// CombineKeyShares reconstructs a secret from hex-encoded shares. Fewer shares than
// the split threshold yield a wrong secret rather than an error, which callers
// detect when the key fails to decrypt.
func CombineKeyShares(hexShares []string) ([]byte, error) {
	if len(hexShares) < 2 {
		return nil, errors.New("at least two key shares are required")
	}
	shares := make([][]byte, len(hexShares))
	for i, s := range hexShares {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("key share %d is not hex: %w", i, err)
		}
		shares[i] = b
	}
	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine key shares: %w", err)
	}
	return secret, nil
}
