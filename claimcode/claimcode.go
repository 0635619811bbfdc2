// Package claimcode implements the commit-reveal secret used to gate escrow
// claims: generation, normalisation, commitment hashing, and the shareable
// claim link. The ledger stores only the commitment; the plaintext travels
// out-of-band and is never embedded in a link.
package claimcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Alphabet is the 36-symbol set claim codes are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength is the generated code length when the caller does not choose.
const DefaultLength = 6

// Generate draws a claim code of the given length uniformly from Alphabet
// using crypto/rand. A non-positive length falls back to DefaultLength.
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	max := big.NewInt(int64(len(Alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("draw claim code symbol: %w", err)
		}
		out[i] = Alphabet[n.Int64()]
	}
	return string(out), nil
}

// Normalize canonicalises a claim code before hashing: surrounding whitespace
// is trimmed and the code is uppercased. Creation and claim must apply the
// same normalisation or the commitment never matches; Normalize is idempotent.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Commit derives the 32-byte commitment the ledger stores at creation time:
// the Keccak256 digest of the normalised code.
func Commit(code string) [32]byte {
	return crypto.Keccak256Hash([]byte(Normalize(code)))
}

// ClaimLink builds the shareable link for an escrow entity. Only the entity
// id is embedded; when a claim code is required it must be shared separately.
func ClaimLink(origin string, id [32]byte) string {
	base := strings.TrimRight(strings.TrimSpace(origin), "/")
	return base + "/claims?id=" + common.Hash(id).Hex()
}

// ParseClaimLink extracts the entity id from a claim link or from a bare
// 0x-prefixed id string.
func ParseClaimLink(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return id, fmt.Errorf("empty claim link")
	}
	candidate := trimmed
	if u, err := url.Parse(trimmed); err == nil && u.RawQuery != "" {
		if v := u.Query().Get("id"); v != "" {
			candidate = v
		}
	}
	decoded, err := hexutil.Decode(candidate)
	if err != nil || len(decoded) != common.HashLength {
		return id, fmt.Errorf("malformed entity id: %s", candidate)
	}
	copy(id[:], decoded)
	return id, nil
}
