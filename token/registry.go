package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownToken is returned when a symbol is not present in the registry.
var ErrUnknownToken = fmt.Errorf("unknown token")

// ErrInvalidAmount is returned by Parse for non-numeric or non-positive input.
var ErrInvalidAmount = fmt.Errorf("invalid amount")

// Token describes one supported asset: its canonical symbol, the ledger
// address of the program holding balances, and the decimal precision used to
// scale human amounts into ledger integers.
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Registry maps a closed set of token symbols to their ledger metadata.
// Lookups are case-insensitive on the symbol.
type Registry struct {
	tokens map[string]Token
}

// NewRegistry builds a registry from the provided tokens. Symbols are
// normalised to uppercase; a duplicate symbol is an error.
func NewRegistry(tokens ...Token) (*Registry, error) {
	r := &Registry{tokens: make(map[string]Token, len(tokens))}
	for _, tok := range tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return nil, fmt.Errorf("token symbol required")
		}
		if _, exists := r.tokens[symbol]; exists {
			return nil, fmt.Errorf("duplicate token symbol: %s", symbol)
		}
		tok.Symbol = symbol
		r.tokens[symbol] = tok
	}
	return r, nil
}

// Lookup resolves a symbol to its token metadata.
func (r *Registry) Lookup(symbol string) (Token, error) {
	if r == nil {
		return Token{}, ErrUnknownToken
	}
	tok, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return tok, nil
}

// Symbols returns the registered symbols in unspecified order.
func (r *Registry) Symbols() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.tokens))
	for symbol := range r.tokens {
		out = append(out, symbol)
	}
	return out
}

// Parse converts a human decimal string into the token's scaled integer
// representation. The amount must be strictly positive and must not carry
// more fractional digits than the token supports.
func (t Token) Parse(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	whole := trimmed
	frac := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		whole, frac = trimmed[:idx], trimmed[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > int(t.Decimals) {
		return nil, fmt.Errorf("%w: %s exceeds %d decimal places", ErrInvalidAmount, trimmed, t.Decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(t.Decimals)-len(frac))
	scaled, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, trimmed)
	}
	if scaled.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return scaled, nil
}

// Format renders a scaled integer as a decimal string at the token's
// precision, trimming trailing fractional zeros.
func (t Token) Format(scaled *big.Int) string {
	if scaled == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(scaled)
	if scaled.Sign() < 0 {
		sign = "-"
	}
	digits := abs.String()
	dec := int(t.Decimals)
	if dec == 0 {
		return sign + digits
	}
	if len(digits) <= dec {
		digits = strings.Repeat("0", dec-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-dec]
	frac := strings.TrimRight(digits[len(digits)-dec:], "0")
	if frac == "" {
		return sign + whole
	}
	return sign + whole + "." + frac
}

// FormatFull renders a scaled integer with the token's full decimal
// precision, keeping trailing zeros. Drop per-recipient amounts are reported
// this way so equal splits read identically.
func (t Token) FormatFull(scaled *big.Int) string {
	if scaled == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(scaled)
	if scaled.Sign() < 0 {
		sign = "-"
	}
	digits := abs.String()
	dec := int(t.Decimals)
	if dec == 0 {
		return sign + digits
	}
	if len(digits) <= dec {
		digits = strings.Repeat("0", dec-len(digits)+1) + digits
	}
	return sign + digits[:len(digits)-dec] + "." + digits[len(digits)-dec:]
}
