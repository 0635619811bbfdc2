package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testToken(decimals uint8) Token {
	return Token{
		Symbol:   "USDX",
		Address:  common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Decimals: decimals,
	}
}

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	reg, err := NewRegistry(testToken(6))
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	for _, symbol := range []string{"USDX", "usdx", " Usdx "} {
		tok, err := reg.Lookup(symbol)
		if err != nil {
			t.Fatalf("lookup %q: %v", symbol, err)
		}
		if tok.Decimals != 6 {
			t.Fatalf("lookup %q returned decimals %d", symbol, tok.Decimals)
		}
	}
	if _, err := reg.Lookup("NOPE"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	dup := testToken(6)
	dup.Symbol = "usdx"
	if _, err := NewRegistry(testToken(6), dup); err == nil {
		t.Fatalf("expected duplicate symbol error")
	}
}

func TestParseScalesDecimals(t *testing.T) {
	tok := testToken(6)
	cases := []struct {
		in   string
		want string
	}{
		{"10.00", "10000000"},
		{"0.000001", "1"},
		{"500", "500000000"},
		{".5", "500000"},
		{"1.5", "1500000"},
	}
	for _, tc := range cases {
		got, err := tok.Parse(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("parse %q = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	tok := testToken(6)
	for _, in := range []string{"", "abc", "-1", "0", "0.0000001", "1.2.3"} {
		if _, err := tok.Parse(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("parse %q: expected ErrInvalidAmount, got %v", in, err)
		}
	}
}

func TestFormatRoundTrips(t *testing.T) {
	tok := testToken(6)
	scaled, err := tok.Parse("10.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := tok.Format(scaled); got != "10.5" {
		t.Fatalf("format = %q, want 10.5", got)
	}
	if got := tok.FormatFull(scaled); got != "10.500000" {
		t.Fatalf("format full = %q, want 10.500000", got)
	}
	if got := tok.Format(big.NewInt(1)); got != "0.000001" {
		t.Fatalf("format smallest unit = %q", got)
	}
}

func TestFormatZeroDecimals(t *testing.T) {
	tok := testToken(0)
	if got := tok.Format(big.NewInt(42)); got != "42" {
		t.Fatalf("format = %q, want 42", got)
	}
}
