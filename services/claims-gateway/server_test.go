package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"vaultlink/escrow"
	"vaultlink/pipeline"
)

type stubEscrow struct {
	createErr  error
	claimErr   error
	refundErr  error
	transfer   *escrow.Transfer
	drop       *escrow.Drop
	lastSecret string
}

func (s *stubEscrow) CreateDirect(_ context.Context, p escrow.CreateParams) (*escrow.CreateResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &escrow.CreateResult{
		ID:         common.HexToHash("0x01"),
		Provenance: pipeline.ProvenanceAuthoritative,
		Secret:     p.Secret,
		TxHash:     common.HexToHash("0xaa"),
	}, nil
}

func (s *stubEscrow) Claim(_ context.Context, _ common.Hash, secret string) (*escrow.MutationResult, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	s.lastSecret = secret
	return &escrow.MutationResult{TxHash: common.HexToHash("0xbb")}, nil
}

func (s *stubEscrow) Refund(_ context.Context, _ common.Hash) (*escrow.MutationResult, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &escrow.MutationResult{TxHash: common.HexToHash("0xcc")}, nil
}

func (s *stubEscrow) GetTransfer(_ context.Context, _ common.Hash) (*escrow.Transfer, error) {
	if s.transfer == nil {
		return nil, fmt.Errorf("transfer not found")
	}
	return s.transfer, nil
}

func (s *stubEscrow) CreateDrop(_ context.Context, _ escrow.DropParams) (*escrow.DropResult, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &escrow.DropResult{
		ID:         common.HexToHash("0x02"),
		Provenance: pipeline.ProvenanceAuthoritative,
		TxHash:     common.HexToHash("0xdd"),
	}, nil
}

func (s *stubEscrow) ClaimDrop(_ context.Context, _ common.Hash) (*escrow.Drop, *escrow.MutationResult, error) {
	if s.claimErr != nil {
		return nil, nil, s.claimErr
	}
	return s.drop, &escrow.MutationResult{TxHash: common.HexToHash("0xee")}, nil
}

func (s *stubEscrow) RefundDrop(_ context.Context, _ common.Hash) (*escrow.MutationResult, error) {
	if s.refundErr != nil {
		return nil, s.refundErr
	}
	return &escrow.MutationResult{TxHash: common.HexToHash("0xff")}, nil
}

func (s *stubEscrow) GetDrop(_ context.Context, _ common.Hash) (*escrow.Drop, error) {
	if s.drop == nil {
		return nil, fmt.Errorf("drop not found")
	}
	return s.drop, nil
}

const testSecret = "gateway-test-secret"

func signToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "test-client",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestServer(t *testing.T, stub *stubEscrow) *httptest.Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(stub, NewAuthenticator(testSecret), log, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]interface{}{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthzOpen(t *testing.T) {
	ts := newTestServer(t, &stubEscrow{})
	resp, body := doRequest(t, ts, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, &stubEscrow{})

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/transfers", "", map[string]string{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", resp.StatusCode)
	}
	if body["error"] != "unauthorized" {
		t.Fatalf("no token: body = %v", body)
	}

	resp, _ = doRequest(t, ts, http.MethodPost, "/v1/transfers", signToken(t, "wrong-secret"), map[string]string{})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad signature: status = %d, want 401", resp.StatusCode)
	}
}

func TestAuthUnconfiguredRefusesAll(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(&stubEscrow{}, NewAuthenticator(""), log, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/transfers", signToken(t, testSecret), map[string]string{})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if body["error"] != "auth_unconfigured" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateTransferReturnsSecretOnce(t *testing.T) {
	ts := newTestServer(t, &stubEscrow{})
	token := signToken(t, testSecret)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/transfers", token, map[string]interface{}{
		"token":       "USDC",
		"amount":      "25.00",
		"hasPassword": true,
		"secret":      "AB12CD",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", resp.StatusCode, body)
	}
	if body["secret"] != "AB12CD" {
		t.Fatalf("secret = %v, want AB12CD", body["secret"])
	}
	if body["provenance"] != "authoritative" {
		t.Fatalf("provenance = %v", body["provenance"])
	}
}

func TestCreateTransferRejectsBadRecipient(t *testing.T) {
	ts := newTestServer(t, &stubEscrow{})

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/transfers", signToken(t, testSecret), map[string]interface{}{
		"recipient": "not-an-address",
		"token":     "USDC",
		"amount":    "1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "invalid_request" {
		t.Fatalf("body = %v", body)
	}
}

func TestClaimTransferPassesSecret(t *testing.T) {
	stub := &stubEscrow{}
	ts := newTestServer(t, stub)
	id := common.HexToHash("0x01").Hex()

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/transfers/"+id+"/claim", signToken(t, testSecret), map[string]string{"secret": "ab12cd"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	if stub.lastSecret != "ab12cd" {
		t.Fatalf("secret passed = %q", stub.lastSecret)
	}
	if body["status"] != "claimed" {
		t.Fatalf("body = %v", body)
	}
}

func TestProtocolErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"password required", escrow.ErrPasswordRequired, http.StatusBadRequest, "password_required"},
		{"invalid claim code", escrow.ErrInvalidClaimCode, http.StatusForbidden, "invalid_claim_code"},
		{"already claimed", escrow.ErrAlreadyClaimed, http.StatusConflict, "state_conflict"},
		{"all claims taken", escrow.ErrAllClaimsTaken, http.StatusConflict, "state_conflict"},
		{"ledger failure", fmt.Errorf("rpc unreachable"), http.StatusBadGateway, "ledger_error"},
	}
	id := common.HexToHash("0x01").Hex()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &stubEscrow{claimErr: tc.err})
			resp, body := doRequest(t, ts, http.MethodPost, "/v1/transfers/"+id+"/claim", signToken(t, testSecret), nil)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("code = %v, want %s", body["error"], tc.wantCode)
			}
		})
	}
}

func TestGetTransferRendersVirtualExpiry(t *testing.T) {
	past := time.Now().Add(-time.Hour).Unix()
	stub := &stubEscrow{transfer: &escrow.Transfer{
		ID:          common.HexToHash("0x01"),
		Sender:      common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Token:       common.HexToAddress("0x2222222222222222222222222222222222222222"),
		GrossAmount: big.NewInt(1000),
		NetAmount:   big.NewInt(990),
		Expiry:      past,
		Status:      escrow.StatusPending,
	}}
	ts := newTestServer(t, stub)

	resp, body := doRequest(t, ts, http.MethodGet, "/v1/transfers/"+common.HexToHash("0x01").Hex(), signToken(t, testSecret), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	if body["status"] != "expired" {
		t.Fatalf("status = %v, want expired", body["status"])
	}
	if _, present := body["recipient"]; present {
		t.Fatalf("recipient rendered for link transfer: %v", body)
	}
}

func TestGetTransferRejectsMalformedID(t *testing.T) {
	ts := newTestServer(t, &stubEscrow{})
	resp, body := doRequest(t, ts, http.MethodGet, "/v1/transfers/banana", signToken(t, testSecret), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "invalid_id" {
		t.Fatalf("body = %v", body)
	}
}

func TestCreateDropRejectsUnknownMode(t *testing.T) {
	ts := newTestServer(t, &stubEscrow{})
	resp, _ := doRequest(t, ts, http.MethodPost, "/v1/drops", signToken(t, testSecret), map[string]interface{}{
		"token":       "USDC",
		"totalAmount": "500",
		"recipients":  5,
		"mode":        "lottery",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestClaimDropReturnsRefreshedState(t *testing.T) {
	stub := &stubEscrow{drop: &escrow.Drop{
		ID:                 common.HexToHash("0x02"),
		Creator:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Token:              common.HexToAddress("0x2222222222222222222222222222222222222222"),
		TotalAmount:        big.NewInt(500),
		RemainingAmount:    big.NewInt(400),
		ClaimedCount:       1,
		TotalRecipients:    5,
		AmountPerRecipient: big.NewInt(100),
		Mode:               escrow.DistributionFixed,
		ExpiryTime:         time.Now().Add(time.Hour).Unix(),
		IsActive:           true,
	}}
	ts := newTestServer(t, stub)

	resp, body := doRequest(t, ts, http.MethodPost, "/v1/drops/"+common.HexToHash("0x02").Hex()+"/claim", signToken(t, testSecret), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", resp.StatusCode, body)
	}
	if body["remainingAmount"] != "400" {
		t.Fatalf("remainingAmount = %v", body["remainingAmount"])
	}
	if body["txHash"] == nil {
		t.Fatalf("txHash missing: %v", body)
	}
}
