package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vaultlink/claimcode"
	"vaultlink/escrow"
)

// escrowAPI is the slice of the escrow service the gateway exposes.
type escrowAPI interface {
	CreateDirect(ctx context.Context, p escrow.CreateParams) (*escrow.CreateResult, error)
	Claim(ctx context.Context, id common.Hash, secret string) (*escrow.MutationResult, error)
	Refund(ctx context.Context, id common.Hash) (*escrow.MutationResult, error)
	GetTransfer(ctx context.Context, id common.Hash) (*escrow.Transfer, error)
	CreateDrop(ctx context.Context, p escrow.DropParams) (*escrow.DropResult, error)
	ClaimDrop(ctx context.Context, id common.Hash) (*escrow.Drop, *escrow.MutationResult, error)
	RefundDrop(ctx context.Context, id common.Hash) (*escrow.MutationResult, error)
	GetDrop(ctx context.Context, id common.Hash) (*escrow.Drop, error)
}

// Server is the HTTP facade over the escrow protocol. It never persists or
// echoes claim codes beyond the one-time creation response.
type Server struct {
	svc      escrowAPI
	auth     *Authenticator
	log      *slog.Logger
	requests *prometheus.CounterVec
}

func NewServer(svc escrowAPI, auth *Authenticator, log *slog.Logger, reg prometheus.Registerer) *Server {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultlink_gateway_requests_total",
		Help: "Gateway requests by route and status.",
	}, []string{"route", "status"})
	if reg != nil {
		reg.MustRegister(requests)
	}
	return &Server{svc: svc, auth: auth, log: log, requests: requests}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Route("/v1/transfers", func(r chi.Router) {
			r.Post("/", s.handleCreateTransfer)
			r.Get("/{id}", s.handleGetTransfer)
			r.Post("/{id}/claim", s.handleClaimTransfer)
			r.Post("/{id}/refund", s.handleRefundTransfer)
		})
		r.Route("/v1/drops", func(r chi.Router) {
			r.Post("/", s.handleCreateDrop)
			r.Get("/{id}", s.handleGetDrop)
			r.Post("/{id}/claim", s.handleClaimDrop)
			r.Post("/{id}/refund", s.handleRefundDrop)
		})
	})
	return r
}

type createTransferRequest struct {
	Recipient   string `json:"recipient,omitempty"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	ExpiryHours int    `json:"expiryHours"`
	HasPassword bool   `json:"hasPassword"`
	Secret      string `json:"secret,omitempty"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "create_transfer", http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.ExpiryHours <= 0 {
		req.ExpiryHours = 24
	}
	params := escrow.CreateParams{
		Token:       req.Token,
		Amount:      req.Amount,
		Expiry:      time.Now().Add(time.Duration(req.ExpiryHours) * time.Hour),
		HasPassword: req.HasPassword,
		Secret:      req.Secret,
	}
	if req.Recipient != "" {
		if !common.IsHexAddress(req.Recipient) {
			s.writeError(w, "create_transfer", http.StatusBadRequest, "invalid_request", "invalid recipient address")
			return
		}
		recipient := common.HexToAddress(req.Recipient)
		params.Recipient = &recipient
	}
	res, err := s.svc.CreateDirect(r.Context(), params)
	if err != nil {
		s.writeProtocolError(w, "create_transfer", err)
		return
	}
	body := map[string]interface{}{
		"id":         res.ID.Hex(),
		"provenance": string(res.Provenance),
		"txHash":     res.TxHash.Hex(),
	}
	if res.Link != "" {
		body["link"] = res.Link
	}
	if res.Secret != "" {
		// Returned exactly once; the gateway stores nothing.
		body["secret"] = res.Secret
	}
	s.observe("create_transfer", http.StatusCreated)
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "get_transfer")
	if !ok {
		return
	}
	t, err := s.svc.GetTransfer(r.Context(), id)
	if err != nil {
		s.writeProtocolError(w, "get_transfer", err)
		return
	}
	body := map[string]interface{}{
		"id":           t.ID.Hex(),
		"sender":       t.Sender.Hex(),
		"token":        t.Token.Hex(),
		"grossAmount":  t.GrossAmount.String(),
		"netAmount":    t.NetAmount.String(),
		"status":       t.DisplayStatus(time.Now()),
		"expiry":       t.Expiry,
		"linkTransfer": t.IsLinkTransfer,
		"hasPassword":  t.HasPassword,
		"createdAt":    t.CreatedAt,
	}
	if t.Recipient != nil {
		body["recipient"] = t.Recipient.Hex()
	}
	s.observe("get_transfer", http.StatusOK)
	writeJSON(w, http.StatusOK, body)
}

type claimRequest struct {
	Secret string `json:"secret,omitempty"`
}

func (s *Server) handleClaimTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "claim_transfer")
	if !ok {
		return
	}
	var req claimRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	res, err := s.svc.Claim(r.Context(), id, req.Secret)
	if err != nil {
		s.writeProtocolError(w, "claim_transfer", err)
		return
	}
	s.observe("claim_transfer", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"status": "claimed", "txHash": res.TxHash.Hex()})
}

func (s *Server) handleRefundTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "refund_transfer")
	if !ok {
		return
	}
	res, err := s.svc.Refund(r.Context(), id)
	if err != nil {
		s.writeProtocolError(w, "refund_transfer", err)
		return
	}
	s.observe("refund_transfer", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded", "txHash": res.TxHash.Hex()})
}

type createDropRequest struct {
	Token       string `json:"token"`
	TotalAmount string `json:"totalAmount"`
	Recipients  uint32 `json:"recipients"`
	Mode        string `json:"mode"`
	ExpiryHours int    `json:"expiryHours"`
	Message     string `json:"message,omitempty"`
}

func (s *Server) handleCreateDrop(w http.ResponseWriter, r *http.Request) {
	var req createDropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "create_drop", http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode := escrow.DistributionFixed
	switch req.Mode {
	case "", "fixed":
	case "random":
		mode = escrow.DistributionRandom
	default:
		s.writeError(w, "create_drop", http.StatusBadRequest, "invalid_request", "mode must be fixed or random")
		return
	}
	if req.ExpiryHours <= 0 {
		req.ExpiryHours = 24
	}
	res, err := s.svc.CreateDrop(r.Context(), escrow.DropParams{
		Token:          req.Token,
		TotalAmount:    req.TotalAmount,
		RecipientCount: req.Recipients,
		Mode:           mode,
		ExpiryHours:    req.ExpiryHours,
		Message:        req.Message,
	})
	if err != nil {
		s.writeProtocolError(w, "create_drop", err)
		return
	}
	s.observe("create_drop", http.StatusCreated)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":         res.ID.Hex(),
		"provenance": string(res.Provenance),
		"link":       res.Link,
		"txHash":     res.TxHash.Hex(),
	})
}

func (s *Server) handleGetDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "get_drop")
	if !ok {
		return
	}
	d, err := s.svc.GetDrop(r.Context(), id)
	if err != nil {
		s.writeProtocolError(w, "get_drop", err)
		return
	}
	s.observe("get_drop", http.StatusOK)
	writeJSON(w, http.StatusOK, dropBody(d))
}

func (s *Server) handleClaimDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "claim_drop")
	if !ok {
		return
	}
	d, res, err := s.svc.ClaimDrop(r.Context(), id)
	if err != nil {
		s.writeProtocolError(w, "claim_drop", err)
		return
	}
	body := dropBody(d)
	body["txHash"] = res.TxHash.Hex()
	s.observe("claim_drop", http.StatusOK)
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRefundDrop(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "refund_drop")
	if !ok {
		return
	}
	res, err := s.svc.RefundDrop(r.Context(), id)
	if err != nil {
		s.writeProtocolError(w, "refund_drop", err)
		return
	}
	s.observe("refund_drop", http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]string{"status": "refunded", "txHash": res.TxHash.Hex()})
}

func dropBody(d *escrow.Drop) map[string]interface{} {
	return map[string]interface{}{
		"id":                 d.ID.Hex(),
		"creator":            d.Creator.Hex(),
		"token":              d.Token.Hex(),
		"totalAmount":        d.TotalAmount.String(),
		"remainingAmount":    d.RemainingAmount.String(),
		"claimedCount":       d.ClaimedCount,
		"totalRecipients":    d.TotalRecipients,
		"amountPerRecipient": d.AmountPerRecipient.String(),
		"mode":               d.Mode.String(),
		"expiryTime":         d.ExpiryTime,
		"message":            d.Message,
		"isActive":           d.IsActive,
	}
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, route string) (common.Hash, bool) {
	id, err := claimcode.ParseClaimLink(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, route, http.StatusBadRequest, "invalid_id", err.Error())
		return common.Hash{}, false
	}
	return id, true
}

func (s *Server) observe(route string, status int) {
	s.requests.WithLabelValues(route, http.StatusText(status)).Inc()
}

// writeProtocolError translates protocol failures into HTTP responses.
// State conflicts are 409: another actor won a race the ledger is allowed
// to decide, which is an expected outcome, not a server defect.
func (s *Server) writeProtocolError(w http.ResponseWriter, route string, err error) {
	switch {
	case errors.Is(err, escrow.ErrPasswordRequired):
		s.writeError(w, route, http.StatusBadRequest, "password_required", err.Error())
	case errors.Is(err, escrow.ErrInvalidClaimCode):
		s.writeError(w, route, http.StatusForbidden, "invalid_claim_code", err.Error())
	case errors.Is(err, escrow.ErrNotCreator):
		s.writeError(w, route, http.StatusForbidden, "not_creator", err.Error())
	case errors.Is(err, escrow.ErrAlreadyClaimed),
		errors.Is(err, escrow.ErrNotClaimable),
		errors.Is(err, escrow.ErrNotRefundable),
		errors.Is(err, escrow.ErrAllClaimsTaken),
		errors.Is(err, escrow.ErrDropInactive):
		s.writeError(w, route, http.StatusConflict, "state_conflict", err.Error())
	default:
		s.log.Error("ledger operation failed", "route", route, "error", err)
		s.writeError(w, route, http.StatusBadGateway, "ledger_error", err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, route string, status int, code, message string) {
	s.observe(route, status)
	writeJSONError(w, status, code, message)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
