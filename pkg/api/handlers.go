package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/auth"
	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.ledger.HealthCheck(); err != nil {
		s.logger.Sugar().Warnw("Health check failed", "error", err)
		writeErrorMessage(w, http.StatusServiceUnavailable, "Unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rootResponse(s.ledger.CurrentRoot()))
}

func (s *Server) handleGetFunds(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, fundsResponse(s.ledger.Funds()))
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	recipient, err := parseAddress(vars["address"])
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	epoch, err := parseUint256("epoch", vars["epoch"])
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	state, err := s.ledger.ClaimState(types.NewClaimID(recipient, epoch))
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := types.ClaimStateResponse{State: state}
	if at, ok := s.ledger.VestingAvailableAt(state); ok {
		at = at.UTC()
		resp.VestingAvailableAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListClaims(w http.ResponseWriter, _ *http.Request) {
	states, err := s.ledger.ClaimStates()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if states == nil {
		states = []*types.ClaimState{}
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetPayouts(w http.ResponseWriter, _ *http.Request) {
	events, err := s.ledger.PayoutEvents()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []*types.PayoutEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleReleaseInstant(w http.ResponseWriter, r *http.Request) {
	var req types.InstantReleaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	recipient, amount, epoch, err := parseClaim(req.Address, req.Amount, req.Epoch)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := make([][]byte, len(req.Proof))
	for i, p := range req.Proof {
		raw[i] = p
	}
	proof, err := merkle.ProofFromBytes(raw)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.ledger.ReleaseInstant(recipient, amount, epoch, proof)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleReleaseVested(w http.ResponseWriter, r *http.Request) {
	var req types.VestedReleaseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}

	recipient, amount, epoch, err := parseClaim(req.Address, req.Amount, req.Epoch)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.ledger.ReleaseVested(recipient, amount, epoch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleAdminSetRoot(w http.ResponseWriter, r *http.Request) {
	payload, caller, ok := s.openAdminMessage(w, r, types.AdminActionSetRoot)
	if !ok {
		return
	}

	root, err := merkle.ParseHash(payload.Root)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	commitment := merkle.Commitment{Root: root, LeafCount: payload.LeafCount}

	if err := s.ledger.SetRoot(caller, commitment); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rootResponse(s.ledger.CurrentRoot()))
}

func (s *Server) handleAdminAddFunds(w http.ResponseWriter, r *http.Request) {
	payload, caller, ok := s.openAdminMessage(w, r, types.AdminActionAddFunds)
	if !ok {
		return
	}

	amount, err := parseUint256("amount", payload.Amount)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	account, err := s.ledger.AddFunds(caller, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fundsResponse(account))
}

// openAdminMessage authenticates an admin request and claims its nonce.
// It writes the error response itself and returns ok=false on any failure.
func (s *Server) openAdminMessage(w http.ResponseWriter, r *http.Request, action types.AdminAction) (*types.AdminPayload, common.Address, bool) {
	var msg types.AuthenticatedMessage
	if err := decodeBody(w, r, &msg); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return nil, common.Address{}, false
	}

	payload, caller, err := auth.OpenAdminMessage(&msg)
	if err != nil {
		s.logger.Sugar().Warnw("Rejected admin message", "action", action, "error", err)
		s.writeError(w, err)
		return nil, common.Address{}, false
	}
	if payload.Action != action {
		writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("expected %s payload, got %q", action, payload.Action))
		return nil, common.Address{}, false
	}
	// Unauthorized callers are rejected before their nonce is recorded
	if caller != s.ledger.Operator() {
		s.logger.Sugar().Warnw("Admin message from non-operator", "action", action, "signer", caller.Hex())
		s.writeError(w, release.ErrUnauthorized)
		return nil, common.Address{}, false
	}
	if err := s.replay.Accept(payload.Nonce, payload.ExpiresAt); err != nil {
		s.logger.Sugar().Warnw("Rejected admin message", "action", action, "nonce", payload.Nonce, "error", err)
		s.writeError(w, err)
		return nil, common.Address{}, false
	}
	return payload, caller, true
}

// statusFor maps ledger and auth errors to HTTP status codes. Anything not
// listed is an internal failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, release.ErrNotWhitelistedOrClaimed),
		errors.Is(err, release.ErrNotWhitelistedOrNotVested):
		return http.StatusForbidden
	case errors.Is(err, release.ErrInsufficientFunds):
		return http.StatusServiceUnavailable
	case errors.Is(err, release.ErrUnauthorized),
		errors.Is(err, auth.ErrHashMismatch),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrEmptyPayload),
		errors.Is(err, auth.ErrMessageExpired),
		errors.Is(err, auth.ErrMessageReplayed),
		errors.Is(err, auth.ErrMissingNonce):
		return http.StatusUnauthorized
	case errors.Is(err, release.ErrInvalidMerkleRoot),
		errors.Is(err, release.ErrInvalidFundingAmount),
		errors.Is(err, funds.ErrBalanceOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Sugar().Errorw("Request failed", "error", err)
		writeErrorMessage(w, status, "Internal error")
		return
	}
	if errors.Is(err, release.ErrInsufficientFunds) {
		writeErrorMessage(w, status, release.ErrInsufficientFunds.Error())
		return
	}
	writeErrorMessage(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseClaim(address, amount, epoch string) (common.Address, *uint256.Int, *uint256.Int, error) {
	recipient, err := parseAddress(address)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	a, err := parseUint256("amount", amount)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	e, err := parseUint256("epoch", epoch)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return recipient, a, e, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseUint256(name, s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %v", name, s, err)
	}
	return v, nil
}

func rootResponse(c merkle.Commitment) types.RootResponse {
	return types.RootResponse{
		Root:         c.Root.Hex(),
		LeafCount:    c.LeafCount,
		LeafEncoding: uint8(merkle.LeafEncodingV1),
		ClaimSchema:  uint8(types.ClaimSchemaV1),
	}
}

func fundsResponse(a *funds.Account) types.FundsResponse {
	return types.FundsResponse{Balance: a.Balance.Dec(), TotalReleased: a.TotalReleased.Dec()}
}
