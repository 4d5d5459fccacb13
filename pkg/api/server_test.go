package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/migration-release-go/pkg/auth"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence/memory"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
	"github.com/Layr-Labs/migration-release-go/pkg/testutil"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
	"github.com/Layr-Labs/migration-release-go/pkg/whitelist"
)

var (
	userA = common.HexToAddress("0x000000000000000000000000000000000000000A")
	userB = common.HexToAddress("0x000000000000000000000000000000000000000B")
)

type testServer struct {
	server     *Server
	ledger     *release.Ledger
	clock      *testutil.FakeClock
	operator   *auth.InMemorySigner
	commitment *whitelist.Commitment
}

func newTestServer(t *testing.T, burst int) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	key, operatorAddr := testutil.CreateTestOperatorKey(t)
	clock := testutil.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	ledger, err := release.NewLedger(&release.LedgerConfig{
		Policy:   release.DefaultPolicy(),
		Operator: operatorAddr,
		Clock:    clock,
	}, store, logger)
	require.NoError(t, err)

	commitment, err := whitelist.Commit([]*types.ClaimEntry{
		{Recipient: userA, Amount: uint256.NewInt(100), Epoch: uint256.NewInt(1)},
		{Recipient: userB, Amount: uint256.NewInt(200), Epoch: uint256.NewInt(1)},
	})
	require.NoError(t, err)

	server := NewServer(&ServerConfig{
		Port:            0,
		RateLimit:       rate.Limit(0.001),
		RateBurst:       burst,
		AdminMessageTTL: 10 * time.Minute,
		Now:             clock.Now,
	}, ledger, logger)

	operator, err := auth.NewInMemorySigner(key, logger)
	require.NoError(t, err)

	return &testServer{
		server:     server,
		ledger:     ledger,
		clock:      clock,
		operator:   operator,
		commitment: commitment,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.GetHandler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) adminMessage(t *testing.T, signer auth.ISigner, payload *types.AdminPayload) *types.AuthenticatedMessage {
	t.Helper()
	if payload.Nonce == "" {
		payload.Nonce = uuid.NewString()
	}
	if payload.ExpiresAt == 0 {
		payload.ExpiresAt = ts.clock.Now().Add(5 * time.Minute).Unix()
	}
	msg, err := auth.NewAdminMessage(signer, payload)
	require.NoError(t, err)
	return msg
}

func (ts *testServer) setup(t *testing.T, fund uint64) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/admin/root", ts.adminMessage(t, ts.operator, &types.AdminPayload{
		Action:    types.AdminActionSetRoot,
		Root:      ts.commitment.Root().Hex(),
		LeafCount: len(ts.commitment.Entries),
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	if fund > 0 {
		rec = ts.do(t, http.MethodPost, "/v1/admin/funds", ts.adminMessage(t, ts.operator, &types.AdminPayload{
			Action: types.AdminActionAddFunds,
			Amount: uint256.NewInt(fund).Dec(),
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func (ts *testServer) instantRequest(t *testing.T, recipient common.Address) types.InstantReleaseRequest {
	t.Helper()
	entry, proof, err := ts.commitment.Proof(recipient, uint256.NewInt(1))
	require.NoError(t, err)
	hexProof := make([]hexutil.Bytes, len(proof))
	for i, p := range proof {
		hexProof[i] = p[:]
	}
	return types.InstantReleaseRequest{
		Address: recipient.Hex(),
		Amount:  entry.Amount.Dec(),
		Epoch:   entry.Epoch.Dec(),
		Proof:   hexProof,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_ReleaseFlow(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(t, http.MethodGet, "/v1/root", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, common.Hash{}.Hex(), decode[types.RootResponse](t, rec).Root)

	ts.setup(t, 4500)

	rec = ts.do(t, http.MethodGet, "/v1/root", nil)
	root := decode[types.RootResponse](t, rec)
	assert.Equal(t, ts.commitment.Root().Hex(), root.Root)
	assert.Equal(t, 2, root.LeafCount)
	assert.Equal(t, uint8(merkle.LeafEncodingV1), root.LeafEncoding)
	assert.Equal(t, uint8(types.ClaimSchemaV1), root.ClaimSchema)

	req := ts.instantRequest(t, userA)
	rec = ts.do(t, http.MethodPost, "/v1/release/instant", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ev := decode[types.PayoutEvent](t, rec)
	assert.Equal(t, uint64(500), ev.Payout.Uint64())
	assert.Equal(t, types.ReleasePhaseInstant, ev.Phase)

	rec = ts.do(t, http.MethodPost, "/v1/release/instant", req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not Whitelisted or already Claimed", decode[types.ErrorResponse](t, rec).Error)

	vested := types.VestedReleaseRequest{Address: req.Address, Amount: req.Amount, Epoch: req.Epoch}
	rec = ts.do(t, http.MethodPost, "/v1/release/vested", vested)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Not Whitelisted or Not Vested", decode[types.ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, "/v1/claims/"+userA.Hex()+"/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claim := decode[types.ClaimStateResponse](t, rec)
	assert.Equal(t, types.PhaseInstantReleased, claim.State.Phase)
	require.NotNil(t, claim.VestingAvailableAt)
	assert.True(t, ts.clock.Now().Add(release.DefaultVestingDelay).Equal(*claim.VestingAvailableAt))

	ts.clock.Advance(release.DefaultVestingDelay)
	rec = ts.do(t, http.MethodPost, "/v1/release/vested", vested)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1000), decode[types.PayoutEvent](t, rec).Payout.Uint64())

	rec = ts.do(t, http.MethodGet, "/v1/funds", nil)
	fundsResp := decode[types.FundsResponse](t, rec)
	assert.Equal(t, "3000", fundsResp.Balance)
	assert.Equal(t, "1500", fundsResp.TotalReleased)

	rec = ts.do(t, http.MethodGet, "/v1/payouts", nil)
	events := decode[[]*types.PayoutEvent](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, types.ReleasePhaseInstant, events[0].Phase)
	assert.Equal(t, types.ReleasePhaseVested, events[1].Phase)

	rec = ts.do(t, http.MethodGet, "/v1/claims/"+userB.Hex()+"/1", nil)
	claim = decode[types.ClaimStateResponse](t, rec)
	assert.Equal(t, types.PhaseUnclaimed, claim.State.Phase)
	assert.Nil(t, claim.VestingAvailableAt)

	// Only identities that have been released are listed
	rec = ts.do(t, http.MethodGet, "/v1/claims", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	states := decode[[]*types.ClaimState](t, rec)
	require.Len(t, states, 1)
	assert.Equal(t, userA, states[0].ID.Recipient)
	assert.Equal(t, types.PhaseVestedReleased, states[0].Phase)
}

func TestServer_ListClaimsEmpty(t *testing.T) {
	ts := newTestServer(t, 100)

	rec := ts.do(t, http.MethodGet, "/v1/claims", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestServer_InstantRelease_Errors(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.setup(t, 100)

	t.Run("Wrong amount is collapsed", func(t *testing.T) {
		req := ts.instantRequest(t, userA)
		req.Amount = "101"
		rec := ts.do(t, http.MethodPost, "/v1/release/instant", req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Insufficient funds", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/release/instant", ts.instantRequest(t, userA))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, release.ErrInsufficientFunds.Error(), decode[types.ErrorResponse](t, rec).Error)
	})

	malformed := []struct {
		name   string
		mutate func(r *types.InstantReleaseRequest)
	}{
		{"Bad address", func(r *types.InstantReleaseRequest) { r.Address = "0x1234" }},
		{"Bad amount", func(r *types.InstantReleaseRequest) { r.Amount = "-5" }},
		{"Missing epoch", func(r *types.InstantReleaseRequest) { r.Epoch = "" }},
		{"Short proof element", func(r *types.InstantReleaseRequest) { r.Proof = []hexutil.Bytes{{0x01, 0x02}} }},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			req := ts.instantRequest(t, userA)
			tc.mutate(&req)
			rec := ts.do(t, http.MethodPost, "/v1/release/instant", req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("Unknown field", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/release/instant", map[string]string{"addr": userA.Hex()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_AdminAuthentication(t *testing.T) {
	ts := newTestServer(t, 100)
	ts.setup(t, 0)

	fundPayload := func() *types.AdminPayload {
		return &types.AdminPayload{Action: types.AdminActionAddFunds, Amount: "10"}
	}

	t.Run("Replay is rejected", func(t *testing.T) {
		msg := ts.adminMessage(t, ts.operator, fundPayload())
		rec := ts.do(t, http.MethodPost, "/v1/admin/funds", msg)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, http.MethodPost, "/v1/admin/funds", msg)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "10", ts.ledger.Funds().Balance.Dec())
	})

	t.Run("Non-operator signer", func(t *testing.T) {
		key, _ := testutil.CreateTestOperatorKey(t)
		intruder, err := auth.NewInMemorySigner(key, zaptest.NewLogger(t))
		require.NoError(t, err)
		rec := ts.do(t, http.MethodPost, "/v1/admin/funds", ts.adminMessage(t, intruder, fundPayload()))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Expired message", func(t *testing.T) {
		payload := fundPayload()
		payload.ExpiresAt = ts.clock.Now().Add(-time.Second).Unix()
		rec := ts.do(t, http.MethodPost, "/v1/admin/funds", ts.adminMessage(t, ts.operator, payload))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Tampered payload", func(t *testing.T) {
		msg := ts.adminMessage(t, ts.operator, fundPayload())
		msg.Payload = bytes.Replace(msg.Payload, []byte(`"10"`), []byte(`"99"`), 1)
		rec := ts.do(t, http.MethodPost, "/v1/admin/funds", msg)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Action does not match route", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/admin/root", ts.adminMessage(t, ts.operator, fundPayload()))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Zero funding", func(t *testing.T) {
		payload := fundPayload()
		payload.Amount = "0"
		rec := ts.do(t, http.MethodPost, "/v1/admin/funds", ts.adminMessage(t, ts.operator, payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Same root is rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/admin/root", ts.adminMessage(t, ts.operator, &types.AdminPayload{
			Action: types.AdminActionSetRoot,
			Root:   ts.commitment.Root().Hex(),
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, release.ErrInvalidMerkleRoot.Error(), decode[types.ErrorResponse](t, rec).Error)
	})

	t.Run("Zero root is rejected", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/v1/admin/root", ts.adminMessage(t, ts.operator, &types.AdminPayload{
			Action: types.AdminActionSetRoot,
			Root:   common.Hash{}.Hex(),
		}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, 2)
	ts.setup(t, 0)

	body := types.VestedReleaseRequest{Address: userA.Hex(), Amount: "100", Epoch: "1"}
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/release/vested", body).Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodPost, "/v1/release/vested", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(t, http.MethodPost, "/v1/release/vested", body).Code)

	// Read endpoints are not limited
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/v1/root", nil).Code)
}

func TestServer_Routing(t *testing.T) {
	ts := newTestServer(t, 100)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/v1/unknown", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, ts.do(t, http.MethodGet, "/v1/release/instant", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/claims/nope/1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/claims/"+userA.Hex()+"/x", nil).Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusFor(release.ErrNotWhitelistedOrClaimed))
	assert.Equal(t, http.StatusForbidden, statusFor(release.ErrNotWhitelistedOrNotVested))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(release.ErrInsufficientFunds))
	assert.Equal(t, http.StatusUnauthorized, statusFor(release.ErrUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, statusFor(auth.ErrMessageReplayed))
	assert.Equal(t, http.StatusBadRequest, statusFor(release.ErrInvalidMerkleRoot))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
