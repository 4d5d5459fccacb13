package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/migration-release-go/pkg/api"
	"github.com/Layr-Labs/migration-release-go/pkg/auth"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence/memory"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
	"github.com/Layr-Labs/migration-release-go/pkg/testutil"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
	"github.com/Layr-Labs/migration-release-go/pkg/whitelist"
)

type harness struct {
	client     *ReleaseClient
	anonymous  *ReleaseClient
	clock      *testutil.FakeClock
	commitment *whitelist.Commitment
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	key, operator := testutil.CreateTestOperatorKey(t)
	clock := testutil.NewFakeClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })

	ledger, err := release.NewLedger(&release.LedgerConfig{
		Policy:   release.DefaultPolicy(),
		Operator: operator,
		Clock:    clock,
	}, store, logger)
	require.NoError(t, err)

	server := api.NewServer(&api.ServerConfig{
		RateLimit:       rate.Inf,
		RateBurst:       1,
		AdminMessageTTL: 10 * time.Minute,
	}, ledger, logger)

	httpServer := httptest.NewServer(server.GetHandler())
	t.Cleanup(httpServer.Close)

	signer, err := auth.NewInMemorySigner(key, logger)
	require.NoError(t, err)

	client, err := NewReleaseClient(&Config{
		BaseURL: httpServer.URL,
		Signer:  signer,
	})
	require.NoError(t, err)

	anonymous, err := NewReleaseClient(&Config{BaseURL: httpServer.URL})
	require.NoError(t, err)

	commitment, err := whitelist.Commit(testutil.CreateTestEntries(3))
	require.NoError(t, err)

	return &harness{client: client, anonymous: anonymous, clock: clock, commitment: commitment}
}

func TestReleaseClient_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root, err := h.client.SetRoot(ctx, h.commitment.Tree.Commitment())
	require.NoError(t, err)
	assert.Equal(t, h.commitment.Root().Hex(), root.Root)
	assert.Equal(t, 3, root.LeafCount)

	// 100+200+300 at 5x + 10x
	fundsResp, err := h.client.AddFunds(ctx, uint256.NewInt(9000))
	require.NoError(t, err)
	assert.Equal(t, "9000", fundsResp.Balance)

	entry := h.commitment.Entries[1]
	_, proof, err := h.commitment.Proof(entry.Recipient, entry.Epoch)
	require.NoError(t, err)

	ev, err := h.anonymous.ReleaseInstant(ctx, entry, proof)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), ev.Payout.Uint64())

	_, err = h.anonymous.ReleaseInstant(ctx, entry, proof)
	require.Error(t, err)
	assert.True(t, errors.Is(err, release.ErrNotWhitelistedOrClaimed))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)

	_, err = h.anonymous.ReleaseVested(ctx, entry)
	assert.True(t, errors.Is(err, release.ErrNotWhitelistedOrNotVested))

	claim, err := h.anonymous.GetClaim(ctx, entry.Recipient, entry.Epoch)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseInstantReleased, claim.State.Phase)
	require.NotNil(t, claim.VestingAvailableAt)

	h.clock.Advance(release.DefaultVestingDelay)
	ev, err = h.anonymous.ReleaseVested(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), ev.Payout.Uint64())

	payouts, err := h.anonymous.GetPayouts(ctx)
	require.NoError(t, err)
	require.Len(t, payouts, 2)

	claims, err := h.anonymous.GetClaims(ctx)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, entry.ID(), claims[0].ID)
	assert.Equal(t, types.PhaseVestedReleased, claims[0].Phase)

	got, err := h.anonymous.GetFunds(ctx)
	require.NoError(t, err)
	assert.Equal(t, "6000", got.Balance)
	assert.Equal(t, "3000", got.TotalReleased)

	current, err := h.anonymous.GetRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, root.Root, current.Root)
}

func TestReleaseClient_InsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.SetRoot(ctx, h.commitment.Tree.Commitment())
	require.NoError(t, err)

	entry := h.commitment.Entries[0]
	_, proof, err := h.commitment.Proof(entry.Recipient, entry.Epoch)
	require.NoError(t, err)

	_, err = h.client.ReleaseInstant(ctx, entry, proof)
	assert.True(t, errors.Is(err, release.ErrInsufficientFunds))
}

func TestReleaseClient_AdminErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.anonymous.AddFunds(ctx, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNoSigner)

	_, err = h.client.AddFunds(ctx, nil)
	require.ErrorIs(t, err, release.ErrInvalidFundingAmount)

	_, err = h.client.AddFunds(ctx, uint256.NewInt(0))
	require.ErrorIs(t, err, release.ErrInvalidFundingAmount)

	_, err = h.client.SetRoot(ctx, h.commitment.Tree.Commitment())
	require.NoError(t, err)
	_, err = h.client.SetRoot(ctx, h.commitment.Tree.Commitment())
	require.ErrorIs(t, err, release.ErrInvalidMerkleRoot)

	key, _ := testutil.CreateTestOperatorKey(t)
	intruderSigner, err := auth.NewInMemorySigner(key, zaptest.NewLogger(t))
	require.NoError(t, err)
	intruder, err := NewReleaseClient(&Config{
		BaseURL: h.client.http.BaseURL,
		Signer:  intruderSigner,
	})
	require.NoError(t, err)
	_, err = intruder.AddFunds(ctx, uint256.NewInt(1))
	require.ErrorIs(t, err, release.ErrUnauthorized)
}

func TestReleaseClient_GetClaimUnclaimed(t *testing.T) {
	h := newHarness(t)

	claim, err := h.anonymous.GetClaim(context.Background(), common.HexToAddress("0x1234"), uint256.NewInt(9))
	require.NoError(t, err)
	assert.Equal(t, types.PhaseUnclaimed, claim.State.Phase)
	assert.Nil(t, claim.VestingAvailableAt)
}

func TestNewReleaseClient_RequiresBaseURL(t *testing.T) {
	_, err := NewReleaseClient(nil)
	require.Error(t, err)
	_, err = NewReleaseClient(&Config{})
	require.Error(t, err)
}
