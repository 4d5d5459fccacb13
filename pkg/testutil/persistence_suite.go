package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// NewInstantUpdate builds a ReleaseUpdate that moves recipient's epoch claim
// to InstantReleased and debits payout from account.
func NewInstantUpdate(t *testing.T, recipient common.Address, epoch, amount, payout uint64, account *funds.Account, at time.Time) *persistence.ReleaseUpdate {
	t.Helper()

	id := types.NewClaimID(recipient, uint256.NewInt(epoch))
	next := account.Clone()
	require.NoError(t, next.Debit(uint256.NewInt(payout)))

	root := common.HexToHash("0xfeed")
	return &persistence.ReleaseUpdate{
		State: &types.ClaimState{
			ID:                id,
			Phase:             types.PhaseInstantReleased,
			Amount:            uint256.NewInt(amount),
			Root:              root,
			InstantReleasedAt: at,
		},
		Funds: next,
		Event: &types.PayoutEvent{
			ID:        uuid.NewString(),
			Phase:     types.ReleasePhaseInstant,
			ClaimID:   id,
			Recipient: recipient,
			Amount:    uint256.NewInt(amount),
			Payout:    uint256.NewInt(payout),
			Root:      root,
			Timestamp: at,
		},
	}
}

// RunPersistenceSuite exercises behaviour every IReleasePersistence backend
// must share. newStore must return an empty store; the suite closes it.
func RunPersistenceSuite(t *testing.T, newStore func(t *testing.T) persistence.IReleasePersistence) {
	t.Run("EmptyStore", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.NoError(t, store.HealthCheck())

		commitment, err := store.LoadCommitment()
		require.NoError(t, err)
		assert.Nil(t, commitment)

		account, err := store.LoadFunds()
		require.NoError(t, err)
		assert.Nil(t, account)

		state, err := store.LoadClaimState(types.NewClaimID(common.HexToAddress("0x01"), uint256.NewInt(1)))
		require.NoError(t, err)
		assert.Nil(t, state)

		events, err := store.ListPayoutEvents()
		require.NoError(t, err)
		assert.Empty(t, events)

		states, err := store.ListClaimStates()
		require.NoError(t, err)
		assert.Empty(t, states)
	})

	t.Run("Commitment", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		first := &merkle.Commitment{Root: common.HexToHash("0xaa"), LeafCount: 2}
		require.NoError(t, store.SaveCommitment(first))

		loaded, err := store.LoadCommitment()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, *first, *loaded)

		second := &merkle.Commitment{Root: common.HexToHash("0xbb"), LeafCount: 5}
		require.NoError(t, store.SaveCommitment(second))
		loaded, err = store.LoadCommitment()
		require.NoError(t, err)
		assert.Equal(t, *second, *loaded)

		require.Error(t, store.SaveCommitment(nil))
	})

	t.Run("Funds", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		account := funds.NewAccount()
		require.NoError(t, account.Credit(uint256.NewInt(1500)))
		require.NoError(t, store.SaveFunds(account))

		loaded, err := store.LoadFunds()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, uint64(1500), loaded.Balance.Uint64())
		assert.True(t, loaded.TotalReleased.IsZero())

		// Stored copies are isolated from caller mutation
		require.NoError(t, account.Credit(uint256.NewInt(1)))
		loaded, err = store.LoadFunds()
		require.NoError(t, err)
		assert.Equal(t, uint64(1500), loaded.Balance.Uint64())
	})

	t.Run("ApplyRelease", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		account := funds.NewAccount()
		require.NoError(t, account.Credit(uint256.NewInt(1500)))
		require.NoError(t, store.SaveFunds(account))

		at := time.Unix(1700000000, 0).UTC()
		alice := common.HexToAddress("0x000000000000000000000000000000000000a11c")
		bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

		first := NewInstantUpdate(t, alice, 1, 100, 500, account, at)
		require.NoError(t, store.ApplyRelease(first))

		second := NewInstantUpdate(t, bob, 1, 100, 500, first.Funds, at.Add(time.Second))
		require.NoError(t, store.ApplyRelease(second))

		state, err := store.LoadClaimState(first.State.ID)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, types.PhaseInstantReleased, state.Phase)
		assert.Equal(t, uint64(100), state.Amount.Uint64())
		assert.True(t, at.Equal(state.InstantReleasedAt))

		loadedFunds, err := store.LoadFunds()
		require.NoError(t, err)
		assert.Equal(t, uint64(500), loadedFunds.Balance.Uint64())
		assert.Equal(t, uint64(1000), loadedFunds.TotalReleased.Uint64())

		events, err := store.ListPayoutEvents()
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first.Event.ID, events[0].ID)
		assert.Equal(t, second.Event.ID, events[1].ID)

		states, err := store.ListClaimStates()
		require.NoError(t, err)
		require.Len(t, states, 2)
		// ordered by recipient bytes: 0x..0b0b sorts before 0x..a11c
		assert.Equal(t, bob, states[0].ID.Recipient)
		assert.Equal(t, alice, states[1].ID.Recipient)
	})

	t.Run("ApplyReleaseRejectsIncompleteUpdate", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		require.Error(t, store.ApplyRelease(nil))
		require.Error(t, store.ApplyRelease(&persistence.ReleaseUpdate{Funds: funds.NewAccount()}))

		events, err := store.ListPayoutEvents()
		require.NoError(t, err)
		assert.Empty(t, events)
		account, err := store.LoadFunds()
		require.NoError(t, err)
		assert.Nil(t, account)
	})

	t.Run("ConcurrentApply", func(t *testing.T) {
		store := newStore(t)
		defer func() { _ = store.Close() }()

		const workers = 10
		account := funds.NewAccount()
		require.NoError(t, account.Credit(uint256.NewInt(1_000_000)))

		updates := make([]*persistence.ReleaseUpdate, workers)
		for i := range updates {
			recipient := common.BigToAddress(uint256.NewInt(uint64(1000 + i)).ToBig())
			updates[i] = NewInstantUpdate(t, recipient, 1, 10, 50, account, time.Now())
		}

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := store.ApplyRelease(updates[i]); err != nil {
					errs <- fmt.Errorf("worker %d: %w", i, err)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		events, err := store.ListPayoutEvents()
		require.NoError(t, err)
		assert.Len(t, events, workers)
	})

	t.Run("Close", func(t *testing.T) {
		store := newStore(t)

		require.NoError(t, store.Close())
		require.NoError(t, store.Close(), "Close should be idempotent")

		require.Error(t, store.HealthCheck())
		_, err := store.LoadCommitment()
		require.Error(t, err)
		require.Error(t, store.SaveFunds(funds.NewAccount()))
		_, err = store.ListPayoutEvents()
		require.Error(t, err)
	})
}
