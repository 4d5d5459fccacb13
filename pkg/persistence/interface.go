package persistence

import (
	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// IReleasePersistence defines the interface for persisting release ledger state
// across restarts. All implementations must be thread-safe.
//
// The interface supports:
// - Active commitment (the Merkle root claims are verified against)
// - Per-identity claim state
// - The funds account
// - The append-only payout event log
// - Lifecycle management (close, health check)
type IReleasePersistence interface {
	// Commitment

	// SaveCommitment replaces the active commitment. Claim state is untouched.
	SaveCommitment(commitment *merkle.Commitment) error

	// LoadCommitment returns the active commitment.
	// Returns nil if no root has been set yet, error only on storage failure.
	LoadCommitment() (*merkle.Commitment, error)

	// Claim state

	// LoadClaimState retrieves the state for a claim identity.
	// Returns nil if the identity has never been released, error only on storage failure.
	LoadClaimState(id types.ClaimID) (*types.ClaimState, error)

	// ListClaimStates returns every recorded claim state ordered by recipient, then epoch.
	ListClaimStates() ([]*types.ClaimState, error)

	// Funds

	// SaveFunds overwrites the funds account.
	SaveFunds(account *funds.Account) error

	// LoadFunds returns the funds account, or nil on first run.
	LoadFunds() (*funds.Account, error)

	// Releases

	// ApplyRelease atomically writes the new claim state, the debited funds
	// account and the payout event. Either all three are stored or none are.
	ApplyRelease(update *ReleaseUpdate) error

	// ListPayoutEvents returns payout events in the order they were applied.
	// Returns empty slice if none exist.
	ListPayoutEvents() ([]*types.PayoutEvent, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	HealthCheck() error
}
