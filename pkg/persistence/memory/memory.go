package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IReleasePersistence.
// This implementation is intended for TESTING ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Active commitment, nil until the first root is set
	commitment *merkle.Commitment

	// Claim states: ClaimID -> ClaimState
	claims map[types.ClaimID]*types.ClaimState

	// Funds account, nil until first funded
	account *funds.Account

	// Payout events in apply order
	events []*types.PayoutEvent

	// Closed flag
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL CLAIM STATE WILL BE LOST ON RESTART")
	fmt.Println("⚠️  This should ONLY be used for testing. Set RELEASE_PERSISTENCE_TYPE=badger for production")

	return &MemoryPersistence{
		claims: make(map[types.ClaimID]*types.ClaimState),
		events: make([]*types.PayoutEvent, 0),
	}
}

// SaveCommitment replaces the active commitment.
func (m *MemoryPersistence) SaveCommitment(commitment *merkle.Commitment) error {
	if commitment == nil {
		return fmt.Errorf("cannot save nil Commitment")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	cp := *commitment
	m.commitment = &cp
	return nil
}

// LoadCommitment returns the active commitment.
func (m *MemoryPersistence) LoadCommitment() (*merkle.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}
	if m.commitment == nil {
		return nil, nil
	}

	cp := *m.commitment
	return &cp, nil
}

// LoadClaimState retrieves the state for a claim identity.
func (m *MemoryPersistence) LoadClaimState(id types.ClaimID) (*types.ClaimState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	state, exists := m.claims[id]
	if !exists {
		return nil, nil // Not found is not an error
	}
	return state.Clone(), nil
}

// ListClaimStates returns all claim states ordered by recipient, then epoch.
func (m *MemoryPersistence) ListClaimStates() ([]*types.ClaimState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.ClaimState, 0, len(m.claims))
	for _, state := range m.claims {
		result = append(result, state.Clone())
	}
	persistence.SortClaimStates(result)
	return result, nil
}

// SaveFunds overwrites the funds account.
func (m *MemoryPersistence) SaveFunds(account *funds.Account) error {
	if account == nil {
		return fmt.Errorf("cannot save nil Account")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.account = account.Clone()
	return nil
}

// LoadFunds returns the funds account.
func (m *MemoryPersistence) LoadFunds() (*funds.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}
	if m.account == nil {
		return nil, nil
	}
	return m.account.Clone(), nil
}

// ApplyRelease stores the claim state, funds and event under one lock.
func (m *MemoryPersistence) ApplyRelease(update *persistence.ReleaseUpdate) error {
	if err := update.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.claims[update.State.ID] = update.State.Clone()
	m.account = update.Funds.Clone()
	m.events = append(m.events, copyEvent(update.Event))
	return nil
}

// ListPayoutEvents returns payout events in apply order.
func (m *MemoryPersistence) ListPayoutEvents() ([]*types.PayoutEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	result := make([]*types.PayoutEvent, len(m.events))
	for i, e := range m.events {
		result[i] = copyEvent(e)
	}
	return result, nil
}

// Close marks the persistence layer as closed.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}

func copyEvent(e *types.PayoutEvent) *types.PayoutEvent {
	cp := *e
	if e.Amount != nil {
		cp.Amount = e.Amount.Clone()
	}
	if e.Payout != nil {
		cp.Payout = e.Payout.Clone()
	}
	return &cp
}
