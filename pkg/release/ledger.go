// Package release implements the per-claim release ledger: proof-gated
// instant release, time-locked vested release, root rotation and funding.
package release

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/persistence"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	Policy   Policy
	Operator common.Address
	Clock    Clock
}

// Ledger is the single authority over claim states, the active commitment
// and the funds account. Every operation runs under one mutex and commits
// with one store write.
type Ledger struct {
	mu sync.Mutex

	policy   Policy
	operator common.Address
	clock    Clock
	store    persistence.IReleasePersistence
	logger   *zap.Logger

	commitment merkle.Commitment
	account    *funds.Account

	payoutFeed event.Feed
}

// NewLedger restores a ledger from store.
func NewLedger(cfg *LedgerConfig, store persistence.IReleasePersistence, logger *zap.Logger) (*Ledger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ledger config cannot be nil")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid release policy: %w", err)
	}
	if cfg.Operator == (common.Address{}) {
		return nil, fmt.Errorf("operator address is required")
	}
	if store == nil {
		return nil, fmt.Errorf("persistence store is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	commitment, err := store.LoadCommitment()
	if err != nil {
		return nil, fmt.Errorf("failed to restore commitment: %w", err)
	}
	account, err := store.LoadFunds()
	if err != nil {
		return nil, fmt.Errorf("failed to restore funds: %w", err)
	}
	if account == nil {
		account = funds.NewAccount()
	}

	l := &Ledger{
		policy:   cfg.Policy,
		operator: cfg.Operator,
		clock:    clock,
		store:    store,
		logger:   logger,
		account:  account,
	}
	if commitment != nil {
		l.commitment = *commitment
	}

	logger.Sugar().Infow("Release ledger initialized",
		"operator", cfg.Operator.Hex(),
		"root", l.commitment.Root.Hex(),
		"balance", account.Balance.Dec(),
		"instantMultiplier", cfg.Policy.InstantMultiplier,
		"vestedMultiplier", cfg.Policy.VestedMultiplier,
		"vestingDelay", cfg.Policy.VestingDelay,
	)
	return l, nil
}

// Policy returns the ledger's payout policy.
func (l *Ledger) Policy() Policy { return l.policy }

// Operator returns the privileged operator address.
func (l *Ledger) Operator() common.Address { return l.operator }

// SetRoot replaces the active commitment. Claim states are never cleared.
func (l *Ledger) SetRoot(caller common.Address, commitment merkle.Commitment) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.operator {
		return ErrUnauthorized
	}
	if commitment.IsZero() || commitment.Root == l.commitment.Root {
		return ErrInvalidMerkleRoot
	}

	if err := l.store.SaveCommitment(&commitment); err != nil {
		return fmt.Errorf("failed to persist commitment: %w", err)
	}

	previous := l.commitment
	l.commitment = commitment

	l.logger.Sugar().Infow("Merkle root rotated",
		"previousRoot", previous.Root.Hex(),
		"root", commitment.Root.Hex(),
		"leafCount", commitment.LeafCount,
	)
	return nil
}

// AddFunds credits the funds account.
func (l *Ledger) AddFunds(caller common.Address, value *uint256.Int) (*funds.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.operator {
		return nil, ErrUnauthorized
	}
	if value == nil || value.IsZero() {
		return nil, ErrInvalidFundingAmount
	}

	next := l.account.Clone()
	if err := next.Credit(value); err != nil {
		return nil, err
	}
	if err := l.store.SaveFunds(next); err != nil {
		return nil, fmt.Errorf("failed to persist funds: %w", err)
	}
	l.account = next

	l.logger.Sugar().Infow("Funds added", "amount", value.Dec(), "balance", next.Balance.Dec())
	return next.Clone(), nil
}

// ReleaseInstant verifies (recipient, amount, epoch) against the active root
// and pays amount * InstantMultiplier to an Unclaimed identity.
func (l *Ledger) ReleaseInstant(recipient common.Address, amount, epoch *uint256.Int, proof [][32]byte) (*types.PayoutEvent, error) {
	ev, err := l.releaseInstant(recipient, amount, epoch, proof)
	if err != nil {
		return nil, err
	}
	l.payoutFeed.Send(ev)
	return copyEvent(ev), nil
}

func (l *Ledger) releaseInstant(recipient common.Address, amount, epoch *uint256.Int, proof [][32]byte) (*types.PayoutEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || epoch == nil {
		return nil, l.notEligibleForInstant(recipient, epoch, "missing amount or epoch")
	}
	id := types.NewClaimID(recipient, epoch)

	leaf := merkle.HashClaim(recipient, amount, epoch)
	if !merkle.VerifyProof(leaf, proof, l.commitment.Root) {
		return nil, l.notEligibleForInstant(recipient, epoch, "proof does not verify against active root")
	}

	state, err := l.store.LoadClaimState(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load claim state %s: %w", id, err)
	}
	if state != nil && state.Phase != types.PhaseUnclaimed {
		return nil, l.notEligibleForInstant(recipient, epoch, "claim is "+state.Phase.String())
	}

	now := l.clock.Now()
	next := &types.ClaimState{
		ID:                id,
		Phase:             types.PhaseInstantReleased,
		Amount:            amount.Clone(),
		Root:              l.commitment.Root,
		InstantReleasedAt: now,
	}
	return l.pay(next, types.ReleasePhaseInstant, l.policy.InstantMultiplier, now)
}

// ReleaseVested pays amount * VestedMultiplier to an identity that completed
// instant release with the same amount at least VestingDelay ago. The active
// root is not consulted.
func (l *Ledger) ReleaseVested(recipient common.Address, amount, epoch *uint256.Int) (*types.PayoutEvent, error) {
	ev, err := l.releaseVested(recipient, amount, epoch)
	if err != nil {
		return nil, err
	}
	l.payoutFeed.Send(ev)
	return copyEvent(ev), nil
}

func (l *Ledger) releaseVested(recipient common.Address, amount, epoch *uint256.Int) (*types.PayoutEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || epoch == nil {
		return nil, l.notEligibleForVested(recipient, epoch, "missing amount or epoch")
	}
	id := types.NewClaimID(recipient, epoch)

	state, err := l.store.LoadClaimState(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load claim state %s: %w", id, err)
	}
	if state == nil || state.Phase != types.PhaseInstantReleased {
		return nil, l.notEligibleForVested(recipient, epoch, "claim has not completed instant release or is already vested")
	}
	if state.Amount == nil || !state.Amount.Eq(amount) {
		return nil, l.notEligibleForVested(recipient, epoch, "amount differs from instant release")
	}

	now := l.clock.Now()
	if now.Before(state.InstantReleasedAt.Add(l.policy.VestingDelay)) {
		return nil, l.notEligibleForVested(recipient, epoch, "vesting delay has not elapsed")
	}

	next := state.Clone()
	next.Phase = types.PhaseVestedReleased
	next.VestedReleasedAt = now
	return l.pay(next, types.ReleasePhaseVested, l.policy.VestedMultiplier, now)
}

// pay debits amount * multiplier and commits next with its payout event in one
// store write. The caller holds l.mu.
func (l *Ledger) pay(next *types.ClaimState, phase types.ReleasePhase, multiplier uint64, now time.Time) (*types.PayoutEvent, error) {
	payout, overflow := new(uint256.Int).MulOverflow(next.Amount, uint256.NewInt(multiplier))
	if overflow {
		return nil, fmt.Errorf("%w: payout for %s overflows uint256", ErrInsufficientFunds, next.ID)
	}

	// A zero-amount leaf still advances its phase; there is nothing to debit.
	account := l.account.Clone()
	if !payout.IsZero() {
		if err := account.Debit(payout); err != nil {
			l.logger.Sugar().Warnw("Release blocked by insufficient funds",
				"claim", next.ID.Key(),
				"phase", phase,
				"payout", payout.Dec(),
				"balance", l.account.Balance.Dec(),
			)
			return nil, err
		}
	}

	ev := &types.PayoutEvent{
		ID:        uuid.NewString(),
		Phase:     phase,
		ClaimID:   next.ID,
		Recipient: next.ID.Recipient,
		Amount:    next.Amount.Clone(),
		Payout:    payout,
		Root:      l.commitment.Root,
		Timestamp: now,
	}

	if err := l.store.ApplyRelease(&persistence.ReleaseUpdate{State: next, Funds: account, Event: ev}); err != nil {
		return nil, fmt.Errorf("failed to persist %s release for %s: %w", phase, next.ID, err)
	}
	l.account = account

	l.logger.Sugar().Infow("Release paid",
		"claim", next.ID.Key(),
		"phase", phase,
		"amount", next.Amount.Dec(),
		"payout", payout.Dec(),
		"eventId", ev.ID,
	)
	return ev, nil
}

// notEligibleForInstant is the single exit for every instant release
// rejection that the caller may observe.
func (l *Ledger) notEligibleForInstant(recipient common.Address, epoch *uint256.Int, reason string) error {
	l.logger.Sugar().Debugw("Instant release rejected", "recipient", recipient.Hex(), "epoch", epochString(epoch), "reason", reason)
	return ErrNotWhitelistedOrClaimed
}

// notEligibleForVested is the single exit for every vested release rejection
// that the caller may observe.
func (l *Ledger) notEligibleForVested(recipient common.Address, epoch *uint256.Int, reason string) error {
	l.logger.Sugar().Debugw("Vested release rejected", "recipient", recipient.Hex(), "epoch", epochString(epoch), "reason", reason)
	return ErrNotWhitelistedOrNotVested
}

// CurrentRoot returns the active commitment. The zero commitment means no
// root has been set and no instant release can succeed.
func (l *Ledger) CurrentRoot() merkle.Commitment {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commitment
}

// Funds returns a copy of the funds account.
func (l *Ledger) Funds() *funds.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Clone()
}

// ClaimState returns the state for id. Identities never released are
// reported as Unclaimed.
func (l *Ledger) ClaimState(id types.ClaimID) (*types.ClaimState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.store.LoadClaimState(id)
	if err != nil {
		return nil, fmt.Errorf("failed to load claim state %s: %w", id, err)
	}
	if state == nil {
		return &types.ClaimState{ID: id, Phase: types.PhaseUnclaimed}, nil
	}
	return state, nil
}

// ClaimStates returns every recorded claim state ordered by recipient, then
// epoch. Identities never released are not listed.
func (l *Ledger) ClaimStates() ([]*types.ClaimState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	states, err := l.store.ListClaimStates()
	if err != nil {
		return nil, fmt.Errorf("failed to list claim states: %w", err)
	}
	return states, nil
}

// VestingAvailableAt returns when an InstantReleased state becomes eligible
// for vested release. ok is false for any other phase.
func (l *Ledger) VestingAvailableAt(state *types.ClaimState) (at time.Time, ok bool) {
	if state == nil || state.Phase != types.PhaseInstantReleased {
		return time.Time{}, false
	}
	return state.InstantReleasedAt.Add(l.policy.VestingDelay), true
}

// PayoutEvents returns every payout in the order it was applied.
func (l *Ledger) PayoutEvents() ([]*types.PayoutEvent, error) {
	return l.store.ListPayoutEvents()
}

// HealthCheck reports whether the backing store is usable.
func (l *Ledger) HealthCheck() error {
	return l.store.HealthCheck()
}

// SubscribePayouts delivers each payout event after it is committed.
// A subscriber that stops receiving blocks releases; callers must drain ch
// or unsubscribe.
func (l *Ledger) SubscribePayouts(ch chan<- *types.PayoutEvent) event.Subscription {
	return l.payoutFeed.Subscribe(ch)
}

func copyEvent(ev *types.PayoutEvent) *types.PayoutEvent {
	cp := *ev
	cp.Amount = ev.Amount.Clone()
	cp.Payout = ev.Payout.Clone()
	return &cp
}

func epochString(epoch *uint256.Int) string {
	if epoch == nil {
		return "<nil>"
	}
	return epoch.Dec()
}
