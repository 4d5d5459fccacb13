// Package whitelist turns raw locker deposits into the canonical, ordered
// claim set that is committed into a Merkle root.
package whitelist

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

var (
	// ErrReconciliationMismatch is returned when per-epoch whitelist sums do
	// not equal the locker's recorded totals.
	ErrReconciliationMismatch = errors.New("whitelist does not reconcile with ledger totals")

	// ErrDuplicateClaim is returned when a claim set repeats a (recipient, epoch) identity.
	ErrDuplicateClaim = errors.New("duplicate claim identity in whitelist")

	// ErrInvalidEntry is returned for entries with a zero recipient or zero amount.
	ErrInvalidEntry = errors.New("invalid whitelist entry")

	// ErrAmountOverflow is returned when aggregated amounts exceed 256 bits.
	ErrAmountOverflow = errors.New("aggregated amount overflows uint256")
)

// Aggregate groups lock records by (recipient, epoch), summing their amounts,
// and returns one entry per identity sorted by recipient bytes then epoch.
//
// Records that share a non-empty EventID are the same upstream event
// delivered more than once and are counted once.
func Aggregate(records []*types.LockRecord) ([]*types.ClaimEntry, error) {
	seenEvents := make(map[string]struct{})
	totals := make(map[types.ClaimID]*uint256.Int)

	for i, rec := range records {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is nil", ErrInvalidEntry, i)
		}
		if rec.EventID != "" {
			if _, dup := seenEvents[rec.EventID]; dup {
				continue
			}
			seenEvents[rec.EventID] = struct{}{}
		}
		if rec.Amount == nil {
			return nil, fmt.Errorf("%w: record %d has no amount", ErrInvalidEntry, i)
		}

		id := types.NewClaimID(rec.Recipient, rec.Epoch)
		current, ok := totals[id]
		if !ok {
			totals[id] = rec.Amount.Clone()
			continue
		}
		sum, overflow := new(uint256.Int).AddOverflow(current, rec.Amount)
		if overflow {
			return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, id)
		}
		totals[id] = sum
	}

	entries := make([]*types.ClaimEntry, 0, len(totals))
	for id, amount := range totals {
		epoch := id.Epoch
		entries = append(entries, &types.ClaimEntry{
			Recipient: id.Recipient,
			Amount:    amount,
			Epoch:     &epoch,
		})
	}
	SortEntries(entries)

	return entries, nil
}

// SortEntries orders entries canonically: recipient bytes ascending, then epoch ascending.
func SortEntries(entries []*types.ClaimEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Recipient[:], entries[j].Recipient[:]); c != 0 {
			return c < 0
		}
		return entries[i].Epoch.Lt(entries[j].Epoch)
	})
}

// EpochTotals sums entry amounts per epoch.
func EpochTotals(entries []*types.ClaimEntry) (map[uint256.Int]*uint256.Int, error) {
	totals := make(map[uint256.Int]*uint256.Int)
	for i, entry := range entries {
		if entry == nil || entry.Epoch == nil || entry.Amount == nil {
			return nil, fmt.Errorf("%w: entry %d is incomplete", ErrInvalidEntry, i)
		}
		key := *entry.Epoch
		current, ok := totals[key]
		if !ok {
			totals[key] = entry.Amount.Clone()
			continue
		}
		sum, overflow := new(uint256.Int).AddOverflow(current, entry.Amount)
		if overflow {
			return nil, fmt.Errorf("%w: epoch %s", ErrAmountOverflow, key.Dec())
		}
		totals[key] = sum
	}
	return totals, nil
}

// Reconcile checks that for every epoch the sum of entry amounts equals the
// externally supplied ledger total. An epoch present on only one side is a
// mismatch.
func Reconcile(entries []*types.ClaimEntry, ledgerTotals map[uint256.Int]*uint256.Int) error {
	computed, err := EpochTotals(entries)
	if err != nil {
		return err
	}

	mismatches := make([]string, 0)
	for epoch, sum := range computed {
		expected, ok := ledgerTotals[epoch]
		switch {
		case !ok || expected == nil:
			mismatches = append(mismatches, fmt.Sprintf("epoch %s: whitelist %s, ledger missing", epoch.Dec(), sum.Dec()))
		case !expected.Eq(sum):
			mismatches = append(mismatches, fmt.Sprintf("epoch %s: whitelist %s, ledger %s", epoch.Dec(), sum.Dec(), expected.Dec()))
		}
	}
	for epoch, expected := range ledgerTotals {
		if _, ok := computed[epoch]; !ok && expected != nil && !expected.IsZero() {
			mismatches = append(mismatches, fmt.Sprintf("epoch %s: whitelist missing, ledger %s", epoch.Dec(), expected.Dec()))
		}
	}

	if len(mismatches) > 0 {
		sort.Strings(mismatches)
		return fmt.Errorf("%w: %s", ErrReconciliationMismatch, strings.Join(mismatches, "; "))
	}
	return nil
}

// Validate checks that entries form a committable claim set: every recipient
// and amount non-zero and every (recipient, epoch) identity unique.
func Validate(entries []*types.ClaimEntry) error {
	seen := make(map[types.ClaimID]int, len(entries))
	for i, entry := range entries {
		if entry == nil {
			return fmt.Errorf("%w: entry %d is nil", ErrInvalidEntry, i)
		}
		if entry.Recipient == (common.Address{}) {
			return fmt.Errorf("%w: entry %d has zero recipient", ErrInvalidEntry, i)
		}
		if entry.Amount == nil || entry.Amount.IsZero() {
			return fmt.Errorf("%w: entry %d (%s) has zero amount", ErrInvalidEntry, i, entry.Recipient.Hex())
		}
		if entry.Epoch == nil {
			return fmt.Errorf("%w: entry %d (%s) has no epoch", ErrInvalidEntry, i, entry.Recipient.Hex())
		}
		id := entry.ID()
		if prev, dup := seen[id]; dup {
			return fmt.Errorf("%w: %s at entries %d and %d", ErrDuplicateClaim, id, prev, i)
		}
		seen[id] = i
	}
	return nil
}

// Commitment is a built claim set: the tree plus the entries in leaf order.
type Commitment struct {
	Entries []*types.ClaimEntry
	Tree    *merkle.MerkleTree
}

// Commit validates entries and builds the Merkle tree over them in the order given.
// Callers that need reproducible roots pass entries produced by Aggregate or
// sorted with SortEntries.
func Commit(entries []*types.ClaimEntry) (*Commitment, error) {
	if len(entries) == 0 {
		return nil, merkle.ErrEmptyTree
	}
	if err := Validate(entries); err != nil {
		return nil, err
	}
	tree, err := merkle.BuildFromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle tree: %w", err)
	}
	return &Commitment{Entries: entries, Tree: tree}, nil
}

// CommitReconciled reconciles entries against ledger totals before committing.
// A mismatch aborts without building anything.
func CommitReconciled(entries []*types.ClaimEntry, ledgerTotals map[uint256.Int]*uint256.Int) (*Commitment, error) {
	if err := Reconcile(entries, ledgerTotals); err != nil {
		return nil, err
	}
	return Commit(entries)
}

// Root returns the committed root.
func (c *Commitment) Root() common.Hash {
	return common.Hash(c.Tree.Root)
}

// Proof returns the proof for the entry with the given identity.
func (c *Commitment) Proof(recipient common.Address, epoch *uint256.Int) (*types.ClaimEntry, [][32]byte, error) {
	id := types.NewClaimID(recipient, epoch)
	for i, entry := range c.Entries {
		if entry.ID() != id {
			continue
		}
		proof, err := c.Tree.GenerateProofAt(i)
		if err != nil {
			return nil, nil, err
		}
		return entry, proof, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", merkle.ErrLeafNotFound, id)
}

// EntryProof pairs an entry with its hex proof, as consumed by claimants.
type EntryProof struct {
	Entry *types.ClaimEntry
	Leaf  common.Hash
	Proof []string
}

// Proofs returns every entry's proof, in leaf order.
func (c *Commitment) Proofs() ([]EntryProof, error) {
	out := make([]EntryProof, len(c.Entries))
	for i, entry := range c.Entries {
		proof, err := c.Tree.GenerateProofAt(i)
		if err != nil {
			return nil, err
		}
		out[i] = EntryProof{
			Entry: entry,
			Leaf:  common.Hash(c.Tree.Leaves[i]),
			Proof: merkle.FormatProof(proof),
		}
	}
	return out, nil
}

// RequiredFunding returns sum(amount) * (instantMultiplier + vestedMultiplier),
// the balance needed to pay every entry in both phases.
func RequiredFunding(entries []*types.ClaimEntry, instantMultiplier, vestedMultiplier uint64) (*uint256.Int, error) {
	multiplier, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(instantMultiplier), uint256.NewInt(vestedMultiplier))
	if overflow {
		return nil, ErrAmountOverflow
	}
	total := new(uint256.Int)
	for _, entry := range entries {
		payout, overflow := new(uint256.Int).MulOverflow(entry.Amount, multiplier)
		if overflow {
			return nil, fmt.Errorf("%w: %s", ErrAmountOverflow, entry.ID())
		}
		if _, overflow := total.AddOverflow(total, payout); overflow {
			return nil, ErrAmountOverflow
		}
	}
	return total, nil
}
