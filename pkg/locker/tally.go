package locker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// Tally keeps the locker's own running total per epoch. Whitelists built
// from the same deposits must reconcile against these totals before their
// root is published.
type Tally struct {
	mu     sync.Mutex
	totals map[uint256.Int]*uint256.Int
	seen   map[string]struct{}
}

// NewTally returns an empty tally.
func NewTally() *Tally {
	return &Tally{
		totals: make(map[uint256.Int]*uint256.Int),
		seen:   make(map[string]struct{}),
	}
}

// Record adds a deposit. Records with an EventID already recorded are ignored
// and Record reports false.
func (t *Tally) Record(rec *types.LockRecord) (bool, error) {
	if rec == nil || rec.Amount == nil || rec.Epoch == nil {
		return false, fmt.Errorf("incomplete lock record")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if rec.EventID != "" {
		if _, dup := t.seen[rec.EventID]; dup {
			return false, nil
		}
	}

	key := *rec.Epoch
	current, ok := t.totals[key]
	if !ok {
		current = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, rec.Amount)
	if overflow {
		return false, fmt.Errorf("epoch %s total overflows uint256", key.Dec())
	}
	t.totals[key] = sum
	if rec.EventID != "" {
		t.seen[rec.EventID] = struct{}{}
	}
	return true, nil
}

// RecordAll records every deposit in order and returns how many were new.
func (t *Tally) RecordAll(records []*types.LockRecord) (int, error) {
	added := 0
	for _, rec := range records {
		ok, err := t.Record(rec)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// Totals returns a copy of the per-epoch totals.
func (t *Tally) Totals() map[uint256.Int]*uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[uint256.Int]*uint256.Int, len(t.totals))
	for epoch, total := range t.totals {
		out[epoch] = total.Clone()
	}
	return out
}

// Epochs returns the epochs that received deposits, ascending.
func (t *Tally) Epochs() []*uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()

	epochs := make([]*uint256.Int, 0, len(t.totals))
	for epoch := range t.totals {
		e := epoch
		epochs = append(epochs, &e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i].Lt(epochs[j]) })
	return epochs
}
