package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// ErrClosed is returned by every operation on a closed persistence layer.
var ErrClosed = errors.New("persistence layer is closed")

// ReleaseUpdate is the unit of work committed by a successful release.
type ReleaseUpdate struct {
	State *types.ClaimState
	Funds *funds.Account
	Event *types.PayoutEvent
}

// Validate checks that every part of the update is present and consistent.
func (u *ReleaseUpdate) Validate() error {
	if u == nil {
		return fmt.Errorf("cannot apply nil ReleaseUpdate")
	}
	if u.State == nil || u.Funds == nil || u.Event == nil {
		return fmt.Errorf("incomplete ReleaseUpdate: state, funds and event are all required")
	}
	if u.State.ID != u.Event.ClaimID {
		return fmt.Errorf("ReleaseUpdate claim %s does not match event claim %s", u.State.ID, u.Event.ClaimID)
	}
	return nil
}

// SortClaimStates orders states by recipient bytes, then epoch.
func SortClaimStates(states []*types.ClaimState) {
	sort.Slice(states, func(i, j int) bool {
		if c := bytes.Compare(states[i].ID.Recipient[:], states[j].ID.Recipient[:]); c != 0 {
			return c < 0
		}
		return states[i].ID.Epoch.Lt(&states[j].ID.Epoch)
	})
}
