package release

import (
	"errors"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
)

// The two eligibility errors never carry detail. A failed proof, a claim in
// the wrong phase and an unelapsed delay are indistinguishable to the caller.
var (
	// ErrNotWhitelistedOrClaimed is the only error an instant release returns
	// for a failed proof or a claim that is no longer Unclaimed.
	ErrNotWhitelistedOrClaimed = errors.New("Not Whitelisted or already Claimed")

	// ErrNotWhitelistedOrNotVested is the only error a vested release returns
	// for a claim that is not InstantReleased, has a different amount, or has
	// not reached the vesting delay.
	ErrNotWhitelistedOrNotVested = errors.New("Not Whitelisted or Not Vested")

	// ErrInvalidMerkleRoot is returned when setting the zero root or the active root.
	ErrInvalidMerkleRoot = errors.New("Invalid Merkle Root")

	// ErrUnauthorized is returned when a privileged operation is not called by the operator.
	ErrUnauthorized = errors.New("caller is not the operator")

	// ErrInvalidFundingAmount is returned for zero funding.
	ErrInvalidFundingAmount = errors.New("funding amount must be greater than zero")

	// ErrInsufficientFunds is returned when the balance cannot cover a payout.
	// No state changes when it is returned.
	ErrInsufficientFunds = funds.ErrInsufficientFunds
)
