package release

import (
	"fmt"
	"time"
)

const (
	// DefaultInstantMultiplier is paid per whitelisted unit at instant release.
	DefaultInstantMultiplier uint64 = 5

	// DefaultVestedMultiplier is paid per whitelisted unit at vested release.
	DefaultVestedMultiplier uint64 = 10

	// DefaultVestingDelay is the minimum time between instant and vested release.
	DefaultVestingDelay = 90 * 24 * time.Hour
)

// Policy holds the payout multipliers and the vesting delay.
type Policy struct {
	InstantMultiplier uint64
	VestedMultiplier  uint64
	VestingDelay      time.Duration
}

// DefaultPolicy returns the 5x / 10x / 90 day policy.
func DefaultPolicy() Policy {
	return Policy{
		InstantMultiplier: DefaultInstantMultiplier,
		VestedMultiplier:  DefaultVestedMultiplier,
		VestingDelay:      DefaultVestingDelay,
	}
}

// Validate rejects zero multipliers and negative delays.
func (p Policy) Validate() error {
	if p.InstantMultiplier == 0 {
		return fmt.Errorf("instant multiplier must be greater than zero")
	}
	if p.VestedMultiplier == 0 {
		return fmt.Errorf("vested multiplier must be greater than zero")
	}
	if p.VestingDelay < 0 {
		return fmt.Errorf("vesting delay cannot be negative")
	}
	return nil
}

// Clock supplies the time eligibility is evaluated at.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
