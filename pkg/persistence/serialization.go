package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/migration-release-go/pkg/funds"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// MarshalCommitment serializes a Commitment to JSON bytes.
func MarshalCommitment(c *merkle.Commitment) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("cannot marshal nil Commitment")
	}
	return json.Marshal(c)
}

// UnmarshalCommitment deserializes a Commitment from JSON bytes.
func UnmarshalCommitment(data []byte) (*merkle.Commitment, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var c merkle.Commitment
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Commitment: %w", err)
	}
	return &c, nil
}

// MarshalClaimState serializes a ClaimState to JSON bytes.
func MarshalClaimState(s *types.ClaimState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil ClaimState")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ClaimState to JSON: %w", err)
	}
	return data, nil
}

// UnmarshalClaimState deserializes a ClaimState from JSON bytes.
func UnmarshalClaimState(data []byte) (*types.ClaimState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var s types.ClaimState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to ClaimState: %w", err)
	}
	return &s, nil
}

// MarshalFunds serializes a funds Account to JSON bytes.
func MarshalFunds(a *funds.Account) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("cannot marshal nil Account")
	}
	return json.Marshal(a)
}

// UnmarshalFunds deserializes a funds Account from JSON bytes.
func UnmarshalFunds(data []byte) (*funds.Account, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var a funds.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to Account: %w", err)
	}
	return &a, nil
}

// MarshalPayoutEvent serializes a PayoutEvent to JSON bytes.
func MarshalPayoutEvent(e *types.PayoutEvent) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("cannot marshal nil PayoutEvent")
	}
	return json.Marshal(e)
}

// UnmarshalPayoutEvent deserializes a PayoutEvent from JSON bytes.
func UnmarshalPayoutEvent(data []byte) (*types.PayoutEvent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var e types.PayoutEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to PayoutEvent: %w", err)
	}
	return &e, nil
}
