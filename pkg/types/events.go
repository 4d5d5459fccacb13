package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ReleasePhase names which payout a PayoutEvent records.
type ReleasePhase string

const (
	ReleasePhaseInstant ReleasePhase = "instant"
	ReleasePhaseVested  ReleasePhase = "vested"
)

// PayoutEvent is the durable audit record of one authorized payout.
// Summing Payout over all events reconstructs the total distributed value.
type PayoutEvent struct {
	ID        string
	Phase     ReleasePhase
	ClaimID   ClaimID
	Recipient common.Address

	// Amount is the whitelisted claim amount; Payout is what was paid.
	Amount *uint256.Int
	Payout *uint256.Int

	Root      common.Hash
	Timestamp time.Time
}

type payoutEventJSON struct {
	ID        string       `json:"id"`
	Phase     ReleasePhase `json:"phase"`
	ClaimID   string       `json:"claimId"`
	Recipient string       `json:"recipient"`
	Amount    string       `json:"amount"`
	Payout    string       `json:"payout"`
	Root      string       `json:"root"`
	Timestamp time.Time    `json:"timestamp"`
}

func (e PayoutEvent) MarshalJSON() ([]byte, error) {
	out := payoutEventJSON{
		ID:        e.ID,
		Phase:     e.Phase,
		ClaimID:   e.ClaimID.Key(),
		Recipient: e.Recipient.Hex(),
		Root:      e.Root.Hex(),
		Timestamp: e.Timestamp.UTC(),
	}
	if e.Amount != nil {
		out.Amount = e.Amount.Dec()
	}
	if e.Payout != nil {
		out.Payout = e.Payout.Dec()
	}
	return json.Marshal(out)
}

func (e *PayoutEvent) UnmarshalJSON(data []byte) error {
	var in payoutEventJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	id, err := ParseClaimID(in.ClaimID)
	if err != nil {
		return err
	}
	amount, err := uint256.FromDecimal(in.Amount)
	if err != nil {
		return fmt.Errorf("invalid payout event amount %q: %w", in.Amount, err)
	}
	payout, err := uint256.FromDecimal(in.Payout)
	if err != nil {
		return fmt.Errorf("invalid payout event payout %q: %w", in.Payout, err)
	}
	*e = PayoutEvent{
		ID:        in.ID,
		Phase:     in.Phase,
		ClaimID:   id,
		Recipient: common.HexToAddress(in.Recipient),
		Amount:    amount,
		Payout:    payout,
		Root:      common.HexToHash(in.Root),
		Timestamp: in.Timestamp,
	}
	return nil
}
