package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ClaimSchemaVersion identifies the shape of the tuple committed into a leaf.
type ClaimSchemaVersion uint8

const (
	// ClaimSchemaV1 is the canonical (recipient, amount, epoch) triple.
	ClaimSchemaV1 ClaimSchemaVersion = 1
)

// ClaimEntry is one whitelisted allocation. Immutable once committed to a root.
type ClaimEntry struct {
	Recipient common.Address
	Amount    *uint256.Int
	Epoch     *uint256.Int
}

// ID returns the claim identity that gates phase state for this entry.
func (c *ClaimEntry) ID() ClaimID {
	return NewClaimID(c.Recipient, c.Epoch)
}

// Clone returns a deep copy of the entry.
func (c *ClaimEntry) Clone() *ClaimEntry {
	return &ClaimEntry{
		Recipient: c.Recipient,
		Amount:    cloneOrZero(c.Amount),
		Epoch:     cloneOrZero(c.Epoch),
	}
}

// ClaimID is the key phase state is tracked under: recipient + epoch.
// It is independent of the Merkle root that authenticated the claim.
// ClaimID is comparable and can be used as a map key.
type ClaimID struct {
	Recipient common.Address
	Epoch     uint256.Int
}

// NewClaimID builds a claim identity. A nil epoch is treated as zero.
func NewClaimID(recipient common.Address, epoch *uint256.Int) ClaimID {
	id := ClaimID{Recipient: recipient}
	if epoch != nil {
		id.Epoch.Set(epoch)
	}
	return id
}

// Key returns the canonical storage key: "<lowercase hex address>:<decimal epoch>".
func (id ClaimID) Key() string {
	return strings.ToLower(id.Recipient.Hex()) + ":" + id.Epoch.Dec()
}

func (id ClaimID) String() string {
	return id.Key()
}

// ParseClaimID parses the output of ClaimID.Key.
func ParseClaimID(key string) (ClaimID, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 {
		return ClaimID{}, fmt.Errorf("invalid claim id %q", key)
	}
	if !common.IsHexAddress(parts[0]) {
		return ClaimID{}, fmt.Errorf("invalid claim id address %q", parts[0])
	}
	epoch, err := uint256.FromDecimal(parts[1])
	if err != nil {
		return ClaimID{}, fmt.Errorf("invalid claim id epoch %q: %w", parts[1], err)
	}
	return NewClaimID(common.HexToAddress(parts[0]), epoch), nil
}

// ClaimPhase is the release phase a claim identity has reached.
type ClaimPhase uint8

const (
	PhaseUnclaimed ClaimPhase = iota
	PhaseInstantReleased
	PhaseVestedReleased
)

func (p ClaimPhase) String() string {
	switch p {
	case PhaseUnclaimed:
		return "unclaimed"
	case PhaseInstantReleased:
		return "instant_released"
	case PhaseVestedReleased:
		return "vested_released"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// ClaimState is the per-identity release record. The zero value (with an ID)
// is an unclaimed identity.
type ClaimState struct {
	ID    ClaimID
	Phase ClaimPhase

	// Amount is the whitelisted amount proven at instant release time.
	Amount *uint256.Int

	// Root is the Merkle root the instant release was authenticated against.
	Root common.Hash

	InstantReleasedAt time.Time
	VestedReleasedAt  time.Time
}

// Clone returns a deep copy of the state.
func (s *ClaimState) Clone() *ClaimState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Amount != nil {
		cp.Amount = s.Amount.Clone()
	}
	return &cp
}

type claimStateJSON struct {
	ID                string     `json:"id"`
	Phase             ClaimPhase `json:"phase"`
	PhaseName         string     `json:"phaseName"`
	Amount            string     `json:"amount,omitempty"`
	Root              string     `json:"root,omitempty"`
	InstantReleasedAt *time.Time `json:"instantReleasedAt,omitempty"`
	VestedReleasedAt  *time.Time `json:"vestedReleasedAt,omitempty"`
}

func (s ClaimState) MarshalJSON() ([]byte, error) {
	out := claimStateJSON{
		ID:        s.ID.Key(),
		Phase:     s.Phase,
		PhaseName: s.Phase.String(),
	}
	if s.Amount != nil {
		out.Amount = s.Amount.Dec()
	}
	if s.Root != (common.Hash{}) {
		out.Root = s.Root.Hex()
	}
	if !s.InstantReleasedAt.IsZero() {
		t := s.InstantReleasedAt.UTC()
		out.InstantReleasedAt = &t
	}
	if !s.VestedReleasedAt.IsZero() {
		t := s.VestedReleasedAt.UTC()
		out.VestedReleasedAt = &t
	}
	return json.Marshal(out)
}

func (s *ClaimState) UnmarshalJSON(data []byte) error {
	var in claimStateJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	id, err := ParseClaimID(in.ID)
	if err != nil {
		return err
	}
	*s = ClaimState{ID: id, Phase: in.Phase}
	if in.Amount != "" {
		if s.Amount, err = uint256.FromDecimal(in.Amount); err != nil {
			return fmt.Errorf("invalid claim amount %q: %w", in.Amount, err)
		}
	}
	if in.Root != "" {
		s.Root = common.HexToHash(in.Root)
	}
	if in.InstantReleasedAt != nil {
		s.InstantReleasedAt = *in.InstantReleasedAt
	}
	if in.VestedReleasedAt != nil {
		s.VestedReleasedAt = *in.VestedReleasedAt
	}
	return nil
}

// LockRecord is one deposit observed from the upstream locker. EventID, when
// set, uniquely names the source event so re-delivered records can be dropped.
type LockRecord struct {
	Recipient common.Address
	Amount    *uint256.Int
	Epoch     *uint256.Int
	EventID   string
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
