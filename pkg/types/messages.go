package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AuthenticatedMessage wraps an operator payload with its keccak256 hash and
// a secp256k1 signature over that hash.
type AuthenticatedMessage struct {
	Payload   []byte   `json:"payload"`
	Hash      [32]byte `json:"hash"`
	Signature []byte   `json:"signature"`
}

// AdminAction names the privileged operation carried in an admin payload.
type AdminAction string

const (
	AdminActionSetRoot  AdminAction = "set_root"
	AdminActionAddFunds AdminAction = "add_funds"
)

// AdminPayload is the signed body of a privileged request. Nonce and
// ExpiresAt bound replay of a captured message.
type AdminPayload struct {
	Action    AdminAction `json:"action"`
	Root      string      `json:"root,omitempty"`
	LeafCount int         `json:"leafCount,omitempty"`
	Amount    string      `json:"amount,omitempty"`
	Nonce     string      `json:"nonce"`
	ExpiresAt int64       `json:"expiresAt"`
}

// InstantReleaseRequest is the body of POST /v1/release/instant.
type InstantReleaseRequest struct {
	Address string          `json:"address"`
	Amount  string          `json:"amount"`
	Epoch   string          `json:"epoch"`
	Proof   []hexutil.Bytes `json:"proof"`
}

// VestedReleaseRequest is the body of POST /v1/release/vested.
type VestedReleaseRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
	Epoch   string `json:"epoch"`
}

// RootResponse describes the active commitment and the versions of the leaf
// layout and claim tuple it was built with.
type RootResponse struct {
	Root         string `json:"root"`
	LeafCount    int    `json:"leafCount"`
	LeafEncoding uint8  `json:"leafEncoding"`
	ClaimSchema  uint8  `json:"claimSchema"`
}

// ClaimStateResponse is returned by GET /v1/claims/{address}/{epoch}.
// VestingAvailableAt is set only while the claim is InstantReleased.
type ClaimStateResponse struct {
	State              *ClaimState `json:"state"`
	VestingAvailableAt *time.Time  `json:"vestingAvailableAt,omitempty"`
}

// FundsResponse describes the funds account.
type FundsResponse struct {
	Balance       string `json:"balance"`
	TotalReleased string `json:"totalReleased"`
}

// ErrorResponse is returned by the API for every rejected request.
type ErrorResponse struct {
	Error string `json:"error"`
}
