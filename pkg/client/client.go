package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/auth"
	"github.com/Layr-Labs/migration-release-go/pkg/merkle"
	"github.com/Layr-Labs/migration-release-go/pkg/release"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMessageTTL = 5 * time.Minute
)

var ErrNoSigner = errors.New("client has no operator signer")

// APIError is a non-2xx response from the release server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("release server returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps the server's messages back to the ledger's sentinel errors so
// callers can use errors.Is across the wire.
func (e *APIError) Unwrap() error {
	for _, sentinel := range []error{
		release.ErrNotWhitelistedOrClaimed,
		release.ErrNotWhitelistedOrNotVested,
		release.ErrInsufficientFunds,
		release.ErrInvalidMerkleRoot,
		release.ErrInvalidFundingAmount,
	} {
		if e.Message == sentinel.Error() {
			return sentinel
		}
	}
	if e.StatusCode == http.StatusUnauthorized {
		return release.ErrUnauthorized
	}
	return nil
}

// Config configures a ReleaseClient.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Signer is required only for SetRoot and AddFunds.
	Signer     auth.ISigner
	MessageTTL time.Duration
}

// ReleaseClient talks to a release server over HTTP.
type ReleaseClient struct {
	http       *resty.Client
	signer     auth.ISigner
	messageTTL time.Duration
}

// NewReleaseClient creates a new client for cfg.BaseURL.
func NewReleaseClient(cfg *Config) (*ReleaseClient, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ttl := cfg.MessageTTL
	if ttl == 0 {
		ttl = DefaultMessageTTL
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetError(&types.ErrorResponse{})

	return &ReleaseClient{
		http:       httpClient,
		signer:     cfg.Signer,
		messageTTL: ttl,
	}, nil
}

func (c *ReleaseClient) get(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetResult(out).Get(path)
	return checkResponse(resp, err)
}

func (c *ReleaseClient) post(ctx context.Context, path string, body, out any) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(out).Post(path)
	return checkResponse(resp, err)
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
	if body, ok := resp.Error().(*types.ErrorResponse); ok && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}

// GetRoot returns the active root.
func (c *ReleaseClient) GetRoot(ctx context.Context) (*types.RootResponse, error) {
	var out types.RootResponse
	if err := c.get(ctx, "/v1/root", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFunds returns the funds account.
func (c *ReleaseClient) GetFunds(ctx context.Context) (*types.FundsResponse, error) {
	var out types.FundsResponse
	if err := c.get(ctx, "/v1/funds", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClaim returns the claim state of (recipient, epoch).
func (c *ReleaseClient) GetClaim(ctx context.Context, recipient common.Address, epoch *uint256.Int) (*types.ClaimStateResponse, error) {
	var out types.ClaimStateResponse
	path := fmt.Sprintf("/v1/claims/%s/%s", recipient.Hex(), epoch.Dec())
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetClaims returns every recorded claim state.
func (c *ReleaseClient) GetClaims(ctx context.Context) ([]*types.ClaimState, error) {
	var out []*types.ClaimState
	if err := c.get(ctx, "/v1/claims", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPayouts returns every payout event in apply order.
func (c *ReleaseClient) GetPayouts(ctx context.Context) ([]*types.PayoutEvent, error) {
	var out []*types.PayoutEvent
	if err := c.get(ctx, "/v1/payouts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseInstant submits an instant release with its proof.
func (c *ReleaseClient) ReleaseInstant(ctx context.Context, entry *types.ClaimEntry, proof [][32]byte) (*types.PayoutEvent, error) {
	hexProof := make([]hexutil.Bytes, len(proof))
	for i := range proof {
		hexProof[i] = proof[i][:]
	}
	req := types.InstantReleaseRequest{
		Address: entry.Recipient.Hex(),
		Amount:  entry.Amount.Dec(),
		Epoch:   entry.Epoch.Dec(),
		Proof:   hexProof,
	}
	var out types.PayoutEvent
	if err := c.post(ctx, "/v1/release/instant", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReleaseVested submits a vested release.
func (c *ReleaseClient) ReleaseVested(ctx context.Context, entry *types.ClaimEntry) (*types.PayoutEvent, error) {
	req := types.VestedReleaseRequest{
		Address: entry.Recipient.Hex(),
		Amount:  entry.Amount.Dec(),
		Epoch:   entry.Epoch.Dec(),
	}
	var out types.PayoutEvent
	if err := c.post(ctx, "/v1/release/vested", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRoot signs and submits a root rotation.
func (c *ReleaseClient) SetRoot(ctx context.Context, commitment merkle.Commitment) (*types.RootResponse, error) {
	msg, err := c.adminMessage(&types.AdminPayload{
		Action:    types.AdminActionSetRoot,
		Root:      commitment.Root.Hex(),
		LeafCount: commitment.LeafCount,
	})
	if err != nil {
		return nil, err
	}
	var out types.RootResponse
	if err := c.post(ctx, "/v1/admin/root", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddFunds signs and submits a funding credit.
func (c *ReleaseClient) AddFunds(ctx context.Context, amount *uint256.Int) (*types.FundsResponse, error) {
	if amount == nil {
		return nil, release.ErrInvalidFundingAmount
	}
	msg, err := c.adminMessage(&types.AdminPayload{
		Action: types.AdminActionAddFunds,
		Amount: amount.Dec(),
	})
	if err != nil {
		return nil, err
	}
	var out types.FundsResponse
	if err := c.post(ctx, "/v1/admin/funds", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ReleaseClient) adminMessage(payload *types.AdminPayload) (*types.AuthenticatedMessage, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	payload.Nonce = uuid.NewString()
	payload.ExpiresAt = time.Now().Add(c.messageTTL).Unix()
	return auth.NewAdminMessage(c.signer, payload)
}
