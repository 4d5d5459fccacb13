// Package auth signs and verifies operator messages. A message carries its
// payload, keccak256(payload) and a 65-byte secp256k1 signature over that
// hash; the signer address is recovered from the signature.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Layr-Labs/crypto-libs/pkg/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

var (
	ErrHashMismatch     = errors.New("message hash does not match payload")
	ErrInvalidSignature = errors.New("invalid message signature")
	ErrEmptyPayload     = errors.New("message payload is empty")
)

// ISigner produces authenticated messages on behalf of one address.
type ISigner interface {
	Address() common.Address
	CreateAuthenticatedMessage(data []byte) (*types.AuthenticatedMessage, error)
	SignMessage(data []byte) ([]byte, error)
}

// InMemorySigner signs with a secp256k1 key held in process memory.
type InMemorySigner struct {
	logger     *zap.Logger
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewInMemorySigner wraps key.
func NewInMemorySigner(key *ecdsa.PrivateKey, logger *zap.Logger) (*InMemorySigner, error) {
	if key == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}
	address, err := key.DeriveAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to derive operator address: %w", err)
	}
	return &InMemorySigner{
		logger:     logger,
		privateKey: key,
		address:    address,
	}, nil
}

// NewInMemorySignerFromBytes loads a raw 32-byte private key.
func NewInMemorySignerFromBytes(privateKey []byte, logger *zap.Logger) (*InMemorySigner, error) {
	key, err := ecdsa.NewPrivateKeyFromBytes(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error loading private key: %w", err)
	}
	return NewInMemorySigner(key, logger)
}

// NewInMemorySignerFromHex loads a hex private key, with or without 0x.
func NewInMemorySignerFromHex(hexKey string, logger *zap.Logger) (*InMemorySigner, error) {
	key, err := ecdsa.NewPrivateKeyFromHexString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("error loading private key: %w", err)
	}
	return NewInMemorySigner(key, logger)
}

func (s *InMemorySigner) Address() common.Address {
	return s.address
}

// SignMessage signs keccak256(data) and returns the 65-byte r || s || v form.
func (s *InMemorySigner) SignMessage(data []byte) ([]byte, error) {
	hash := crypto.Keccak256Hash(data)
	sig, err := s.privateKey.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	sigBytes := sig.Bytes()
	if len(sigBytes) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signer produced %d bytes", ErrInvalidSignature, len(sigBytes))
	}
	return sigBytes, nil
}

func (s *InMemorySigner) CreateAuthenticatedMessage(data []byte) (*types.AuthenticatedMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	sig, err := s.SignMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authenticated message: %w", err)
	}
	return &types.AuthenticatedMessage{
		Payload:   data,
		Hash:      crypto.Keccak256Hash(data),
		Signature: sig,
	}, nil
}

// RecoverSigner checks msg.Hash against the payload and returns the address
// that produced msg.Signature. Legacy 27/28 recovery bytes are accepted.
func RecoverSigner(msg *types.AuthenticatedMessage) (common.Address, error) {
	if msg == nil || len(msg.Payload) == 0 {
		return common.Address{}, ErrEmptyPayload
	}
	if crypto.Keccak256Hash(msg.Payload) != common.Hash(msg.Hash) {
		return common.Address{}, ErrHashMismatch
	}
	if len(msg.Signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(msg.Signature))
	}

	sig := make([]byte, len(msg.Signature))
	copy(sig, msg.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(msg.Hash[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// NewAdminMessage serializes payload and signs it with signer.
func NewAdminMessage(signer ISigner, payload *types.AdminPayload) (*types.AuthenticatedMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal admin payload: %w", err)
	}
	return signer.CreateAuthenticatedMessage(data)
}

// OpenAdminMessage verifies msg and decodes its admin payload.
func OpenAdminMessage(msg *types.AuthenticatedMessage) (*types.AdminPayload, common.Address, error) {
	signer, err := RecoverSigner(msg)
	if err != nil {
		return nil, common.Address{}, err
	}
	var payload types.AdminPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return nil, common.Address{}, fmt.Errorf("failed to parse admin payload: %w", err)
	}
	return &payload, signer, nil
}
