package auth

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Layr-Labs/migration-release-go/pkg/testutil"
	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

func TestInMemorySigner_RoundTrip(t *testing.T) {
	key, address := testutil.CreateTestOperatorKey(t)
	signer, err := NewInMemorySigner(key, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, address, signer.Address())

	msg, err := signer.CreateAuthenticatedMessage([]byte("set the root"))
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("set the root")).Bytes(), msg.Hash[:])
	assert.Len(t, msg.Signature, crypto.SignatureLength)

	recovered, err := RecoverSigner(msg)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)
}

func TestNewInMemorySignerFromHex(t *testing.T) {
	// A key produced by go-ethereum must load to the same address
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	address := crypto.PubkeyToAddress(key.PublicKey)
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	signer, err := NewInMemorySignerFromHex(hexKey, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, address, signer.Address())

	_, err = NewInMemorySignerFromHex("0xnotakey", zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewInMemorySignerFromBytes(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	signer, err := NewInMemorySignerFromBytes(crypto.FromECDSA(key), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer.Address())

	// Signatures from the loaded key recover to the go-ethereum address
	msg, err := signer.CreateAuthenticatedMessage([]byte("payload"))
	require.NoError(t, err)
	recovered, err := RecoverSigner(msg)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), recovered)

	_, err = NewInMemorySignerFromBytes([]byte{0x01, 0x02}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewInMemorySigner_NilKey(t *testing.T) {
	_, err := NewInMemorySigner(nil, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestRecoverSigner_Rejections(t *testing.T) {
	key, _ := testutil.CreateTestOperatorKey(t)
	signer, err := NewInMemorySigner(key, zaptest.NewLogger(t))
	require.NoError(t, err)

	fresh := func() *types.AuthenticatedMessage {
		msg, err := signer.CreateAuthenticatedMessage([]byte("payload"))
		require.NoError(t, err)
		return msg
	}

	t.Run("Nil message", func(t *testing.T) {
		_, err := RecoverSigner(nil)
		require.ErrorIs(t, err, ErrEmptyPayload)
	})

	t.Run("Tampered payload", func(t *testing.T) {
		msg := fresh()
		msg.Payload = []byte("payloaD")
		_, err := RecoverSigner(msg)
		require.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("Truncated signature", func(t *testing.T) {
		msg := fresh()
		msg.Signature = msg.Signature[:64]
		_, err := RecoverSigner(msg)
		require.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("Payload swapped with matching hash", func(t *testing.T) {
		msg := fresh()
		msg.Payload = []byte("other")
		msg.Hash = crypto.Keccak256Hash(msg.Payload)
		recovered, err := RecoverSigner(msg)
		// Recovery yields some address, just not the signer's
		if err == nil {
			assert.NotEqual(t, signer.Address(), recovered)
		}
	})

	t.Run("Legacy recovery byte", func(t *testing.T) {
		msg := fresh()
		msg.Signature[64] += 27
		recovered, err := RecoverSigner(msg)
		require.NoError(t, err)
		assert.Equal(t, signer.Address(), recovered)
	})
}

func TestAdminMessage_RoundTrip(t *testing.T) {
	key, address := testutil.CreateTestOperatorKey(t)
	signer, err := NewInMemorySigner(key, zaptest.NewLogger(t))
	require.NoError(t, err)

	payload := &types.AdminPayload{
		Action:    types.AdminActionSetRoot,
		Root:      "0x" + hex.EncodeToString(make([]byte, 32)),
		LeafCount: 4,
		Nonce:     "n-1",
		ExpiresAt: 1700000000,
	}
	msg, err := NewAdminMessage(signer, payload)
	require.NoError(t, err)

	opened, from, err := OpenAdminMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, address, from)
	assert.Equal(t, payload, opened)
}

func TestOpenAdminMessage_BadPayload(t *testing.T) {
	key, _ := testutil.CreateTestOperatorKey(t)
	signer, err := NewInMemorySigner(key, zaptest.NewLogger(t))
	require.NoError(t, err)

	msg, err := signer.CreateAuthenticatedMessage([]byte("not json"))
	require.NoError(t, err)

	_, _, err = OpenAdminMessage(msg)
	require.Error(t, err)
}

func TestReplayGuard(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(1_000_000, 0))
	guard := NewReplayGuard(10*time.Minute, clock.Now)

	expiry := clock.Now().Add(5 * time.Minute).Unix()

	require.NoError(t, guard.Accept("a", expiry))
	require.ErrorIs(t, guard.Accept("a", expiry), ErrMessageReplayed)
	require.NoError(t, guard.Accept("b", expiry))

	require.ErrorIs(t, guard.Accept("", expiry), ErrMissingNonce)
	require.ErrorIs(t, guard.Accept("c", clock.Now().Unix()), ErrMessageExpired)
	require.ErrorIs(t, guard.Accept("d", clock.Now().Add(time.Hour).Unix()), ErrMessageExpired)

	// Once expired, a nonce's message can no longer be accepted at all
	clock.Advance(6 * time.Minute)
	require.ErrorIs(t, guard.Accept("a", expiry), ErrMessageExpired)

	// Accepting a new message prunes expired nonces
	require.NoError(t, guard.Accept("e", clock.Now().Add(time.Minute).Unix()))
	guard.mu.Lock()
	_, stillHeld := guard.seen["a"]
	guard.mu.Unlock()
	assert.False(t, stillHeld)
}
