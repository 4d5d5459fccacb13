package testutil

import (
	"testing"

	"github.com/Layr-Labs/crypto-libs/pkg/ecdsa"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// CreateTestEntries creates n whitelist entries in epoch 1 with recipients
// 0x..01 through 0x..n and amounts 100, 200, ... 100*n.
func CreateTestEntries(n int) []*types.ClaimEntry {
	entries := make([]*types.ClaimEntry, n)
	for i := 0; i < n; i++ {
		entries[i] = &types.ClaimEntry{
			Recipient: common.BigToAddress(uint256.NewInt(uint64(i + 1)).ToBig()),
			Amount:    uint256.NewInt(uint64(100 * (i + 1))),
			Epoch:     uint256.NewInt(1),
		}
	}
	return entries
}

// CreateTestOperatorKey generates a fresh secp256k1 operator key.
func CreateTestOperatorKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, _, err := ecdsa.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate operator key: %v", err)
	}
	address, err := key.DeriveAddress()
	if err != nil {
		t.Fatalf("Failed to derive operator address: %v", err)
	}
	return key, address
}

// Ether returns n * 10^18 as a uint256.
func Ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}
