package merkle

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// FuzzVerifyRejectsUncommittedTuples checks that no committed proof verifies a
// tuple that differs from the committed entry.
func FuzzVerifyRejectsUncommittedTuples(f *testing.F) {
	f.Add(uint8(0), uint64(1), uint64(0), []byte{0x01})
	f.Add(uint8(3), uint64(0), uint64(1), []byte{})
	f.Add(uint8(6), uint64(1<<63), uint64(1<<63), []byte{0xde, 0xad})

	entries := createTestEntries(7)
	tree, err := BuildFromEntries(entries)
	require.NoError(f, err)

	f.Fuzz(func(t *testing.T, pick uint8, amountDelta, epochDelta uint64, addrSeed []byte) {
		entry := entries[int(pick)%len(entries)]
		proof, err := tree.GenerateProof(HashEntry(entry))
		require.NoError(t, err)

		amount := new(uint256.Int).Add(entry.Amount, uint256.NewInt(amountDelta))
		epoch := new(uint256.Int).Add(entry.Epoch, uint256.NewInt(epochDelta))
		recipient := entry.Recipient
		if len(addrSeed) > 0 {
			recipient = common.BytesToAddress(append(recipient.Bytes()[:1], addrSeed...))
		}

		leaf := HashClaim(recipient, amount, epoch)
		if tree.Contains(leaf) {
			// The mutation landed on another committed entry.
			return
		}
		require.False(t, VerifyProof(leaf, proof, tree.Root))
	})
}
