package merkle

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/migration-release-go/pkg/types"
)

// LeafEncodingVersion identifies the byte layout hashed into a leaf. Changing
// the layout changes every leaf and therefore every root, so any change must
// introduce a new version.
type LeafEncodingVersion uint8

const (
	// LeafEncodingV1 is keccak256(recipient[20] || amount[32] || epoch[32]),
	// the same bytes as Solidity keccak256(abi.encodePacked(address, uint256, uint256)).
	LeafEncodingV1 LeafEncodingVersion = 1

	// LeafEncodedLength is the size of the V1 preimage.
	LeafEncodedLength = common.AddressLength + 32 + 32
)

// EncodeClaim returns the fixed-width V1 preimage of a claim tuple.
// A nil amount or epoch encodes as zero.
func EncodeClaim(recipient common.Address, amount, epoch *uint256.Int) [LeafEncodedLength]byte {
	var out [LeafEncodedLength]byte
	copy(out[:common.AddressLength], recipient[:])
	if amount != nil {
		a := amount.Bytes32()
		copy(out[common.AddressLength:common.AddressLength+32], a[:])
	}
	if epoch != nil {
		e := epoch.Bytes32()
		copy(out[common.AddressLength+32:], e[:])
	}
	return out
}

// HashClaim computes the V1 leaf hash of a claim tuple.
func HashClaim(recipient common.Address, amount, epoch *uint256.Int) [32]byte {
	encoded := EncodeClaim(recipient, amount, epoch)
	return keccak256(encoded[:])
}

// HashEntry computes the leaf hash of a whitelist entry.
func HashEntry(entry *types.ClaimEntry) [32]byte {
	return HashClaim(entry.Recipient, entry.Amount, entry.Epoch)
}

// BuildFromEntries hashes entries in order and builds the tree over them.
func BuildFromEntries(entries []*types.ClaimEntry) (*MerkleTree, error) {
	leaves := make([][32]byte, len(entries))
	for i, entry := range entries {
		leaves[i] = HashEntry(entry)
	}
	return BuildMerkleTree(leaves)
}
