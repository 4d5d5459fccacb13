package merkle

import "github.com/ethereum/go-ethereum/common"

// MerkleTree represents a binary merkle tree over claim leaves.
// The tree uses keccak256 hashing with sorted sibling pairs, matching
// OpenZeppelin MerkleProof.verify and merkletreejs {sortPairs: true}.
type MerkleTree struct {
	// Leaves contains the leaf hashes in the order they were committed
	Leaves [][32]byte

	// Root is the merkle root hash
	Root [32]byte

	// levels stores all tree levels for proof generation
	// levels[0] = leaves, levels[len-1] = root
	levels [][][32]byte

	// index maps a leaf hash to its position in Leaves
	index map[[32]byte]int
}

// Commitment is the published snapshot of one claim set.
type Commitment struct {
	Root      common.Hash `json:"root"`
	LeafCount int         `json:"leafCount"`
}

// IsZero reports whether the commitment carries the uninitialized root.
func (c Commitment) IsZero() bool {
	return c.Root == (common.Hash{})
}
