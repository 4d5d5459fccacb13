package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrEmptyTree is returned when building a tree from zero leaves.
	ErrEmptyTree = errors.New("cannot build merkle tree from empty leaf set")

	// ErrLeafNotFound is returned when proving a leaf that is not in the tree.
	ErrLeafNotFound = errors.New("leaf not found in merkle tree")

	// ErrDuplicateLeaf is returned when the same leaf hash appears twice.
	ErrDuplicateLeaf = errors.New("duplicate leaf in merkle tree")
)

// BuildMerkleTree creates a binary merkle tree from leaf hashes in the given order.
//
// Each sibling pair is sorted before hashing, so a proof does not need to carry
// left/right position bits. If a level has an odd number of nodes, the last node
// is promoted to the next level unchanged.
//
// A single-leaf tree has the leaf itself as its root and an empty proof.
func BuildMerkleTree(leaves [][32]byte) (*MerkleTree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	leafCopy := make([][32]byte, len(leaves))
	copy(leafCopy, leaves)

	index := make(map[[32]byte]int, len(leafCopy))
	for i, leaf := range leafCopy {
		if prev, exists := index[leaf]; exists {
			return nil, fmt.Errorf("%w: leaves %d and %d are both %s", ErrDuplicateLeaf, prev, i, common.Hash(leaf).Hex())
		}
		index[leaf] = i
	}

	// Build tree levels bottom-up
	levels := make([][][32]byte, 0)
	levels = append(levels, leafCopy)

	currentLevel := leafCopy
	for len(currentLevel) > 1 {
		nextLevel := make([][32]byte, 0, (len(currentLevel)+1)/2)

		for i := 0; i < len(currentLevel); i += 2 {
			if i+1 >= len(currentLevel) {
				nextLevel = append(nextLevel, currentLevel[i])
				continue
			}
			nextLevel = append(nextLevel, hashSortedPair(currentLevel[i], currentLevel[i+1]))
		}

		levels = append(levels, nextLevel)
		currentLevel = nextLevel
	}

	return &MerkleTree{
		Leaves: leafCopy,
		Root:   currentLevel[0],
		levels: levels,
		index:  index,
	}, nil
}

// Commitment returns the publishable snapshot of the tree.
func (mt *MerkleTree) Commitment() Commitment {
	return Commitment{Root: common.Hash(mt.Root), LeafCount: len(mt.Leaves)}
}

// Contains reports whether leaf is committed in the tree.
func (mt *MerkleTree) Contains(leaf [32]byte) bool {
	_, ok := mt.index[leaf]
	return ok
}

// GenerateProof returns the sibling hashes from leaf to root.
// Levels where the node was promoted without a sibling contribute nothing.
func (mt *MerkleTree) GenerateProof(leaf [32]byte) ([][32]byte, error) {
	leafIndex, ok := mt.index[leaf]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, common.Hash(leaf).Hex())
	}
	return mt.GenerateProofAt(leafIndex)
}

// GenerateProofAt returns the proof for the leaf at the given index.
func (mt *MerkleTree) GenerateProofAt(leafIndex int) ([][32]byte, error) {
	if leafIndex < 0 || leafIndex >= len(mt.Leaves) {
		return nil, fmt.Errorf("leaf index %d out of bounds (tree has %d leaves)", leafIndex, len(mt.Leaves))
	}

	proof := make([][32]byte, 0, len(mt.levels)-1)
	index := leafIndex

	for level := 0; level < len(mt.levels)-1; level++ {
		siblingIndex := index ^ 1
		if siblingIndex < len(mt.levels[level]) {
			proof = append(proof, mt.levels[level][siblingIndex])
		}
		index = index / 2
	}

	return proof, nil
}

// VerifyProof recomputes the root from leaf and proof and compares it to root.
// The zero root never verifies, so an uninitialized commitment cannot be
// satisfied by any proof.
func VerifyProof(leaf [32]byte, proof [][32]byte, root [32]byte) bool {
	if root == ([32]byte{}) {
		return false
	}
	return ProcessProof(leaf, proof) == root
}

// ProcessProof folds proof into leaf and returns the resulting root.
func ProcessProof(leaf [32]byte, proof [][32]byte) [32]byte {
	current := leaf
	for _, sibling := range proof {
		current = hashSortedPair(current, sibling)
	}
	return current
}

// ParseHash decodes a 0x-prefixed 32-byte hex string.
func ParseHash(s string) ([32]byte, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return [32]byte{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid hash %q: expected 32 bytes, got %d", s, len(raw))
	}
	return [32]byte(raw), nil
}

// ParseProof decodes a hex-encoded proof.
func ParseProof(hexProof []string) ([][32]byte, error) {
	proof := make([][32]byte, len(hexProof))
	for i, s := range hexProof {
		h, err := ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("proof element %d: %w", i, err)
		}
		proof[i] = h
	}
	return proof, nil
}

// ProofFromBytes converts raw proof elements, enforcing the 32-byte width.
func ProofFromBytes(raw [][]byte) ([][32]byte, error) {
	proof := make([][32]byte, len(raw))
	for i, b := range raw {
		if len(b) != 32 {
			return nil, fmt.Errorf("proof element %d: expected 32 bytes, got %d", i, len(b))
		}
		proof[i] = [32]byte(b)
	}
	return proof, nil
}

// FormatProof hex-encodes each proof element.
func FormatProof(proof [][32]byte) []string {
	out := make([]string, len(proof))
	for i, p := range proof {
		out[i] = hexutil.Encode(p[:])
	}
	return out
}

// hashSortedPair computes keccak256(min(a,b) || max(a,b)).
func hashSortedPair(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak256(a[:], b[:])
}

// keccak256 is the only hash used for leaves and interior nodes.
func keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}
