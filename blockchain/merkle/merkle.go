// Package merkle builds the bulletin board's binary Merkle tree.
//
// An odd node at any level is paired with itself. Root computation and
// proof verification both follow that rule, and verification also insists
// that a duplicated sibling equals the running hash and that every side
// flag matches the leaf position. Without those two checks the
// duplicate-last-node rule lets a tree of n and a tree of n+1 leaves share a
// root, which is the known malleability of this construction.
package merkle

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/xerrors"

	"ewp-backend/encryption"
	"ewp-backend/models"
)

// LeafHash hashes the canonical JSON of a leaf payload.
func LeafHash(payload interface{}) ([]byte, error) {
	return encryption.CanonicalHash(encryption.DomainLeaf, payload)
}

// NodeHash combines two children.
func NodeHash(left, right []byte) []byte {
	return encryption.Hash(encryption.DomainNode, left, right)
}

// EmptyRoot is the root of a tree with no leaves.
func EmptyRoot() []byte {
	return encryption.Hash(encryption.DomainEmpty)
}

// Root computes the tree root from leaf hashes.
func Root(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return EmptyRoot()
	}
	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, NodeHash(level[i], right))
		}
		level = next
	}
	return level[0]
}

// RootHex computes the root from hex-encoded leaf hashes.
func RootHex(leafHashes []string) (string, error) {
	leaves, err := decodeAll(leafHashes)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(Root(leaves)), nil
}

// Proof returns the inclusion proof of the leaf at index.
func Proof(leaves [][]byte, index int) (*models.InclusionProof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, xerrors.Errorf("leaf index %d out of range [0,%d)", index, len(leaves))
	}
	proof := &models.InclusionProof{
		LeafIndex: index,
		LeafHash:  hex.EncodeToString(leaves[index]),
		TreeSize:  len(leaves),
		Path:      []models.ProofStep{},
	}

	level := leaves
	idx := index
	for len(level) > 1 {
		var step models.ProofStep
		if idx%2 == 1 {
			step = models.ProofStep{Hash: hex.EncodeToString(level[idx-1]), Side: models.SideLeft}
		} else {
			sibling := level[idx]
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			step = models.ProofStep{Hash: hex.EncodeToString(sibling), Side: models.SideRight}
		}
		proof.Path = append(proof.Path, step)

		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, NodeHash(level[i], right))
		}
		level = next
		idx /= 2
	}
	proof.RootHash = hex.EncodeToString(level[0])
	return proof, nil
}

// ProofHex is Proof over hex-encoded leaf hashes.
func ProofHex(leafHashes []string, index int) (*models.InclusionProof, error) {
	leaves, err := decodeAll(leafHashes)
	if err != nil {
		return nil, err
	}
	return Proof(leaves, index)
}

// VerifyProof folds the path onto the leaf hash and compares the result to
// the claimed root.
func VerifyProof(p *models.InclusionProof) bool {
	if p == nil || p.TreeSize <= 0 || p.LeafIndex < 0 || p.LeafIndex >= p.TreeSize {
		return false
	}
	h, err := hex.DecodeString(p.LeafHash)
	if err != nil {
		return false
	}
	root, err := hex.DecodeString(p.RootHash)
	if err != nil {
		return false
	}

	idx, size := p.LeafIndex, p.TreeSize
	steps := 0
	for size > 1 {
		if steps >= len(p.Path) {
			return false
		}
		step := p.Path[steps]
		sibling, err := hex.DecodeString(step.Hash)
		if err != nil {
			return false
		}
		switch {
		case idx%2 == 1:
			if step.Side != models.SideLeft {
				return false
			}
			h = NodeHash(sibling, h)
		case idx+1 == size:
			// last node on an odd level: paired with itself
			if step.Side != models.SideRight || !bytes.Equal(sibling, h) {
				return false
			}
			h = NodeHash(h, sibling)
		default:
			if step.Side != models.SideRight {
				return false
			}
			h = NodeHash(h, sibling)
		}
		idx /= 2
		size = (size + 1) / 2
		steps++
	}
	if steps != len(p.Path) {
		return false
	}
	return bytes.Equal(h, root)
}

func decodeAll(hashes []string) ([][]byte, error) {
	out := make([][]byte, len(hashes))
	for i, s := range hashes {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, xerrors.Errorf("leaf %d: %w", i, err)
		}
		if len(b) == 0 {
			return nil, xerrors.New("empty leaf hash")
		}
		out[i] = b
	}
	return out, nil
}
