package models

// Leaf payload kinds.
const (
	LeafBallotCast = "ewp_ballot_cast"
)

// LeafPayload is what gets hashed into a bulletin-board leaf.
type LeafPayload struct {
	Kind            string           `json:"kind"`
	ElectionID      string           `json:"election_id"`
	Nullifier       string           `json:"nullifier,omitempty"`
	EncryptedBallot *EncryptedBallot `json:"encrypted_ballot,omitempty"`
	ReceivedAt      string           `json:"received_at"`
}

// BbLeaf is one append-only bulletin-board entry.
type BbLeaf struct {
	Index    int         `json:"index"`
	LeafHash string      `json:"leaf_hash"`
	Payload  LeafPayload `json:"payload"`
}

// SignedTreeHead commits to the board at a given size.
type SignedTreeHead struct {
	TreeSize  int    `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	Timestamp string `json:"timestamp"`
	Kid       string `json:"kid"`
	Sig       string `json:"sig,omitempty"`
}

// STHBody is the part of a tree head covered by its signature.
type STHBody struct {
	TreeSize  int    `json:"tree_size"`
	RootHash  string `json:"root_hash"`
	Timestamp string `json:"timestamp"`
	Kid       string `json:"kid"`
}

func (s *SignedTreeHead) Body() STHBody {
	return STHBody{
		TreeSize:  s.TreeSize,
		RootHash:  s.RootHash,
		Timestamp: s.Timestamp,
		Kid:       s.Kid,
	}
}

// Proof sides: the sibling sits to the left or right of the running hash.
const (
	SideLeft  = "L"
	SideRight = "R"
)

type ProofStep struct {
	Hash string `json:"hash"`
	Side string `json:"side"`
}

type InclusionProof struct {
	LeafIndex int         `json:"leaf_index"`
	LeafHash  string      `json:"leaf_hash"`
	TreeSize  int         `json:"tree_size"`
	RootHash  string      `json:"root_hash"`
	Path      []ProofStep `json:"path"`
}

// ConsistencyProof is reserved for proving that one tree head extends an
// earlier one. Tree heads carry everything needed to add it later.
type ConsistencyProof struct {
	FromSize int      `json:"from_size"`
	ToSize   int      `json:"to_size"`
	Path     []string `json:"path"`
}
