package models

// CastRequest is the body submitted to cast a ballot.
type CastRequest struct {
	EWPVersion       string           `json:"ewp_version"`
	ElectionID       string           `json:"election_id"`
	JurisdictionID   string           `json:"jurisdiction_id"`
	ManifestID       string           `json:"manifest_id"`
	ChallengeID      string           `json:"challenge_id"`
	Challenge        string           `json:"challenge"`
	Nullifier        string           `json:"nullifier"`
	EligibilityProof EligibilityProof `json:"eligibility_proof"`
	EncryptedBallot  EncryptedBallot  `json:"encrypted_ballot"`
}

// VoteChainAnchor points a receipt at its ledger event.
type VoteChainAnchor struct {
	TxID        string    `json:"tx_id"`
	EventType   EventType `json:"event_type"`
	STHRootHash string    `json:"sth_root_hash"`
}

// Replication outcomes recorded on receipts.
const (
	ReplicationReplicated = "replicated"
	ReplicationPartial    = "partial"
	ReplicationLocalOnly  = "local_only"
)

// CastReceipt is the signed proof of a recorded cast.
type CastReceipt struct {
	ReceiptID         string          `json:"receipt_id"`
	ElectionID        string          `json:"election_id"`
	ManifestID        string          `json:"manifest_id"`
	BallotID          string          `json:"ballot_id"`
	BallotHash        string          `json:"ballot_hash"`
	Nullifier         string          `json:"nullifier"`
	LeafHash          string          `json:"leaf_hash"`
	STH               SignedTreeHead  `json:"sth"`
	InclusionProof    InclusionProof  `json:"inclusion_proof"`
	VoteChainAnchor   VoteChainAnchor `json:"votechain_anchor"`
	LedgerAcks        []LedgerAck     `json:"ledger_acks,omitempty"`
	ReplicationStatus string          `json:"replication_status"`
	IssuedAt          string          `json:"issued_at"`
	Signature         *Signature      `json:"signature,omitempty"`
}

// SigningBody returns the receipt without its signature.
func (r CastReceipt) SigningBody() CastReceipt {
	r.Signature = nil
	return r
}

// Cast response statuses.
const StatusCastRecorded = "cast_recorded"

type CastResponse struct {
	Status      string       `json:"status"`
	CastReceipt *CastReceipt `json:"cast_receipt"`
}
