package models

// ContestSelection is the chosen option for one contest. Contests the voter
// skipped are omitted from the plaintext entirely.
type ContestSelection struct {
	ContestID string `json:"contest_id"`
	Selection string `json:"selection"`
}

type BallotPlaintext struct {
	ElectionID string             `json:"election_id"`
	ManifestID string             `json:"manifest_id"`
	BallotID   string             `json:"ballot_id"`
	Contests   []ContestSelection `json:"contests"`
	CastAt     string             `json:"cast_at"`
}

// EncryptedBallot is the public ballot envelope.
type EncryptedBallot struct {
	BallotID         string `json:"ballot_id"`
	Ciphertext       string `json:"ciphertext"`
	ValidityProof    string `json:"validity_proof"`
	BallotHash       string `json:"ballot_hash"`
	WrappedBallotKey string `json:"wrapped_ballot_key"`
	WrappedKeyEPK    string `json:"wrapped_ballot_key_epk"`
}

// BallotSecrets are kept by the voter's device until the ballot is either
// cast or spoiled.
type BallotSecrets struct {
	BallotKey string `json:"ballot_key"`
	IV        string `json:"iv"`
}

// SpoiledBallot is a revealed ballot that can be re-encrypted by anyone but
// must never be counted.
type SpoiledBallot struct {
	Ballot    EncryptedBallot `json:"encrypted_ballot"`
	Plaintext BallotPlaintext `json:"plaintext"`
	Secrets   BallotSecrets   `json:"secrets"`
	SpoiledAt string          `json:"spoiled_at"`
}
