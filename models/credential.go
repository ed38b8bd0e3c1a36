package models

// IssuerSignature is one issuer's unblinded signature (R', s') on a
// credential public key.
type IssuerSignature struct {
	IssuerIndex int    `json:"issuer_index"`
	R           string `json:"r"`
	S           string `json:"s"`
}

// Credential is a voter's cryptographic identity. PrivateKey never leaves
// the holder; it is kept here because the holder is simulated in-process.
type Credential struct {
	DID              string            `json:"did"`
	PublicKey        string            `json:"public_key"`
	PrivateKey       string            `json:"private_key"`
	IssuerSignatures []IssuerSignature `json:"issuer_signatures"`
	IssuedAt         string            `json:"issued_at"`
}

// Challenge is an anti-replay nonce for one cast attempt.
type Challenge struct {
	ChallengeID string     `json:"challenge_id"`
	ElectionID  string     `json:"election_id"`
	Challenge   string     `json:"challenge"`
	IssuedAt    string     `json:"issued_at"`
	ExpiresAt   string     `json:"expires_at"`
	Signature   *Signature `json:"server_sig,omitempty"`
	Used        bool       `json:"used"`
	UsedAt      string     `json:"used_at,omitempty"`
}

// ChallengeBody is what the server signature covers.
type ChallengeBody struct {
	ChallengeID string `json:"challenge_id"`
	ElectionID  string `json:"election_id"`
	Challenge   string `json:"challenge"`
	ExpiresAt   string `json:"expires_at"`
}

func (c *Challenge) Body() ChallengeBody {
	return ChallengeBody{
		ChallengeID: c.ChallengeID,
		ElectionID:  c.ElectionID,
		Challenge:   c.Challenge,
		ExpiresAt:   c.ExpiresAt,
	}
}

// PublicInputs are the values an eligibility proof is bound to.
type PublicInputs struct {
	ElectionID     string `json:"election_id"`
	JurisdictionID string `json:"jurisdiction_id"`
	Nullifier      string `json:"nullifier"`
	Challenge      string `json:"challenge"`
}

// EligibilityProof shows that a certified credential authorised this cast.
type EligibilityProof struct {
	PublicInputs     PublicInputs      `json:"public_inputs"`
	CredentialPub    string            `json:"credential_pub"`
	IssuerSignatures []IssuerSignature `json:"issuer_signatures"`
	KnowledgeSig     string            `json:"pi"`
}
