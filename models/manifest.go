package models

import (
	"time"
)

// EWPVersion is the protocol version stamped on manifests and cast requests.
const EWPVersion = "0.1"

// TimeFormat is used for every timestamp that ends up hashed or signed.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC with millisecond precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a timestamp produced by FormatTime (or any RFC 3339 value).
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// Signature is a detached engine signature.
type Signature struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Sig string `json:"sig"`
}

// SignatureAlg identifies engine signatures (secp256k1 over Keccak-256).
const SignatureAlg = "ES256K-KECCAK"

type Threshold struct {
	T int `json:"t" toml:"t"`
	N int `json:"n" toml:"n"`
}

// IssuerKey is one credential issuer's public key. Index starts at 1.
type IssuerKey struct {
	Index     int    `json:"index"`
	PublicKey string `json:"public_key"`
}

// TrusteeKey publishes the commitment y·G of a trustee's share.
type TrusteeKey struct {
	ID        string `json:"id"`
	X         int    `json:"x"`
	PublicKey string `json:"public_key"`
}

// RollCommitment commits to the voter roll without listing it.
type RollCommitment struct {
	Root    string `json:"root"`
	Ceiling int    `json:"ceiling"`
}

type Endpoints struct {
	Challenge     string `json:"challenge" toml:"challenge"`
	Cast          string `json:"cast" toml:"cast"`
	BulletinBoard string `json:"bulletin_board" toml:"bulletin_board"`
}

type ContestOption struct {
	ID    string `json:"id" toml:"id"`
	Label string `json:"label" toml:"label"`
}

// Contest types.
const (
	ContestReferendum = "referendum"
	ContestCandidate  = "candidate"
)

type Contest struct {
	ContestID string          `json:"contest_id" toml:"contest_id"`
	Type      string          `json:"type" toml:"type"`
	Title     string          `json:"title" toml:"title"`
	Options   []ContestOption `json:"options" toml:"options"`
}

// HasOption reports whether id is one of the contest's declared options.
func (c *Contest) HasOption(id string) bool {
	for _, o := range c.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

// ElectionManifest is the signed election configuration. ManifestID is the
// hash of the body with both ManifestID and Signature cleared; the signature
// covers the body with ManifestID set.
type ElectionManifest struct {
	EWPVersion        string         `json:"ewp_version"`
	ElectionID        string         `json:"election_id"`
	JurisdictionID    string         `json:"jurisdiction_id"`
	ManifestID        string         `json:"manifest_id,omitempty"`
	NotBefore         string         `json:"not_before"`
	NotAfter          string         `json:"not_after"`
	SuiteID           string         `json:"suite_id"`
	ElectionPublicKey string         `json:"election_public_key"`
	Issuers           []IssuerKey    `json:"issuers"`
	IssuerThreshold   Threshold      `json:"issuer_threshold"`
	VoterRoll         RollCommitment `json:"voter_roll"`
	Trustees          []TrusteeKey   `json:"trustees"`
	TrusteeThreshold  Threshold      `json:"trustee_threshold"`
	Contests          []Contest      `json:"contests"`
	Endpoints         Endpoints      `json:"endpoints"`
	Signature         *Signature     `json:"signature,omitempty"`
}

// IDBody returns the copy whose canonical hash is the manifest id.
func (m ElectionManifest) IDBody() ElectionManifest {
	m.ManifestID = ""
	m.Signature = nil
	return m
}

// SigningBody returns the copy that the manifest signature covers.
func (m ElectionManifest) SigningBody() ElectionManifest {
	m.Signature = nil
	return m
}

// Contest looks up a contest by id.
func (m *ElectionManifest) Contest(id string) *Contest {
	for i := range m.Contests {
		if m.Contests[i].ContestID == id {
			return &m.Contests[i]
		}
	}
	return nil
}

// Issuer looks up an issuer key by its index.
func (m *ElectionManifest) Issuer(index int) *IssuerKey {
	for i := range m.Issuers {
		if m.Issuers[i].Index == index {
			return &m.Issuers[i]
		}
	}
	return nil
}
