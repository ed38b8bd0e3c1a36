package models

import (
	"encoding/json"

	"golang.org/x/xerrors"
)

// EventType names one of the ledger event kinds.
type EventType string

const (
	EventManifestPublished EventType = "election_manifest_published"
	EventCredentialIssued  EventType = "credential_issued"
	EventBallotCast        EventType = "ewp_ballot_cast"
	EventSTHPublished      EventType = "bb_sth_published"
	EventTallyPublished    EventType = "tally_published"
	EventFraudFlag         EventType = "fraud_flag"
	EventFraudFlagAction   EventType = "fraud_flag_action"
)

// EventTypes lists every kind in a stable order.
var EventTypes = []EventType{
	EventManifestPublished,
	EventCredentialIssued,
	EventBallotCast,
	EventSTHPublished,
	EventTallyPublished,
	EventFraudFlag,
	EventFraudFlagAction,
}

// EventPayload is implemented by every typed payload.
type EventPayload interface {
	EventType() EventType
}

type ManifestPublishedPayload struct {
	ElectionID     string `json:"election_id"`
	JurisdictionID string `json:"jurisdiction_id"`
	ManifestID     string `json:"manifest_id"`
	NotBefore      string `json:"not_before"`
	NotAfter       string `json:"not_after"`
	RollRoot       string `json:"voter_roll_root"`
	RollCeiling    int    `json:"voter_roll_ceiling"`
}

type CredentialIssuedPayload struct {
	ElectionID string `json:"election_id"`
	DID        string `json:"did"`
	Issuers    []int  `json:"issuers"`
}

type BallotCastPayload struct {
	ElectionID     string `json:"election_id"`
	JurisdictionID string `json:"jurisdiction_id"`
	ManifestID     string `json:"manifest_id"`
	BallotID       string `json:"ballot_id"`
	Nullifier      string `json:"nullifier"`
	BallotHash     string `json:"ballot_hash"`
	LeafIndex      int    `json:"leaf_index"`
	LeafHash       string `json:"leaf_hash"`
	RootHash       string `json:"root_hash"`
	TreeSize       int    `json:"tree_size"`
}

type STHPublishedPayload struct {
	ElectionID string         `json:"election_id"`
	STH        SignedTreeHead `json:"sth"`
}

type TallyPublishedPayload struct {
	ElectionID    string `json:"election_id"`
	TallyID       string `json:"tally_id"`
	BallotCount   int    `json:"ballot_count"`
	ExcludedCount int    `json:"excluded_count"`
	RootHash      string `json:"root_hash"`
	ResultHash    string `json:"result_hash"`
}

// Fraud evidence, severity and reason values.
const (
	EvidenceCryptographic = "cryptographic"
	EvidenceProcedural    = "procedural"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	ReasonNullifierReuse = "nullifier_reuse"
)

type FraudFlagPayload struct {
	CaseID           string `json:"case_id"`
	ElectionID       string `json:"election_id"`
	Reason           string `json:"reason"`
	EvidenceStrength string `json:"evidence_strength"`
	Status           string `json:"status"`
	Severity         string `json:"severity"`
	Nullifier        string `json:"nullifier,omitempty"`
	ChallengeID      string `json:"challenge_id,omitempty"`
	PriorTxID        string `json:"prior_tx_id,omitempty"`
}

type FraudFlagActionPayload struct {
	CaseID     string `json:"case_id"`
	ElectionID string `json:"election_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Note       string `json:"note,omitempty"`
}

func (ManifestPublishedPayload) EventType() EventType { return EventManifestPublished }
func (CredentialIssuedPayload) EventType() EventType  { return EventCredentialIssued }
func (BallotCastPayload) EventType() EventType        { return EventBallotCast }
func (STHPublishedPayload) EventType() EventType      { return EventSTHPublished }
func (TallyPublishedPayload) EventType() EventType    { return EventTallyPublished }
func (FraudFlagPayload) EventType() EventType         { return EventFraudFlag }
func (FraudFlagActionPayload) EventType() EventType   { return EventFraudFlagAction }

// NewPayload returns an empty payload of the given kind.
func NewPayload(t EventType) (EventPayload, error) {
	switch t {
	case EventManifestPublished:
		return &ManifestPublishedPayload{}, nil
	case EventCredentialIssued:
		return &CredentialIssuedPayload{}, nil
	case EventBallotCast:
		return &BallotCastPayload{}, nil
	case EventSTHPublished:
		return &STHPublishedPayload{}, nil
	case EventTallyPublished:
		return &TallyPublishedPayload{}, nil
	case EventFraudFlag:
		return &FraudFlagPayload{}, nil
	case EventFraudFlagAction:
		return &FraudFlagActionPayload{}, nil
	}
	return nil, xerrors.Errorf("unknown event type %q", t)
}

// VclEvent is a signed, self-addressed ledger fact. TxID is the hash of
// TxBody; the signature covers the same body.
type VclEvent struct {
	TxID       string       `json:"tx_id"`
	Type       EventType    `json:"type"`
	RecordedAt string       `json:"recorded_at"`
	Payload    EventPayload `json:"payload"`
	Kid        string       `json:"kid"`
	Sig        string       `json:"sig"`
}

// TxBody is the content a tx_id is derived from.
type TxBody struct {
	Type       EventType    `json:"type"`
	RecordedAt string       `json:"recorded_at"`
	Payload    EventPayload `json:"payload"`
}

func (e *VclEvent) Body() TxBody {
	return TxBody{Type: e.Type, RecordedAt: e.RecordedAt, Payload: e.Payload}
}

// UnmarshalJSON decodes the payload into the struct matching Type.
func (e *VclEvent) UnmarshalJSON(data []byte) error {
	var aux struct {
		TxID       string          `json:"tx_id"`
		Type       EventType       `json:"type"`
		RecordedAt string          `json:"recorded_at"`
		Payload    json.RawMessage `json:"payload"`
		Kid        string          `json:"kid"`
		Sig        string          `json:"sig"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	payload, err := NewPayload(aux.Type)
	if err != nil {
		return err
	}
	if len(aux.Payload) > 0 && string(aux.Payload) != "null" {
		if err := json.Unmarshal(aux.Payload, payload); err != nil {
			return xerrors.Errorf("payload of %s: %w", aux.Type, err)
		}
	}
	*e = VclEvent{
		TxID:       aux.TxID,
		Type:       aux.Type,
		RecordedAt: aux.RecordedAt,
		Payload:    payload,
		Kid:        aux.Kid,
		Sig:        aux.Sig,
	}
	return nil
}

// NodeRole is the trust domain a ledger node serves.
type NodeRole string

const (
	RoleFederal   NodeRole = "federal"
	RoleState     NodeRole = "state"
	RoleOversight NodeRole = "oversight"
)

var roleEventTypes = map[NodeRole][]EventType{
	RoleFederal: {
		EventManifestPublished,
		EventBallotCast,
		EventSTHPublished,
		EventTallyPublished,
	},
	RoleState: {
		EventCredentialIssued,
		EventBallotCast,
		EventSTHPublished,
	},
	RoleOversight: {
		EventFraudFlag,
		EventFraudFlagAction,
		EventSTHPublished,
	},
}

// ParseRole validates a role name.
func ParseRole(s string) (NodeRole, error) {
	r := NodeRole(s)
	if _, ok := roleEventTypes[r]; !ok {
		return "", xerrors.Errorf("unknown node role %q", s)
	}
	return r, nil
}

// AllowedEventTypes returns the kinds a role may originate.
func (r NodeRole) AllowedEventTypes() []EventType {
	return append([]EventType(nil), roleEventTypes[r]...)
}

// Allows reports whether the role may originate events of type t.
func (r NodeRole) Allows(t EventType) bool {
	for _, et := range roleEventTypes[r] {
		if et == t {
			return true
		}
	}
	return false
}
