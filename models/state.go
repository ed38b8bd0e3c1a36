package models

// StateVersion is bumped whenever the state blob layout changes.
const StateVersion = 1

// TrusteeShareRecord is one Shamir share of the election secret.
type TrusteeShareRecord struct {
	ID string `json:"id"`
	X  int    `json:"x"`
	Y  string `json:"y"`
}

// IssuerSecret is a simulated issuer's signing key.
type IssuerSecret struct {
	Index  int    `json:"index"`
	Secret string `json:"secret"`
}

// Idempotency record states.
const (
	IdempotencyPending  = "pending"
	IdempotencyComplete = "complete"
)

// IdempotencyRecord caches the exact response bytes for a request key.
type IdempotencyRecord struct {
	Key         string `json:"key"`
	RequestHash string `json:"request_hash"`
	Status      string `json:"status"`
	Response    string `json:"response,omitempty"`
	CreatedAt   string `json:"created_at"`
	// Set while pending so a stalled cast can be finished from the board.
	CastTxID string `json:"cast_tx_id,omitempty"`
	STHTxID  string `json:"sth_tx_id,omitempty"`
}

// TallyResult is the signed aggregate published at close.
type TallyResult struct {
	TallyID       string                    `json:"tally_id"`
	ElectionID    string                    `json:"election_id"`
	ManifestID    string                    `json:"manifest_id"`
	BallotCount   int                       `json:"ballot_count"`
	ExcludedCount int                       `json:"excluded_count"`
	SpoiledCount  int                       `json:"spoiled_count"`
	Totals        map[string]map[string]int `json:"totals"`
	TreeSize      int                       `json:"tree_size"`
	RootHash      string                    `json:"root_hash"`
	PublishedAt   string                    `json:"published_at"`
	Signature     *Signature                `json:"signature,omitempty"`
	TxID          string                    `json:"tx_id,omitempty"`
}

// SigningBody returns the tally without signature and anchor.
func (t TallyResult) SigningBody() TallyResult {
	t.Signature = nil
	t.TxID = ""
	return t
}

// ElectionState is the full persisted engine state.
type ElectionState struct {
	Version       int                           `json:"version"`
	Manifest      *ElectionManifest             `json:"manifest"`
	SignerKey     string                        `json:"signer_key"`
	TrusteeShares []TrusteeShareRecord          `json:"trustee_shares"`
	IssuerSecrets []IssuerSecret                `json:"issuer_secrets"`
	VoterRoll     []string                      `json:"voter_roll"`
	Credentials   map[string]*Credential        `json:"credentials"`
	Challenges    map[string]*Challenge         `json:"challenges"`
	Leaves        []BbLeaf                      `json:"bb_leaves"`
	STHs          []SignedTreeHead              `json:"bb_sths"`
	Events        []VclEvent                    `json:"vcl_events"`
	LedgerAcks    map[string][]LedgerAck        `json:"ledger_acks"`
	LedgerKeys    map[string]string             `json:"ledger_keys"`
	Idempotency   map[string]*IdempotencyRecord `json:"idempotency"`
	Spoiled       map[string]*SpoiledBallot     `json:"spoiled"`
	Tally         *TallyResult                  `json:"tally,omitempty"`
	CreatedAt     string                        `json:"created_at"`
	UpdatedAt     string                        `json:"updated_at"`
}

// NewElectionState returns an empty state with all maps allocated.
func NewElectionState() *ElectionState {
	s := &ElectionState{Version: StateVersion}
	s.EnsureMaps()
	return s
}

// EnsureMaps allocates any nil maps, e.g. after decoding an old blob.
func (s *ElectionState) EnsureMaps() {
	if s.Credentials == nil {
		s.Credentials = make(map[string]*Credential)
	}
	if s.Challenges == nil {
		s.Challenges = make(map[string]*Challenge)
	}
	if s.LedgerAcks == nil {
		s.LedgerAcks = make(map[string][]LedgerAck)
	}
	if s.LedgerKeys == nil {
		s.LedgerKeys = make(map[string]string)
	}
	if s.Idempotency == nil {
		s.Idempotency = make(map[string]*IdempotencyRecord)
	}
	if s.Spoiled == nil {
		s.Spoiled = make(map[string]*SpoiledBallot)
	}
}

// LatestSTH returns the newest tree head, or nil.
func (s *ElectionState) LatestSTH() *SignedTreeHead {
	if len(s.STHs) == 0 {
		return nil
	}
	return &s.STHs[len(s.STHs)-1]
}

// EventsOfType filters events by kind, in ledger order.
func (s *ElectionState) EventsOfType(t EventType) []VclEvent {
	var out []VclEvent
	for _, e := range s.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// FindEvent looks up an event by tx_id.
func (s *ElectionState) FindEvent(txID string) *VclEvent {
	for i := range s.Events {
		if s.Events[i].TxID == txID {
			return &s.Events[i]
		}
	}
	return nil
}

// Fraud case statuses.
const (
	FraudPendingReview     = "pending_review"
	FraudTriaged           = "triaged"
	FraudInvestigating     = "investigating"
	FraudEscalated         = "escalated"
	FraudResolvedConfirmed = "resolved_confirmed"
	FraudResolvedNoAction  = "resolved_no_action"
	FraudDismissed         = "dismissed"
)

// FraudAction is one step in a case's history.
type FraudAction struct {
	TxID       string `json:"tx_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Note       string `json:"note,omitempty"`
	At         string `json:"at"`
}

// FraudCase is derived by folding flag and action events.
type FraudCase struct {
	CaseID           string        `json:"case_id"`
	ElectionID       string        `json:"election_id"`
	Status           string        `json:"status"`
	Severity         string        `json:"severity"`
	Reason           string        `json:"reason"`
	EvidenceStrength string        `json:"evidence_strength"`
	Nullifier        string        `json:"nullifier,omitempty"`
	AssignedTo       string        `json:"assigned_to,omitempty"`
	OpenedAt         string        `json:"opened_at"`
	FlagTxID         string        `json:"flag_tx_id"`
	History          []FraudAction `json:"history"`
}
