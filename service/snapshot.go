package service

import (
	"context"

	"ewp-backend/blockchain/evb"
	"ewp-backend/models"
)

// Dashboard is the operator's read-only view of an election.
type Dashboard struct {
	ElectionID        string                   `json:"election_id"`
	ManifestID        string                   `json:"manifest_id"`
	NotBefore         string                   `json:"not_before"`
	NotAfter          string                   `json:"not_after"`
	VoterRollCeiling  int                      `json:"voter_roll_ceiling"`
	CredentialsIssued int                      `json:"credentials_issued"`
	ChallengesIssued  int                      `json:"challenges_issued"`
	ChallengesUsed    int                      `json:"challenges_used"`
	BallotsCast       int                      `json:"ballots_cast"`
	SpoiledBallots    int                      `json:"spoiled_ballots"`
	LatestSTH         *models.SignedTreeHead   `json:"latest_sth,omitempty"`
	EventCounts       map[models.EventType]int `json:"event_counts"`
	LedgerAcks        int                      `json:"ledger_acks"`
	FraudCases        []models.FraudCase       `json:"fraud_cases"`
	OpenFraudCases    int                      `json:"open_fraud_cases"`
	Tally             *models.TallyResult      `json:"tally,omitempty"`
	Metrics           MetricsResponse          `json:"metrics"`
	UpdatedAt         string                   `json:"updated_at"`
}

// TrustPortal is the public audit view: everything a third party needs
// to check the election, with every check's outcome.
type TrustPortal struct {
	Manifest       *models.ElectionManifest      `json:"manifest"`
	ManifestReport *models.VerificationReport    `json:"manifest_report"`
	STHs           []models.SignedTreeHead       `json:"sth_history"`
	Events         []models.VclEvent             `json:"events"`
	LedgerReport   *models.VerificationReport    `json:"ledger_report"`
	TallyReport    *models.VerificationReport    `json:"tally_report,omitempty"`
	Tally          *models.TallyResult           `json:"tally,omitempty"`
	LedgerAcks     map[string][]models.LedgerAck `json:"ledger_acks"`
	RemoteLedgers  []*models.VerificationReport  `json:"remote_ledgers,omitempty"`
}

func isOpen(status string) bool {
	switch status {
	case models.FraudResolvedConfirmed, models.FraudResolvedNoAction, models.FraudDismissed:
		return false
	}
	return true
}

// Dashboard summarises the election.
func (vs *VotingService) Dashboard() (*Dashboard, error) {
	var d *Dashboard
	err := vs.view(func(st *models.ElectionState) error {
		m := st.Manifest
		d = &Dashboard{
			ElectionID:        m.ElectionID,
			ManifestID:        m.ManifestID,
			NotBefore:         m.NotBefore,
			NotAfter:          m.NotAfter,
			VoterRollCeiling:  m.VoterRoll.Ceiling,
			CredentialsIssued: len(st.Credentials),
			ChallengesIssued:  len(st.Challenges),
			BallotsCast:       len(evb.New(st, vs.signer).GetAllBallots()),
			SpoiledBallots:    len(st.Spoiled),
			LatestSTH:         st.LatestSTH(),
			EventCounts:       make(map[models.EventType]int),
			FraudCases:        FraudCases(st),
			Tally:             st.Tally,
			Metrics:           vs.metrics.GetMetrics(),
			UpdatedAt:         st.UpdatedAt,
		}
		for _, c := range st.Challenges {
			if c.Used {
				d.ChallengesUsed++
			}
		}
		for _, t := range models.EventTypes {
			d.EventCounts[t] = 0
		}
		for _, ev := range st.Events {
			d.EventCounts[ev.Type]++
		}
		for _, acks := range st.LedgerAcks {
			d.LedgerAcks += len(acks)
		}
		for _, c := range d.FraudCases {
			if isOpen(c.Status) {
				d.OpenFraudCases++
			}
		}
		return nil
	})
	if err != nil {
		return nil, asError("dashboard", err)
	}
	return d, nil
}

// TrustPortal builds the public audit snapshot, including a read-back of
// every configured ledger node.
func (vs *VotingService) TrustPortal(ctx context.Context) (*TrustPortal, error) {
	var tp *TrustPortal
	err := vs.view(func(st *models.ElectionState) error {
		tp = &TrustPortal{
			Manifest:       st.Manifest,
			ManifestReport: verifyManifestState(st),
			STHs:           st.STHs,
			Events:         st.Events,
			LedgerReport:   verifyLocalLedger(st, vs.signer),
			Tally:          st.Tally,
			LedgerAcks:     st.LedgerAcks,
		}
		if st.Tally != nil {
			tp.TallyReport = verifyTally(st, st.Tally)
		}
		return nil
	})
	if err != nil {
		return nil, asError("trust portal", err)
	}
	tp.RemoteLedgers = vs.replicator.Audit(ctx, tp.LedgerAcks)
	return tp, nil
}
