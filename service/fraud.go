package service

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"

	"ewp-backend/blockchain/ledger"
	"ewp-backend/models"
)

// Fraud case actions.
const (
	ActionTriage      = "triage"
	ActionAssign      = "assign"
	ActionInvestigate = "investigate"
	ActionEscalate    = "escalate"
	ActionConfirm     = "confirm"
	ActionClear       = "clear"
	ActionDismiss     = "dismiss"
)

type transition struct {
	from []string
	to   string
}

// fraudTransitions maps an action to the statuses it may start from and
// the status it leads to. An empty target keeps the current status.
var fraudTransitions = map[string]transition{
	ActionTriage:      {from: []string{models.FraudPendingReview}, to: models.FraudTriaged},
	ActionAssign:      {from: []string{models.FraudTriaged, models.FraudInvestigating, models.FraudEscalated}},
	ActionInvestigate: {from: []string{models.FraudTriaged}, to: models.FraudInvestigating},
	ActionEscalate:    {from: []string{models.FraudTriaged, models.FraudInvestigating}, to: models.FraudEscalated},
	ActionConfirm:     {from: []string{models.FraudInvestigating, models.FraudEscalated}, to: models.FraudResolvedConfirmed},
	ActionClear:       {from: []string{models.FraudInvestigating, models.FraudEscalated}, to: models.FraudResolvedNoAction},
	ActionDismiss:     {from: []string{models.FraudPendingReview, models.FraudTriaged}, to: models.FraudDismissed},
}

// NextFraudStatus returns the status action leads to from status.
func NextFraudStatus(status, action string) (string, bool) {
	t, ok := fraudTransitions[action]
	if !ok {
		return "", false
	}
	for _, f := range t.from {
		if f == status {
			if t.to == "" {
				return status, true
			}
			return t.to, true
		}
	}
	return "", false
}

// FraudCases folds flag and action events into cases, oldest first.
func FraudCases(st *models.ElectionState) []models.FraudCase {
	cases := make(map[string]*models.FraudCase)
	var order []string
	for _, ev := range st.Events {
		switch p := ev.Payload.(type) {
		case *models.FraudFlagPayload:
			if _, dup := cases[p.CaseID]; dup {
				continue
			}
			cases[p.CaseID] = &models.FraudCase{
				CaseID:           p.CaseID,
				ElectionID:       p.ElectionID,
				Status:           p.Status,
				Severity:         p.Severity,
				Reason:           p.Reason,
				EvidenceStrength: p.EvidenceStrength,
				Nullifier:        p.Nullifier,
				OpenedAt:         ev.RecordedAt,
				FlagTxID:         ev.TxID,
				History:          []models.FraudAction{},
			}
			order = append(order, p.CaseID)
		case *models.FraudFlagActionPayload:
			c := cases[p.CaseID]
			if c == nil {
				continue
			}
			next, ok := NextFraudStatus(c.Status, p.Action)
			if !ok || next != p.ToStatus {
				log.WithField("tx_id", ev.TxID).Warnf("Ignoring invalid fraud action %s on %s", p.Action, c.Status)
				continue
			}
			c.Status = next
			if p.AssignedTo != "" {
				c.AssignedTo = p.AssignedTo
			}
			c.History = append(c.History, models.FraudAction{
				TxID:       ev.TxID,
				Action:     p.Action,
				Actor:      p.Actor,
				FromStatus: p.FromStatus,
				ToStatus:   p.ToStatus,
				AssignedTo: p.AssignedTo,
				Note:       p.Note,
				At:         ev.RecordedAt,
			})
		}
	}
	out := make([]models.FraudCase, 0, len(order))
	for _, id := range order {
		out = append(out, *cases[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt < out[j].OpenedAt })
	return out
}

// FraudCaseAction is a reviewer's request to move a case.
type FraudCaseAction struct {
	CaseID     string `json:"case_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	AssignedTo string `json:"assigned_to,omitempty"`
	Note       string `json:"note,omitempty"`
}

// RecordFraudAction applies an action to a case and anchors it.
func (vs *VotingService) RecordFraudAction(ctx context.Context, a FraudCaseAction) (*models.FraudCase, error) {
	var (
		result *models.FraudCase
		ev     *models.VclEvent
	)
	err := vs.update(func(st *models.ElectionState) error {
		var current *models.FraudCase
		for _, c := range FraudCases(st) {
			if c.CaseID == a.CaseID {
				c := c
				current = &c
			}
		}
		if current == nil {
			return models.NewError(models.ErrNotFound, "unknown fraud case %q", a.CaseID)
		}
		if a.Actor == "" {
			return models.NewError(models.ErrBadRequest, "action needs an actor")
		}
		if a.Action == ActionAssign && a.AssignedTo == "" {
			return models.NewError(models.ErrBadRequest, "assign needs an assignee")
		}
		next, ok := NextFraudStatus(current.Status, a.Action)
		if !ok {
			return models.NewError(models.ErrBadRequest, "cannot %s a case that is %s", a.Action, current.Status)
		}

		var err error
		ev, err = ledger.NewEvent(vs.signer, &models.FraudFlagActionPayload{
			CaseID:     a.CaseID,
			ElectionID: current.ElectionID,
			Action:     a.Action,
			Actor:      a.Actor,
			FromStatus: current.Status,
			ToStatus:   next,
			AssignedTo: a.AssignedTo,
			Note:       a.Note,
		}, vs.now())
		if err != nil {
			return err
		}
		st.Events = append(st.Events, *ev)
		for _, c := range FraudCases(st) {
			if c.CaseID == a.CaseID {
				c := c
				result = &c
			}
		}
		return nil
	})
	if err != nil {
		return nil, asError("record fraud action", err)
	}
	vs.replicateAndRecord(ctx, ev)
	return result, nil
}
