package ledger

import (
	"fmt"

	"ewp-backend/models"
)

// VerifyChain checks every entry's link, hash, tx_id and event signature
// and reports each failure.
func VerifyChain(entries []*models.LedgerEntry) *models.VerificationReport {
	report := models.NewReport("ledger_chain")

	bad, err := models.ValidateChain(entries)
	detail := fmt.Sprintf("%d entries", len(entries))
	if err != nil {
		detail = err.Error()
	}
	report.Add("hash_chain", bad == 0, detail)

	eventsOK := true
	for _, e := range entries {
		if err := VerifyEvent(&e.Event); err != nil {
			eventsOK = report.Add(fmt.Sprintf("entry_%d_event", e.Index), false, err.Error())
		}
	}
	report.Add("event_signatures", eventsOK, "")
	return report
}
