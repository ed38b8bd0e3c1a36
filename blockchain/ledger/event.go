package ledger

import (
	"time"

	"golang.org/x/xerrors"

	"ewp-backend/encryption"
	"ewp-backend/models"
)

// ComputeTxID derives the self-certifying id of an event body.
func ComputeTxID(body models.TxBody) (string, error) {
	h, err := encryption.CanonicalHash(encryption.DomainTx, body)
	if err != nil {
		return "", err
	}
	return encryption.EncodeHex(h), nil
}

// NewEvent builds and signs an event carrying payload.
func NewEvent(signer *encryption.Signer, payload models.EventPayload, at time.Time) (*models.VclEvent, error) {
	ev := &models.VclEvent{
		Type:       payload.EventType(),
		RecordedAt: models.FormatTime(at),
		Payload:    payload,
		Kid:        signer.Kid(),
	}
	body := ev.Body()
	txID, err := ComputeTxID(body)
	if err != nil {
		return nil, xerrors.Errorf("tx id: %v", err)
	}
	sig, err := signer.SignCanonical(body)
	if err != nil {
		return nil, xerrors.Errorf("sign event: %v", err)
	}
	ev.TxID = txID
	ev.Sig = sig
	return ev, nil
}

// VerifyEvent checks that the tx_id re-derives from the event content and
// that the signature recovers to kid.
func VerifyEvent(ev *models.VclEvent) error {
	if ev.Payload == nil {
		return xerrors.New("event has no payload")
	}
	if ev.Payload.EventType() != ev.Type {
		return xerrors.Errorf("payload kind %s does not match type %s", ev.Payload.EventType(), ev.Type)
	}
	body := ev.Body()
	txID, err := ComputeTxID(body)
	if err != nil {
		return err
	}
	if txID != ev.TxID {
		return xerrors.New("tx_id does not match event content")
	}
	if !encryption.VerifyCanonical(ev.Kid, body, ev.Sig) {
		return xerrors.New("event signature does not recover to kid")
	}
	return nil
}
