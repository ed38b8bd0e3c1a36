package models

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/xerrors"

	"ewp-backend/encryption"
)

// GenesisHash is the prev_hash of the first entry of every ledger chain.
var GenesisHash = hex.EncodeToString(encryption.SHA256([]byte("genesis")))

// LedgerEntry is one row of a ledger node's hash chain.
type LedgerEntry struct {
	Index      uint64   `json:"index"`
	PrevHash   string   `json:"prev_hash"`
	Hash       string   `json:"hash"`
	AcceptedAt string   `json:"accepted_at"`
	Event      VclEvent `json:"event"`
}

// LedgerAck is a node's signature over the hash of an entry it accepted.
type LedgerAck struct {
	NodeID    string   `json:"node_id"`
	Role      NodeRole `json:"role"`
	Index     uint64   `json:"index"`
	EntryHash string   `json:"entry_hash"`
	TxID      string   `json:"tx_id"`
	Alg       string   `json:"alg"`
	Kid       string   `json:"kid"`
	Sig       string   `json:"sig"`
}

// ComputeEntryHash returns hex(SHA-256(prev_hash ‖ canonical(event))).
func ComputeEntryHash(prevHash string, event *VclEvent) (string, error) {
	prev, err := hex.DecodeString(prevHash)
	if err != nil {
		return "", xerrors.Errorf("prev hash: %w", err)
	}
	c, err := encryption.Canonical(event)
	if err != nil {
		return "", err
	}
	buffer := new(bytes.Buffer)
	buffer.Write(prev)
	buffer.Write(c)
	return hex.EncodeToString(encryption.SHA256(buffer.Bytes())), nil
}

// NewLedgerEntry links event onto prev. A nil prev starts a new chain.
func NewLedgerEntry(prev *LedgerEntry, event VclEvent, acceptedAt string) (*LedgerEntry, error) {
	entry := &LedgerEntry{
		Index:      1,
		PrevHash:   GenesisHash,
		AcceptedAt: acceptedAt,
		Event:      event,
	}
	if prev != nil {
		entry.Index = prev.Index + 1
		entry.PrevHash = prev.Hash
	}
	h, err := ComputeEntryHash(entry.PrevHash, &entry.Event)
	if err != nil {
		return nil, err
	}
	entry.Hash = h
	return entry, nil
}

// Validate recomputes the entry's own hash.
func (e *LedgerEntry) Validate() bool {
	h, err := ComputeEntryHash(e.PrevHash, &e.Event)
	return err == nil && h == e.Hash
}

// ValidateChain checks hashes, links and indices of a chain starting at
// index 1. It returns the index of the first bad entry, or 0 if the chain
// is intact.
func ValidateChain(entries []*LedgerEntry) (uint64, error) {
	prevHash := GenesisHash
	for i, current := range entries {
		want := uint64(i + 1)
		if current.Index != want {
			return want, xerrors.Errorf("entry %d has index %d", want, current.Index)
		}
		if current.PrevHash != prevHash {
			return want, xerrors.Errorf("entry %d has invalid previous hash link", want)
		}
		if !current.Validate() {
			return want, xerrors.Errorf("entry %d has invalid hash", want)
		}
		prevHash = current.Hash
	}
	return 0, nil
}
