package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildChain(t *testing.T, n int) []*LedgerEntry {
	var chain []*LedgerEntry
	var prev *LedgerEntry
	for i := 0; i < n; i++ {
		ev := VclEvent{
			TxID:       fmt.Sprintf("tx-%d", i),
			Type:       EventSTHPublished,
			RecordedAt: "2026-01-01T00:00:00.000Z",
			Payload:    &STHPublishedPayload{ElectionID: "e", STH: SignedTreeHead{TreeSize: i}},
		}
		entry, err := NewLedgerEntry(prev, ev, "2026-01-01T00:00:00.000Z")
		require.NoError(t, err)
		chain = append(chain, entry)
		prev = entry
	}
	return chain
}

func TestLedgerChain_Integrity(t *testing.T) {
	chain := buildChain(t, 6)
	require.Equal(t, GenesisHash, chain[0].PrevHash)
	require.Equal(t, uint64(1), chain[0].Index)

	bad, err := ValidateChain(chain)
	require.NoError(t, err)
	require.Zero(t, bad)

	for i := 1; i < len(chain); i++ {
		want, err := ComputeEntryHash(chain[i-1].Hash, &chain[i].Event)
		require.NoError(t, err)
		require.Equal(t, want, chain[i].Hash)
	}
}

func TestLedgerChain_TamperBreaksSubsequentHashes(t *testing.T) {
	chain := buildChain(t, 5)
	chain[2].Event.Payload.(*STHPublishedPayload).STH.RootHash = "forged"

	bad, err := ValidateChain(chain)
	require.Error(t, err)
	require.Equal(t, uint64(3), bad)

	prev := chain[2].PrevHash
	for i := 2; i < len(chain); i++ {
		h, err := ComputeEntryHash(prev, &chain[i].Event)
		require.NoError(t, err)
		require.NotEqual(t, chain[i].Hash, h, "entry %d", i+1)
		prev = h
	}
}

func TestLedgerChain_EmptyIsValid(t *testing.T) {
	bad, err := ValidateChain(nil)
	require.NoError(t, err)
	require.Zero(t, bad)
}
