package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ewp-backend/models"
)

func sampleState() *models.ElectionState {
	s := models.NewElectionState()
	s.Manifest = &models.ElectionManifest{ElectionID: "e1"}
	s.VoterRoll = []string{"voter-0001"}
	s.Events = append(s.Events, models.VclEvent{
		TxID:    "t1",
		Type:    models.EventCredentialIssued,
		Payload: &models.CredentialIssuedPayload{ElectionID: "e1", DID: "did:ewp:1"},
	})
	return s
}

func TestStores_SaveLoadReset(t *testing.T) {
	dir := t.TempDir()
	for _, kind := range []string{"json", "snapshot", "bolt", "memory"} {
		t.Run(kind, func(t *testing.T) {
			path := filepath.Join(dir, kind, "state")
			if kind == "json" {
				path += ".json"
			}
			st, err := Open(kind, path)
			require.NoError(t, err)
			defer st.Close()

			_, err = st.Load()
			require.ErrorIs(t, err, ErrNoState)

			require.NoError(t, st.Save(sampleState()))
			got, err := st.Load()
			require.NoError(t, err)
			require.Equal(t, "e1", got.Manifest.ElectionID)
			require.NotNil(t, got.Challenges)
			p, ok := got.Events[0].Payload.(*models.CredentialIssuedPayload)
			require.True(t, ok)
			require.Equal(t, "did:ewp:1", p.DID)

			require.NoError(t, st.Reset())
			_, err = st.Load()
			require.ErrorIs(t, err, ErrNoState)
		})
	}
}

func TestSnapshotStore_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	st, err := NewSnapshotStore(dir, 2)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		s := sampleState()
		s.VoterRoll = make([]string, i)
		require.NoError(t, st.Save(s))
		time.Sleep(2 * time.Millisecond)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	got, err := st.Load()
	require.NoError(t, err)
	require.Len(t, got.VoterRoll, 4)
}

func TestDecodeState_RejectsNewerVersion(t *testing.T) {
	_, err := decodeState([]byte(`{"version": 99}`))
	require.Error(t, err)
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open("postgres", "x")
	require.Error(t, err)
}
