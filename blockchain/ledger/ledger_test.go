package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ewp-backend/encryption"
	"ewp-backend/models"
)

func sthEvent(t *testing.T, signer *encryption.Signer, size int) models.VclEvent {
	ev, err := NewEvent(signer, &models.STHPublishedPayload{
		ElectionID: "e1",
		STH:        models.SignedTreeHead{TreeSize: size, RootHash: fmt.Sprintf("%064d", size)},
	}, time.Now())
	require.NoError(t, err)
	return *ev
}

func startNode(t *testing.T, role models.NodeRole, store Store) *Node {
	key, err := GenerateAckKey()
	require.NoError(t, err)
	n := NewNode("node-1", role, store, key, 8)
	n.Start()
	t.Cleanup(n.Stop)
	return n
}

func TestEvent_SelfCertifying(t *testing.T) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	ev := sthEvent(t, signer, 1)
	require.NoError(t, VerifyEvent(&ev))

	ev.Payload.(*models.STHPublishedPayload).STH.TreeSize = 2
	require.Error(t, VerifyEvent(&ev))

	ev = sthEvent(t, signer, 1)
	other, err := encryption.NewSigner()
	require.NoError(t, err)
	ev.Kid = other.Kid()
	require.Error(t, VerifyEvent(&ev))
}

func TestNode_AppendBuildsVerifiableChain(t *testing.T) {
	for name, store := range map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"bolt": func() Store {
			s, err := OpenBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	} {
		t.Run(name, func(t *testing.T) {
			signer, err := encryption.NewSigner()
			require.NoError(t, err)
			node := startNode(t, models.RoleFederal, store())

			for i := 1; i <= 5; i++ {
				res, err := node.Append(context.Background(), sthEvent(t, signer, i))
				require.NoError(t, err)
				require.Equal(t, uint64(i), res.Entry.Index)
				require.True(t, VerifyAck(res.Ack, node.PublicJWK()))
			}

			head, err := node.Head()
			require.NoError(t, err)
			require.Equal(t, uint64(5), head.Height)

			stats, err := node.Stats()
			require.NoError(t, err)
			require.Equal(t, 5, stats.TypeCounts[models.EventSTHPublished])

			entries, next, err := node.Entries(1, 3)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			require.Equal(t, uint64(4), next)
			rest, next, err := node.Entries(next, 3)
			require.NoError(t, err)
			require.Len(t, rest, 2)
			require.Zero(t, next)

			all := append(entries, rest...)
			require.True(t, VerifyChain(all).OK())
			require.Equal(t, head.HeadHash, all[4].Hash)

			_, err = node.Entry(99)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestNode_RoleWhitelist(t *testing.T) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	node := startNode(t, models.RoleState, NewMemoryStore())

	ev, err := NewEvent(signer, &models.FraudFlagPayload{CaseID: "c1", ElectionID: "e1"}, time.Now())
	require.NoError(t, err)
	_, err = node.Append(context.Background(), *ev)
	require.Error(t, err)
	require.Equal(t, models.ErrForbiddenEventType, models.AsError(err).Code)
}

func TestNode_DuplicateTxReturnsExistingEntry(t *testing.T) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	node := startNode(t, models.RoleOversight, NewMemoryStore())
	ev := sthEvent(t, signer, 1)

	first, err := node.Append(context.Background(), ev)
	require.NoError(t, err)
	again, err := node.Append(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, first.Entry.Hash, again.Entry.Hash)

	h, err := node.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(1), h.Height)
}

func TestNode_ConcurrentAppendsKeepChainIntact(t *testing.T) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	key, err := GenerateAckKey()
	require.NoError(t, err)
	node := NewNode("n", models.RoleFederal, NewMemoryStore(), key, 64)
	node.Start()
	defer node.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := node.Append(context.Background(), sthEvent(t, signer, i+1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, _, err := node.Entries(1, 100)
	require.NoError(t, err)
	require.Len(t, entries, 32)
	require.True(t, VerifyChain(entries).OK())
}

func TestNode_FullQueueIsRateLimited(t *testing.T) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	key, err := GenerateAckKey()
	require.NoError(t, err)
	// writer never started: the single slot stays occupied
	node := NewNode("n", models.RoleFederal, NewMemoryStore(), key, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = node.Append(ctx, sthEvent(t, signer, 1))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = node.Append(context.Background(), sthEvent(t, signer, 2))
	require.Error(t, err)
	e := models.AsError(err)
	require.Equal(t, models.ErrRateLimited, e.Code)
	require.True(t, e.Retryable)
}

func TestNode_AcceptSigners(t *testing.T) {
	engine, err := encryption.NewSigner()
	require.NoError(t, err)
	stranger, err := encryption.NewSigner()
	require.NoError(t, err)
	key, err := GenerateAckKey()
	require.NoError(t, err)
	node := NewNode("n", models.RoleFederal, NewMemoryStore(), key, 4)
	node.AcceptSigners(engine.Kid())
	node.Start()
	defer node.Stop()

	_, err = node.Append(context.Background(), sthEvent(t, stranger, 1))
	require.Error(t, err)
	require.Equal(t, models.ErrUnauthorized, models.AsError(err).Code)

	_, err = node.Append(context.Background(), sthEvent(t, engine, 1))
	require.NoError(t, err)
}

func TestNode_CancelledAppendStillLands(t *testing.T) {
	signer, err := encryption.NewSigner()
	require.NoError(t, err)
	key, err := GenerateAckKey()
	require.NoError(t, err)
	node := NewNode("n", models.RoleFederal, NewMemoryStore(), key, 4)
	ev := sthEvent(t, signer, 1)

	// queued while the writer is down
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = node.Append(ctx, ev)
	require.ErrorIs(t, err, context.Canceled)
	require.Contains(t, err.Error(), ev.TxID)

	node.Start()
	defer node.Stop()
	res, err := node.Append(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	require.Equal(t, uint64(1), res.Entry.Index)
}

func TestAckKey_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "ack.jwk")
	k1, err := LoadAckKey(path)
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), fi.Mode().Perm())
	k2, err := LoadAckKey(path)
	require.NoError(t, err)
	require.Equal(t, k1.Kid(), k2.Kid())

	entry, err := models.NewLedgerEntry(nil, models.VclEvent{TxID: "t", Type: models.EventSTHPublished, Payload: &models.STHPublishedPayload{}}, "now")
	require.NoError(t, err)
	ack, err := k1.Acknowledge("n", models.RoleFederal, entry)
	require.NoError(t, err)
	require.True(t, VerifyAck(ack, k2.PublicJWK()))

	ack.Index = 2
	require.False(t, VerifyAck(ack, k2.PublicJWK()))
}
