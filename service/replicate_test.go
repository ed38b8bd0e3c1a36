package service

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ewp-backend/api"
	"ewp-backend/blockchain/ledger"
	"ewp-backend/models"
)

type ledgerNode struct {
	url  string
	node *ledger.Node
}

func startLedgerNode(t *testing.T, role models.NodeRole, token string) ledgerNode {
	key, err := ledger.GenerateAckKey()
	require.NoError(t, err)
	node := ledger.NewNode(string(role)+"-1", role, ledger.NewMemoryStore(), key, 16)
	node.Start()
	ts := httptest.NewServer(api.NewServerWithNode(node, token).Handler())
	t.Cleanup(func() {
		ts.Close()
		node.Stop()
	})
	return ledgerNode{url: ts.URL, node: node}
}

func nodeEntries(t *testing.T, n ledgerNode, role models.NodeRole) []*models.LedgerEntry {
	entries, err := ledger.NewClient(n.url, "", role, time.Second).AllEntries(context.Background())
	require.NoError(t, err)
	require.True(t, ledger.VerifyChain(entries).OK())
	return entries
}

func TestReplication_AllRolesAcknowledge(t *testing.T) {
	federal := startLedgerNode(t, models.RoleFederal, "f-token")
	state := startLedgerNode(t, models.RoleState, "s-token")
	oversight := startLedgerNode(t, models.RoleOversight, "o-token")

	cfg := testConfig()
	cfg.Ledgers = []LedgerTarget{
		{Role: models.RoleFederal, URL: federal.url, Token: "f-token"},
		{Role: models.RoleState, URL: state.url, Token: "s-token"},
		{Role: models.RoleOversight, URL: oversight.url, Token: "o-token"},
	}
	vs, _ := newTestService(t, cfg)
	ctx := context.Background()

	_, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)
	raw, err := vs.CastBallot(ctx, "", castRequest(t, vs, "voter-0001", "yes"))
	require.NoError(t, err)
	receipt := decodeReceipt(t, raw)

	assert.Equal(t, models.ReplicationReplicated, receipt.ReplicationStatus)
	// ballot cast to federal and state, tree head to all three
	assert.Len(t, receipt.LedgerAcks, 5)
	report, err := vs.VerifyReceipt(receipt)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Checks)

	// manifest, ballot cast, tree head
	assert.Len(t, nodeEntries(t, federal, models.RoleFederal), 3)
	// credential, ballot cast, tree head
	assert.Len(t, nodeEntries(t, state, models.RoleState), 3)
	// tree head
	assert.Len(t, nodeEntries(t, oversight, models.RoleOversight), 1)

	// The double cast fraud flag reaches oversight only.
	_, err = vs.CastBallot(ctx, "", castRequest(t, vs, "voter-0001", "no"))
	requireCode(t, err, models.ErrNullifierUsed)
	entries := nodeEntries(t, oversight, models.RoleOversight)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EventFraudFlag, entries[1].Event.Type)

	st, err := vs.State()
	require.NoError(t, err)
	assert.Len(t, st.LedgerKeys, 3)
	assert.Len(t, st.LedgerAcks[receipt.VoteChainAnchor.TxID], 2)
	for _, acks := range st.LedgerAcks {
		for i := range acks {
			assert.True(t, VerifyLedgerAck(st, &acks[i]))
		}
	}
	assert.Zero(t, vs.Metrics().ReplicationFailures)
}

func TestReplication_UnreachableTargetStaysLocal(t *testing.T) {
	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	cfg := testConfig()
	cfg.ReplicationTimeout = Duration{500 * time.Millisecond}
	cfg.Ledgers = []LedgerTarget{{Role: models.RoleState, URL: deadURL}}

	hook := test.NewGlobal()
	defer hook.Reset()

	vs, _ := newTestService(t, cfg)
	ctx := context.Background()
	_, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)
	raw, err := vs.CastBallot(ctx, "", castRequest(t, vs, "voter-0001", "yes"))
	require.NoError(t, err)
	receipt := decodeReceipt(t, raw)

	assert.Equal(t, models.ReplicationLocalOnly, receipt.ReplicationStatus)
	assert.Empty(t, receipt.LedgerAcks)
	report, err := vs.VerifyReceipt(receipt)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Checks)

	warned := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "Ledger replication failed") {
			warned++
		}
	}
	// credential, ballot cast and tree head each failed once
	assert.Equal(t, 3, warned)
	assert.Equal(t, 3, vs.Metrics().ReplicationFailures)
}

func TestReplication_PartialWhenOneTargetFails(t *testing.T) {
	federal := startLedgerNode(t, models.RoleFederal, "f-token")
	// A federal node configured as state is rejected by the role check.
	impostor := startLedgerNode(t, models.RoleFederal, "i-token")

	cfg := testConfig()
	cfg.Ledgers = []LedgerTarget{
		{Role: models.RoleFederal, URL: federal.url, Token: "f-token"},
		{Role: models.RoleState, URL: impostor.url, Token: "i-token"},
	}
	vs, _ := newTestService(t, cfg)
	ctx := context.Background()
	_, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)
	raw, err := vs.CastBallot(ctx, "", castRequest(t, vs, "voter-0001", "yes"))
	require.NoError(t, err)
	receipt := decodeReceipt(t, raw)

	assert.Equal(t, models.ReplicationPartial, receipt.ReplicationStatus)
	assert.Len(t, receipt.LedgerAcks, 2)
	for _, ack := range receipt.LedgerAcks {
		assert.Equal(t, models.RoleFederal, ack.Role)
	}
	report, err := vs.VerifyReceipt(receipt)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Checks)
	assert.Empty(t, nodeEntries(t, impostor, models.RoleFederal))
}

func TestVerifyRemoteLedgers(t *testing.T) {
	federal := startLedgerNode(t, models.RoleFederal, "f-token")
	state := startLedgerNode(t, models.RoleState, "s-token")

	cfg := testConfig()
	cfg.Ledgers = []LedgerTarget{
		{Role: models.RoleFederal, URL: federal.url, Token: "f-token"},
		{Role: models.RoleState, URL: state.url, Token: "s-token"},
	}
	vs, _ := newTestService(t, cfg)
	ctx := context.Background()
	_, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)
	raw, err := vs.CastBallot(ctx, "", castRequest(t, vs, "voter-0001", "yes"))
	require.NoError(t, err)
	receipt := decodeReceipt(t, raw)

	reports, err := vs.VerifyRemoteLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.OK(), "%s: %+v", r.Subject, r.Checks)
		_, ok := r.Check("chain/hash_chain")
		assert.True(t, ok, "%+v", r.Checks)
	}
	acked, ok := reports[0].Check("acked_entries")
	require.True(t, ok)
	// manifest, ballot cast, tree head
	assert.Equal(t, "3 of 3 acked entries present", acked.Detail)

	tp, err := vs.TrustPortal(ctx)
	require.NoError(t, err)
	require.Len(t, tp.RemoteLedgers, 2)
	assert.True(t, tp.RemoteLedgers[1].OK())

	// An ack that no longer matches the node's entry is reported.
	require.NoError(t, vs.update(func(st *models.ElectionState) error {
		acks := st.LedgerAcks[receipt.VoteChainAnchor.TxID]
		for i := range acks {
			acks[i].EntryHash = strings.Repeat("0", 64)
		}
		return nil
	}))
	reports, err = vs.VerifyRemoteLedgers(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.False(t, r.OK())
		c, ok := r.Check("acked_entries")
		require.True(t, ok)
		assert.Equal(t, models.CheckFail, c.Status)
	}
}

func TestVerifyRemoteLedgers_UnreachableNode(t *testing.T) {
	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	cfg := testConfig()
	cfg.ReplicationTimeout = Duration{500 * time.Millisecond}
	cfg.Ledgers = []LedgerTarget{{Role: models.RoleOversight, URL: deadURL, Token: "o-token"}}
	vs, _ := newTestService(t, cfg)

	reports, err := vs.VerifyRemoteLedgers(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].OK())
	c, ok := reports[0].Check("reachable")
	require.True(t, ok)
	assert.Equal(t, models.CheckFail, c.Status)
	assert.Len(t, reports[0].Checks, 1)
}

func TestReplication_BadTokenIsAFailure(t *testing.T) {
	federal := startLedgerNode(t, models.RoleFederal, "right")
	r := NewReplicator([]LedgerTarget{{Role: models.RoleFederal, URL: federal.url, Token: "wrong"}}, time.Second, 2)

	vs, _ := newTestService(t, testConfig())
	st, err := vs.State()
	require.NoError(t, err)
	ev := st.Events[0]

	rep := r.Replicate(context.Background(), &ev)
	assert.Equal(t, 1, rep.Attempts)
	assert.Empty(t, rep.Acks)
	require.Len(t, rep.Failures, 1)
	assert.Contains(t, rep.Failures[0], string(models.ErrUnauthorized))
	assert.Equal(t, models.ReplicationLocalOnly, rep.Status())
}
