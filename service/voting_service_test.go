package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"ewp-backend/models"
	"ewp-backend/storage"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.StoreKind = "memory"
	cfg.Election.VoterCount = 3
	cfg.ReplicationTimeout = Duration{2 * time.Second}
	return cfg
}

func newTestService(t *testing.T, cfg Config, opts ...Option) (*VotingService, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	vs, err := Initialize(context.Background(), store, cfg, opts...)
	require.NoError(t, err)
	return vs, store
}

func selection(option string) []models.ContestSelection {
	return []models.ContestSelection{{ContestID: "referendum-id", Selection: option}}
}

func castRequest(t *testing.T, vs *VotingService, voterID, option string) *models.CastRequest {
	ch, err := vs.IssueChallenge()
	require.NoError(t, err)
	sealed, err := vs.EncryptBallot(selection(option))
	require.NoError(t, err)
	req, err := vs.BuildCastRequest(voterID, ch, sealed)
	require.NoError(t, err)
	return req
}

func decodeReceipt(t *testing.T, raw []byte) *models.CastReceipt {
	var resp models.CastResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, models.StatusCastRecorded, resp.Status)
	require.NotNil(t, resp.CastReceipt)
	return resp.CastReceipt
}

func requireCode(t *testing.T, err error, code models.ErrorCode) *models.Error {
	t.Helper()
	require.Error(t, err)
	var e *models.Error
	require.True(t, xerrors.As(err, &e), "not a *models.Error: %v", err)
	require.Equal(t, code, e.Code, e.Message)
	return e
}

func TestInitialize_PublishesVerifiableManifest(t *testing.T) {
	vs, _ := newTestService(t, testConfig())

	report, err := vs.VerifyManifest()
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Checks)

	st, err := vs.State()
	require.NoError(t, err)
	assert.Len(t, st.TrusteeShares, 3)
	assert.Len(t, st.Manifest.Issuers, 3)
	assert.Equal(t, 3, st.Manifest.VoterRoll.Ceiling)
	assert.Equal(t, vs.Kid(), st.Manifest.Signature.Kid)
	require.Len(t, st.Events, 1)
	assert.Equal(t, models.EventManifestPublished, st.Events[0].Type)
}

func TestInitialize_RejectsExistingStateAndBadConfig(t *testing.T) {
	cfg := testConfig()
	_, store := newTestService(t, cfg)

	_, err := Initialize(context.Background(), store, cfg)
	requireCode(t, err, models.ErrBadRequest)

	bad := testConfig()
	bad.Election.Trustees = models.Threshold{T: 1, N: 3}
	_, err = Initialize(context.Background(), storage.NewMemoryStore(), bad)
	requireCode(t, err, models.ErrBadRequest)
}

func TestOpen_RequiresInitializedElection(t *testing.T) {
	_, err := Open(storage.NewMemoryStore(), testConfig())
	requireCode(t, err, models.ErrNotFound)

	vs, store := newTestService(t, testConfig())
	reopened, err := Open(store, testConfig())
	require.NoError(t, err)
	assert.Equal(t, vs.Kid(), reopened.Kid())
}

func TestEndToEnd_IssueCastTallyVerify(t *testing.T) {
	vs, _ := newTestService(t, testConfig())
	ctx := context.Background()

	cred, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)
	again, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)
	assert.Equal(t, cred.DID, again.DID)

	raw, err := vs.CastBallot(ctx, "key-1", castRequest(t, vs, "voter-0001", "yes"))
	require.NoError(t, err)
	receipt := decodeReceipt(t, raw)
	assert.Equal(t, models.ReplicationLocalOnly, receipt.ReplicationStatus)

	report, err := vs.VerifyReceipt(receipt)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Checks)

	onBoard, err := vs.VerifyBallotOnBoard(receipt.BallotID)
	require.NoError(t, err)
	assert.True(t, onBoard.OK(), "%+v", onBoard.Checks)

	tally, err := vs.PublishTally(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tally.BallotCount)
	assert.Equal(t, 0, tally.ExcludedCount)
	assert.Equal(t, 1, tally.Totals["referendum-id"]["yes"])
	assert.Equal(t, 0, tally.Totals["referendum-id"]["no"])

	tallyReport, err := vs.VerifyTally(tally)
	require.NoError(t, err)
	assert.True(t, tallyReport.OK(), "%+v", tallyReport.Checks)

	ledgerReport, err := vs.VerifyLocalLedger()
	require.NoError(t, err)
	assert.True(t, ledgerReport.OK(), "%+v", ledgerReport.Checks)

	// A tampered receipt fails its signature.
	receipt.BallotHash = "00"
	report, err = vs.VerifyReceipt(receipt)
	require.NoError(t, err)
	assert.False(t, report.OK())
	c, _ := report.Check("receipt_signature")
	assert.Equal(t, models.CheckFail, c.Status)
}

func TestIssueCredential_Rejections(t *testing.T) {
	cfg := testConfig()
	cfg.Election.VoterIDs = []string{"alice", "bob"}
	vs, _ := newTestService(t, cfg)
	ctx := context.Background()

	_, err := vs.IssueCredential(ctx, "mallory")
	requireCode(t, err, models.ErrUnauthorized)

	_, err = vs.IssueCredential(ctx, "alice")
	require.NoError(t, err)
	_, err = vs.IssueCredential(ctx, "bob")
	require.NoError(t, err)

	st, err := vs.State()
	require.NoError(t, err)
	assert.Len(t, st.Credentials, 2)
	assert.Len(t, st.EventsOfType(models.EventCredentialIssued), 2)
}

func TestIssueCredential_RollMustMatchManifest(t *testing.T) {
	vs, _ := newTestService(t, testConfig())
	ctx := context.Background()

	_, err := vs.IssueCredential(ctx, "voter-9999")
	requireCode(t, err, models.ErrUnauthorized)

	// A roll swapped after the manifest was signed no longer proves
	// membership under the committed root.
	require.NoError(t, vs.update(func(st *models.ElectionState) error {
		st.VoterRoll[1] = "voter-9999"
		return nil
	}))
	_, err = vs.IssueCredential(ctx, "voter-9999")
	requireCode(t, err, models.ErrBadManifest)
	_, err = vs.IssueCredential(ctx, "voter-0001")
	requireCode(t, err, models.ErrBadManifest)

	st, err := vs.State()
	require.NoError(t, err)
	assert.Empty(t, st.Credentials)
}

func TestUpdate_FailedSaveLeavesStateUntouched(t *testing.T) {
	vs, store := newTestService(t, testConfig())
	ctx := context.Background()

	store.FailSaves = xerrors.New("disk full")
	_, err := vs.IssueCredential(ctx, "voter-0001")
	requireCode(t, err, models.ErrInternal)

	store.FailSaves = nil
	st, err := vs.State()
	require.NoError(t, err)
	assert.Empty(t, st.Credentials)
	assert.Len(t, st.Events, 1)
}

func TestSpoilBallot_AuditAndBlocksCast(t *testing.T) {
	vs, _ := newTestService(t, testConfig())
	ctx := context.Background()
	_, err := vs.IssueCredential(ctx, "voter-0001")
	require.NoError(t, err)

	sealed, err := vs.EncryptBallot(selection("no"))
	require.NoError(t, err)
	sb, err := vs.SpoilBallot(sealed)
	require.NoError(t, err)

	report, err := vs.VerifySpoiledBallot(sb)
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Checks)

	ch, err := vs.IssueChallenge()
	require.NoError(t, err)
	req, err := vs.BuildCastRequest("voter-0001", ch, sealed)
	require.NoError(t, err)
	_, err = vs.CastBallot(ctx, "", req)
	requireCode(t, err, models.ErrBallotInvalid)
}

func TestEncryptBallot_RejectsUnknownOption(t *testing.T) {
	vs, _ := newTestService(t, testConfig())
	_, err := vs.EncryptBallot(selection("maybe"))
	requireCode(t, err, models.ErrBallotInvalid)
}

func TestDashboardAndTrustPortal(t *testing.T) {
	vs, _ := newTestService(t, testConfig())
	ctx := context.Background()
	_, err := vs.IssueCredential(ctx, "voter-0002")
	require.NoError(t, err)
	_, err = vs.CastBallot(ctx, "", castRequest(t, vs, "voter-0002", "no"))
	require.NoError(t, err)

	d, err := vs.Dashboard()
	require.NoError(t, err)
	assert.Equal(t, 1, d.CredentialsIssued)
	assert.Equal(t, 1, d.BallotsCast)
	assert.Equal(t, 1, d.ChallengesUsed)
	assert.Equal(t, 1, d.EventCounts[models.EventBallotCast])
	assert.Equal(t, 0, d.EventCounts[models.EventTallyPublished])
	assert.Equal(t, 1, d.Metrics.Casting.Count)
	require.NotNil(t, d.LatestSTH)
	assert.Equal(t, 1, d.LatestSTH.TreeSize)

	tp, err := vs.TrustPortal(ctx)
	require.NoError(t, err)
	assert.True(t, tp.ManifestReport.OK())
	assert.True(t, tp.LedgerReport.OK(), "%+v", tp.LedgerReport.Checks)
	assert.Len(t, tp.STHs, 1)
	assert.Nil(t, tp.TallyReport)
	assert.Empty(t, tp.RemoteLedgers)
}

func TestReset_ClearsState(t *testing.T) {
	vs, _ := newTestService(t, testConfig())
	require.NoError(t, vs.Reset())
	_, err := vs.State()
	requireCode(t, err, models.ErrNotFound)
}
